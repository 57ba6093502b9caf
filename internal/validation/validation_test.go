package validation

import (
	"errors"
	"strings"
	"testing"
)

func TestParseInstanceID(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"0", 0, false},
		{"5", 5, false},
		{" 42 ", 42, false},
		{"-1", 0, true},
		{"abc", 0, true},
		{"", 0, true},
		{"1.5", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseInstanceID(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrInstanceIDInvalid) {
					t.Errorf("error = %v, want ErrInstanceIDInvalid", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseInstanceID(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"plain", "sensor-01", "sensor-01", nil},
		{"trimmed", "  s_2  ", "s_2", nil},
		{"mongo style", "665f1c2b9d3e4a0012ab34cd", "665f1c2b9d3e4a0012ab34cd", nil},
		{"namespaced", "lab:temp.1", "lab:temp.1", nil},
		{"unicode letters", "sensórA", "sensórA", nil},
		{"empty", "", "", ErrIDEmpty},
		{"spaces", "   ", "", ErrIDEmpty},
		{"too long", strings.Repeat("a", MaxIDLength+1), "", ErrIDTooLong},
		{"slash", "a/b", "", ErrIDInvalidChars},
		{"query", "a?b", "", ErrIDInvalidChars},
		{"space inside", "a b", "", ErrIDInvalidChars},
		{"control", "a\x00b", "", ErrIDInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateID(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ValidateID(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateOptionalID(t *testing.T) {
	if got, err := ValidateOptionalID("  "); err != nil || got != "" {
		t.Errorf("ValidateOptionalID(blank) = %q, %v; want empty, nil", got, err)
	}
	if _, err := ValidateOptionalID("u/1"); !errors.Is(err, ErrIDInvalidChars) {
		t.Errorf("error = %v, want ErrIDInvalidChars", err)
	}
}
