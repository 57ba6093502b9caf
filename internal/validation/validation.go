package validation

import (
	"errors"
	"strconv"
	"strings"
	"unicode"
)

// ErrInstanceIDInvalid is returned when an instance id is not a non-negative integer.
var ErrInstanceIDInvalid = errors.New("instance id must be a non-negative integer")

// ErrIDEmpty is returned when an identifier is empty or whitespace-only after trim.
var ErrIDEmpty = errors.New("id is required")

// ErrIDTooLong is returned when an identifier exceeds MaxIDLength runes.
var ErrIDTooLong = errors.New("id too long")

// ErrIDInvalidChars is returned when an identifier contains disallowed characters.
var ErrIDInvalidChars = errors.New("id contains invalid characters")

// MaxIDLength bounds sensor and user ids.
const MaxIDLength = 128

// ParseInstanceID parses a host-assigned widget instance id.
func ParseInstanceID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id < 0 {
		return 0, ErrInstanceIDInvalid
	}
	return id, nil
}

// ValidateID trims a sensor or user id and restricts it to letters, digits
// and - _ . : characters. Suitable for 400 INVALID_CONFIG responses.
func ValidateID(input string) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrIDEmpty
	}
	if len(r) > MaxIDLength {
		return "", ErrIDTooLong
	}
	for _, c := range r {
		if !isAllowedIDRune(c) {
			return "", ErrIDInvalidChars
		}
	}
	return s, nil
}

// ValidateOptionalID is ValidateID that accepts an empty input.
func ValidateOptionalID(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", nil
	}
	return ValidateID(input)
}

func isAllowedIDRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case '-', '_', '.', ':':
		return true
	}
	return false
}
