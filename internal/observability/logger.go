package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName tags every log entry and the health response.
const ServiceName = "widget-engine"

// NewLogger builds the process logger for one binary (widgetd, widgetctl).
// LOG_LEVEL picks the level and LOG_FORMAT=console switches from JSON to the
// console encoder. Entries always go to stderr so widgetctl's stdout stays
// machine readable.
func NewLogger(component string) (*zap.Logger, error) {
	return loggerConfig(component, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).Build()
}

func loggerConfig(component, level, format string) zap.Config {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(level)
	config.OutputPaths = []string{"stderr"}
	config.InitialFields = map[string]interface{}{
		"service":   ServiceName,
		"component": component,
	}
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.Sampling = nil
	}
	return config
}

// WithStore tags logger with the active store backend.
func WithStore(logger *zap.Logger, backend string) *zap.Logger {
	return logger.With(zap.String("store_backend", backend))
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
