package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger. LOG_LEVEL sets the level (default info) and
// LOG_FORMAT=console switches from JSON to the human-readable encoder.
func NewLogger(component string) (*zap.Logger, error) {
	return loggerConfig(component, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).Build()
}

// loggerConfig returns a production config with ISO8601 "timestamp" keys, writing
// to stderr so CLI output on stdout stays clean. Every entry carries the
// component name for host-side log scrapers.
func loggerConfig(component, level, format string) zap.Config {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(level)
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.Sampling = nil
	}
	if component != "" {
		config.InitialFields = map[string]interface{}{"component": component}
	}
	return config
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
