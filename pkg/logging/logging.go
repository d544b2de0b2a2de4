// Package logging configures the zap logger behind chainlink-common's logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LevelFromEnv parses the level named by the LOG_LEVEL environment variable, defaulting to info.
func LevelFromEnv() zapcore.Level {
	raw := os.Getenv("LOG_LEVEL")
	if raw == "" {
		return zapcore.InfoLevel
	}
	level, err := zapcore.ParseLevel(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid LOG_LEVEL '%s', defaulting to 'info'\n", raw)
		return zapcore.InfoLevel
	}
	return level
}

// DevelopmentConfig returns a console configuration at level with ISO8601 timestamps and caller
// information. Stack traces are captured from warn upwards.
func DevelopmentConfig(level zapcore.Level) func(*zap.Config) {
	return func(config *zap.Config) {
		config.Level = zap.NewAtomicLevelAt(level)
		config.Development = true
		config.DisableCaller = false
		config.DisableStacktrace = false
		config.Encoding = "console"
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	}
}

// ProductionConfig returns a JSON configuration at level.
func ProductionConfig(level zapcore.Level) func(*zap.Config) {
	return func(config *zap.Config) {
		config.Level = zap.NewAtomicLevelAt(level)
		config.Encoding = "json"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	}
}

// ConfigFromEnv selects ProductionConfig when LOG_FORMAT is "json" and DevelopmentConfig otherwise,
// both at LevelFromEnv.
func ConfigFromEnv() func(*zap.Config) {
	level := LevelFromEnv()
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		return ProductionConfig(level)
	}
	return DevelopmentConfig(level)
}
