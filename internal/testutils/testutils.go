// Package testutils holds shared helpers for the package test suites.
package testutils

import (
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewTestLogger builds a development logger for test suites. The verbosity
// is taken from the TEST_LOG_LEVEL environment variable; unset or invalid
// values silence the logger so test output stays readable.
func NewTestLogger() logr.Logger {
	level, err := strconv.Atoi(os.Getenv("TEST_LOG_LEVEL"))
	if err != nil || level <= 0 {
		return logr.Discard()
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-level))
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard()
	}
	return zapr.NewLogger(zl)
}
