// Package logger builds the zerolog logger used by the command line.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"krakensync/pkg/core"
)

// Default rotation limits for file output.
const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// New returns a logger configured by config and a closer for its output.
// The closer is a no-op for stdout and stderr.
func New(config core.LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := parseLevel(config.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	out, closer := output(config)

	_, toFile := closer.(*lumberjack.Logger)
	var w io.Writer = out
	if config.Format == "" || config.Format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    toFile,
		}
	}

	logger := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

func parseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.NoLevel, core.NewConfigError(fmt.Sprintf("unknown log level %q", s), core.ErrInvalidConfig)
}

func output(config core.LogConfig) (io.Writer, io.Closer) {
	switch config.Output {
	case "", "stderr":
		return os.Stderr, nopCloser{}
	case "stdout":
		return os.Stdout, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   config.Output,
		MaxSize:    orDefault(config.MaxSizeMB, defaultMaxSizeMB),
		MaxAge:     orDefault(config.MaxAgeDays, defaultMaxAgeDays),
		MaxBackups: defaultMaxBackups,
		Compress:   true,
	}
	return rotator, rotator
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
