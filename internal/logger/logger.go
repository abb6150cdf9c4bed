// Package logger provides leveled logging for packserve.
//
// The package exposes a printf-style API (Debug/Info/Warn/Error) used across
// the codebase. It is backed by zap; Configure selects the encoder, output and
// level, and SetLevel adjusts the level at runtime.
package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	log   = newLogger("text", "stdout")
)

// Config controls logger behavior. Zero values fall back to INFO/text/stdout.
type Config struct {
	// Level is the minimum level to output: DEBUG, INFO, WARN or ERROR.
	Level string

	// Format selects the encoder: "text" or "json".
	Format string

	// Output is "stdout", "stderr" or a file path.
	Output string
}

// Configure replaces the global logger according to cfg.
//
// Returns an error if the output file cannot be opened. Safe to call before
// any logging has happened; not safe to call concurrently with logging.
func Configure(cfg Config) error {
	SetLevel(cfg.Level)

	if cfg.Output != "" && cfg.Output != "stdout" && cfg.Output != "stderr" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log output: %w", err)
		}
		log = newLoggerTo(cfg.Format, zapcore.AddSync(f))
		return nil
	}

	log = newLogger(cfg.Format, cfg.Output)
	return nil
}

// SetLevel changes the minimum log level. Unknown values are ignored.
func SetLevel(l string) {
	switch strings.ToUpper(l) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	}
}

func newLogger(format, output string) *zap.SugaredLogger {
	sink := zapcore.Lock(os.Stdout)
	if output == "stderr" {
		sink = zapcore.Lock(os.Stderr)
	}
	return newLoggerTo(format, sink)
}

func newLoggerTo(format string, sink zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, sink, level)
	return zap.New(core).Sugar()
}

func Debug(format string, v ...any) {
	log.Debugf(format, v...)
}

func Info(format string, v ...any) {
	log.Infof(format, v...)
}

func Warn(format string, v ...any) {
	log.Warnf(format, v...)
}

func Error(format string, v ...any) {
	log.Errorf(format, v...)
}
