// Package dlogger exposes the zap logger used across zync, with log levels
// and an optional syslog tee.
package dlogger

import (
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// LogLevelError only surfaces errors (--quiet)
	LogLevelError = "error"

	// LogLevelInfo sets the log level to info (the default)
	LogLevelInfo = "info"

	// LogLevelDebug sets the log level to debug (--verbose)
	LogLevelDebug = "debug"

	// LogLevelTrace is debug plus caller annotations (--trace)
	LogLevelTrace = "trace"

	// LogLevelNone sets logger to no logging
	LogLevelNone = "none"
)

type (
	// Option modifies the logger construction.
	Option func(*options)

	options struct {
		console   io.Writer
		syslogTag string
	}
)

// WithConsole redirects console output, default os.Stderr.
func WithConsole(w io.Writer) Option {
	return func(o *options) {
		if w != nil {
			o.console = w
		}
	}
}

// WithSyslog tees log output to the local syslog daemon under the given
// tag, facility daemon. The syslog core is pinned at info level no matter
// how quiet or verbose the console is.
func WithSyslog(tag string) Option {
	return func(o *options) {
		o.syslogTag = tag
	}
}

func defaultOptions(opts []Option) *options {
	o := &options{console: os.Stderr}
	for _, apply := range opts {
		apply(o)
	}
	return o
}

// GetLogger returns a zap logger with the specified level.
func GetLogger(logLevel string, opts ...Option) (*zap.Logger, error) {
	if logLevel == LogLevelNone {
		return zap.NewNop(), nil
	}
	o := defaultOptions(opts)

	var lvl zapcore.Level
	var withCaller bool
	switch logLevel {
	case LogLevelTrace:
		lvl, withCaller = zapcore.DebugLevel, true
	default:
		if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
			return nil, err
		}
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder(), zapcore.AddSync(o.console), lvl),
	}
	if o.syslogTag != "" {
		sc, err := newSyslogCore(o.syslogTag, zapcore.InfoLevel)
		if err != nil {
			return nil, err
		}
		cores = append(cores, sc)
	}

	logger := zap.New(zapcore.NewTee(cores...))
	if withCaller {
		logger = logger.WithOptions(zap.AddCaller())
	}
	return logger, nil
}

// MustGetLogger returns a zap logger with the specified level or panics.
func MustGetLogger(logLevel string, opts ...Option) *zap.Logger {
	l, err := GetLogger(logLevel, opts...)
	if err != nil {
		panic(err)
	}
	return l
}

func consoleEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.Format("Jan 02 15:04:05"))
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.ConsoleSeparator = " "
	return zapcore.NewConsoleEncoder(cfg)
}
