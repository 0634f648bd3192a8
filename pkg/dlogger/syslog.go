package dlogger

import (
	"log/syslog"

	"go.uber.org/zap/zapcore"
)

// syslogCore forwards entries to the local syslog daemon. The daemon stamps
// time and tag itself, so the encoder carries level, message and fields only.
type syslogCore struct {
	zapcore.LevelEnabler
	enc zapcore.Encoder
	w   *syslog.Writer
}

func newSyslogCore(tag string, enab zapcore.LevelEnabler) (zapcore.Core, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, err
	}
	cfg := zapcore.EncoderConfig{
		MessageKey:       "msg",
		LevelKey:         "level",
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		ConsoleSeparator: " ",
	}
	return &syslogCore{
		LevelEnabler: enab,
		enc:          zapcore.NewConsoleEncoder(cfg),
		w:            w,
	}, nil
}

func (c *syslogCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.enc = c.enc.Clone()
	for _, f := range fields {
		f.AddTo(clone.enc)
	}
	return &clone
}

func (c *syslogCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *syslogCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	msg := buf.String()
	buf.Free()

	switch ent.Level {
	case zapcore.DebugLevel:
		return c.w.Debug(msg)
	case zapcore.InfoLevel:
		return c.w.Info(msg)
	case zapcore.WarnLevel:
		return c.w.Warning(msg)
	case zapcore.ErrorLevel:
		return c.w.Err(msg)
	default:
		return c.w.Crit(msg)
	}
}

func (c *syslogCore) Sync() error {
	return nil
}
