package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is a log line captured by a Tap.
type Entry struct {
	Time    time.Time
	Level   zapcore.Level
	Logger  string
	Message string
}

// Tap copies log entries into a bounded channel. When the channel is full
// entries are dropped; the UI only shows recent history.
type Tap struct {
	ch chan Entry
}

// NewTap creates a Tap buffering up to size entries.
func NewTap(size int) *Tap {
	return &Tap{ch: make(chan Entry, size)}
}

// Entries is the receive side consumed by the UI.
func (t *Tap) Entries() <-chan Entry { return t.ch }

func (t *Tap) core(level zapcore.LevelEnabler) zapcore.Core {
	return &tapCore{LevelEnabler: level, tap: t}
}

type tapCore struct {
	zapcore.LevelEnabler
	tap    *Tap
	fields []zapcore.Field
}

func (c *tapCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &tapCore{LevelEnabler: c.LevelEnabler, tap: c.tap, fields: merged}
}

func (c *tapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *tapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	msg := ent.Message
	if len(enc.Fields) > 0 {
		parts := make([]string, 0, len(enc.Fields))
		for k, v := range enc.Fields {
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
		sort.Strings(parts)
		msg += " " + strings.Join(parts, " ")
	}

	select {
	case c.tap.ch <- Entry{Time: ent.Time, Level: ent.Level, Logger: ent.LoggerName, Message: msg}:
	default:
	}
	return nil
}

func (c *tapCore) Sync() error { return nil }
