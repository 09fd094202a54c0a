// internal/logging/transportcore.go
package logging

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logwarden/internal/sanitize"
	"github.com/fyrsmithlabs/logwarden/internal/transport"
)

// RecordSink accepts transport-bound records. *transport.Batcher wrapped
// by NewBatcherSink satisfies it.
type RecordSink interface {
	Enqueue(rec transport.Record) bool
}

// BatcherSink adapts a *transport.Batcher to RecordSink.
type BatcherSink struct {
	b *transport.Batcher
}

// NewBatcherSink wraps b.
func NewBatcherSink(b *transport.Batcher) *BatcherSink { return &BatcherSink{b: b} }

// Enqueue implements RecordSink.
func (s *BatcherSink) Enqueue(rec transport.Record) bool { return s.b.Enqueue(rec) }

// transportCore converts entries into sanitized transport records. It
// sits behind the dual core's tee: everything that reaches Write has
// already passed level filtering, the limiter gate, and zap sampling.
//
// Sanitization happens here and only here on the transport path, so no
// record crosses the process boundary with raw control characters,
// unbounded nesting, or cyclic structures.
type transportCore struct {
	zapcore.LevelEnabler
	sink   RecordSink
	limits sanitize.Limits
	fields []zapcore.Field
	labels map[string]string
}

func newTransportCore(cfg *Config, sink RecordSink) *transportCore {
	limits := sanitize.Limits{
		MaxDepth:     cfg.Sanitize.MaxDepth,
		MaxKeys:      cfg.Sanitize.MaxKeys,
		MaxArrayLen:  cfg.Sanitize.MaxArrayLen,
		MaxStringLen: cfg.Sanitize.MaxStringLen,
	}
	labels := make(map[string]string, len(cfg.Fields))
	for k, v := range cfg.Fields {
		labels[k] = v
	}
	return &transportCore{
		LevelEnabler: cfg.Level,
		sink:         sink,
		limits:       limits,
		labels:       labels,
	}
}

// With implements zapcore.Core.
func (c *transportCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = make([]zapcore.Field, 0, len(c.fields)+len(fields))
	clone.fields = append(clone.fields, c.fields...)
	clone.fields = append(clone.fields, fields...)
	return &clone
}

// Check implements zapcore.Core.
func (c *transportCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

// Write implements zapcore.Core.
func (c *transportCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}

	metadata, _ := sanitize.LimitObjectSize(
		sanitize.ForJSON(enc.Fields), c.limits).(map[string]any)

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	c.sink.Enqueue(transport.Record{
		Timestamp: ts,
		Level:     levelString(e.Level),
		Message:   sanitize.ForJSON(e.Message).(string),
		Labels:    c.labels,
		Metadata:  metadata,
	})
	return nil
}

// Sync implements zapcore.Core. Flushing is the batcher's concern.
func (c *transportCore) Sync() error { return nil }
