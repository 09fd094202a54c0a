package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "logwarden.logs"

// NATSTransport publishes records onto a NATS subject tree, one message
// per record at <prefix>.<level>, so consumers can subscribe to a single
// severity or to the whole stream with a wildcard.
type NATSTransport struct {
	nc       *nats.Conn
	prefix   string
	ownsConn bool
}

// NewNATSTransport wraps an existing connection. The caller keeps
// ownership of nc.
func NewNATSTransport(nc *nats.Conn, subjectPrefix string) *NATSTransport {
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}
	return &NATSTransport{nc: nc, prefix: subjectPrefix}
}

// DialNATS connects to url and returns a transport owning the
// connection; Shutdown closes it.
func DialNATS(url, subjectPrefix string) (*NATSTransport, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	tr := NewNATSTransport(nc, subjectPrefix)
	tr.ownsConn = true
	return tr, nil
}

// Send implements Transport.
func (t *NATSTransport) Send(ctx context.Context, records []Record) error {
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		subject := t.prefix + "." + subjectToken(rec.Level)
		if err := t.nc.Publish(subject, payload); err != nil {
			return fmt.Errorf("publishing to %s: %w", subject, err)
		}
	}
	return nil
}

// Flush implements Transport.
func (t *NATSTransport) Flush(ctx context.Context) error {
	deadline, ok := ctx.Deadline()
	timeout := 5 * time.Second
	if ok {
		timeout = time.Until(deadline)
	}
	return t.nc.FlushTimeout(timeout)
}

// Shutdown implements Transport.
func (t *NATSTransport) Shutdown(ctx context.Context) error {
	err := t.Flush(ctx)
	if t.ownsConn {
		t.nc.Close()
	}
	return err
}

// subjectToken makes a level safe for use as a subject token.
func subjectToken(level string) string {
	if level == "" {
		return "unknown"
	}
	out := []byte(level)
	for i, c := range out {
		switch c {
		case '.', '*', '>', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}
