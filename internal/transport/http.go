package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"
)

// HTTPTransport pushes records to a Loki-compatible HTTP endpoint.
// Records are grouped into streams by their label set; each value is the
// record's JSON body with the nanosecond timestamp alongside, matching
// the push API's `{streams: [{stream, values}]}` shape.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewHTTPTransport builds a push client for url. Extra headers (tenant
// id, auth) are sent on every request.
func NewHTTPTransport(url string, headers map[string]string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

type lokiPush struct {
	Streams []lokiStream `json:"streams"`
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	body, err := json.Marshal(buildPush(records))
	if err != nil {
		return fmt.Errorf("encoding push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("pushing logs: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("log push rejected with status %d", resp.StatusCode)
	}
	return nil
}

// Flush implements Transport. HTTP pushes are synchronous; nothing is
// buffered here.
func (t *HTTPTransport) Flush(context.Context) error { return nil }

// Shutdown implements Transport.
func (t *HTTPTransport) Shutdown(context.Context) error {
	t.client.CloseIdleConnections()
	return nil
}

// buildPush groups records into label-identical streams, preserving
// record order within each stream.
func buildPush(records []Record) lokiPush {
	index := make(map[string]int)
	var streams []lokiStream

	for _, rec := range records {
		labels := make(map[string]string, len(rec.Labels)+1)
		for k, v := range rec.Labels {
			labels[k] = v
		}
		labels["level"] = rec.Level

		key := labelKey(labels)
		i, ok := index[key]
		if !ok {
			i = len(streams)
			index[key] = i
			streams = append(streams, lokiStream{Stream: labels})
		}

		line, err := json.Marshal(map[string]any{
			"message":  rec.Message,
			"metadata": rec.Metadata,
		})
		if err != nil {
			continue
		}
		ts := rec.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		streams[i].Values = append(streams[i].Values,
			[2]string{strconv.FormatInt(ts.UnixNano(), 10), string(line)})
	}
	return lokiPush{Streams: streams}
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(';')
	}
	return b.String()
}
