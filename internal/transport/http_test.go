package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_PushShape(t *testing.T) {
	var mu sync.Mutex
	var got lokiPush
	var gotTenant string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotTenant = r.Header.Get("X-Scope-OrgID")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, map[string]string{"X-Scope-OrgID": "team-a"}, time.Second)
	now := time.Now()
	err := tr.Send(context.Background(), []Record{
		{Level: "info", Message: "first", Timestamp: now, Labels: map[string]string{"service": "logwarden"}},
		{Level: "info", Message: "second", Timestamp: now, Labels: map[string]string{"service": "logwarden"}},
		{Level: "error", Message: "boom", Timestamp: now, Labels: map[string]string{"service": "logwarden"}},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "team-a", gotTenant)
	require.Len(t, got.Streams, 2, "one stream per label set")

	var infoStream *lokiStream
	for i := range got.Streams {
		if got.Streams[i].Stream["level"] == "info" {
			infoStream = &got.Streams[i]
		}
	}
	require.NotNil(t, infoStream)
	assert.Equal(t, "logwarden", infoStream.Stream["service"])
	require.Len(t, infoStream.Values, 2)

	var line map[string]any
	require.NoError(t, json.Unmarshal([]byte(infoStream.Values[0][1]), &line))
	assert.Equal(t, "first", line["message"])
}

func TestHTTPTransport_RejectionIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, nil, time.Second)
	err := tr.Send(context.Background(), []Record{{Level: "info", Message: "m"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPTransport_EmptyBatchIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL, nil, time.Second)
	require.NoError(t, tr.Send(context.Background(), nil))
	assert.False(t, called)
}
