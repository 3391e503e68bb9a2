package ingest

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pipestat/pipestat/internal/event"
)

func newTestServer(t *testing.T, handler Handler) *Server {
	t.Helper()

	return newTestServerWithConfig(t, Config{}, handler)
}

func newTestServerWithConfig(t *testing.T, cfg Config, handler Handler) *Server {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	cfg.Addr = "127.0.0.1:0"

	srv := NewServer(log, cfg, handler, nil)

	require.NoError(t, srv.Start(context.Background()))

	t.Cleanup(func() {
		_ = srv.Stop()
	})

	return srv
}

func postEvents(t *testing.T, srv *Server, body []byte, encoding string) ingestResponse {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, "http://"+srv.Addr()+"/events", bytes.NewReader(body))
	require.NoError(t, err)

	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out ingestResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func collectEvents(expected int) (Handler, func(t *testing.T) []*event.Event) {
	var (
		mu     sync.Mutex
		events []*event.Event
		done   = make(chan struct{})
	)

	handler := func(ev *event.Event) {
		mu.Lock()
		defer mu.Unlock()

		events = append(events, ev)
		if len(events) == expected {
			close(done)
		}
	}

	wait := func(t *testing.T) []*event.Event {
		t.Helper()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for events")
		}

		mu.Lock()
		defer mu.Unlock()

		return events
	}

	return handler, wait
}

func TestServerIngestsNDJSON(t *testing.T) {
	handler, wait := collectEvents(2)
	srv := newTestServer(t, handler)

	body := []byte(`{"response":"200","host":"a"}` + "\n" + `{"response":"404"}` + "\n")

	out := postEvents(t, srv, body, "")
	assert.Equal(t, 2, out.Accepted)
	assert.Equal(t, 0, out.Rejected)

	events := wait(t)
	require.Len(t, events, 2)
}

func TestServerGzipBody(t *testing.T) {
	handler, wait := collectEvents(1)
	srv := newTestServer(t, handler)

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(`{"response":"200"}` + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	out := postEvents(t, srv, buf.Bytes(), "gzip")
	assert.Equal(t, 1, out.Accepted)

	events := wait(t)
	require.Len(t, events, 1)
	assert.Equal(t, "200", events[0].GetString("response"))
}

func TestServerRejectsMalformedLines(t *testing.T) {
	handler, wait := collectEvents(1)
	srv := newTestServer(t, handler)

	body := []byte("not json\n" + `{"response":"200"}` + "\n\n")

	out := postEvents(t, srv, body, "")
	assert.Equal(t, 1, out.Accepted)
	assert.Equal(t, 1, out.Rejected)

	wait(t)
}

func postStatus(t *testing.T, srv *Server, body []byte, encoding string) int {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, "http://"+srv.Addr()+"/events", bytes.NewReader(body))
	require.NoError(t, err)

	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	return resp.StatusCode
}

func TestServerRejectsOversizedRawBody(t *testing.T) {
	srv := newTestServerWithConfig(t, Config{MaxBodyBytes: 4096}, func(*event.Event) {
		t.Error("over-limit body reached the handler")
	})

	body := bytes.Repeat([]byte(`{"response":"200"}`+"\n"), 300)
	require.Greater(t, len(body), 4096)

	assert.Equal(t, http.StatusRequestEntityTooLarge, postStatus(t, srv, body, ""))
}

func TestServerRejectsOversizedDecompressedBody(t *testing.T) {
	srv := newTestServerWithConfig(t, Config{MaxBodyBytes: 4096}, func(*event.Event) {
		t.Error("over-limit body reached the handler")
	})

	// Around 2MB of NDJSON that gzips to well under the 4096-byte cap.
	payload := bytes.Repeat([]byte(`{"response":"200","host":"a"}`+"\n"), 70000)

	var buf bytes.Buffer

	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(payload)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	require.Less(t, buf.Len(), 4096)

	assert.Equal(t, http.StatusRequestEntityTooLarge, postStatus(t, srv, buf.Bytes(), "gzip"))
}

func TestServerRejectsUnknownEncoding(t *testing.T) {
	srv := newTestServer(t, func(*event.Event) {})

	req, err := http.NewRequest(http.MethodPost, "http://"+srv.Addr()+"/events", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)

	req.Header.Set("Content-Encoding", "lzma")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, func(*event.Event) {})

	resp, err := http.Get("http://" + srv.Addr() + "/events")
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
