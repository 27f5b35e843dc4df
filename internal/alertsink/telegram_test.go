package alertsink

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T, handler http.HandlerFunc) (*Sink, *httptest.Server) {
	srv := httptest.NewServer(handler)
	s := New(Config{BotToken: "tok", ChatID: "chat", MaxRetries: 3, BackoffBaseSeconds: 1.001}, nil)
	s.base = srv.URL
	t.Cleanup(srv.Close)
	return s, srv
}

func TestSendTextSucceedsOnFirstTry(t *testing.T) {
	var calls int32
	s, _ := newTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/sendMessage", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	err := s.SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls)
}

func TestSendTextRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var calls int32
	s, _ := newTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := s.SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
}

func TestSendTextFailsAfterMaxRetries(t *testing.T) {
	var calls int32
	s, _ := newTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := s.SendText(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, int32(4), calls) // initial attempt + 3 retries
}

func TestSendText429DoesNotCountTowardMaxRetries(t *testing.T) {
	var calls int32
	s, _ := newTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 5 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	err := s.SendText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls, "429s should not consume the retry budget")
}

func TestSendPhotoPostsMultipartForm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alert.jpg")
	require.NoError(t, os.WriteFile(path, []byte("fake-jpeg-bytes"), 0o644))

	var gotPath string
	s, _ := newTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "chat", r.FormValue("chat_id"))
		assert.Equal(t, "absent alert", r.FormValue("caption"))
		w.WriteHeader(http.StatusOK)
	})

	err := s.SendPhoto(context.Background(), path, "absent alert")
	require.NoError(t, err)
	assert.Equal(t, "/sendPhoto", gotPath)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	s, _ := newTestSink(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := s.SendText(ctx, "hello")
	require.Error(t, err)
}
