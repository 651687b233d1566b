package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "https://example.com/a b", Normalize("  https%3A%2F%2Fexample.com%2Fa%20b "))
	assert.Equal(t, "https://example.com/x", Normalize("https://example.com/x"))
	// Undecodable input is only trimmed.
	assert.Equal(t, "https://example.com/%zz", Normalize(" https://example.com/%zz"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		raw string
		ok  bool
	}{
		{"https://example.com/file.zip", true},
		{"http://127.0.0.1:8080/x", true},
		{"", false},
		{"ftp://example.com/file", false},
		{"example.com/file", false},
		{"http://", false},
		{"http://[::1", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			_, err := Validate(tt.raw)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidURL)
			}
		})
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/small":
			w.Write([]byte("hello"))
		case "/big":
			w.Write([]byte(strings.Repeat("x", 64)))
		case "/chunked":
			w.(http.Flusher).Flush()
			w.Write([]byte(strings.Repeat("y", 64)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := New(16)

	t.Run("ok", func(t *testing.T) {
		data, err := f.Fetch(context.Background(), srv.URL+"/small")
		require.NoError(t, err)
		assert.Equal(t, "hello", string(data))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), srv.URL+"/nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("too large by content length", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), srv.URL+"/big")
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("too large while streaming", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), srv.URL+"/chunked")
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "not a url")
		assert.ErrorIs(t, err, ErrInvalidURL)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/x")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrInvalidURL)
	})
}

func TestFetch_ConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(1024, WithConcurrency(2))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.Fetch(context.Background(), srv.URL)
			assert.NoError(t, err)
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestFetch_ContextCanceledWhileWaiting(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	f := New(1024, WithConcurrency(1), WithTimeout(5*time.Second))
	go f.Fetch(context.Background(), srv.URL) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
