package kemono

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	errs "partysync/pkg/errors"
	"partysync/pkg/logger"
	"partysync/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failure struct {
	url string
	err error
}

type memRecorder struct {
	mu       sync.Mutex
	failures []failure
}

func (m *memRecorder) Append(url string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failure{url: url, err: cause})
	return nil
}

func (m *memRecorder) all() []failure {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]failure(nil), m.failures...)
}

func newTestClient(t *testing.T, base, fallback string, rec *memRecorder) *Client {
	t.Helper()
	return NewClient(Options{
		Source:          "kemono",
		BaseURL:         base,
		FallbackBaseURL: fallback,
		Timeout:         5 * time.Second,
		Retry: &retry.Config{
			MaxAttempts: 3,
			Backoff:     &retry.ConstantBackoff{Delay: time.Millisecond},
		},
		Failures: rec,
		Logger:   logger.NewTestLogger(),
	})
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `[{"id":"1","title":"hello","attachments":[]}]`)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	client := newTestClient(t, srv.URL, "", rec)

	posts, err := client.FetchPosts(context.Background(), Creator{ID: "42", Service: "patreon"}, 0)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "hello", posts[0].Title)
	assert.Equal(t, int32(3), hits.Load())
	assert.Empty(t, rec.all())
}

func TestFetchDoesNotRetryNotFound(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	client := newTestClient(t, srv.URL, "", rec)

	_, err := client.Fetch(context.Background(), srv.URL+"/missing", FetchOptions{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))
	assert.Equal(t, int32(1), hits.Load())

	failures := rec.all()
	require.Len(t, failures, 1)
	assert.Equal(t, srv.URL+"/missing", failures[0].url)
}

func TestFetchFallsBackToSecondaryHost(t *testing.T) {
	var primaryHits, fallbackHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer primary.Close()
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
		assert.Equal(t, "/data/ab/file.png", r.URL.Path)
		fmt.Fprint(w, "PNGDATA")
	}))
	defer fallback.Close()

	rec := &memRecorder{}
	client := newTestClient(t, primary.URL, fallback.URL, rec)

	resp, err := client.OpenFile(context.Background(), "/data/ab/file.png")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "PNGDATA", string(body))
	assert.Equal(t, int32(3), primaryHits.Load(), "primary budget is used up first")
	assert.Equal(t, int32(1), fallbackHits.Load())
	assert.Empty(t, rec.all())
}

func TestFetchExhaustionIsRecorded(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	primary := httptest.NewServer(handler)
	defer primary.Close()
	fallback := httptest.NewServer(handler)
	defer fallback.Close()

	rec := &memRecorder{}
	client := newTestClient(t, primary.URL, fallback.URL, rec)

	_, err := client.Fetch(context.Background(), primary.URL+"/data/x.zip", FetchOptions{Stream: true, Fallback: true})
	require.Error(t, err)

	var exhausted *retry.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, errs.ErrorTypeServerError, errs.TypeOf(err))

	failures := rec.all()
	require.Len(t, failures, 1)
	assert.Equal(t, fallback.URL+"/data/x.zip", failures[0].url)
}

func TestListingsNeverUseFallback(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	var fallbackHits atomic.Int32
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackHits.Add(1)
		fmt.Fprint(w, `[]`)
	}))
	defer fallback.Close()

	client := newTestClient(t, primary.URL, fallback.URL, &memRecorder{})

	_, err := client.FetchPosts(context.Background(), Creator{ID: "1", Service: "fanbox"}, 50)
	require.Error(t, err)
	assert.Zero(t, fallbackHits.Load())
}

func TestGetJSONRetriesMalformedBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			fmt.Fprint(w, `{"id": "1", "name": `)
			return
		}
		fmt.Fprint(w, `{"id":"1","name":"Alice","service":"patreon","updated":"2024-01-01","post_count":12}`)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, "", &memRecorder{})

	profile, err := client.FetchProfile(context.Background(), "patreon", "1")
	require.NoError(t, err)
	assert.Equal(t, 12, profile.PostCount)
	assert.Equal(t, Text("2024-01-01"), profile.Updated)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFavoritesSendSessionCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil || cookie.Value != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/api/v1/account/favorites", r.URL.Path)
		assert.Equal(t, "artist", r.URL.Query().Get("type"))
		fmt.Fprint(w, `[{"id":"7","name":"Bob","service":"fanbox","updated":1700000000}]`)
	}))
	defer srv.Close()

	client := NewClient(Options{
		Source:  "kemono",
		BaseURL: srv.URL,
		Session: "secret",
		Retry:   &retry.Config{MaxAttempts: 1},
		Logger:  logger.NewNopLogger(),
	})

	creators, err := client.FetchFavorites(context.Background())
	require.NoError(t, err)
	require.Len(t, creators, 1)
	assert.Equal(t, "fanbox:7", creators[0].Key())
	assert.Equal(t, Text("1700000000"), creators[0].Updated, "numeric markers are kept as text")
}

func TestFavoritesRequireSession(t *testing.T) {
	client := NewClient(Options{Source: "coomer", BaseURL: "http://127.0.0.1:1", Logger: logger.NewNopLogger()})

	_, err := client.FetchFavorites(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrorTypeAuth))
}

func TestFetchStopsOnCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rec := &memRecorder{}
	client := NewClient(Options{
		Source:   "kemono",
		BaseURL:  srv.URL,
		Retry:    &retry.Config{MaxAttempts: 10, Backoff: &retry.ConstantBackoff{Delay: time.Hour}},
		Failures: rec,
		Logger:   logger.NewNopLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Fetch(ctx, srv.URL+"/x", FetchOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, rec.all(), "cancelled requests are not failures")
}

func TestPostFiles(t *testing.T) {
	post := Post{
		ID:   "1",
		File: &Attachment{Name: "cover.png", Path: "/a/cover.png"},
		Attachments: []Attachment{
			{Name: "cover.png", Path: "/a/cover.png"},
			{Name: "extra.zip", Path: "/b/extra.zip"},
			{Name: "", Path: "/c/nameless"},
		},
	}

	files := post.Files()
	require.Len(t, files, 2)
	assert.Equal(t, "cover.png", files[0].Name)
	assert.Equal(t, "extra.zip", files[1].Name)

	assert.Empty(t, Post{File: &Attachment{}}.Files())
}

func TestStreamedBodyFailsWhenServerStalls(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("0123456789"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(Options{
		Source:  "kemono",
		BaseURL: srv.URL,
		Timeout: 200 * time.Millisecond,
		Retry:   &retry.Config{MaxAttempts: 1},
		Logger:  logger.NewNopLogger(),
	})

	resp, err := client.OpenFile(context.Background(), "/data/stall.bin")
	require.NoError(t, err)
	defer resp.Body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errs.Is(err, errs.ErrorTypeNetwork))
	case <-time.After(3 * time.Second):
		t.Fatal("stalled body was never cut off")
	}
}

func TestStreamedBodyReadsSlowButSteadyServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		for i := 0; i < 5; i++ {
			w.Write([]byte("x"))
			w.(http.Flusher).Flush()
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer srv.Close()

	client := NewClient(Options{
		Source:  "kemono",
		BaseURL: srv.URL,
		Timeout: 150 * time.Millisecond,
		Retry:   &retry.Config{MaxAttempts: 1},
		Logger:  logger.NewNopLogger(),
	})

	resp, err := client.OpenFile(context.Background(), "/data/slow.bin")
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "xxxxx", string(data))
}
