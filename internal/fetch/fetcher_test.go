package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchCapturesHeaderSnapshot(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "max-age=60")
		w.Write([]byte("jpeg-bytes"))
	}))
	defer upstream.Close()

	fetcher := New(time.Second, 0)
	resp, err := fetcher.Fetch(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Close()

	if resp.ContentType != "image/jpeg" {
		t.Fatalf("expected content type image/jpeg, got %q", resp.ContentType)
	}
	if resp.CacheControl != "max-age=60" {
		t.Fatalf("expected cache-control max-age=60, got %q", resp.CacheControl)
	}
	if resp.ContentLength != int64(len("jpeg-bytes")) {
		t.Fatalf("expected content length %d, got %d", len("jpeg-bytes"), resp.ContentLength)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "jpeg-bytes" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFetchClassifiesUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer upstream.Close()

	fetcher := New(time.Second, 0)
	_, err := fetcher.Fetch(context.Background(), upstream.URL)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", statusErr.StatusCode)
	}
}

func TestFetchTimeoutCancelsConnection(t *testing.T) {
	cancelled := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			close(cancelled)
		case <-time.After(5 * time.Second):
		}
	}))
	defer upstream.Close()

	fetcher := New(50*time.Millisecond, 0)
	_, err := fetcher.Fetch(context.Background(), upstream.URL)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream never observed the cancellation")
	}
}

func TestFetchClassifiesUnreachable(t *testing.T) {
	// A closed server yields connection refused.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := upstream.URL
	upstream.Close()

	fetcher := New(time.Second, 0)
	_, err := fetcher.Fetch(context.Background(), target)
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
}

func TestFetchTimeoutDoesNotBoundBodyStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("first"))
		flusher.Flush()
		time.Sleep(150 * time.Millisecond)
		w.Write([]byte("second"))
	}))
	defer upstream.Close()

	// The header deadline is shorter than the total body duration; only the
	// time to headers counts against it.
	fetcher := New(100*time.Millisecond, 0)
	resp, err := fetcher.Fetch(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "firstsecond" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestFetchEnforcesBodyCap(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer upstream.Close()

	fetcher := New(time.Second, 1024)
	resp, err := fetcher.Fetch(context.Background(), upstream.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Close()

	_, err = io.ReadAll(resp.Body)
	if !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}
