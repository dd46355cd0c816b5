// Package fetch retrieves source images over HTTP under a hard header
// timeout, classifying failures so the gateway can map them to statuses.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrTimeout means response headers did not arrive within the deadline.
	// The in-flight connection is cancelled, not merely abandoned.
	ErrTimeout = errors.New("upstream fetch timed out")

	// ErrUnreachable covers network-level failure: DNS, refused, TLS.
	ErrUnreachable = errors.New("upstream unreachable")

	// ErrBodyTooLarge is surfaced mid-stream when the upstream body exceeds
	// the configured cap.
	ErrBodyTooLarge = errors.New("upstream body exceeds configured limit")
)

// StatusError reports a non-success upstream status. The gateway embeds the
// upstream status in its error body but never passes it through verbatim.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with %s", e.Status)
}

// Response is an open upstream byte stream plus the header snapshot taken
// before any bytes were consumed. The caller owns the stream and must Close
// it on every path, success or failure.
type Response struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64 // -1 when unknown
	CacheControl  string

	cancel context.CancelFunc
}

// Close aborts the underlying connection and releases the body.
func (r *Response) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
	tracer       trace.Tracer
}

type Option func(*Fetcher)

func WithTracer(tracer trace.Tracer) Option {
	return func(f *Fetcher) { f.tracer = tracer }
}

func WithClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

func New(timeout time.Duration, maxBodyBytes int64, opts ...Option) *Fetcher {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	f := &Fetcher{
		client:       &http.Client{},
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves rawURL and hands ownership of the still-open body to the
// caller. The header timeout does not bound body streaming; cancelling the
// returned Response does.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	ctx, cancel := context.WithCancel(ctx)

	if f.tracer != nil {
		var span trace.Span
		ctx, span = f.tracer.Start(ctx, "fetch.upstream", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(attribute.String("upstream.url", rawURL))
		defer span.End()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	// The timer covers headers only. Firing it cancels the context, which
	// tears down the dial or in-flight request and frees the socket.
	var timedOut atomic.Bool
	timer := time.AfterFunc(f.timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	resp, err := f.client.Do(req)
	timer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		cancel()
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body := resp.Body
	if f.maxBodyBytes > 0 {
		body = &cappedReadCloser{rc: resp.Body, remaining: f.maxBodyBytes}
	}

	return &Response{
		Body:          body,
		ContentType:   strings.TrimSpace(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
		CacheControl:  strings.TrimSpace(resp.Header.Get("Cache-Control")),
		cancel:        cancel,
	}, nil
}

// cappedReadCloser fails the stream once the cap is crossed instead of
// silently truncating the image.
type cappedReadCloser struct {
	rc        io.ReadCloser
	remaining int64
}

func (c *cappedReadCloser) Read(p []byte) (int, error) {
	if c.remaining < 0 {
		return 0, ErrBodyTooLarge
	}
	if int64(len(p)) > c.remaining+1 {
		p = p[:c.remaining+1]
	}
	n, err := c.rc.Read(p)
	c.remaining -= int64(n)
	if c.remaining < 0 {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (c *cappedReadCloser) Close() error {
	return c.rc.Close()
}
