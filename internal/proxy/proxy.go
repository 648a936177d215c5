package proxy

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/oh-yeah-zzy/Hermes/internal/errors"
	"github.com/oh-yeah-zzy/Hermes/internal/loadbalancer"
	"github.com/oh-yeah-zzy/Hermes/internal/logging"
	"github.com/oh-yeah-zzy/Hermes/internal/plugin"
	"github.com/oh-yeah-zzy/Hermes/internal/route"
)

// retryableStatuses are upstream status codes that trigger another attempt.
var retryableStatuses = map[int]bool{
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}

// idempotentMethods may be retried without a per-route opt-in.
var idempotentMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Config holds forwarder settings.
type Config struct {
	Transport  http.RoundTripper
	MaxRetries int
	// BufferLimit is the largest request body buffered for retry replay.
	// Larger or unknown-length bodies are streamed and never retried.
	BufferLimit int64
}

// Forwarder proxies requests to upstream instances. The per-request
// deadline lives on the request context; attempts share that budget, it
// is not reset between retries.
type Forwarder struct {
	transport   http.RoundTripper
	maxRetries  int
	bufferLimit int64
}

// New creates a forwarder.
func New(cfg Config) *Forwarder {
	transport := cfg.Transport
	if transport == nil {
		transport = DefaultTransport()
	}
	limit := cfg.BufferLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	return &Forwarder{
		transport:   transport,
		maxRetries:  cfg.MaxRetries,
		bufferLimit: limit,
	}
}

// Forward sends the request upstream, picking a fresh instance per
// attempt. On success the chosen instance is returned still holding its
// active-connection slot; the caller releases it once the response body
// has been streamed. Failed attempts release their instances here.
func (f *Forwarder) Forward(ctx context.Context, r *http.Request, rt *route.Route, pick func() *loadbalancer.Instance, fwd http.Header, requestID, clientIP string) (*http.Response, *loadbalancer.Instance, error) {
	upstreamPath := rt.UpstreamPath(r.URL.Path)

	body, replayable, err := f.prepareBody(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, http.StatusBadRequest, "bad_request")
	}

	attempts := 1
	if f.maxRetries > 0 && replayable && (idempotentMethods[r.Method] || rt.RetryNonIdempotent) {
		attempts = f.maxRetries + 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		inst := pick()
		if inst == nil {
			return nil, nil, errors.ErrNoInstance
		}

		req := f.buildRequest(ctx, r, inst, upstreamPath, fwd, requestID, clientIP)
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		} else if attempt == 0 {
			req.Body = r.Body
			req.ContentLength = r.ContentLength
		}

		inst.Acquire()
		resp, err := f.transport.RoundTrip(req)
		if err != nil {
			inst.Release()
			if ge := classify(ctx, err); ge != nil {
				return nil, nil, ge
			}
			lastErr = err
			logging.Debug("Upstream attempt failed",
				zap.String("instance", inst.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		if retryableStatuses[resp.StatusCode] && attempt < attempts-1 {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			inst.Release()
			logging.Debug("Retrying after upstream status",
				zap.String("instance", inst.ID),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			continue
		}

		return resp, inst, nil
	}

	var netErr net.Error
	if stderrors.As(lastErr, &netErr) && netErr.Timeout() {
		return nil, nil, errors.Wrap(lastErr, http.StatusGatewayTimeout, "upstream_timeout")
	}
	return nil, nil, errors.Wrap(lastErr, http.StatusBadGateway, "upstream_transport")
}

// prepareBody buffers small bodies for retry replay. Returns a nil buffer
// for stream-only bodies.
func (f *Forwarder) prepareBody(r *http.Request) ([]byte, bool, error) {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil, true, nil
	}
	if r.ContentLength < 0 || r.ContentLength > f.bufferLimit {
		return nil, false, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, f.bufferLimit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > f.bufferLimit {
		// Declared length lied; too large to replay.
		return nil, false, io.ErrShortBuffer
	}
	return data, true, nil
}

// buildRequest assembles the upstream request for one attempt.
func (f *Forwarder) buildRequest(ctx context.Context, r *http.Request, inst *loadbalancer.Instance, upstreamPath string, fwd http.Header, requestID, clientIP string) *http.Request {
	target := inst.ParsedURL
	if target == nil {
		target, _ = url.Parse(inst.BaseURL)
		if target == nil {
			target = &url.URL{Scheme: "http", Host: inst.BaseURL}
		}
	}

	targetURL := *target
	targetURL.Path = singleJoiningSlash(target.Path, upstreamPath)
	targetURL.RawQuery = r.URL.RawQuery

	req := (&http.Request{
		Method:     r.Method,
		URL:        &targetURL,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Host:       target.Host,
	}).WithContext(ctx)

	var header http.Header
	if fwd != nil {
		header = make(http.Header, len(fwd))
		for k, vv := range fwd {
			header[k] = vv
		}
	} else {
		header = defaultForwardHeader(r, clientIP)
	}
	if header.Get("X-Request-ID") == "" {
		header.Set("X-Request-ID", requestID)
	}
	req.Header = header

	return req
}

// defaultForwardHeader builds the outbound headers when the header plugin
// is disabled: hop-by-hop headers dropped, X-Forwarded-* stamped.
func defaultForwardHeader(r *http.Request, clientIP string) http.Header {
	header := make(http.Header, len(r.Header)+4)
	for k, vv := range r.Header {
		header[k] = vv
	}
	plugin.RemoveHopHeaders(header)
	header.Del("Host")

	if clientIP != "" {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		header.Set("X-Forwarded-Proto", "https")
	} else {
		header.Set("X-Forwarded-Proto", "http")
	}
	header.Set("X-Forwarded-Host", r.Host)
	return header
}

// classify maps terminal transport errors; retryable errors return nil.
// Only the request deadline and client cancellation end the attempt loop
// early — other transport failures are worth another pick.
func classify(ctx context.Context, err error) *errors.GatewayError {
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		return errors.Wrap(err, http.StatusGatewayTimeout, "upstream_timeout")
	case ctx.Err() == context.Canceled:
		return errors.Wrap(context.Canceled, http.StatusBadGateway, "client_closed")
	}
	return nil
}

// singleJoiningSlash joins two URL paths with a single slash.
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
