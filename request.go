/************************************************************************************
 *
 * ember, A Lightweight Go library for Discord-style gateway/HTTP clients
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ember

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/rs/dnscache"
)

// ExpectMode selects how a response body is decoded.
type ExpectMode int

const (
	ExpectJSON ExpectMode = iota
	ExpectRaw
	ExpectText
	ExpectAuto
	ExpectResponse
)

// FileUpload is one part of a multipart request body. Reader must support
// Seek so the engine can rewind it before each retry (Testable Property
// #6).
type FileUpload struct {
	Field    string
	Filename string
	Reader   io.ReadSeeker
}

// RequestOptions configures one call to Requester.Do.
type RequestOptions struct {
	Method   string
	Route    Route
	Attempts int // default 3
	Expect   ExpectMode
	Headers  http.Header
	Body     any
	Files    []FileUpload
	Reason   string
}

// Requester is the HTTP Request Engine (§4.C): a shared connection pool,
// per-bucket/global rate limiting, retries with server-directed backoff,
// and decoded response bodies.
type Requester struct {
	client      *http.Client
	resolver    *dnscache.Resolver
	coordinator *RateLimitCoordinator
	token       string
	baseURL     string
	userAgent   string
	logger      Logger
	metrics     *Metrics
}

// NewRequester builds a Requester sharing one long-lived *http.Client
// backed by a DNS-caching dialer (grounded on eugener/gandalf's use of
// rs/dnscache for its outbound connection pool), appropriate for a process
// issuing many requests against a small set of hostnames.
func NewRequester(token, baseURL string, logger Logger, metrics *Metrics) *Requester {
	resolver := &dnscache.Resolver{}
	go dnscacheRefreshLoop(resolver)

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Requester{
		client:      &http.Client{Transport: transport},
		resolver:    resolver,
		coordinator: NewRateLimitCoordinator(metrics),
		token:       token,
		baseURL:     baseURL,
		userAgent:   fmt.Sprintf("%s (https://github.com/emberhq/ember, %s)", LIB_NAME, LIB_VERSION),
		logger:      logger,
		metrics:     metrics,
	}
}

func dnscacheRefreshLoop(resolver *dnscache.Resolver) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		resolver.Refresh(true)
	}
}

// Shutdown closes idle connections held by the shared transport.
func (r *Requester) Shutdown() {
	r.client.CloseIdleConnections()
}

// Do executes a rate-limited HTTP request per §4.C, retrying up to
// opts.Attempts times (default 3) and returning the decoded body per
// opts.Expect.
func (r *Requester) Do(ctx context.Context, opts RequestOptions) (any, error) {
	if opts.Expect < ExpectJSON || opts.Expect > ExpectResponse {
		return nil, ErrInvalidArgument
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 3
	}

	ctx, span := startHTTPSpan(ctx, opts.Route)
	defer span.End()

	requestID := uuid.NewString()
	logger := r.logger.WithField("request_id", requestID).WithField("bucket", opts.Route.BucketKey)
	start := time.Now()

	if err := r.coordinator.Acquire(ctx, opts.Route.BucketKey); err != nil {
		return nil, err
	}
	released := false
	release := func(after time.Duration) {
		if released {
			return
		}
		released = true
		r.coordinator.Release(opts.Route.BucketKey, after)
	}
	defer release(0)

	for i := 0; i < attempts; i++ {
		req, err := r.buildRequest(ctx, opts)
		if err != nil {
			release(0)
			r.metrics.observeRequest(opts.Method, "build_error", time.Since(start))
			return nil, err
		}

		resp, err := r.client.Do(req)
		if err != nil {
			release(0)
			r.metrics.observeRequest(opts.Method, "transport_error", time.Since(start))
			return nil, err
		}

		resetAfter := parseFloatHeader(resp.Header.Get("X-RateLimit-Reset-After"), 0)
		remaining := parseIntHeader(resp.Header.Get("X-RateLimit-Remaining"), 1)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			sleepFor := time.Duration(0)
			if remaining == 0 {
				sleepFor = time.Duration(resetAfter * float64(time.Second))
			}
			release(sleepFor)
			body, decodeErr := decodeBody(resp, opts.Expect)
			r.metrics.observeRequest(opts.Method, "success", time.Since(start))
			logger.Debug("request succeeded")
			return body, decodeErr

		case resp.StatusCode == http.StatusTooManyRequests:
			if resp.Header.Get("Via") == "" {
				release(0)
				drainAndClose(resp)
				r.metrics.observeRequest(opts.Method, "edge_rate_limited", time.Since(start))
				return nil, TooManyRequests(resp, "rate limited by edge proxy (no Via header)")
			}
			var body struct {
				RetryAfter float64 `json:"retry_after"`
				Global     bool    `json:"global"`
			}
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			sonic.Unmarshal(data, &body)
			if body.Global {
				r.coordinator.LockGlobal(time.Duration(body.RetryAfter * float64(time.Second)))
			}
			sleepFor := time.Duration(body.RetryAfter * float64(time.Second))
			if i == attempts-1 {
				release(sleepFor)
				r.metrics.observeRequest(opts.Method, "rate_limited", time.Since(start))
				return nil, TooManyRequests(resp, "rate limited: retries exhausted")
			}
			r.metrics.incRetry()
			logger.WithField("sleep_for", sleepFor.String()).Warn("rate limited, retrying")
			if err := sleepCtx(ctx, sleepFor); err != nil {
				release(0)
				return nil, err
			}

		case resp.StatusCode >= 500:
			drainAndClose(resp)
			sleepFor := time.Duration(1+i*2) * time.Second
			if i == attempts-1 {
				release(sleepFor)
				r.metrics.observeRequest(opts.Method, "server_error", time.Since(start))
				return nil, ServerError(resp, "server error: retries exhausted")
			}
			r.metrics.incRetry()
			logger.WithField("sleep_for", sleepFor.String()).Warn("server error, retrying")
			if err := sleepCtx(ctx, sleepFor); err != nil {
				release(0)
				return nil, err
			}

		default:
			release(0)
			data, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			r.metrics.observeRequest(opts.Method, "client_error", time.Since(start))
			return nil, mapStatusError(resp.StatusCode, resp, string(data))
		}
	}

	release(0)
	return nil, ServerError(nil, "exhausted retries")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drainAndClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func parseFloatHeader(v string, fallback float64) float64 {
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseIntHeader(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mapStatusError(status int, resp *http.Response, msg string) *HTTPError {
	switch status {
	case http.StatusBadRequest:
		return BadRequest(resp, msg)
	case http.StatusUnauthorized:
		return Unauthorized(resp, msg)
	case http.StatusForbidden:
		return Forbidden(resp, msg)
	case http.StatusNotFound:
		return NotFound(resp, msg)
	case http.StatusRequestEntityTooLarge:
		return PayloadTooLarge(resp, msg)
	default:
		return genericHTTPError(status, resp, msg)
	}
}

// readPooledBody reads resp.Body into a pool-backed buffer (§4.C hot path).
// The returned release func must be called once the caller is done reading
// the returned slice; callers that hand data out past that point must copy
// it first.
func readPooledBody(resp *http.Response) (data []byte, release func(), err error) {
	sizeHint := 4096
	if cl := resp.ContentLength; cl > 0 {
		sizeHint = int(cl)
	}
	bufPtr := AcquireBytes(sizeHint)
	buf := bytes.NewBuffer(*bufPtr)
	_, err = buf.ReadFrom(resp.Body)
	*bufPtr = buf.Bytes()
	return *bufPtr, func() { ReleaseBytes(bufPtr) }, err
}

func decodeBody(resp *http.Response, expect ExpectMode) (any, error) {
	if expect == ExpectResponse {
		return resp, nil
	}
	defer resp.Body.Close()
	data, release, err := readPooledBody(resp)
	defer release()
	if err != nil {
		return nil, err
	}
	switch expect {
	case ExpectRaw:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case ExpectText:
		return string(data), nil
	case ExpectJSON:
		var v any
		if len(data) == 0 {
			return nil, nil
		}
		if err := sonic.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case ExpectAuto:
		var v any
		if len(data) > 0 {
			if err := sonic.Unmarshal(data, &v); err == nil {
				return v, nil
			}
		}
		return string(data), nil
	default:
		return nil, ErrInvalidArgument
	}
}

// buildRequest constructs a fresh *http.Request for one attempt. File
// readers are rewound to their start so a retry resends the same bytes
// (Testable Property #6).
func (r *Requester) buildRequest(ctx context.Context, opts RequestOptions) (*http.Request, error) {
	var bodyReader io.Reader
	var contentType string

	switch {
	case len(opts.Files) > 0:
		for _, f := range opts.Files {
			if _, err := f.Reader.Seek(0, io.SeekStart); err != nil {
				return nil, fmt.Errorf("ember: rewinding file %q: %w", f.Filename, err)
			}
		}
		buf := &bytes.Buffer{}
		mw := multipart.NewWriter(buf)
		if opts.Body != nil {
			payload, err := sonic.Marshal(opts.Body)
			if err != nil {
				return nil, err
			}
			if err := mw.WriteField("payload_json", string(payload)); err != nil {
				return nil, err
			}
		}
		for i, f := range opts.Files {
			field := f.Field
			if field == "" {
				field = fmt.Sprintf("file_%d", i)
			}
			part, err := mw.CreateFormFile(field, f.Filename)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(part, f.Reader); err != nil {
				return nil, err
			}
		}
		if err := mw.Close(); err != nil {
			return nil, err
		}
		bodyReader = buf
		contentType = mw.FormDataContentType()

	case opts.Body != nil:
		payload, err := sonic.Marshal(opts.Body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, r.baseURL+opts.Route.ResolvedPath, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bot "+r.token)
	req.Header.Set("User-Agent", r.userAgent)
	req.Header.Set("X-RateLimit-Precision", "millisecond")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if opts.Reason != "" {
		req.Header.Set("X-Audit-Log-Reason", opts.Reason)
	}
	for key, values := range opts.Headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	return req, nil
}
