package ember

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
)

type mockRoundTripper struct {
	mu        sync.Mutex
	responses []*http.Response
	errs      []error
	requests  []*http.Request
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.responses) {
		return m.responses[idx], nil
	}
	return m.responses[len(m.responses)-1], nil
}

func newMockResponse(status int, headers map[string]string, body string) *http.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestRequester(rt http.RoundTripper) *Requester {
	logger := NewDefaultLogger(io.Discard, LogLevelErrorLevel)
	r := NewRequester("test-token", "https://discord.example/api/v10", logger, nil)
	r.client.Transport = rt
	return r
}

func TestRequesterSuccess(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{
		newMockResponse(200, map[string]string{"X-RateLimit-Remaining": "5"}, `{"id":"1"}`),
	}}
	r := newTestRequester(rt)

	route := NewRoute("GET", "/users/@me", RouteParams{})
	got, err := r.Do(context.Background(), RequestOptions{Method: "GET", Route: route, Expect: ExpectJSON})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	m, ok := got.(map[string]any)
	if !ok || m["id"] != "1" {
		t.Fatalf("unexpected decoded body: %#v", got)
	}
}

func TestRequesterTooManyRequestsWithoutViaIsTerminal(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{
		newMockResponse(429, nil, `{"message":"blocked"}`),
	}}
	r := newTestRequester(rt)

	route := NewRoute("GET", "/x", RouteParams{})
	_, err := r.Do(context.Background(), RequestOptions{Method: "GET", Route: route, Attempts: 3})
	if !IsRateLimited(err) {
		t.Fatalf("expected rate-limited error, got %v", err)
	}
	if len(rt.requests) != 1 {
		t.Fatalf("expected exactly 1 request (no retry), got %d", len(rt.requests))
	}
}

func TestRequesterTooManyRequestsWithViaRetriesThenSucceeds(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{
		newMockResponse(429, map[string]string{"Via": "1.1 proxy"}, `{"retry_after":0.01,"global":false}`),
		newMockResponse(200, map[string]string{"X-RateLimit-Remaining": "1"}, `{"ok":true}`),
	}}
	r := newTestRequester(rt)

	route := NewRoute("GET", "/y", RouteParams{})
	got, err := r.Do(context.Background(), RequestOptions{Method: "GET", Route: route, Expect: ExpectJSON})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(rt.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(rt.requests))
	}
	if m, ok := got.(map[string]any); !ok || m["ok"] != true {
		t.Fatalf("unexpected body: %#v", got)
	}
}

func TestRequesterServerErrorRetriesThenSucceeds(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{
		newMockResponse(503, nil, ""),
		newMockResponse(200, map[string]string{"X-RateLimit-Remaining": "1"}, `{"ok":true}`),
	}}
	r := newTestRequester(rt)

	route := NewRoute("GET", "/z", RouteParams{})
	_, err := r.Do(context.Background(), RequestOptions{Method: "GET", Route: route, Expect: ExpectJSON})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(rt.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(rt.requests))
	}
}

func TestRequesterGenericClientErrorIsTerminal(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{
		newMockResponse(404, nil, `{"message":"not found"}`),
	}}
	r := newTestRequester(rt)

	route := NewRoute("GET", "/missing", RouteParams{})
	_, err := r.Do(context.Background(), RequestOptions{Method: "GET", Route: route})
	if !IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(rt.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(rt.requests))
	}
}

func TestRequesterRewindsFilesOnRetry(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{
		newMockResponse(503, nil, ""),
		newMockResponse(200, map[string]string{"X-RateLimit-Remaining": "1"}, `{}`),
	}}
	r := newTestRequester(rt)

	content := []byte("hello world")
	reader := bytes.NewReader(content)
	route := NewRoute("POST", "/upload", RouteParams{})

	_, err := r.Do(context.Background(), RequestOptions{
		Method: "POST",
		Route:  route,
		Expect: ExpectJSON,
		Files:  []FileUpload{{Filename: "a.txt", Reader: reader}},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(rt.requests) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(rt.requests))
	}
	for i, req := range rt.requests {
		body, _ := io.ReadAll(req.Body)
		if !bytes.Contains(body, content) {
			t.Fatalf("attempt %d missing file content, got %q", i, body)
		}
	}
}

func TestRequesterInvalidExpectMode(t *testing.T) {
	rt := &mockRoundTripper{responses: []*http.Response{newMockResponse(200, nil, "{}")}}
	r := newTestRequester(rt)
	route := NewRoute("GET", "/whatever", RouteParams{})
	_, err := r.Do(context.Background(), RequestOptions{Method: "GET", Route: route, Expect: ExpectMode(99)})
	if err != ErrInvalidArgument {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
