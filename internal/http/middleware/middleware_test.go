package middleware

import (
	"bytes"
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthAcceptsHeaderAndQueryTokenForGet(t *testing.T) {
	handler := RequestID(Auth("secret-token")(okHandler()))

	tests := []struct {
		name   string
		method string
		target string
		header string
		want   int
	}{
		{"health is public", http.MethodGet, "/healthz", "", http.StatusOK},
		{"missing token", http.MethodGet, "/v1/jobs", "", http.StatusUnauthorized},
		{"bearer token", http.MethodPost, "/v1/jobs", "Bearer secret-token", http.StatusOK},
		{"wrong token", http.MethodPost, "/v1/jobs", "Bearer nope", http.StatusUnauthorized},
		{"query token on get", http.MethodGet, "/v1/jobs/x/events?access_token=secret-token", "", http.StatusOK},
		{"query token on post", http.MethodPost, "/v1/jobs?access_token=secret-token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.header != "" {
				request.Header.Set("Authorization", tt.header)
			}
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)
			if recorder.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, recorder.Code)
			}
		})
	}
}

func TestRateLimitRejectsBurstOverflowPerHost(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler := RequestID(RateLimit(ctx, RateLimitConfig{RPS: 1, Burst: 2})(okHandler()))

	send := func(method, target, remote string) int {
		request := httptest.NewRequest(method, target, nil)
		request.RemoteAddr = remote
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, request)
		return recorder.Code
	}

	codes := []int{
		send(http.MethodGet, "/v1/history", "10.0.0.1:1234"),
		send(http.MethodGet, "/v1/history", "10.0.0.1:1235"),
		send(http.MethodGet, "/v1/history", "10.0.0.1:1236"),
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if code := send(http.MethodGet, "/v1/history", "10.0.0.2:1234"); code != http.StatusOK {
		t.Fatalf("expected another host to keep its own budget, got %d", code)
	}
	for i := 0; i < 5; i++ {
		if code := send(http.MethodGet, "/healthz", "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("expected health check to bypass the limit, got %d", code)
		}
		if code := send(http.MethodGet, "/v1/jobs/job-1/events", "10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("expected event stream reconnect to bypass the limit, got %d", code)
		}
	}
	if code := send(http.MethodPost, "/v1/jobs/job-1/cancel", "10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("expected other job routes to stay limited, got %d", code)
	}
}

func TestClientLimitersSweepIdleAndStopWithContext(t *testing.T) {
	limiters := newClientLimiters(RateLimitConfig{RPS: 1, Burst: 1})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	limiters.now = func() time.Time { return now }

	limiters.allow("10.0.0.1")
	now = now.Add(2 * time.Minute)
	limiters.allow("10.0.0.2")
	now = now.Add(2 * time.Minute)
	if remaining := limiters.sweep(clientIdleAfter); remaining != 1 {
		t.Fatalf("expected 1 client after sweep, got %d", remaining)
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		limiters.run(ctx, time.Millisecond)
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatalf("expected sweeper to stop after cancel")
	}
}

func TestRequestIDKeepsSafeIDsOnly(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"safe id", "req-42.a:b_c", true},
		{"missing", "", false},
		{"log injection", "req\nlevel=error", false},
		{"too long", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			request.Header.Set(RequestIDHeader, tt.incoming)
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)

			if tt.keep && seen != tt.incoming {
				t.Fatalf("expected id %q, got %q", tt.incoming, seen)
			}
			if !tt.keep {
				if _, err := uuid.Parse(seen); err != nil {
					t.Fatalf("expected generated uuid, got %q", seen)
				}
			}
			if got := recorder.Header().Get(RequestIDHeader); got != seen {
				t.Fatalf("expected response header %q, got %q", seen, got)
			}
		})
	}
}

func TestTraceLogsStatusAndRequestID(t *testing.T) {
	var buffer bytes.Buffer
	logger := log.New(&buffer, "", 0)
	handler := RequestID(Trace(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	request := httptest.NewRequest(http.MethodPost, "/v1/jobs", nil)
	request.Header.Set("X-Request-Id", "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), request)

	line := buffer.String()
	if !strings.Contains(line, "request_id=req-42") || !strings.Contains(line, "status=202") {
		t.Fatalf("unexpected trace line %q", line)
	}
}
