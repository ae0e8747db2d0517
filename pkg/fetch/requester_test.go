package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

func testPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
	}
}

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// sequenceServer answers with statusCodes in order, repeating the last one
func sequenceServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attempts.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attempts
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestFetchWithRetry_EventualSuccess(t *testing.T) {
	tests := []struct {
		name     string
		statuses []int
		attempts int32
	}{
		{"200 first try", []int{200}, 1},
		{"204 first try", []int{204}, 1},
		{"500 then 200", []int{500, 500, 200}, 3},
		{"429 then 200", []int{429, 200}, 2},
		{"mixed retryable", []int{500, 429, 500, 200}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := sequenceServer(t, tt.statuses)
			r := NewRequester(testClient(), testPolicy(3), testLogger())

			resp, err := r.FetchWithRetry(context.Background(), get(t, server.URL))
			if err != nil {
				t.Fatalf("expected no error, got: %v", err)
			}
			defer resp.Body.Close()

			want := tt.statuses[len(tt.statuses)-1]
			if resp.StatusCode != want {
				t.Errorf("expected status %d, got %d", want, resp.StatusCode)
			}
			if attempts.Load() != tt.attempts {
				t.Errorf("expected %d attempts, got %d", tt.attempts, attempts.Load())
			}
		})
	}
}

func TestFetchWithRetry_Exhausted(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		maxRetries int
		wrapped    error
	}{
		{"server errors", 500, 3, utils.ErrServerHTTPError},
		{"rate limited", 429, 3, utils.ErrClientHTTPError},
		{"zero retries", 503, 0, utils.ErrServerHTTPError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := sequenceServer(t, []int{tt.status})
			r := NewRequester(testClient(), testPolicy(tt.maxRetries), testLogger())

			resp, err := r.FetchWithRetry(context.Background(), get(t, server.URL))
			if resp != nil {
				resp.Body.Close()
				t.Error("expected nil response when all attempts fail")
			}
			if !errors.Is(err, utils.ErrRetryFailed) {
				t.Errorf("expected ErrRetryFailed, got: %v", err)
			}
			if !errors.Is(err, tt.wrapped) {
				t.Errorf("expected wrapped %v, got: %v", tt.wrapped, err)
			}
			if want := int32(tt.maxRetries + 1); attempts.Load() != want {
				t.Errorf("expected %d attempts, got %d", want, attempts.Load())
			}
		})
	}
}

func TestFetchWithRetry_NotRetried(t *testing.T) {
	tests := []struct {
		status  int
		wantErr error
	}{
		{http.StatusNotFound, utils.ErrClientHTTPError},
		{http.StatusForbidden, utils.ErrClientHTTPError},
		{http.StatusBadRequest, utils.ErrClientHTTPError},
		{http.StatusMovedPermanently, utils.ErrOtherHTTPError}, // No Location, so the client does not follow
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server, attempts := sequenceServer(t, []int{tt.status})
			r := NewRequester(testClient(), testPolicy(3), testLogger())

			resp, err := r.FetchWithRetry(context.Background(), get(t, server.URL))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got: %v", tt.wantErr, err)
			}
			if resp == nil {
				t.Fatal("expected the response to be returned with the error")
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, resp.StatusCode)
			}
			if attempts.Load() != 1 {
				t.Errorf("expected 1 attempt, got %d", attempts.Load())
			}
		})
	}
}

func TestFetchWithRetry_RetryAfterHonored(t *testing.T) {
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	policy := testPolicy(2)
	policy.MaxDelay = 300 * time.Millisecond // Caps the server's 1s request
	r := NewRequester(testClient(), policy, testLogger())

	start := time.Now()
	resp, err := r.FetchWithRetry(context.Background(), get(t, server.URL))
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("expected success, got: %v", err)
	}
	resp.Body.Close()

	if elapsed < 250*time.Millisecond {
		t.Errorf("expected the Retry-After wait capped at 300ms, returned after %v", elapsed)
	}
	if elapsed > 900*time.Millisecond {
		t.Errorf("Retry-After wait was not capped: %v", elapsed)
	}
}

func TestFetchWithRetry_CancelledBeforeAttempt(t *testing.T) {
	server, attempts := sequenceServer(t, []int{200})
	r := NewRequester(testClient(), testPolicy(3), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := r.FetchWithRetry(ctx, get(t, server.URL))
	if resp != nil {
		resp.Body.Close()
		t.Error("expected nil response")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
	if attempts.Load() != 0 {
		t.Errorf("expected 0 attempts, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_TimeoutDuringBackoff(t *testing.T) {
	server, attempts := sequenceServer(t, []int{500})
	policy := testPolicy(3)
	policy.InitialDelay = 10 * time.Second
	policy.MaxDelay = 10 * time.Second
	r := NewRequester(testClient(), policy, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	resp, err := r.FetchWithRetry(ctx, get(t, server.URL))
	if resp != nil {
		resp.Body.Close()
		t.Error("expected nil response")
	}
	if !errors.Is(err, utils.ErrServerHTTPError) {
		t.Errorf("expected the last server error to be wrapped, got: %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt before the deadline, got %d", attempts.Load())
	}
}

func TestFetchWithRetry_TimeoutDuringRequest(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(slow.Close)
	r := NewRequester(testClient(), testPolicy(3), testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp, err := r.FetchWithRetry(ctx, get(t, slow.URL))
	if resp != nil {
		resp.Body.Close()
		t.Error("expected nil response")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got: %v", err)
	}
}

func TestFetchWithRetry_NetworkErrorRetried(t *testing.T) {
	attempts := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("server doesn't support hijacking")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	r := NewRequester(testClient(), testPolicy(3), testLogger())

	resp, err := r.FetchWithRetry(context.Background(), get(t, server.URL))
	if err != nil {
		t.Fatalf("expected success after retry, got: %v", err)
	}
	resp.Body.Close()
	if attempts.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts.Load())
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := map[string]time.Duration{
		"":                              0,
		"3":                             3 * time.Second,
		"-1":                            0,
		"Wed, 21 Oct 2015 07:28:00 GMT": 0,
	}
	for in, want := range tests {
		if got := parseRetryAfter(in); got != want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", in, got, want)
		}
	}
}
