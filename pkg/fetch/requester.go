package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// RetryPolicy bounds how a Requester retries transient failures
type RetryPolicy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Requester performs HTTP requests with exponential backoff and jitter
type Requester struct {
	client *http.Client
	policy RetryPolicy
	log    *logrus.Entry
}

// NewRequester wraps client with the given retry policy
func NewRequester(client *http.Client, policy RetryPolicy, log *logrus.Entry) *Requester {
	return &Requester{client: client, policy: policy, log: log}
}

// Client returns the underlying HTTP client
func (r *Requester) Client() *http.Client {
	return r.client
}

// FetchWithRetry sends req under ctx, retrying network errors, 5xx and 429.
// On success the caller owns the response body. Other 4xx and unexpected
// statuses are not retried; the response is returned with the error and the
// caller must close its body.
func (r *Requester) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var resp *http.Response
	var serverWait time.Duration // Retry-After from a 429, overrides backoff once

	reqLog := r.log.WithField("url", req.URL.String())
	maxRetries := r.policy.MaxRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", err, lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", err)
		}

		if attempt > 0 {
			delay := r.backoff(attempt)
			if serverWait > 0 {
				delay = min(serverWait, r.policy.MaxDelay)
				serverWait = 0
			}
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		resp, lastErr = r.client.Do(req.WithContext(ctx))

		if lastErr != nil {
			drain(resp)
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request: %v", lastErr)
				return nil, lastErr
			}
			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			continue
		}

		code := resp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": code, "attempt": attempt})

		switch {
		case code >= 200 && code < 300:
			resLog.Debug("Successfully fetched")
			return resp, nil

		case code >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, code, resp.Status)
			drain(resp)
			continue

		case code == http.StatusTooManyRequests:
			serverWait = parseRetryAfter(resp.Header.Get("Retry-After"))
			resLog.WithField("retry_after", serverWait).Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, code, resp.Status)
			drain(resp)
			continue

		case code >= 400 && code < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, code, resp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", code)
			return resp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, code, resp.Status)
		}
	}

	reqLog.Errorf("All %d attempts failed. Last error: %v", maxRetries+1, lastErr)
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// backoff returns initial * 2^(attempt-1), capped at MaxDelay, with +/-10% jitter
func (r *Requester) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(r.policy.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || delay > r.policy.MaxDelay {
		delay = r.policy.MaxDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if span := int64(delay) / 5; span > 0 {
		jitter = time.Duration(rand.Int63n(span)) - delay/10
	}
	return max(delay+jitter, 0)
}

// parseRetryAfter reads a delay-seconds Retry-After value; dates are ignored
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
