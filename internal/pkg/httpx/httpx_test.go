package httpx

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := map[int]bool{
		200: false, 400: false, 404: false, 409: false,
		408: true, 429: true, 500: true, 503: true,
	}
	for code, want := range cases {
		if got := IsRetryableHTTPStatus(code); got != want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if IsRetryableError(nil) || IsRetryableError(context.Canceled) {
		t.Fatalf("nil and cancellation must not retry")
	}
	if !IsRetryableError(context.DeadlineExceeded) {
		t.Fatalf("deadline exceeded should retry")
	}
}

func TestRetryAfter(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	if got := RetryAfter(resp, time.Second, 0); got != time.Second {
		t.Fatalf("fallback = %v", got)
	}
	resp.Header.Set("Retry-After", "7")
	if got := RetryAfter(resp, time.Second, 5*time.Second); got != 5*time.Second {
		t.Fatalf("capped = %v", got)
	}
	if got := RetryAfter(resp, time.Second, 0); got != 7*time.Second {
		t.Fatalf("uncapped = %v", got)
	}
}

func TestBackoffStaysWithinJitterAndCap(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 6; attempt++ {
		d := Backoff(attempt, base, time.Second)
		nominal := base << uint(attempt)
		if nominal > time.Second {
			nominal = time.Second
		}
		lo := time.Duration(float64(nominal) * 0.8)
		hi := time.Duration(float64(nominal) * 1.2)
		if d < lo || d > hi {
			t.Fatalf("attempt %d: %v outside [%v, %v]", attempt, d, lo, hi)
		}
	}
	if Backoff(3, 0, time.Second) != 0 {
		t.Fatalf("zero base should not wait")
	}
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); err == nil {
		t.Fatalf("expected cancellation")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
}
