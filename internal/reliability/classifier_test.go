package reliability

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want %v", got, 400*time.Millisecond)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	if got := RetryAfter(h, time.Second); got != 0 {
		t.Fatalf("RetryAfter(empty) = %v, want 0", got)
	}
	h.Set("Retry-After", "3")
	if got := RetryAfter(h, 0); got != 3*time.Second {
		t.Fatalf("RetryAfter(3) = %v, want 3s", got)
	}
	if got := RetryAfter(h, time.Second); got != time.Second {
		t.Fatalf("RetryAfter(3, cap 1s) = %v, want 1s", got)
	}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	if got := RetryAfter(h, time.Second); got != 0 {
		t.Fatalf("RetryAfter(date) = %v, want 0", got)
	}
}

func TestPolicyDoRetriesRetryableErrors(t *testing.T) {
	p := Policy{Attempts: 3, Base: time.Millisecond, Cap: 2 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &RetryableError{Err: errors.New("503")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestPolicyDoStopsOnPermanentError(t *testing.T) {
	p := Policy{Attempts: 5, Base: time.Millisecond, Cap: time.Millisecond}
	permanent := errors.New("400")
	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("Do() = %v after %d calls, want permanent after 1", err, calls)
	}
}

func TestPolicyDoReturnsLastErrorUnwrapped(t *testing.T) {
	p := Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond}
	last := errors.New("still 503")
	err := p.Do(context.Background(), func(context.Context) error {
		return &RetryableError{Err: last}
	})
	if err != last {
		t.Fatalf("Do() error = %v, want %v", err, last)
	}
}

func TestPolicyDoHonorsContext(t *testing.T) {
	p := Policy{Attempts: 5, Base: time.Second, Cap: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Do(ctx, func(context.Context) error {
		return &RetryableError{Err: errors.New("429")}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Do() error = %v, want context.DeadlineExceeded", err)
	}
}
