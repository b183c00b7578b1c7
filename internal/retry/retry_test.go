package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func fastConfig(attempts int) Config {
	return Config{MaxAttempts: attempts, InitialWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 2}
}

func TestDoWithResult_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(3), func() (struct{}, error) {
		calls++
		if calls < 3 {
			return struct{}{}, Retryable(errors.New("flaky"))
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoWithResult_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	want := errors.New("bad request")
	_, err := DoWithResult(context.Background(), fastConfig(5), func() (struct{}, error) {
		calls++
		return struct{}{}, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoWithResult_ExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := DoWithResult(context.Background(), fastConfig(2), func() (struct{}, error) {
		calls++
		return struct{}{}, Retryable(errors.New("down"))
	})
	if err == nil || !IsRetryable(err) {
		t.Fatalf("expected last retryable error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDoWithResult_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := DoWithResult(ctx, fastConfig(0), func() (struct{}, error) {
		return struct{}{}, Retryable(errors.New("down"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errors.New("once"))
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v", got, err)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusTooManyRequests, true},
		{http.StatusNotFound, false},
		{http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(StatusError(tt.code)); got != tt.retryable {
			t.Errorf("StatusError(%d) retryable=%v, want %v", tt.code, got, tt.retryable)
		}
	}
}

func TestWait_CappedAtMax(t *testing.T) {
	cfg := Config{InitialWait: time.Second, MaxWait: 2 * time.Second, Multiplier: 10}
	if w := cfg.Wait(1); w != time.Second {
		t.Errorf("Wait(1) = %v", w)
	}
	if w := cfg.Wait(4); w != 2*time.Second {
		t.Errorf("Wait(4) = %v, want cap", w)
	}
}
