package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"chatcore/gateway"
)

// captureSleeps swaps the backoff sleeper for one that records delays
// without waiting. Restore with the returned func.
func captureSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var delays []time.Duration
	orig := sleepContext
	sleepContext = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	t.Cleanup(func() { sleepContext = orig })
	return &delays
}

func unavailable() error {
	return &gateway.Error{Kind: gateway.KindUnavailable, Status: 503, Err: errors.New("upstream down")}
}

func TestDoFirstAttemptSuccess(t *testing.T) {
	delays := captureSleeps(t)

	calls := 0
	result, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result: got %q, want %q", result, "ok")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
	if len(*delays) != 0 {
		t.Errorf("delays: got %v, want none", *delays)
	}
}

func TestDoBackoffSchedule(t *testing.T) {
	delays := captureSleeps(t)

	policy := Policy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RetryableKinds: []gateway.ErrorKind{gateway.KindUnavailable},
	}

	calls := 0
	_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		calls++
		return 0, unavailable()
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays: got %v, want %v", *delays, want)
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Errorf("delay %d: got %v, want %v", i, d, want[i])
		}
	}
}

func TestDoDelayCappedAtMax(t *testing.T) {
	delays := captureSleeps(t)

	policy := Policy{
		MaxAttempts:    5,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       250 * time.Millisecond,
		RetryableKinds: []gateway.ErrorKind{gateway.KindUnavailable},
	}

	_, _ = Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, unavailable()
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		250 * time.Millisecond,
		250 * time.Millisecond,
	}
	if len(*delays) != len(want) {
		t.Fatalf("delays: got %v, want %v", *delays, want)
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Errorf("delay %d: got %v, want %v", i, d, want[i])
		}
	}
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth", &gateway.Error{Kind: gateway.KindAuth, Status: 401, Err: errors.New("bad key")}},
		{"malformed", &gateway.Error{Kind: gateway.KindMalformed, Err: errors.New("bad response")}},
		{"untyped", errors.New("plain failure")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delays := captureSleeps(t)

			calls := 0
			_, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) (int, error) {
				calls++
				return 0, tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Errorf("error: got %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("calls: got %d, want 1", calls)
			}
			if len(*delays) != 0 {
				t.Errorf("delays: got %v, want none", *delays)
			}
		})
	}
}

func TestDoRetryAfterHintOverridesBackoff(t *testing.T) {
	delays := captureSleeps(t)

	policy := Policy{
		MaxAttempts:    2,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		RetryableKinds: []gateway.ErrorKind{gateway.KindRateLimited},
	}

	calls := 0
	result, err := Do(context.Background(), policy, func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &gateway.Error{
				Kind:       gateway.KindRateLimited,
				Status:     429,
				RetryAfter: 3 * time.Second,
				Err:        errors.New("slow down"),
			}
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "recovered" {
		t.Errorf("result: got %q, want %q", result, "recovered")
	}
	if len(*delays) != 1 || (*delays)[0] != 3*time.Second {
		t.Errorf("delays: got %v, want [3s]", *delays)
	}
}

func TestDoWrapsLastErrorWithAttemptCount(t *testing.T) {
	captureSleeps(t)

	last := unavailable()
	_, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) (int, error) {
		return 0, last
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, last) {
		t.Errorf("wrapped error does not match last failure: %v", err)
	}
	want := fmt.Sprintf("after %d attempts", DefaultPolicy().MaxAttempts)
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("error %q missing %q", got, want)
	}
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	orig := sleepContext
	sleepContext = func(ctx context.Context, d time.Duration) error {
		return context.Canceled
	}
	t.Cleanup(func() { sleepContext = orig })

	calls := 0
	_, err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) (int, error) {
		calls++
		return 0, unavailable()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error: got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestDoFirstDelayCappedAtMax(t *testing.T) {
	delays := captureSleeps(t)

	policy := Policy{
		MaxAttempts:    3,
		BaseDelay:      400 * time.Millisecond,
		MaxDelay:       100 * time.Millisecond,
		RetryableKinds: []gateway.ErrorKind{gateway.KindUnavailable},
	}

	_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, unavailable()
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}

	// The cap applies to every delay, the first included.
	want := []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays: got %v, want %v", *delays, want)
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Errorf("delay %d: got %v, want %v", i, d, want[i])
		}
	}
}

func TestDoZeroMaxDelayMeansUncapped(t *testing.T) {
	delays := captureSleeps(t)

	policy := Policy{
		MaxAttempts:    3,
		BaseDelay:      100 * time.Millisecond,
		RetryableKinds: []gateway.ErrorKind{gateway.KindUnavailable},
	}

	_, err := Do(context.Background(), policy, func(ctx context.Context) (int, error) {
		return 0, unavailable()
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("delays: got %v, want %v", *delays, want)
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Errorf("delay %d: got %v, want %v", i, d, want[i])
		}
	}
}
