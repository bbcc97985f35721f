package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastPolicy keeps test runs short while preserving the shape of the
// API-call preset.
func fastPolicy() Policy {
	return Policy{
		MaxRetries:     3,
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if v != 42 {
		t.Errorf("value = %d, want 42", v)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	sentinel := errors.New("attempt failed")
	calls := 0
	_, err := Do(context.Background(), fastPolicy(), func(context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4 (1 initial + 3 retries)", calls)
	}
	// Identity-preserving propagation: the exact error, not a wrapped copy.
	if err != sentinel {
		t.Errorf("err = %v, want the sentinel error unchanged", err)
	}
}

func TestDo_NonRetryableStopsAfterOneCall(t *testing.T) {
	fatal := errors.New("bad request")
	p := fastPolicy()
	p.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != fatal {
		t.Errorf("err = %v, want %v", err, fatal)
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), fastPolicy(), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("v=%q calls=%d, want ok after 3 calls", v, calls)
	}
}

func TestDo_OnRetryCallbackSeesAttempts(t *testing.T) {
	var attempts []int
	p := fastPolicy()
	p.OnRetry = func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
	}
	Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("nope")
	})
	if len(attempts) != 3 {
		t.Fatalf("OnRetry fired %d times, want 3", len(attempts))
	}
	for i, a := range attempts {
		if a != i+1 {
			t.Errorf("attempts[%d] = %d, want %d", i, a, i+1)
		}
	}
}

func TestDo_ContextCanceledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy()
	p.InitialDelay = time.Hour // the cancel must cut the sleep short
	p.MaxDelay = time.Hour

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestDelay_Bounds(t *testing.T) {
	p := Policy{
		InitialDelay:   2 * time.Second,
		MaxDelay:       60 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
	upper := time.Duration(float64(p.MaxDelay) * (1 + p.JitterFraction))
	for attempt := 0; attempt < 20; attempt++ {
		for i := 0; i < 50; i++ {
			d := p.Delay(attempt)
			if d < 0 {
				t.Fatalf("Delay(%d) = %s, negative", attempt, d)
			}
			if d > upper {
				t.Fatalf("Delay(%d) = %s, above jittered max %s", attempt, d, upper)
			}
		}
	}
}

func TestDelay_GrowsUntilCap(t *testing.T) {
	p := Policy{
		InitialDelay: time.Second,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
		// no jitter so growth is deterministic
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second}
	for attempt, w := range want {
		if d := p.Delay(attempt); d != w {
			t.Errorf("Delay(%d) = %s, want %s", attempt, d, w)
		}
	}
}

func TestWithTimeout_ReturnsDistinctTimeoutError(t *testing.T) {
	start := time.Now()
	_, err := WithTimeout(context.Background(), 20*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("WithTimeout blocked for %s, should return promptly", elapsed)
	}
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
}

func TestWithTimeout_FastOperationPassesThrough(t *testing.T) {
	v, err := WithTimeout(context.Background(), time.Second, func(context.Context) (string, error) {
		return "done", nil
	})
	if err != nil || v != "done" {
		t.Errorf("got (%q, %v), want (done, nil)", v, err)
	}
}

func TestDoWithTimeout_TimeoutsAreRetryable(t *testing.T) {
	p := fastPolicy()
	p.ShouldRetry = func(error) bool { return false } // timeouts still retry

	calls := 0
	_, err := DoWithTimeout(context.Background(), p, 5*time.Millisecond, func(ctx context.Context) (int, error) {
		calls++
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
	if !IsTimeout(err) {
		t.Errorf("err = %v, want timeout after exhausting retries", err)
	}
}

func TestDoWithTimeout_NonTimeoutHonorsShouldRetry(t *testing.T) {
	fatal := errors.New("fatal")
	p := fastPolicy()
	p.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := DoWithTimeout(context.Background(), p, time.Second, func(context.Context) (int, error) {
		calls++
		return 0, fatal
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if err != fatal {
		t.Errorf("err = %v, want %v", err, fatal)
	}
}

func TestRetryableNetwork(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp 127.0.0.1:443: connection refused"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("invalid request body"), false},
	}
	for _, c := range cases {
		if got := RetryableNetwork(c.err); got != c.want {
			t.Errorf("RetryableNetwork(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
