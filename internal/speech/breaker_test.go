package speech

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errDown = errors.New("engine down")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func failN(b *Breaker, n int) {
	for range n {
		_ = b.Do(func() error { return errDown })
	}
}

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{Name: "deepgram"})
	if b.maxFailures != 5 || b.cooldown != 30*time.Second || b.probes != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", b.maxFailures, b.cooldown, b.probes)
	}
	if b.State() != BreakerClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 3, Cooldown: time.Minute, Now: clk.Now})

	failN(b, 2)
	_ = b.Do(func() error { return nil })
	failN(b, 2)
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed: a success resets the count", b.State())
	}

	failN(b, 1)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrBreakerOpen) || called {
		t.Fatalf("open breaker: err=%v called=%v", err, called)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: 10 * time.Second, Probes: 2, Now: clk.Now})
	failN(b, 2)

	clk.Advance(9 * time.Second)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v before cooldown, want open", b.State())
	}
	clk.Advance(time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v after cooldown, want half-open", b.State())
	}

	for i := range 2 {
		if err := b.Do(func() error { return nil }); err != nil {
			t.Fatalf("probe %d: %v", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v after probes, want closed", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 2, Cooldown: 10 * time.Second, Now: clk.Now})
	failN(b, 2)
	clk.Advance(10 * time.Second)

	if err := b.Do(func() error { return errDown }); !errors.Is(err, errDown) {
		t.Fatalf("probe err = %v, want errDown", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %v, want open again", b.State())
	}
	clk.Advance(10 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %v, want half-open after second cooldown", b.State())
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Second, Probes: 1, Now: clk.Now})
	failN(b, 1)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("second probe err = %v, want ErrBreakerOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	t.Parallel()
	b := NewBreaker(BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	failN(b, 1)
	b.Reset()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed", b.State())
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("after reset: %v", err)
	}
}

func TestBreakerState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		s    BreakerState
		want string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}
