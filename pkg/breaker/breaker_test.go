package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errBackend = errors.New("backend unavailable")

func failing(ctx context.Context) error    { return errBackend }
func succeeding(ctx context.Context) error { return nil }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	clk := newFakeClock()
	b := New(cfg, nil)
	b.now = clk.Now
	return b, clk
}

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := b.Call(ctx, "api", failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: err = %v, want backend error", i, err)
		}
		if got := b.State("api"); got != Closed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, got)
		}
	}

	if err := b.Call(ctx, "api", failing); !errors.Is(err, errBackend) {
		t.Fatalf("threshold call: err = %v", err)
	}
	if got := b.State("api"); got != Open {
		t.Errorf("state after threshold failures = %v, want open", got)
	}

	// Open breaker short-circuits without invoking the function.
	invoked := false
	err := b.Call(ctx, "api", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrOpen) {
		t.Errorf("short-circuit err = %v, want ErrOpen", err)
	}
	if invoked {
		t.Error("function invoked while breaker open")
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 3})
	ctx := context.Background()

	// Two failures, a success, then two more failures: never reaches the
	// consecutive threshold.
	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", succeeding)
	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", failing)

	if got := b.State("api"); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestOpensOnLowSuccessRate(t *testing.T) {
	b, _ := newTestBreaker(Config{
		FailureThreshold: 100, // out of reach; force the rate path
		SuccessRateFloor: 0.5,
		WindowSize:       10,
	})
	ctx := context.Background()

	// Alternate success/failure so consecutive failures never accumulate,
	// then tip the full window under the floor.
	for i := 0; i < 5; i++ {
		b.Call(ctx, "api", succeeding)
		b.Call(ctx, "api", failing)
	}
	if got := b.State("api"); got != Closed {
		t.Fatalf("state at 50%% rate = %v, want closed (floor is strict)", got)
	}

	b.Call(ctx, "api", failing)
	if got := b.State("api"); got != Open {
		t.Errorf("state below floor = %v, want open", got)
	}
}

func TestHalfOpenTrialClosesOnSuccess(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 2, CoolDown: 30 * time.Second})
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", failing)
	if got := b.State("api"); got != Open {
		t.Fatalf("state = %v, want open", got)
	}

	// Before the cool-down elapses, still short-circuited.
	if err := b.Call(ctx, "api", succeeding); !errors.Is(err, ErrOpen) {
		t.Fatalf("err before cool-down = %v, want ErrOpen", err)
	}

	clk.Advance(31 * time.Second)
	if err := b.Call(ctx, "api", succeeding); err != nil {
		t.Fatalf("trial call err = %v", err)
	}
	if got := b.State("api"); got != Closed {
		t.Errorf("state after successful trial = %v, want closed", got)
	}
	if err := b.Call(ctx, "api", succeeding); err != nil {
		t.Errorf("call after recovery err = %v", err)
	}
}

func TestHalfOpenTrialReopensWithBackoff(t *testing.T) {
	b, clk := newTestBreaker(Config{
		FailureThreshold: 2,
		CoolDown:         30 * time.Second,
		MaxCoolDown:      2 * time.Minute,
	})
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", failing)

	// Failed trial doubles the cool-down: 30s -> 60s.
	clk.Advance(31 * time.Second)
	if err := b.Call(ctx, "api", failing); !errors.Is(err, errBackend) {
		t.Fatalf("trial err = %v", err)
	}
	if got := b.State("api"); got != Open {
		t.Fatalf("state after failed trial = %v, want open", got)
	}

	clk.Advance(45 * time.Second)
	if err := b.Call(ctx, "api", succeeding); !errors.Is(err, ErrOpen) {
		t.Errorf("err at 45s into a 60s cool-down = %v, want ErrOpen", err)
	}

	clk.Advance(20 * time.Second)
	if err := b.Call(ctx, "api", succeeding); err != nil {
		t.Errorf("trial after doubled cool-down err = %v", err)
	}
}

func TestCoolDownCappedAtMax(t *testing.T) {
	b, clk := newTestBreaker(Config{
		FailureThreshold: 1,
		CoolDown:         time.Minute,
		MaxCoolDown:      2 * time.Minute,
	})
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	// Fail three consecutive trials: 1m -> 2m -> capped at 2m.
	for i := 0; i < 3; i++ {
		clk.Advance(3 * time.Minute)
		if err := b.Call(ctx, "api", failing); !errors.Is(err, errBackend) {
			t.Fatalf("trial %d err = %v", i, err)
		}
	}

	clk.Advance(2*time.Minute + time.Second)
	if err := b.Call(ctx, "api", succeeding); err != nil {
		t.Errorf("trial after capped cool-down err = %v, want nil", err)
	}
}

func TestHalfOpenAdmitsSingleTrial(t *testing.T) {
	b, clk := newTestBreaker(Config{FailureThreshold: 1, CoolDown: time.Second})
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	clk.Advance(2 * time.Second)

	started := make(chan struct{})
	block := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- b.Call(ctx, "api", func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	// Second caller while the trial is in flight fails fast.
	if err := b.Call(ctx, "api", succeeding); !errors.Is(err, ErrOpen) {
		t.Errorf("concurrent half-open call err = %v, want ErrOpen", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Errorf("trial err = %v", err)
	}
	if got := b.State("api"); got != Closed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestPanicReleasesHalfOpenTrial(t *testing.T) {
	b, clk := newTestBreaker(Config{
		FailureThreshold: 1,
		CoolDown:         time.Second,
		MaxCoolDown:      time.Second,
	})
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	clk.Advance(2 * time.Second)

	// The trial call panics mid-flight. The panic propagates, but the
	// trial claim must not leak.
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic should propagate to the caller")
			}
		}()
		b.Call(ctx, "api", func(ctx context.Context) error { panic("handler bug") })
	}()

	if got := b.State("api"); got != Open {
		t.Fatalf("state after panicking trial = %v, want open (counted as failure)", got)
	}

	// After the cool-down a fresh trial is admitted; the service is not
	// wedged rejecting everything forever.
	clk.Advance(2 * time.Second)
	invoked := false
	if err := b.Call(ctx, "api", func(ctx context.Context) error {
		invoked = true
		return nil
	}); err != nil {
		t.Errorf("trial after cool-down err = %v", err)
	}
	if !invoked {
		t.Error("trial call was never admitted")
	}
	if got := b.State("api"); got != Closed {
		t.Errorf("state after recovered trial = %v, want closed", got)
	}
}

func TestServicesTrackedIndependently(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2})
	ctx := context.Background()

	b.Call(ctx, "payments", failing)
	b.Call(ctx, "payments", failing)
	b.Call(ctx, "catalog", succeeding)

	if got := b.State("payments"); got != Open {
		t.Errorf("payments state = %v, want open", got)
	}
	if got := b.State("catalog"); got != Closed {
		t.Errorf("catalog state = %v, want closed", got)
	}
	if err := b.Call(ctx, "catalog", succeeding); err != nil {
		t.Errorf("catalog call err = %v, want nil", err)
	}
}

func TestForceReset(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 1})
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	if got := b.State("api"); got != Open {
		t.Fatalf("state = %v, want open", got)
	}

	b.ForceReset()
	if got := b.State("api"); got != Closed {
		t.Errorf("state after reset = %v, want closed", got)
	}
	// Calls flow immediately, no cool-down pending.
	if err := b.Call(ctx, "api", succeeding); err != nil {
		t.Errorf("call after reset err = %v", err)
	}
	if got := b.HealthScore(); got != 100 {
		t.Errorf("health score after reset + success = %d, want 100", got)
	}
}

func TestHealthScore(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 100, WindowSize: 4})
	ctx := context.Background()

	if got := b.HealthScore(); got != 100 {
		t.Errorf("score with no services = %d, want 100", got)
	}

	// api: 2/4 success; catalog: 4/4 success. Average 75%.
	b.Call(ctx, "api", succeeding)
	b.Call(ctx, "api", succeeding)
	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", failing)
	for i := 0; i < 4; i++ {
		b.Call(ctx, "catalog", succeeding)
	}

	if got := b.HealthScore(); got != 75 {
		t.Errorf("score = %d, want 75", got)
	}
}

func TestTransitionCallback(t *testing.T) {
	type transition struct {
		service  string
		from, to State
	}
	var got []transition
	clk := newFakeClock()
	b := New(Config{FailureThreshold: 1, CoolDown: time.Second}, func(service string, from, to State) {
		got = append(got, transition{service, from, to})
	})
	b.now = clk.Now
	ctx := context.Background()

	b.Call(ctx, "api", failing)
	clk.Advance(2 * time.Second)
	b.Call(ctx, "api", succeeding)

	want := []transition{
		{"api", Closed, Open},
		{"api", Open, HalfOpen},
		{"api", HalfOpen, Closed},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d transitions, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSnapshot(t *testing.T) {
	b, _ := newTestBreaker(Config{FailureThreshold: 2, WindowSize: 4})
	ctx := context.Background()

	b.Call(ctx, "api", succeeding)
	b.Call(ctx, "api", failing)
	b.Call(ctx, "api", failing)

	snap := b.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	st := snap[0]
	if st.Service != "api" || st.State != Open {
		t.Errorf("snapshot = %+v, want api open", st)
	}
	if st.ConsecutiveFailures != 2 {
		t.Errorf("consecutive failures = %d, want 2", st.ConsecutiveFailures)
	}
	if st.SuccessRate < 0.32 || st.SuccessRate > 0.34 {
		t.Errorf("success rate = %v, want ~1/3", st.SuccessRate)
	}
	if st.OpenedAt.IsZero() {
		t.Error("opened breaker should carry OpenedAt")
	}
}
