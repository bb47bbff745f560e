package notifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"alertd/internal/eventbus"
	"alertd/internal/transport"
	"alertd/pkg/alert"
	"alertd/pkg/logx"
)

type fakePush struct {
	mu       sync.Mutex
	calls    []string // tokens in call order
	outcomes []transport.PushOutcome
	errs     []error
	idx      int
}

func (f *fakePush) Deliver(_ context.Context, token string, _ alert.Alert) (transport.PushOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, token)
	i := f.idx
	if i >= len(f.outcomes) {
		i = len(f.outcomes) - 1
	}
	f.idx++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.outcomes[i], err
}

func (f *fakePush) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testConfig() Config {
	return Config{
		Enabled:    true,
		Workers:    1,
		QueueSize:  16,
		RatePerSec: 1000,
		RetryMax:   2,
		RetryBase:  time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDeliveredOnFirstAttempt(t *testing.T) {
	pt := &fakePush{outcomes: []transport.PushOutcome{transport.PushDelivered}}
	s := New(testConfig(), pt, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	a := alert.Alert{ID: 1, Title: "t", Type: alert.TypeEmergency}
	if err := s.Notify(context.Background(), "tok-1", a); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return pt.callCount() == 1 })

	hist := s.Snapshot()
	if len(hist) != 1 || hist[0].AlertID != 1 || hist[0].Token != "tok-1" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestTransientFailureRetried(t *testing.T) {
	pt := &fakePush{
		outcomes: []transport.PushOutcome{transport.PushTransientFailure, transport.PushTransientFailure, transport.PushDelivered},
		errs:     []error{errors.New("503"), errors.New("timeout"), nil},
	}
	s := New(testConfig(), pt, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "tok-1", alert.Alert{ID: 2}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return pt.callCount() == 3 })
	if len(s.Snapshot()) != 1 {
		t.Fatal("delivery after retries missing from history")
	}
}

func TestPermanentFailureNotRetried(t *testing.T) {
	pt := &fakePush{
		outcomes: []transport.PushOutcome{transport.PushPermanentFailure},
		errs:     []error{errors.New("DeviceNotRegistered")},
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	var stale atomic.Int32
	go func() {
		for ev := range events {
			if ev.Type == eventbus.TypePushTokenStale {
				stale.Add(1)
			}
		}
	}()

	s := New(testConfig(), pt, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "dead-token", alert.Alert{ID: 3}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return stale.Load() == 1 })

	// Give a retry a chance to happen; there must be exactly one call.
	time.Sleep(50 * time.Millisecond)
	if got := pt.callCount(); got != 1 {
		t.Fatalf("permanent failure retried: %d calls", got)
	}
}

func TestExhaustedRetriesEmitFailed(t *testing.T) {
	pt := &fakePush{
		outcomes: []transport.PushOutcome{transport.PushTransientFailure},
		errs:     []error{errors.New("timeout")},
	}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16)
	defer unsub()
	var failed atomic.Int32
	go func() {
		for ev := range events {
			if ev.Type == eventbus.TypePushFailed {
				failed.Add(1)
			}
		}
	}()

	cfg := testConfig()
	cfg.RetryMax = 1
	s := New(cfg, pt, logx.Nop(), bus, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	if err := s.Notify(context.Background(), "tok-1", alert.Alert{ID: 4}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(t, func() bool { return failed.Load() == 1 })
	if got := pt.callCount(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestDedupSuppressesSecondNotify(t *testing.T) {
	pt := &fakePush{outcomes: []transport.PushOutcome{transport.PushDelivered}}
	cfg := testConfig()
	cfg.DedupWindow = time.Minute
	s := New(cfg, pt, logx.Nop(), nil, nil)
	s.Start(context.Background())
	defer s.Stop(context.Background())

	a := alert.Alert{ID: 5, Title: "dup"}
	if err := s.Notify(context.Background(), "tok-1", a); err != nil {
		t.Fatalf("notify 1: %v", err)
	}
	if err := s.Notify(context.Background(), "tok-1", a); err != nil {
		t.Fatalf("notify 2: %v", err)
	}
	// Same alert to a different token is not suppressed.
	if err := s.Notify(context.Background(), "tok-2", a); err != nil {
		t.Fatalf("notify 3: %v", err)
	}
	waitFor(t, func() bool { return pt.callCount() == 2 })
	time.Sleep(50 * time.Millisecond)
	if got := pt.callCount(); got != 2 {
		t.Fatalf("dedup failed: %d calls", got)
	}
}

func TestNotifyDisabledAndStopped(t *testing.T) {
	pt := &fakePush{outcomes: []transport.PushOutcome{transport.PushDelivered}}
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, pt, logx.Nop(), nil, nil)
	s.Start(context.Background())
	if err := s.Notify(context.Background(), "tok", alert.Alert{ID: 6}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("want ErrDisabled, got %v", err)
	}

	cfg.Enabled = true
	s2 := New(cfg, pt, logx.Nop(), nil, nil)
	if err := s2.Notify(context.Background(), "tok", alert.Alert{ID: 7}); !errors.Is(err, ErrStopped) {
		t.Fatalf("want ErrStopped before Start, got %v", err)
	}
}
