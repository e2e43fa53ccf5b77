package sampler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/flarelabs/flare/internal/errorutil"
	"github.com/flarelabs/flare/internal/frame"
	"github.com/flarelabs/flare/internal/threaddump"
	"github.com/flarelabs/flare/internal/threadgroup"
)

// stubProvider serves a fixed snapshot, optionally failing every other tick.
type stubProvider struct {
	threads   []threaddump.Thread
	err       error
	failEvery int
	calls     int64
}

func (p *stubProvider) DumpThreads() ([]threaddump.Thread, error) {
	n := atomic.AddInt64(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	if p.failEvery > 0 && n%int64(p.failEvery) == 0 {
		return nil, errors.New("transient dump failure")
	}
	return p.threads, nil
}

func serverThread(name string) threaddump.Thread {
	return threaddump.Thread{
		ID:   1,
		Name: name,
		Stack: []frame.Frame{
			{Package: "main", Function: "main.work"},
			{Package: "main", Function: "main.main"},
		},
	}
}

func testConfig(t *testing.T, p threaddump.Provider, opts ...func(*Builder)) Config {
	t.Helper()
	b := NewBuilder().
		Provider(p).
		Dumper(threaddump.All).
		Grouper(threadgroup.ByName).
		SamplingInterval(time.Millisecond)
	for _, o := range opts {
		o(b)
	}
	cfg, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func awaitDone(t *testing.T, s *Sampler, within time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(within):
		t.Fatalf("session did not complete within %v", within)
	}
}

func TestSamplerRecordsApproximateCounts(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("Server thread")}}
	s := newSampler(testConfig(t, provider))

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	root := s.Trees()["Server thread"]
	if root == nil {
		t.Fatal("no tree for the sampled thread group")
	}
	// 200ms at 1ms intervals; schedulers are noisy, so only assert a loose
	// lower bound and that we did not wildly over-record.
	if root.Count < 50 || root.Count > 400 {
		t.Fatalf("root count = %d, expected roughly 200", root.Count)
	}
}

func TestStopResolvesCompletionOnce(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	s.Stop()
	s.Stop() // second stop is a no-op
	awaitDone(t, s, time.Second)

	if err := s.Err(); err != nil {
		t.Fatalf("clean stop should resolve without error, got %v", err)
	}
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
}

func TestStopFreezesTree(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	before := s.SampleCount()
	time.Sleep(20 * time.Millisecond)
	if got := s.SampleCount(); got != before {
		t.Fatalf("samples recorded after stop: %d -> %d", before, got)
	}
}

func TestStartOnlyOnce(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()
	if err := s.Start(); err == nil {
		t.Fatal("second start should fail")
	}
}

func TestAutoEndSelfStops(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	cfg := testConfig(t, provider, func(b *Builder) {
		b.CompleteAfter(50 * time.Millisecond)
	})
	s := newSampler(cfg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	awaitDone(t, s, time.Second)
	if s.State() != StateStopped {
		t.Fatalf("state = %v, want stopped", s.State())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("auto-end should resolve like a manual stop, got %v", err)
	}
}

func TestCancelDiscardsFurtherSamples(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	s.Cancel()

	awaitDone(t, s, time.Second)
	if !errors.Is(s.Err(), errorutil.ErrCancelled) {
		t.Fatalf("cancel should resolve with ErrCancelled, got %v", s.Err())
	}
	before := s.SampleCount()
	time.Sleep(20 * time.Millisecond)
	if got := s.SampleCount(); got != before {
		t.Fatalf("samples recorded after cancel: %d -> %d", before, got)
	}
}

func TestTransientDumpFailuresSkipTicks(t *testing.T) {
	provider := &stubProvider{
		threads:   []threaddump.Thread{serverThread("t")},
		failEvery: 2,
	}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	if s.State() != StateStopped {
		t.Fatalf("transient failures must not end the session, state = %v", s.State())
	}
	if s.SampleCount() == 0 {
		t.Fatal("successful ticks should still have recorded")
	}
}

func TestDurationSafeUnderConcurrentStop(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			_ = s.Duration()
			_ = s.StartTime()
		}
	}()
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	<-done

	if s.Duration() != s.Duration() {
		t.Fatal("duration should be fixed once the session has stopped")
	}
}

func TestFailedTicksCarryWeightForward(t *testing.T) {
	// Every other dump fails; the span up to a failed tick must count toward
	// the next tick that records, so the total recorded weight still covers
	// the whole session.
	provider := &stubProvider{
		threads:   []threaddump.Thread{serverThread("t")},
		failEvery: 2,
	}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop()

	root := s.Trees()["t"]
	if root == nil {
		t.Fatal("no tree for the sampled thread group")
	}
	elapsed := uint64(s.Duration().Nanoseconds())
	if root.TimeNS < elapsed*7/10 {
		t.Fatalf("recorded weight %d covers too little of the %dns session", root.TimeNS, elapsed)
	}
}

func TestPermanentDumpFailureStillStopsCleanly(t *testing.T) {
	provider := &stubProvider{err: errors.New("enumeration broken")}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if s.SampleCount() != 0 {
		t.Fatal("failed ticks must not record")
	}
	if err := s.Err(); err != nil {
		t.Fatalf("dump failures are transient, not session failures: %v", err)
	}
}

func TestMinimumTickDuration(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	cfg := testConfig(t, provider, func(b *Builder) {
		b.MinimumTickDuration(20 * time.Millisecond)
	})
	s := newSampler(cfg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	// At 1ms intervals with a 20ms floor, only ~5 ticks may record.
	if got := s.SampleCount(); got == 0 || got > 15 {
		t.Fatalf("sample count = %d, expected roughly 5", got)
	}
}

func TestIgnoreFilters(t *testing.T) {
	sleeping := serverThread("sleeper")
	sleeping.State = "IO wait"
	native := threaddump.Thread{
		ID:    2,
		Name:  "gc",
		Stack: []frame.Frame{{Package: "runtime", Function: "runtime.gcBgMarkWorker"}},
	}
	active := serverThread("worker")

	provider := &stubProvider{threads: []threaddump.Thread{sleeping, native, active}}
	cfg := testConfig(t, provider, func(b *Builder) {
		b.IgnoreSleeping(true)
		b.IgnoreNative(true)
	})
	s := newSampler(cfg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	trees := s.Trees()
	if _, ok := trees["sleeper"]; ok {
		t.Fatal("sleeping thread should have been filtered")
	}
	if _, ok := trees["gc"]; ok {
		t.Fatal("native thread should have been filtered")
	}
	if _, ok := trees["worker"]; !ok {
		t.Fatal("active thread should have been sampled")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	provider := &stubProvider{threads: []threaddump.Thread{serverThread("t")}}
	s := newSampler(testConfig(t, provider))
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait should return the context error, got %v", err)
	}
}

func TestBuilderValidation(t *testing.T) {
	cfg, err := NewBuilder().Build()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Interval != DefaultInterval {
		t.Fatalf("default interval = %v, want %v", cfg.Interval, DefaultInterval)
	}
	if cfg.Dumper == nil || cfg.Grouper == nil {
		t.Fatal("builder should default the strategies")
	}

	if _, err := NewBuilder().SamplingInterval(-time.Millisecond).Build(); err == nil {
		t.Fatal("negative interval should fail validation")
	}
}

func TestBackendSelection(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"default", Config{}, BackendNative},
		{"forced fallback", Config{ForceFallbackBackend: true}, BackendFallback},
		{"ignore sleeping needs states", Config{IgnoreSleeping: true}, BackendFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, backend := selectProvider(tt.cfg)
			if backend != tt.want {
				t.Fatalf("backend = %q, want %q", backend, tt.want)
			}
		})
	}
}
