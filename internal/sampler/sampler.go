// Package sampler owns profiler sessions: the periodic capture loop, the
// session state machine and the service enforcing one active session.
package sampler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/flarelabs/flare/internal/calltree"
	"github.com/flarelabs/flare/internal/errorutil"
	"github.com/flarelabs/flare/internal/logutil"
	"github.com/flarelabs/flare/internal/threaddump"
)

// State is the lifecycle phase of a session.
// Created -> Running -> {Stopped | Cancelled | Failed}.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Sampler is one profiling session. It is created by ProfilerService.Create,
// started exactly once, and ends by Stop, auto-end timeout, Cancel, or a
// loop failure. The completion signal (Done + Err) resolves exactly once.
type Sampler struct {
	cfg      Config
	provider providerFunc
	backend  string
	agg      *calltree.Aggregator
	log      zerolog.Logger

	state int32

	// timeMu guards the timestamps: control calls write them while info
	// queries read concurrently.
	timeMu    sync.Mutex
	startTime time.Time
	stopTime  time.Time

	stopOnce sync.Once
	stopCh   chan struct{}

	resolveOnce sync.Once
	done        chan struct{}
	err         error
}

type providerFunc func() ([]threaddump.Thread, error)

func newSampler(cfg Config) *Sampler {
	provider, backend := selectProvider(cfg)
	return &Sampler{
		cfg:      cfg,
		provider: provider.DumpThreads,
		backend:  backend,
		agg:      calltree.NewAggregator(),
		log:      logutil.Component("sampler"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the capture loop. Valid only once, from the created state.
func (s *Sampler) Start() error {
	if !s.transition(StateCreated, StateRunning) {
		return fmt.Errorf("cannot start sampler in state %q", s.State())
	}
	s.timeMu.Lock()
	s.startTime = time.Now()
	s.timeMu.Unlock()
	go s.run()
	s.log.Info().
		Str("backend", s.backend).
		Dur("interval", s.cfg.Interval).
		Msg("profiler session started")
	return nil
}

// Stop ends a running session, freezes the call trees and resolves the
// completion signal with success. A no-op in any other state.
func (s *Sampler) Stop() {
	if !s.transition(StateRunning, StateStopped) {
		return
	}
	s.markStopped()
	s.halt()
	s.agg.Freeze()
	s.resolve(nil)
	s.log.Info().
		Uint64("samples", s.agg.SampleCount()).
		Msg("profiler session stopped")
}

// Cancel ends the session and discards its data. Callers must treat a
// cancelled session as one that will never produce a report.
func (s *Sampler) Cancel() {
	if !s.transition(StateRunning, StateCancelled) && !s.transition(StateCreated, StateCancelled) {
		return
	}
	s.markStopped()
	s.halt()
	s.agg.Freeze()
	s.resolve(errorutil.ErrCancelled)
	s.log.Info().Msg("profiler session cancelled")
}

func (s *Sampler) fail(err error) {
	if !s.transition(StateRunning, StateFailed) {
		return
	}
	s.markStopped()
	s.halt()
	s.agg.Freeze()
	s.resolve(err)
	s.log.Error().Err(err).Msg("profiler session failed")
}

func (s *Sampler) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Done resolves exactly once, when the session reaches a terminal state.
// Any number of observers may wait on it.
func (s *Sampler) Done() <-chan struct{} {
	return s.done
}

// Err is meaningful once Done has resolved: nil after a clean stop,
// errorutil.ErrCancelled after cancellation, the loop error after a failure.
func (s *Sampler) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the session completes or ctx is done.
func (s *Sampler) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sampler) Config() Config         { return s.cfg }
func (s *Sampler) Backend() string        { return s.backend }
func (s *Sampler) AutoEndTime() time.Time { return s.cfg.AutoEnd }
func (s *Sampler) SampleCount() uint64    { return s.agg.SampleCount() }

func (s *Sampler) StartTime() time.Time {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	return s.startTime
}

// Trees exposes the aggregated call trees. Only safe to traverse freely
// once the session has stopped.
func (s *Sampler) Trees() map[string]*calltree.Node {
	return s.agg.Trees()
}

// Duration is the time the session has been, or was, running.
func (s *Sampler) Duration() time.Duration {
	s.timeMu.Lock()
	defer s.timeMu.Unlock()
	if s.startTime.IsZero() {
		return 0
	}
	if s.stopTime.IsZero() {
		return time.Since(s.startTime)
	}
	return s.stopTime.Sub(s.startTime)
}

func (s *Sampler) markStopped() {
	s.timeMu.Lock()
	s.stopTime = time.Now()
	s.timeMu.Unlock()
}

func (s *Sampler) run() {
	defer func() {
		if r := recover(); r != nil {
			s.fail(fmt.Errorf("sampler loop panic: %v", r))
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// lastRecorded is the boundary the tick weight is measured from. With a
	// minimum tick duration configured, skipped ticks leave it in place so
	// time accumulates until the threshold is met.
	lastRecorded := time.Now()

	for {
		select {
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			if !s.cfg.AutoEnd.IsZero() && now.After(s.cfg.AutoEnd) {
				s.Stop()
				return
			}
			elapsed := now.Sub(lastRecorded)
			if s.cfg.MinimumTickDuration > 0 && elapsed < s.cfg.MinimumTickDuration {
				continue
			}
			// A failed dump leaves the boundary in place too, so the span
			// carries into the next tick that does record.
			if s.tick(elapsed) {
				lastRecorded = now
			}
		}
	}
}

// tick captures one sample of the selected threads. A dump failure skips
// the tick; the loop retries on the next one. Reports whether the snapshot
// was captured.
func (s *Sampler) tick(weight time.Duration) bool {
	snapshot, err := s.provider()
	if err != nil {
		s.log.Debug().Err(err).Msg("thread dump failed, skipping tick")
		return false
	}
	for _, t := range s.cfg.Dumper.ThreadsToSample(snapshot) {
		if s.cfg.IgnoreSleeping && t.Sleeping() {
			continue
		}
		if s.cfg.IgnoreNative && t.Native() {
			continue
		}
		s.agg.Record(s.cfg.Grouper.Group(t.Name), t.Stack, weight)
	}
	return true
}

func (s *Sampler) halt() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Sampler) resolve(err error) {
	s.resolveOnce.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *Sampler) transition(from, to State) bool {
	return atomic.CompareAndSwapInt32(&s.state, int32(from), int32(to))
}
