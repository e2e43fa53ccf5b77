package sampler

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/flarelabs/flare/internal/errorutil"
	"github.com/flarelabs/flare/internal/logutil"
)

// ProfilerService enforces at most one active session. It is an injected
// instance, one per host, not a global. The active slot has set-if-absent /
// compare-and-clear semantics; no lock is held while sampling runs.
type ProfilerService struct {
	mu     sync.Mutex
	active *Sampler
	log    zerolog.Logger
}

func NewProfilerService() *ProfilerService {
	return &ProfilerService{log: logutil.Component("profiler-service")}
}

// Create registers a new session as active without starting it. If a session
// is already active it returns nil and invokes onError exactly once with
// errorutil.ErrProfilerRunning.
func (p *ProfilerService) Create(cfg Config, onError func(error)) *Sampler {
	p.mu.Lock()
	if p.active != nil {
		p.mu.Unlock()
		if onError != nil {
			onError(errorutil.ErrProfilerRunning)
		}
		return nil
	}
	s := newSampler(cfg)
	p.active = s
	p.mu.Unlock()

	// A failed session must not leave a stale active reference behind.
	go p.reap(s)
	return s
}

// Active returns the registered session, if any. Non-mutating.
func (p *ProfilerService) Active() *Sampler {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Clear removes the active reference without stopping the session. Used
// after report hand-off, once the session has already stopped on its own.
func (p *ProfilerService) Clear() {
	p.mu.Lock()
	p.active = nil
	p.mu.Unlock()
}

// ClearAndStop stops the active session if it is still running, then clears
// it. A session that was created but never started is cancelled so its
// completion signal still resolves. Used on shutdown of the owning service.
func (p *ProfilerService) ClearAndStop() {
	s := p.take()
	if s == nil {
		return
	}
	switch s.State() {
	case StateRunning:
		s.Stop()
	case StateCreated:
		s.Cancel()
	}
}

// CancelActive cancels and clears the active session, discarding its data.
func (p *ProfilerService) CancelActive() {
	s := p.take()
	if s == nil {
		return
	}
	s.Cancel()
}

func (p *ProfilerService) take() *Sampler {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.active
	p.active = nil
	return s
}

func (p *ProfilerService) reap(s *Sampler) {
	<-s.Done()
	if s.State() != StateFailed {
		return
	}
	p.mu.Lock()
	if p.active == s {
		p.active = nil
	}
	p.mu.Unlock()
	p.log.Warn().Err(s.Err()).Msg("cleared failed profiler session")
}
