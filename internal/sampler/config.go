package sampler

import (
	"errors"
	"time"

	"github.com/flarelabs/flare/internal/threaddump"
	"github.com/flarelabs/flare/internal/threadgroup"
)

// DefaultInterval is the sampling interval used when none is configured.
const DefaultInterval = 4 * time.Millisecond

type (
	// Config describes one profiler session. Built once, never mutated.
	Config struct {
		Dumper  threaddump.Dumper
		Grouper threadgroup.Grouper
		// Provider overrides the capture mechanism, e.g. a host-supplied
		// dump provider with real thread names. When nil the session picks
		// the record-based provider, or the text fallback if
		// ForceFallbackBackend is set.
		Provider threaddump.Provider

		Interval time.Duration
		// AutoEnd is the absolute time the session self-stops at; zero
		// means it runs until stopped.
		AutoEnd time.Time

		IgnoreSleeping       bool
		IgnoreNative         bool
		ForceFallbackBackend bool

		// MinimumTickDuration suppresses recording until at least this much
		// time has accumulated since the last recorded tick.
		MinimumTickDuration time.Duration
	}

	// Builder assembles a Config with validation and defaults.
	Builder struct {
		cfg Config
	}
)

func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) Dumper(d threaddump.Dumper) *Builder {
	b.cfg.Dumper = d
	return b
}

func (b *Builder) Grouper(g threadgroup.Grouper) *Builder {
	b.cfg.Grouper = g
	return b
}

func (b *Builder) Provider(p threaddump.Provider) *Builder {
	b.cfg.Provider = p
	return b
}

func (b *Builder) SamplingInterval(d time.Duration) *Builder {
	b.cfg.Interval = d
	return b
}

// CompleteAfter makes the session self-stop once it has been running for d.
func (b *Builder) CompleteAfter(d time.Duration) *Builder {
	b.cfg.AutoEnd = time.Now().Add(d)
	return b
}

func (b *Builder) IgnoreSleeping(v bool) *Builder {
	b.cfg.IgnoreSleeping = v
	return b
}

func (b *Builder) IgnoreNative(v bool) *Builder {
	b.cfg.IgnoreNative = v
	return b
}

func (b *Builder) ForceFallbackBackend(v bool) *Builder {
	b.cfg.ForceFallbackBackend = v
	return b
}

func (b *Builder) MinimumTickDuration(d time.Duration) *Builder {
	b.cfg.MinimumTickDuration = d
	return b
}

func (b *Builder) Build() (Config, error) {
	cfg := b.cfg
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Interval < 0 {
		return Config{}, errors.New("sampling interval must be positive")
	}
	if cfg.MinimumTickDuration < 0 {
		return Config{}, errors.New("minimum tick duration must not be negative")
	}
	if cfg.Dumper == nil {
		cfg.Dumper = threaddump.All
	}
	if cfg.Grouper == nil {
		cfg.Grouper = threadgroup.ByPool
	}
	return cfg, nil
}
