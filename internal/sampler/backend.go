package sampler

import "github.com/flarelabs/flare/internal/threaddump"

// Backend names, surfaced only as report metadata.
const (
	BackendNative   = "native"
	BackendFallback = "fallback"
)

// selectProvider picks the capture mechanism for a session. A host-supplied
// provider keeps the backend name of the mechanism it replaces; the core
// treats it as a black box with the same contract.
func selectProvider(cfg Config) (threaddump.Provider, string) {
	if cfg.Provider != nil {
		if cfg.ForceFallbackBackend {
			return cfg.Provider, BackendFallback
		}
		return cfg.Provider, BackendNative
	}
	// The ignore-sleeping filter needs run states, which only the text dump
	// carries, so it forces the fallback as well.
	if cfg.ForceFallbackBackend || cfg.IgnoreSleeping {
		return threaddump.NewTextProvider(), BackendFallback
	}
	return threaddump.NewRecordProvider(), BackendNative
}
