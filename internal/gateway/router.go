// Package gateway routes generation calls to a vendor, either directly or
// through the relay, and gates them on the configuration store's ready flag.
package gateway

import (
	"fmt"

	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/provider"
)

// Mode is how a call reaches its vendor.
type Mode string

const (
	// ModeDirect calls the vendor endpoint from this process.
	ModeDirect Mode = "direct"

	// ModeRelay sends the call to the relay, which calls the vendor.
	ModeRelay Mode = "relay"
)

// Decision is the outcome of Route.
type Decision struct {
	Mode Mode
}

// Route picks the transport for cfg.
//
//   - ollama is reachable only from a host with direct access.
//   - custom endpoints are called directly; they are expected to accept us.
//   - credentialed vendors go through the relay, unless the host has direct
//     access and the caller prefers it.
func Route(cfg provider.Config, host probe.HostContext, preferDirect bool) (Decision, error) {
	switch cfg.Provider {
	case provider.Ollama:
		if !host.DirectAccess {
			return Decision{}, fmt.Errorf("%w: Ollama only works on localhost", provider.ErrNotReady)
		}
		return Decision{Mode: ModeDirect}, nil

	case provider.Custom:
		return Decision{Mode: ModeDirect}, nil

	case provider.OpenAI, provider.Anthropic, provider.Google:
		if host.DirectAccess && preferDirect {
			return Decision{Mode: ModeDirect}, nil
		}
		return Decision{Mode: ModeRelay}, nil
	}

	return Decision{}, fmt.Errorf("%w: unknown provider %q", provider.ErrConfigInvalid, cfg.Provider)
}
