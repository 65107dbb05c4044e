package gateway

import (
	"context"
	"fmt"

	"github.com/howard-nolan/codeshui/internal/provider"
	"github.com/howard-nolan/codeshui/internal/store"
	"github.com/howard-nolan/codeshui/internal/stream"
)

// ConfigSource supplies the active configuration and its probe status.
// *store.Store satisfies it.
type ConfigSource interface {
	Snapshot() (provider.Config, store.Status)
}

// Session is what the rest of the application calls: it takes one config
// snapshot per call and refuses to call out while that config isn't ready.
type Session struct {
	Store   ConfigSource
	Gateway *Gateway
}

// Generate runs a buffered call with the active configuration.
func (s *Session) Generate(ctx context.Context, prompt, systemPrompt string) (*provider.Result, error) {
	req, err := s.request(prompt, systemPrompt)
	if err != nil {
		return nil, err
	}
	return s.Gateway.Generate(ctx, req)
}

// Stream starts a streaming call with the active configuration.
func (s *Session) Stream(ctx context.Context, prompt, systemPrompt string) (*stream.Stream, error) {
	req, err := s.request(prompt, systemPrompt)
	if err != nil {
		return nil, err
	}
	return s.Gateway.Stream(ctx, req)
}

func (s *Session) request(prompt, systemPrompt string) (*provider.Request, error) {
	cfg, status := s.Store.Snapshot()

	if !status.Ready {
		reason := status.Reason
		if !status.Checked {
			reason = "connection check still running"
		}
		return nil, fmt.Errorf("%w: %s", provider.ErrNotReady, reason)
	}

	return &provider.Request{
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
		Config:       cfg,
	}, nil
}
