// Package store owns the active gateway configuration: it loads it from a
// durable Backend, repairs it against the provider registry, persists every
// edit, and re-probes after each change so collaborators can gate on a
// single ready flag.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/provider"
)

// DefaultKey is the well-known key the configuration blob lives under.
const DefaultKey = "codeshui-llm-config"

const defaultProbeTimeout = 15 * time.Second

// Prober is the part of probe.Prober the store needs.
type Prober interface {
	Probe(ctx context.Context, cfg provider.Config, host probe.HostContext) probe.Result
}

// Status is the outcome of the most recent probe of the active config.
type Status struct {
	Ready    bool   `json:"ready"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`

	// Checked is false while a probe for the active config is in flight.
	Checked bool `json:"checked"`
}

// Patch is a partial configuration edit. Nil fields are left alone.
type Patch struct {
	Provider    *provider.Key
	Endpoint    *string
	Credential  *string
	Model       *string
	Temperature *float64
	MaxTokens   *int
}

// SwitchProvider is the patch for selecting a different vendor: endpoint and
// model move to the new vendor's defaults along with it.
func SwitchProvider(key provider.Key) Patch {
	p := Patch{Provider: &key}
	if d, ok := provider.Lookup(key); ok {
		endpoint, model := d.DefaultEndpoint, d.Models[0]
		p.Endpoint, p.Model = &endpoint, &model
	}
	return p
}

// apply merges p over cfg. Changing the provider without naming an endpoint
// or model resets those to the new provider's defaults, since values left
// over from the old vendor are meaningless for the new one.
func (p Patch) apply(cfg provider.Config) provider.Config {
	if p.Provider != nil && *p.Provider != cfg.Provider {
		cfg.Provider = *p.Provider
		if d, ok := provider.Lookup(cfg.Provider); ok {
			if p.Endpoint == nil {
				cfg.Endpoint = d.DefaultEndpoint
			}
			if p.Model == nil {
				cfg.Model = d.Models[0]
			}
		}
	}
	if p.Endpoint != nil {
		cfg.Endpoint = *p.Endpoint
	}
	if p.Credential != nil {
		cfg.Credential = *p.Credential
	}
	if p.Model != nil {
		cfg.Model = *p.Model
	}
	if p.Temperature != nil {
		cfg.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		cfg.MaxTokens = *p.MaxTokens
	}
	return cfg
}

// Option configures a Store.
type Option func(*Store)

// WithKey stores the blob under key instead of DefaultKey.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithProbeTimeout bounds each background probe.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *Store) { s.probeTimeout = d }
}

// Store is safe for concurrent use. Writes are last-writer-wins.
type Store struct {
	backend      Backend
	prober       Prober
	host         probe.HostContext
	log          *slog.Logger
	key          string
	probeTimeout time.Duration

	// writeMu serializes Load and Save end to end, so the active config
	// and the persisted one always come from the same write.
	writeMu sync.Mutex

	mu     sync.RWMutex
	cfg    provider.Config
	status Status

	// gen counts config replacements. A probe result is only recorded if
	// no newer config replaced the one it checked.
	gen uint64

	probes sync.WaitGroup
}

// New creates a Store. It starts out holding DefaultConfig; call Load to
// read the persisted configuration.
func New(backend Backend, prober Prober, host probe.HostContext, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend:      backend,
		prober:       prober,
		host:         host,
		log:          logger,
		key:          DefaultKey,
		probeTimeout: defaultProbeTimeout,
		cfg:          provider.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the persisted configuration, makes it active, and starts a
// probe of it. It never fails: a missing, unreadable or corrupt blob
// degrades to DefaultConfig, and repairs are logged rather than returned.
func (s *Store) Load(ctx context.Context) provider.Config {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cfg := s.Read(ctx)
	s.replace(cfg)
	return cfg
}

// Read returns the persisted configuration, repaired like Load does, without
// making it active or probing it.
func (s *Store) Read(ctx context.Context) provider.Config {
	data, err := s.backend.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.log.Warn("reading stored config, using default", "key", s.key, "error", err)
		}
		return provider.DefaultConfig()
	}

	// Older blobs may predate the sampling fields; absent keys keep these.
	cfg := provider.Config{
		Temperature: provider.DefaultTemperature,
		MaxTokens:   provider.DefaultMaxTokens,
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		s.log.Warn("stored config is corrupt, using default",
			"key", s.key, "error", fmt.Errorf("%w: %w", provider.ErrConfigInvalid, err))
		return provider.DefaultConfig()
	}

	repaired, notes := cfg.Normalize()
	for _, note := range notes {
		s.log.Warn("repaired stored config", "key", s.key, "error", provider.ErrConfigInvalid, "note", note)
	}
	return repaired
}

// Save merges p over the active configuration, repairs the result, makes it
// active and persists it. The merged config is returned even when
// persisting fails; the error reports that it won't survive a restart.
// A probe of the new config starts in the background; Save doesn't wait.
// Concurrent saves apply one after the other.
func (s *Store) Save(ctx context.Context, p Patch) (provider.Config, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	merged := p.apply(s.cfg)
	s.mu.RUnlock()

	cfg, notes := merged.Normalize()
	for _, note := range notes {
		s.log.Debug("adjusted config edit", "note", note)
	}

	s.replace(cfg)

	data, err := json.Marshal(cfg)
	if err == nil {
		err = s.backend.Set(ctx, s.key, data)
	}
	if err != nil {
		s.log.Error("persisting config", "key", s.key, "error", err)
		return cfg, fmt.Errorf("persisting config: %w", err)
	}

	s.log.Info("config saved", "provider", cfg.Provider, "model", cfg.Model)
	return cfg, nil
}

// Current returns the active configuration. Callers take one snapshot per
// call and use it throughout.
func (s *Store) Current() provider.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Status returns the outcome of the latest probe of the active config.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns the active configuration together with its status, read
// under one lock so the two always belong together.
func (s *Store) Snapshot() (provider.Config, Status) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg, s.status
}

// Wait blocks until every background probe started so far has finished.
func (s *Store) Wait() {
	s.probes.Wait()
}

// replace installs cfg, clears the ready flag and probes cfg in the
// background.
func (s *Store) replace(cfg provider.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.gen++
	gen := s.gen
	s.status = Status{}
	s.mu.Unlock()

	s.probes.Add(1)
	go func() {
		defer s.probes.Done()
		s.runProbe(gen, cfg)
	}()
}

func (s *Store) runProbe(gen uint64, cfg provider.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), s.probeTimeout)
	defer cancel()

	res := s.prober.Probe(ctx, cfg, s.host)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		s.log.Debug("discarding stale probe result", "provider", cfg.Provider)
		return
	}
	s.status = Status{
		Ready:    res.Ready,
		Verified: res.Verified,
		Reason:   res.Reason(),
		Checked:  true,
	}
	s.mu.Unlock()

	if res.Ready {
		s.log.Info("config ready", "provider", cfg.Provider, "model", cfg.Model, "verified", res.Verified)
	} else {
		s.log.Warn("config not ready", "provider", cfg.Provider, "model", cfg.Model, "reason", res.Reason())
	}
}
