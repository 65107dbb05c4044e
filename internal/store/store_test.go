package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/provider"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// proberFunc adapts a function to the Prober interface.
type proberFunc func(ctx context.Context, cfg provider.Config, host probe.HostContext) probe.Result

func (f proberFunc) Probe(ctx context.Context, cfg provider.Config, host probe.HostContext) probe.Result {
	return f(ctx, cfg, host)
}

var alwaysReady = proberFunc(func(context.Context, provider.Config, probe.HostContext) probe.Result {
	return probe.Result{Ready: true}
})

// memBackend is an in-memory Backend with an injectable write failure.
type memBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	failSet error
}

func newMemBackend() *memBackend { return &memBackend{data: map[string][]byte{}} }

func (m *memBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (m *memBackend) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		return m.failSet
	}
	m.data[key] = value
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestLoadFallsBackToDefault(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{name: "nothing stored"},
		{name: "not json", blob: []byte("{{{")},
		{name: "wrong shape", blob: []byte(`["openai"]`)},
		{name: "unknown provider", blob: []byte(`{"provider":"skynet","model":"t-800"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMemBackend()
			if tt.blob != nil {
				b.data[DefaultKey] = tt.blob
			}
			s := New(b, alwaysReady, probe.HostContext{}, quiet)

			cfg := s.Load(context.Background())
			s.Wait()

			assert.Equal(t, provider.DefaultConfig(), cfg)
			assert.Equal(t, cfg, s.Current())
		})
	}
}

func TestLoadRepairsStoredConfig(t *testing.T) {
	b := newMemBackend()
	b.data[DefaultKey] = []byte(`{"provider":"openai","apiKey":"sk-abc","model":"gpt-17"}`)
	s := New(b, alwaysReady, probe.HostContext{}, quiet)

	cfg := s.Load(context.Background())
	s.Wait()

	assert.Equal(t, provider.Config{
		Provider:    provider.OpenAI,
		Endpoint:    "https://api.openai.com/v1",
		Credential:  "sk-abc",
		Model:       "gpt-4",
		Temperature: provider.DefaultTemperature,
		MaxTokens:   provider.DefaultMaxTokens,
	}, cfg)
}

func TestSaveSurvivesRestart(t *testing.T) {
	backends := map[string]func(t *testing.T) Backend{
		"file": func(t *testing.T) Backend {
			return NewFileBackend(filepath.Join(t.TempDir(), "state"))
		},
		"redis": func(t *testing.T) Backend {
			mr := miniredis.RunT(t)
			b := NewRedisBackend(mr.Addr(), "", 0)
			t.Cleanup(func() { _ = b.Close() })
			require.NoError(t, b.Ping(context.Background()))
			return b
		},
	}

	for name, newBackend := range backends {
		t.Run(name, func(t *testing.T) {
			b := newBackend(t)

			first := New(b, alwaysReady, probe.HostContext{}, quiet)
			first.Load(context.Background())
			saved, err := first.Save(context.Background(), Patch{Provider: ptr(provider.Anthropic)})
			require.NoError(t, err)
			first.Wait()
			assert.Equal(t, provider.Anthropic, saved.Provider)

			// A fresh store over the same backend simulates a restart.
			second := New(b, alwaysReady, probe.HostContext{}, quiet)
			loaded := second.Load(context.Background())
			second.Wait()

			assert.Equal(t, provider.Anthropic, loaded.Provider)
			assert.Equal(t, saved, loaded)
		})
	}
}

func TestSaveProviderChangeResetsEndpointAndModel(t *testing.T) {
	s := New(newMemBackend(), alwaysReady, probe.HostContext{}, quiet)
	s.Load(context.Background())

	cfg, err := s.Save(context.Background(), Patch{Provider: ptr(provider.Google), Credential: ptr("k")})
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com", cfg.Endpoint)
	assert.Equal(t, "gemini-pro", cfg.Model)

	// Explicit values in the same patch win over the reset.
	cfg, err = s.Save(context.Background(), Patch{Provider: ptr(provider.OpenAI), Model: ptr("gpt-3.5-turbo")})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", cfg.Endpoint)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Model)
	assert.Equal(t, "k", cfg.Credential)

	// Same provider: nothing is reset.
	cfg, err = s.Save(context.Background(), Patch{Provider: ptr(provider.OpenAI), Temperature: ptr(0.7)})
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo", cfg.Model)
	assert.Equal(t, 0.7, cfg.Temperature)
	s.Wait()
}

func TestSwitchProvider(t *testing.T) {
	p := SwitchProvider(provider.Anthropic)
	require.NotNil(t, p.Endpoint)
	require.NotNil(t, p.Model)
	assert.Equal(t, "https://api.anthropic.com", *p.Endpoint)
	assert.Equal(t, "claude-3-opus", *p.Model)

	custom := SwitchProvider(provider.Custom)
	assert.Equal(t, "", *custom.Endpoint)
	assert.Equal(t, "custom", *custom.Model)
}

func TestSaveUpdatesReadyFlag(t *testing.T) {
	prober := proberFunc(func(_ context.Context, cfg provider.Config, _ probe.HostContext) probe.Result {
		if cfg.Credential == "" {
			return probe.Result{Err: errors.New("API key required")}
		}
		return probe.Result{Ready: true, Verified: true}
	})
	s := New(newMemBackend(), prober, probe.HostContext{}, quiet)
	s.Load(context.Background())
	s.Wait()

	_, err := s.Save(context.Background(), Patch{Provider: ptr(provider.OpenAI)})
	require.NoError(t, err)
	s.Wait()
	assert.Equal(t, Status{Checked: true, Reason: "API key required"}, s.Status())

	_, err = s.Save(context.Background(), Patch{Credential: ptr("sk-whatever")})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.Status().Ready }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Status().Verified)
}

func TestStaleProbeResultIsDiscarded(t *testing.T) {
	release := make(chan struct{})
	prober := proberFunc(func(_ context.Context, cfg provider.Config, _ probe.HostContext) probe.Result {
		if cfg.Provider == provider.Anthropic {
			<-release
			return probe.Result{Ready: true}
		}
		return probe.Result{Err: errors.New("nope")}
	})
	s := New(newMemBackend(), prober, probe.HostContext{}, quiet)

	_, err := s.Save(context.Background(), Patch{Provider: ptr(provider.Anthropic)})
	require.NoError(t, err)
	_, err = s.Save(context.Background(), Patch{Provider: ptr(provider.OpenAI)})
	require.NoError(t, err)

	// The slow anthropic probe finishes last, after openai replaced it.
	close(release)
	s.Wait()

	st := s.Status()
	assert.True(t, st.Checked)
	assert.False(t, st.Ready)
	assert.Equal(t, "nope", st.Reason)
}

func TestSavePersistFailureStillReplaces(t *testing.T) {
	b := newMemBackend()
	b.failSet = errors.New("disk full")
	s := New(b, alwaysReady, probe.HostContext{}, quiet)

	cfg, err := s.Save(context.Background(), Patch{Provider: ptr(provider.Google)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, provider.Google, cfg.Provider)
	assert.Equal(t, cfg, s.Current())
	s.Wait()
}

func TestWithKey(t *testing.T) {
	b := newMemBackend()
	s := New(b, alwaysReady, probe.HostContext{}, quiet, WithKey("team-a"))

	_, err := s.Save(context.Background(), Patch{Provider: ptr(provider.OpenAI)})
	require.NoError(t, err)
	s.Wait()

	assert.Contains(t, b.data, "team-a")
	assert.NotContains(t, b.data, DefaultKey)
}

func TestFileBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	b := NewFileBackend(dir)
	ctx := context.Background()

	_, err := b.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Set(ctx, "k", []byte(`{"a":1}`)))
	require.NoError(t, b.Set(ctx, "k", []byte(`{"a":2}`)))

	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(got))

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k.json", entries[0].Name())
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	b := NewRedisBackend(mr.Addr(), "", 0)
	defer b.Close()
	ctx := context.Background()

	_, err := b.Get(ctx, DefaultKey)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, b.Set(ctx, DefaultKey, []byte(`{"provider":"google"}`)))
	stored, err := mr.Get(DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, `{"provider":"google"}`, stored)

	mr.Close()
	_, err = b.Get(ctx, DefaultKey)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

// gatedBackend holds the first Set until release is closed.
type gatedBackend struct {
	*memBackend
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBackend) Set(ctx context.Context, key string, value []byte) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.memBackend.Set(ctx, key, value)
}

func TestOverlappingSavesKeepMemoryAndStorageInStep(t *testing.T) {
	ctx := context.Background()
	b := &gatedBackend{memBackend: newMemBackend(), entered: make(chan struct{}), release: make(chan struct{})}
	s := New(b, alwaysReady, probe.HostContext{}, quiet)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, err := s.Save(ctx, SwitchProvider(provider.OpenAI))
		assert.NoError(t, err)
	}()
	<-b.entered

	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, err := s.Save(ctx, SwitchProvider(provider.Anthropic))
		assert.NoError(t, err)
	}()

	// The second save waits until the first one is persisted.
	assert.Never(t, func() bool {
		select {
		case <-secondDone:
			return true
		default:
			return false
		}
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, provider.OpenAI, s.Current().Provider)

	close(b.release)
	<-firstDone
	<-secondDone
	s.Wait()

	restarted := New(b, alwaysReady, probe.HostContext{}, quiet)
	persisted := restarted.Load(ctx)
	restarted.Wait()

	assert.Equal(t, provider.Anthropic, s.Current().Provider)
	assert.Equal(t, s.Current(), persisted)
}

func TestReadDoesNotActivateOrProbe(t *testing.T) {
	ctx := context.Background()
	b := newMemBackend()
	writer := New(b, alwaysReady, probe.HostContext{}, quiet)
	_, err := writer.Save(ctx, SwitchProvider(provider.Google))
	require.NoError(t, err)
	writer.Wait()

	var calls atomic.Int32
	counting := proberFunc(func(context.Context, provider.Config, probe.HostContext) probe.Result {
		calls.Add(1)
		return probe.Result{Ready: true}
	})
	s := New(b, counting, probe.HostContext{}, quiet)

	got := s.Read(ctx)
	s.Wait()

	assert.Equal(t, provider.Google, got.Provider)
	assert.Equal(t, provider.DefaultConfig(), s.Current())
	assert.False(t, s.Status().Checked)
	assert.Zero(t, calls.Load())
}
