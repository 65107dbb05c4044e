package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/provider"
	"github.com/howard-nolan/codeshui/internal/stream"
)

// Relay endpoint paths, relative to Gateway.RelayURL.
const (
	RelayPath       = "/api/llm-proxy"
	RelayStreamPath = "/api/llm-proxy/stream"
)

// maxResponseBody bounds a buffered vendor or relay response.
const maxResponseBody = 10 << 20

// RelayRequest is the body of a relay call. The relay decodes the same type.
type RelayRequest struct {
	Provider     string   `json:"provider"`
	APIKey       string   `json:"apiKey"`
	Model        string   `json:"model"`
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
}

// relayResponse mirrors provider.Result with a pointer so a body without
// "content" is caught.
type relayResponse struct {
	Content *string         `json:"content"`
	Usage   *provider.Usage `json:"usage"`
}

// Gateway performs generation calls. The zero value calls vendors over
// http.DefaultClient and has no relay configured.
type Gateway struct {
	Client       *http.Client
	RelayURL     string
	Host         probe.HostContext
	PreferDirect bool
	Logger       *slog.Logger
}

func (g *Gateway) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

func (g *Gateway) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

// Generate runs a buffered call and returns the normalized result.
func (g *Gateway) Generate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	mode, err := g.prepare(req)
	if err != nil {
		return nil, err
	}

	cfg := req.Config
	g.logger().Debug("generate", "provider", cfg.Provider, "model", cfg.Model, "mode", mode)

	if mode == ModeRelay {
		return g.relayGenerate(ctx, req)
	}

	v, _ := provider.VendorFor(cfg.Provider)
	httpReq, err := v.BuildRequest(ctx, req, false)
	if err != nil {
		return nil, provider.TransportError(cfg.Provider, cfg.Model, err)
	}

	status, body, err := g.roundTrip(httpReq)
	if err != nil {
		return nil, provider.TransportError(cfg.Provider, cfg.Model, err)
	}
	return v.ParseResponse(cfg, status, body)
}

// Stream starts a streaming call. The caller owns the returned Stream and
// must drain or Close it. A non-success status is reported here, before any
// chunk is read.
func (g *Gateway) Stream(ctx context.Context, req *provider.Request) (*stream.Stream, error) {
	mode, err := g.prepare(req)
	if err != nil {
		return nil, err
	}

	cfg := req.Config
	g.logger().Debug("stream", "provider", cfg.Provider, "model", cfg.Model, "mode", mode)

	// The relay re-encodes every vendor's stream as OpenAI-style SSE, so
	// that is the strategy that decodes it.
	decoder, _ := provider.VendorFor(provider.OpenAI)
	var httpReq *http.Request

	if mode == ModeRelay {
		httpReq, err = g.relayRequest(ctx, req, RelayStreamPath)
	} else {
		decoder, _ = provider.VendorFor(cfg.Provider)
		httpReq, err = decoder.BuildRequest(ctx, req, true)
	}
	if err != nil {
		return nil, provider.TransportError(cfg.Provider, cfg.Model, err)
	}

	// Do NOT close the body on success: the Stream owns it from here.
	resp, err := g.client().Do(httpReq)
	if err != nil {
		return nil, provider.TransportError(cfg.Provider, cfg.Model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		return nil, provider.VendorError(cfg.Provider, cfg.Model, resp.StatusCode, body)
	}

	opts := []stream.Option{stream.WithOrigin(cfg.Provider, cfg.Model)}
	if mode == ModeRelay {
		opts = append(opts, stream.RequireEndMarker())
	}
	return stream.New(decoder, resp.Body, opts...), nil
}

// prepare validates req and routes it. Missing credentials are caught here,
// before any I/O.
func (g *Gateway) prepare(req *provider.Request) (Mode, error) {
	cfg := req.Config

	if _, ok := provider.VendorFor(cfg.Provider); !ok {
		return "", fmt.Errorf("%w: unknown provider %q", provider.ErrConfigInvalid, cfg.Provider)
	}
	if cfg.RequiresCredential() && cfg.Credential == "" {
		return "", &provider.GenerationError{
			Kind:     provider.ErrCredentialMissing,
			Provider: cfg.Provider,
			Model:    cfg.Model,
		}
	}

	d, err := Route(cfg, g.Host, g.PreferDirect)
	if err != nil {
		return "", err
	}
	if d.Mode == ModeRelay && g.RelayURL == "" {
		return "", fmt.Errorf("%w: %s calls need a relay and none is configured", provider.ErrNotReady, cfg.Provider)
	}
	return d.Mode, nil
}

func (g *Gateway) relayGenerate(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	cfg := req.Config

	httpReq, err := g.relayRequest(ctx, req, RelayPath)
	if err != nil {
		return nil, provider.TransportError(cfg.Provider, cfg.Model, err)
	}

	status, body, err := g.roundTrip(httpReq)
	if err != nil {
		return nil, provider.TransportError(cfg.Provider, cfg.Model, err)
	}
	if status < 200 || status > 299 {
		return nil, provider.VendorError(cfg.Provider, cfg.Model, status, body)
	}

	var out relayResponse
	if err := json.Unmarshal(body, &out); err != nil || out.Content == nil {
		e := provider.VendorError(cfg.Provider, cfg.Model, status, body)
		e.Err = fmt.Errorf("relay response has no content")
		return nil, e
	}
	return &provider.Result{Content: *out.Content, Usage: out.Usage}, nil
}

// relayRequest builds the POST to the relay at path.
func (g *Gateway) relayRequest(ctx context.Context, req *provider.Request, path string) (*http.Request, error) {
	cfg := req.Config
	temperature, maxTokens := cfg.Temperature, cfg.MaxTokens

	payload, err := json.Marshal(RelayRequest{
		Provider:     string(cfg.Provider),
		APIKey:       cfg.Credential,
		Model:        cfg.Model,
		Prompt:       req.Prompt,
		SystemPrompt: req.SystemPrompt,
		Temperature:  &temperature,
		MaxTokens:    &maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling relay request: %w", err)
	}

	url := strings.TrimRight(g.RelayURL, "/") + path
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating relay request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// roundTrip sends req and reads back the whole body.
func (g *Gateway) roundTrip(req *http.Request) (int, []byte, error) {
	resp, err := g.client().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, body, nil
}
