// Package probe decides whether a gateway configuration is usable without
// running a full generation call.
//
// When the process may reach the vendor directly, a probe issues the
// vendor's cheap listing request with the credential attached and approves
// on a 2xx. When it may not (the gateway sits behind a relay, or the
// vendor's endpoint is private to another machine), the probe falls back to
// a format check and says so: Result.Verified stays false.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/howard-nolan/codeshui/internal/provider"
)

// minCredentialLength is the shortest key a format check will accept.
const minCredentialLength = 20

// maxProbeBody caps how much of a failed probe's body we read back.
const maxProbeBody = 64 << 10

// HostContext describes where the gateway runs. DirectAccess means the
// process may open connections to vendor and loopback endpoints itself.
type HostContext struct {
	DirectAccess bool
}

// Result is the outcome of one probe. Err is nil exactly when Ready is true.
type Result struct {
	Ready bool

	// Verified is true only when a live request succeeded. A configuration
	// that passed the format check is Ready but not Verified.
	Verified bool

	Err error
}

// Reason is the human-readable explanation for a rejected configuration.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// reasonError pairs an error kind with the message shown to the user.
type reasonError struct {
	kind   error
	reason string
}

func (e *reasonError) Error() string { return e.reason }
func (e *reasonError) Unwrap() error { return e.kind }

func reject(kind error, format string, args ...any) Result {
	return Result{Err: &reasonError{kind: kind, reason: fmt.Sprintf(format, args...)}}
}

// Prober runs probes over an HTTP client.
type Prober struct {
	client *http.Client
}

// New creates a Prober. A nil client gets a default with a short timeout,
// since a listing call that takes longer than that is not a healthy sign.
func New(client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Prober{client: client}
}

// Probe checks cfg. It never panics and never returns an error of its own;
// every failure lands in Result.Err.
func (p *Prober) Probe(ctx context.Context, cfg provider.Config, host HostContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("probe failed: %v", r)}
		}
	}()

	d, ok := provider.Lookup(cfg.Provider)
	if !ok {
		return reject(provider.ErrConfigInvalid, "Unknown provider %q", cfg.Provider)
	}

	switch {
	case cfg.Provider == provider.Custom:
		// No network call: a custom endpoint is whatever the user says it is.
		if cfg.Endpoint == "" {
			return reject(provider.ErrConfigInvalid, "Custom API requires an endpoint URL")
		}
		if cfg.Credential == "" {
			return reject(provider.ErrCredentialMissing, "Custom API requires an API key")
		}
		return Result{Ready: true}

	case !d.RequiresCredential:
		if !host.DirectAccess {
			if referencesLoopback(cfg.BaseURL()) {
				return Result{Ready: true}
			}
			return reject(provider.ErrNotReady, "%s only works on localhost", shortName(d))
		}
		return p.live(ctx, cfg)

	default:
		if cfg.Credential == "" {
			return reject(provider.ErrCredentialMissing, "API key required for %s", d.DisplayName)
		}
		if !host.DirectAccess {
			return checkFormat(cfg)
		}
		return p.live(ctx, cfg)
	}
}

// ProbeAll probes every configuration concurrently and returns the results
// in input order.
func (p *Prober) ProbeAll(ctx context.Context, cfgs []provider.Config, host HostContext) []Result {
	results := make([]Result, len(cfgs))

	var g errgroup.Group
	g.SetLimit(4)
	for i, cfg := range cfgs {
		i, cfg := i, cfg
		g.Go(func() error {
			results[i] = p.Probe(ctx, cfg, host)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// live issues the vendor's listing request and approves on a 2xx.
func (p *Prober) live(ctx context.Context, cfg provider.Config) Result {
	v, ok := provider.VendorFor(cfg.Provider)
	if !ok {
		return reject(provider.ErrConfigInvalid, "Unknown provider %q", cfg.Provider)
	}

	req, err := v.ProbeRequest(ctx, cfg)
	if err != nil {
		return Result{Err: provider.TransportError(cfg.Provider, cfg.Model, err)}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Result{Err: fmt.Errorf("probe cancelled: %w", err)}
		}
		return Result{Err: provider.TransportError(cfg.Provider, cfg.Model, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Err: provider.VendorError(cfg.Provider, cfg.Model, resp.StatusCode, body)}
	}

	return Result{Ready: true, Verified: true}
}

// checkFormat is the offline approval for credentialed vendors.
func checkFormat(cfg provider.Config) Result {
	key := cfg.Credential

	switch cfg.Provider {
	case provider.OpenAI:
		if !strings.HasPrefix(key, "sk-") || len(key) <= minCredentialLength {
			return reject(provider.ErrCredentialMalformed, "Invalid OpenAI API key format (should start with sk-)")
		}
	case provider.Anthropic:
		if !strings.HasPrefix(key, "sk-ant-") || len(key) <= minCredentialLength {
			return reject(provider.ErrCredentialMalformed, "Invalid Anthropic API key format (should start with sk-ant-)")
		}
	case provider.Google:
		if len(key) <= minCredentialLength {
			return reject(provider.ErrCredentialMalformed, "Invalid Google AI API key format")
		}
	}

	return Result{Ready: true}
}

// referencesLoopback reports whether endpoint points at this machine.
// Unparseable input falls back to a plain substring check.
func referencesLoopback(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil || u.Hostname() == "" {
		return strings.Contains(endpoint, "localhost") || strings.Contains(endpoint, "127.0.0.1")
	}

	h := u.Hostname()
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

// shortName trims the "(Local)" qualifier off a display name.
func shortName(d provider.Descriptor) string {
	name, _, _ := strings.Cut(d.DisplayName, " (")
	return name
}
