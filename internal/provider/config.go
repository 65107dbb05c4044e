package provider

import (
	"fmt"
	"strings"
)

const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 4000
	MaxTemperature     = 2.0
)

// Config is the active gateway configuration: which vendor, where, with what
// credential and sampling settings. The JSON tags match the blob the browser
// build kept in localStorage, so an exported config round-trips.
type Config struct {
	Provider    Key     `json:"provider"`
	Endpoint    string  `json:"url,omitempty"`
	Credential  string  `json:"apiKey,omitempty"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

// DefaultConfig is the fallback used when nothing usable is persisted:
// local Ollama with the first model in its catalog.
func DefaultConfig() Config {
	d := registry[Ollama]
	return Config{
		Provider:    Ollama,
		Endpoint:    d.DefaultEndpoint,
		Model:       d.Models[0],
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// BaseURL returns the configured endpoint, or the vendor default when none
// is set, without a trailing slash.
func (c Config) BaseURL() string {
	u := c.Endpoint
	if u == "" {
		u = registry[c.Provider].DefaultEndpoint
	}
	return strings.TrimRight(u, "/")
}

// RequiresCredential reports whether c's vendor needs an API key.
func (c Config) RequiresCredential() bool {
	return registry[c.Provider].RequiresCredential
}

// Normalize repairs c against the registry and returns the repaired copy
// along with a note for every field it had to change. An unknown provider
// can't be repaired piecemeal, so it collapses to DefaultConfig.
func (c Config) Normalize() (Config, []string) {
	var notes []string

	d, ok := registry[c.Provider]
	if !ok {
		return DefaultConfig(), []string{fmt.Sprintf("unknown provider %q, using default", c.Provider)}
	}

	if c.Endpoint == "" && d.DefaultEndpoint != "" {
		c.Endpoint = d.DefaultEndpoint
		notes = append(notes, "endpoint reset to provider default")
	}

	if !HasModel(c.Provider, c.Model) {
		notes = append(notes, fmt.Sprintf("model %q not offered by %s, using %q", c.Model, c.Provider, d.Models[0]))
		c.Model = d.Models[0]
	}

	if c.Temperature < 0 || c.Temperature > MaxTemperature {
		notes = append(notes, fmt.Sprintf("temperature %v out of range, using %v", c.Temperature, DefaultTemperature))
		c.Temperature = DefaultTemperature
	}

	if c.MaxTokens <= 0 {
		notes = append(notes, fmt.Sprintf("maxTokens %d invalid, using %d", c.MaxTokens, DefaultMaxTokens))
		c.MaxTokens = DefaultMaxTokens
	}

	return c, notes
}
