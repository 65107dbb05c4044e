// Package provider defines the vendor registry, the unified request and
// response types, and one translation strategy per LLM vendor.
//
// Every vendor (Anthropic, OpenAI, Google, Ollama, or a custom
// OpenAI-compatible endpoint) implements the Vendor interface. The router,
// the relay and the stream decoder only see the unified types, never a
// vendor's wire format.
package provider

import (
	"context"
	"net/http"
)

// Vendor is the strategy every LLM backend must satisfy. There is exactly
// one implementation per Key; VendorFor does the lookup, so callers never
// switch on the provider themselves.
type Vendor interface {
	// Key returns the registry key, e.g. "google" or "anthropic".
	Key() Key

	// BuildRequest translates a logical request into the vendor's HTTP
	// request. stream selects the incremental wire mode where the vendor
	// has one. The request's Config snapshot supplies model, endpoint,
	// credential and sampling settings.
	BuildRequest(ctx context.Context, req *Request, stream bool) (*http.Request, error)

	// ParseResponse maps a buffered vendor response back into a Result.
	// Any non-2xx status becomes a *GenerationError of kind ErrVendor, and
	// a 2xx body that lacks the documented content path does too.
	ParseResponse(cfg Config, status int, body []byte) (*Result, error)

	// ProbeRequest builds the lightweight listing call used to check that
	// a configuration can reach the vendor.
	ProbeRequest(ctx context.Context, cfg Config) (*http.Request, error)

	// DecodeLine interprets one line of the vendor's streaming body.
	DecodeLine(line string) Frame
}

// ---------------------------------------------------------------------------
// Unified request types
// ---------------------------------------------------------------------------

// Request is one generation call. Config is a snapshot taken when the call
// starts; edits to the store made while the call is in flight don't reach it.
type Request struct {
	Prompt       string
	SystemPrompt string // optional
	Config       Config
}

// ---------------------------------------------------------------------------
// Unified response types
// ---------------------------------------------------------------------------

// Result is the normalized shape returned regardless of vendor. The JSON
// form is what the relay sends back from /api/llm-proxy.
type Result struct {
	Content string `json:"content"`

	// Usage is nil when the vendor doesn't report token counts (Google,
	// Ollama). The pointer + omitempty combo drops the key from the JSON.
	Usage *Usage `json:"usage,omitempty"`
}

// Usage holds token counts, normalized from each vendor's naming.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// StreamChunk is one element of a decoded stream. A stream ends with exactly
// one chunk whose Final is true; its Delta may be empty.
type StreamChunk struct {
	Delta string `json:"delta"`
	Final bool   `json:"final"`
}

// Frame is what a vendor makes of a single streaming line.
type Frame struct {
	Delta string // text to emit, may be empty
	Final bool   // the vendor signalled the end of the stream
	Skip  bool   // line carries nothing for us (keep-alive, metadata, bad JSON)
}

// skipFrame is returned for lines we deliberately ignore.
var skipFrame = Frame{Skip: true}

// vendors is the closed dispatch table. Custom endpoints speak the
// OpenAI-compatible protocol, so they share that strategy under their own key.
var vendors = map[Key]Vendor{
	Ollama:    ollamaVendor{},
	OpenAI:    openAIVendor{key: OpenAI},
	Custom:    openAIVendor{key: Custom},
	Anthropic: anthropicVendor{},
	Google:    googleVendor{},
}

// VendorFor returns the strategy registered for key.
func VendorFor(key Key) (Vendor, bool) {
	v, ok := vendors[key]
	return v, ok
}
