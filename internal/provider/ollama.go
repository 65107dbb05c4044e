package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// ollamaVendor implements Vendor for a local Ollama server. No credential,
// and the streaming body is newline-delimited JSON rather than SSE.
type ollamaVendor struct{}

func (ollamaVendor) Key() Key { return Ollama }

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// ollamaResponse is both the buffered body and each streamed line.
type ollamaResponse struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

func (ollamaVendor) BuildRequest(ctx context.Context, req *Request, stream bool) (*http.Request, error) {
	cfg := req.Config
	body := ollamaRequest{
		Model:  cfg.Model,
		Prompt: fullPrompt(req),
		Stream: stream,
		Options: ollamaOptions{
			Temperature: cfg.Temperature,
			TopP:        0.9,
			TopK:        40,
			NumPredict:  cfg.MaxTokens,
		},
	}
	return newJSONRequest(ctx, http.MethodPost, cfg.BaseURL()+"/api/generate", body)
}

func (ollamaVendor) ParseResponse(cfg Config, status int, body []byte) (*Result, error) {
	if !successful(status) {
		return nil, VendorError(Ollama, cfg.Model, status, body)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e := VendorError(Ollama, cfg.Model, status, body)
		e.Err = fmt.Errorf("decoding ollama response: %w", err)
		return nil, e
	}
	if resp.Response == nil {
		return nil, missingContent(Ollama, cfg, status, body, "response")
	}
	return &Result{Content: *resp.Response}, nil
}

// ProbeRequest lists installed models, the cheapest call Ollama offers.
func (ollamaVendor) ProbeRequest(ctx context.Context, cfg Config) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL()+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return req, nil
}

// DecodeLine handles one NDJSON line: a "response" fragment, and done=true
// on the last object.
func (ollamaVendor) DecodeLine(line string) Frame {
	if line == "" {
		return skipFrame
	}

	var resp ollamaResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return skipFrame
	}

	var delta string
	if resp.Response != nil {
		delta = *resp.Response
	}
	if delta == "" && !resp.Done {
		return skipFrame
	}
	return Frame{Delta: delta, Final: resp.Done}
}
