package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// anthropicVendor implements Vendor for Anthropic's Messages API.
type anthropicVendor struct{}

func (anthropicVendor) Key() Key { return Anthropic }

// ---------------------------------------------------------------------------
// Anthropic API types (unexported)
// ---------------------------------------------------------------------------

// anthropicRequest is the request body for /v1/messages.
//
// max_tokens is REQUIRED by Anthropic, and the model travels in the body
// rather than the URL path (unlike Gemini).
type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// anthropicResponse is the buffered response. Text is a pointer so a block
// without a "text" key is distinguishable from an empty completion.
type anthropicResponse struct {
	Content []struct {
		Type string  `json:"type"`
		Text *string `json:"text"`
	} `json:"content"`
	Usage *anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// anthropicStreamEvent covers the streaming payloads we look at. Every
// payload carries a "type"; only content_block_delta has text, and
// message_stop ends the stream. message_start, content_block_start,
// content_block_stop, message_delta and ping are skipped.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta *struct {
		Text string `json:"text"`
	} `json:"delta"`
}

// anthropicAPIVersion pins the Anthropic API behavior. It's sent as a
// header on every request instead of versioning the URL path.
const anthropicAPIVersion = "2023-06-01"

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

func (anthropicVendor) BuildRequest(ctx context.Context, req *Request, stream bool) (*http.Request, error) {
	cfg := req.Config
	body := anthropicRequest{
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: fullPrompt(req)}},
		Stream:    stream,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = DefaultMaxTokens
	}

	httpReq, err := newJSONRequest(ctx, http.MethodPost, cfg.BaseURL()+"/v1/messages", body)
	if err != nil {
		return nil, err
	}
	setAnthropicAuth(httpReq, cfg.Credential)
	return httpReq, nil
}

// setAnthropicAuth applies Anthropic's own auth header (x-api-key rather
// than Authorization: Bearer) plus the version pin.
func setAnthropicAuth(r *http.Request, key string) {
	r.Header.Set("x-api-key", key)
	r.Header.Set("anthropic-version", anthropicAPIVersion)
}

// ---------------------------------------------------------------------------
// Response translation
// ---------------------------------------------------------------------------

func (anthropicVendor) ParseResponse(cfg Config, status int, body []byte) (*Result, error) {
	if !successful(status) {
		return nil, VendorError(Anthropic, cfg.Model, status, body)
	}

	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e := VendorError(Anthropic, cfg.Model, status, body)
		e.Err = fmt.Errorf("decoding anthropic response: %w", err)
		return nil, e
	}

	if len(resp.Content) == 0 || resp.Content[0].Text == nil {
		return nil, missingContent(Anthropic, cfg, status, body, "content[0].text")
	}

	result := &Result{Content: *resp.Content[0].Text}
	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	return result, nil
}

func (anthropicVendor) ProbeRequest(ctx context.Context, cfg Config) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL()+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	setAnthropicAuth(req, cfg.Credential)
	return req, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// DecodeLine handles Anthropic's SSE framing. We ignore the "event: ..."
// lines entirely because each JSON payload repeats its type.
func (anthropicVendor) DecodeLine(line string) Frame {
	data, ok := sseData(line)
	if !ok {
		return skipFrame
	}
	if data == "[DONE]" {
		return Frame{Final: true}
	}

	var event anthropicStreamEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return skipFrame
	}

	switch event.Type {
	case "content_block_delta":
		if event.Delta == nil || event.Delta.Text == "" {
			return skipFrame
		}
		return Frame{Delta: event.Delta.Text}
	case "message_stop":
		return Frame{Final: true}
	}
	return skipFrame
}
