package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// openAIVendor implements Vendor for the OpenAI Chat Completions API and
// for any custom endpoint that speaks the same protocol. key tells the two
// apart in errors and logs.
type openAIVendor struct {
	key Key
}

func (v openAIVendor) Key() Key { return v.key }

// --- request types ---

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// --- response types ---

type openAIResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// --- conversion ---

func (v openAIVendor) BuildRequest(ctx context.Context, req *Request, stream bool) (*http.Request, error) {
	cfg := req.Config

	system := req.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	body := openAIRequest{
		Model: cfg.Model,
		Messages: []openAIMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: req.Prompt},
		},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Stream:      stream,
	}

	httpReq, err := newJSONRequest(ctx, http.MethodPost, cfg.BaseURL()+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cfg.Credential)
	return httpReq, nil
}

func (v openAIVendor) ParseResponse(cfg Config, status int, body []byte) (*Result, error) {
	if !successful(status) {
		return nil, VendorError(v.key, cfg.Model, status, body)
	}

	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e := VendorError(v.key, cfg.Model, status, body)
		e.Err = fmt.Errorf("decoding %s response: %w", v.key, err)
		return nil, e
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, missingContent(v.key, cfg, status, body, "choices[0].message.content")
	}

	result := &Result{Content: *resp.Choices[0].Message.Content}
	if resp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return result, nil
}

func (v openAIVendor) ProbeRequest(ctx context.Context, cfg Config) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL()+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.Credential)
	return req, nil
}

// DecodeLine handles the OpenAI SSE framing: data lines carrying
// chat.completion.chunk objects, terminated by the [DONE] sentinel.
func (v openAIVendor) DecodeLine(line string) Frame {
	data, ok := sseData(line)
	if !ok {
		return skipFrame
	}
	if data == "[DONE]" {
		return Frame{Final: true}
	}

	var chunk openAIStreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return skipFrame
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return skipFrame
	}
	return Frame{Delta: chunk.Choices[0].Delta.Content}
}
