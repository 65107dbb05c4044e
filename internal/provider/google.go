package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// googleVendor implements Vendor for Google's Gemini API.
type googleVendor struct{}

func (googleVendor) Key() Key { return Google }

// ---------------------------------------------------------------------------
// Gemini API types
// ---------------------------------------------------------------------------

// geminiRequest is the request body for generateContent. Gemini uses
// "parts" (an array) because it supports multimodal input; for text we
// always send a single part.
type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// geminiResponse serves both the buffered response and each streamed
// element; Gemini sends the same shape for both. Text is a pointer so we
// can tell a missing part from an empty one.
type geminiResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// firstText returns candidates[0].content.parts[0].text if present.
func (r *geminiResponse) firstText() (string, bool) {
	if len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return "", false
	}
	parts := r.Candidates[0].Content.Parts
	if len(parts) == 0 || parts[0].Text == nil {
		return "", false
	}
	return *parts[0].Text, true
}

// ---------------------------------------------------------------------------
// Request translation
// ---------------------------------------------------------------------------

// BuildRequest targets {endpoint}/v1beta/models/{model}:generateContent. The
// API key goes in the query string rather than a header.
func (googleVendor) BuildRequest(ctx context.Context, req *Request, stream bool) (*http.Request, error) {
	cfg := req.Config
	body := geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: fullPrompt(req)}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxTokens,
		},
	}

	method := "generateContent"
	if stream {
		method = "streamGenerateContent"
	}
	target := fmt.Sprintf("%s/v1beta/models/%s:%s?key=%s",
		cfg.BaseURL(), url.PathEscape(cfg.Model), method, url.QueryEscape(cfg.Credential),
	)

	return newJSONRequest(ctx, http.MethodPost, target, body)
}

// ---------------------------------------------------------------------------
// Response translation
// ---------------------------------------------------------------------------

// ParseResponse extracts candidates[0].content.parts[0].text. Gemini
// responses carry no usage we pass on, so Usage stays nil.
func (googleVendor) ParseResponse(cfg Config, status int, body []byte) (*Result, error) {
	if !successful(status) {
		return nil, VendorError(Google, cfg.Model, status, body)
	}

	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e := VendorError(Google, cfg.Model, status, body)
		e.Err = fmt.Errorf("decoding gemini response: %w", err)
		return nil, e
	}

	text, ok := resp.firstText()
	if !ok {
		return nil, missingContent(Google, cfg, status, body, "candidates[0].content.parts[0].text")
	}
	return &Result{Content: text}, nil
}

func (googleVendor) ProbeRequest(ctx context.Context, cfg Config) (*http.Request, error) {
	target := fmt.Sprintf("%s/v1beta/models?key=%s", cfg.BaseURL(), url.QueryEscape(cfg.Credential))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// Streaming
// ---------------------------------------------------------------------------

// DecodeLine handles streamGenerateContent output: a JSON array whose
// elements arrive one per line. Array punctuation around an element is
// stripped, and so is a "data: " prefix in case the stream was requested
// with alt=sse. A finishReason on any element ends the stream.
func (googleVendor) DecodeLine(line string) Frame {
	if data, ok := sseData(line); ok {
		line = data
	}
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "[")
	line = strings.TrimPrefix(line, ",")
	line = strings.TrimSuffix(line, "]")
	line = strings.TrimSuffix(line, ",")
	line = strings.TrimSpace(line)
	if line == "" {
		return skipFrame
	}

	var resp geminiResponse
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return skipFrame
	}

	text, _ := resp.firstText()
	final := len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != ""
	if text == "" && !final {
		return skipFrame
	}
	return Frame{Delta: text, Final: final}
}
