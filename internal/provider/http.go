package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// defaultSystemPrompt is what OpenAI-compatible vendors get as the system
// message when the caller doesn't supply one.
const defaultSystemPrompt = "You are a helpful coding assistant."

// sseDataPrefix starts every payload line of a Server-Sent Events stream.
const sseDataPrefix = "data: "

// newJSONRequest serializes body and builds a request tied to ctx.
func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// fullPrompt folds the system prompt into the user text for vendors whose
// request shape has a single user message.
func fullPrompt(req *Request) string {
	if req.SystemPrompt == "" {
		return req.Prompt
	}
	return req.SystemPrompt + "\n\n" + req.Prompt
}

// successful reports whether status is 2xx.
func successful(status int) bool {
	return status >= 200 && status < 300
}

// missingContent is the error for a 2xx body without the documented
// content path. An empty string would hide a vendor-side format change.
func missingContent(key Key, cfg Config, status int, body []byte, path string) error {
	e := VendorError(key, cfg.Model, status, body)
	e.Err = fmt.Errorf("response has no %s", path)
	return e
}

// sseData returns the payload of an SSE data line, or false for every other
// line (event names, comments, blank separators).
func sseData(line string) (string, bool) {
	if !strings.HasPrefix(line, sseDataPrefix) {
		return "", false
	}
	return strings.TrimPrefix(line, sseDataPrefix), true
}
