package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/howard-nolan/codeshui/internal/provider"
)

// ollamaStream builds a Stream over an NDJSON body, which is the least
// noisy wire format to write fixtures in.
func ollamaStream(t *testing.T, lines ...string) *Stream {
	t.Helper()
	return newStream(t, provider.Ollama, strings.NewReader(strings.Join(lines, "\n")+"\n"))
}

// parseSSEEvents splits the raw SSE output into individual data payloads,
// excluding the "data: [DONE]" sentinel.
func parseSSEEvents(body string) []string {
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			payload := strings.TrimPrefix(line, "data: ")
			if payload != "[DONE]" {
				events = append(events, payload)
			}
		}
	}
	return events
}

func TestWrite_MultipleChunks(t *testing.T) {
	s := ollamaStream(t,
		`{"response":"Hello","done":false}`,
		`{"response":" world","done":false}`,
		`{"response":"","done":true}`,
	)

	w := httptest.NewRecorder()
	if err := Write(w, s, "call-1", "llama3.1:8b"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	// Verify SSE headers.
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if cc := w.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Errorf("Cache-Control = %q, want %q", cc, "no-cache")
	}

	body := w.Body.String()
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Error("missing [DONE] sentinel")
	}

	events := parseSSEEvents(body)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}

	var first sseChunk
	if err := json.Unmarshal([]byte(events[0]), &first); err != nil {
		t.Fatalf("failed to parse event 0: %v", err)
	}
	if first.ID != "call-1" || first.Model != "llama3.1:8b" {
		t.Errorf("event 0 id/model = %q/%q", first.ID, first.Model)
	}
	if first.Choices[0].Delta.Content != "Hello" {
		t.Errorf("event 0 content = %q, want %q", first.Choices[0].Delta.Content, "Hello")
	}
	if first.Choices[0].FinishReason != nil {
		t.Errorf("event 0 finish_reason = %v, want nil", *first.Choices[0].FinishReason)
	}

	var second sseChunk
	if err := json.Unmarshal([]byte(events[1]), &second); err != nil {
		t.Fatalf("failed to parse event 1: %v", err)
	}
	if second.Choices[0].Delta.Content != " world" {
		t.Errorf("event 1 content = %q, want %q", second.Choices[0].Delta.Content, " world")
	}

	var third sseChunk
	if err := json.Unmarshal([]byte(events[2]), &third); err != nil {
		t.Fatalf("failed to parse event 2: %v", err)
	}
	if third.Choices[0].FinishReason == nil || *third.Choices[0].FinishReason != "stop" {
		t.Error("event 2 should have finish_reason=stop")
	}
	if third.Choices[0].Delta.Content != "" {
		t.Errorf("event 2 delta should be empty, got %q", third.Choices[0].Delta.Content)
	}
}

// The relay's own output must decode with the OpenAI strategy, since that
// is how the client side reads /api/llm-proxy/stream.
func TestWrite_RoundTripsThroughOpenAIDecoder(t *testing.T) {
	s := ollamaStream(t,
		`{"response":"Paris ","done":false}`,
		`{"response":"is the capital.","done":true}`,
	)

	w := httptest.NewRecorder()
	if err := Write(w, s, "call-2", "m"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	replay := newStream(t, provider.OpenAI, strings.NewReader(w.Body.String()))
	text, err := replay.Collect()
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if text != "Paris is the capital." {
		t.Errorf("text = %q, want %q", text, "Paris is the capital.")
	}
}

func TestWrite_MidStreamError(t *testing.T) {
	body := io.MultiReader(
		strings.NewReader(`{"response":"partial","done":false}`+"\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)
	s := newStream(t, provider.Ollama, body)

	w := httptest.NewRecorder()
	err := Write(w, s, "call-3", "m")

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "connection reset") {
		t.Errorf("error = %q, want it to contain %q", err.Error(), "connection reset")
	}
	if !errors.Is(err, provider.ErrTransport) {
		t.Errorf("error should be a transport error, got %v", err)
	}

	// Should NOT contain [DONE] since the stream errored.
	if strings.Contains(w.Body.String(), "[DONE]") {
		t.Error("errored stream should not contain [DONE]")
	}
	if !strings.Contains(w.Body.String(), "partial") {
		t.Error("deltas before the error should still be written")
	}
	// Nor a finish_reason event: a reader must not mistake the cut for a stop.
	if strings.Contains(w.Body.String(), "finish_reason\":\"stop") {
		t.Error("errored stream should not send a stop event")
	}
	if got := len(parseSSEEvents(w.Body.String())); got != 1 {
		t.Errorf("got %d events, want only the partial delta", got)
	}
}

func TestWrite_SSEFormat(t *testing.T) {
	s := ollamaStream(t,
		`{"response":"hi","done":false}`,
		`{"done":true}`,
	)

	w := httptest.NewRecorder()
	if err := Write(w, s, "id", "m"); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	body := w.Body.String()

	// Each event should be separated by double newlines.
	parts := strings.Split(body, "\n\n")
	nonEmpty := 0
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty++
		}
	}
	if nonEmpty != 3 {
		t.Errorf("got %d SSE events, want 3 (content + finish + DONE)", nonEmpty)
	}
}
