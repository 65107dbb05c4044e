// Package stream decodes vendor streaming bodies into a uniform sequence of
// text deltas, and writes such a sequence back out as Server-Sent Events.
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// OpenAI-compatible SSE response types
// ---------------------------------------------------------------------------

// The relay re-emits decoded streams in the OpenAI streaming format:
//
//	data: {"id":"...","object":"chat.completion.chunk","choices":[{"delta":{"content":"Hi"}}]}
//
// That way the client side decodes the relay's stream with the very same
// OpenAI strategy it uses for api.openai.com, whatever vendor sat behind it.

// sseChunk is the top-level JSON object in each SSE event.
type sseChunk struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Model   string      `json:"model"`
	Choices []sseChoice `json:"choices"`
}

// sseChoice represents one choice in the streaming response. We always
// return one.
type sseChoice struct {
	Index int      `json:"index"`
	Delta sseDelta `json:"delta"`

	// FinishReason is null for all chunks except the final one. *string
	// so nil renders as JSON null rather than "".
	FinishReason *string `json:"finish_reason"`
}

// sseDelta holds the incremental content. omitempty so the final chunk
// sends {"delta":{}}, matching OpenAI.
type sseDelta struct {
	Content string `json:"content,omitempty"`
}

// ---------------------------------------------------------------------------
// SSE Writer
// ---------------------------------------------------------------------------

// Write drains s and writes every chunk to w as an OpenAI-compatible
// Server-Sent Event, flushing after each so the client sees tokens as they
// arrive. id and model are stamped on every event.
//
// If the stream ends with a transport error, Write returns it and sends
// neither a finish_reason event nor the "data: [DONE]" sentinel. The status
// code is already sent, so the missing sentinel is the only way to tell the
// client the stream was cut; the gateway decodes relay streams with
// RequireEndMarker for that reason.
func Write(w http.ResponseWriter, s *Stream, id, model string) error {
	defer s.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("response writer does not support flushing (http.Flusher)")
	}

	// Headers must be set before the first Write or Flush.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for s.Next() {
		chunk := s.Chunk()

		event := sseChunk{
			ID:      id,
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []sseChoice{{Index: 0, Delta: sseDelta{Content: chunk.Delta}}},
		}
		if chunk.Final {
			if s.Err() != nil {
				break
			}
			reason := "stop"
			event.Choices[0].FinishReason = &reason
		}

		if err := writeEvent(w, event); err != nil {
			return err
		}
		flusher.Flush()
	}

	if err := s.Err(); err != nil {
		return err
	}

	// [DONE] is an OpenAI convention, not JSON: SDKs look for it to know
	// they should stop reading.
	if _, err := fmt.Fprintf(w, "data: [DONE]\n\n"); err != nil {
		return fmt.Errorf("writing SSE done marker: %w", err)
	}
	flusher.Flush()

	return nil
}

// writeEvent writes one "data: {json}\n\n" event. The blank line is what
// tells the client the event is complete.
func writeEvent(w http.ResponseWriter, event sseChunk) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling SSE chunk: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing SSE event: %w", err)
	}
	return nil
}
