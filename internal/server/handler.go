package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/howard-nolan/codeshui/internal/gateway"
	"github.com/howard-nolan/codeshui/internal/probe"
	"github.com/howard-nolan/codeshui/internal/provider"
	"github.com/howard-nolan/codeshui/internal/stream"
)

// callIDHeader carries the ID the relay assigns to each proxied call.
const callIDHeader = "X-Relay-Call-ID"

// isoMillis matches JavaScript's Date.toISOString, which is what the
// browser client parses.
const isoMillis = "2006-01-02T15:04:05.000Z"

// writeJSON sets the header, status and body in the right order: headers
// must be set before the first write.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) timestamp() string {
	return s.now().UTC().Format(isoMillis)
}

// handleHealth is a liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.timestamp(),
	})
}

// providerEntry is one element of the /api/providers catalog.
type providerEntry struct {
	Key provider.Key `json:"key"`
	provider.Descriptor
	Relayed bool `json:"relayed"`
}

// handleProviders lists the registry so a client can build its settings UI
// without hard-coding model names.
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	entries := make([]providerEntry, 0, len(provider.Keys()))
	for _, key := range provider.Keys() {
		d, _ := provider.Lookup(key)
		entries = append(entries, providerEntry{Key: key, Descriptor: d, Relayed: provider.IsRelayed(key)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": entries})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error":     "Endpoint not found",
		"available": endpoints,
	})
}

// decodeBody reads a JSON body of at most maxBodyBytes into v. It writes
// the error response itself and reports whether the handler may go on.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return true
	}

	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
			"error": "Request body too large",
			"limit": maxBodyBytes,
		})
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "Invalid JSON body",
		"details": err.Error(),
	})
	return false
}

// relayRequest decodes and validates a proxy body. On failure it has
// already written the response and returns false.
func (s *Server) relayRequest(w http.ResponseWriter, r *http.Request, endpoint string) (*provider.Request, bool) {
	var body gateway.RelayRequest
	if !s.decodeBody(w, r, &body) {
		s.metrics.countRequest(endpoint, "unknown", http.StatusBadRequest)
		return nil, false
	}

	if body.Provider == "" || body.APIKey == "" || body.Model == "" || body.Prompt == "" {
		s.metrics.countRequest(endpoint, "unknown", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    "Missing required fields",
			"required": []string{"provider", "apiKey", "model", "prompt"},
		})
		return nil, false
	}

	key := provider.Key(body.Provider)
	if !provider.IsRelayed(key) {
		s.metrics.countRequest(endpoint, "unknown", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":     fmt.Sprintf("Unsupported provider: %s", body.Provider),
			"supported": provider.RelayKeys,
		})
		return nil, false
	}

	// Absent sampling fields get the defaults; an explicit zero is kept.
	cfg := provider.Config{
		Provider:    key,
		Endpoint:    s.cfg.VendorBaseURL(key),
		Credential:  body.APIKey,
		Model:       body.Model,
		Temperature: provider.DefaultTemperature,
		MaxTokens:   provider.DefaultMaxTokens,
	}
	if body.Temperature != nil {
		cfg.Temperature = *body.Temperature
	}
	if body.MaxTokens != nil {
		cfg.MaxTokens = *body.MaxTokens
	}

	return &provider.Request{Prompt: body.Prompt, SystemPrompt: body.SystemPrompt, Config: cfg}, true
}

// startCall assigns the call ID, echoes it to the client and logs the call.
func (s *Server) startCall(w http.ResponseWriter, req *provider.Request) string {
	id := uuid.NewString()
	w.Header().Set(callIDHeader, id)
	s.log.Info("proxying request",
		"call_id", id, "provider", req.Config.Provider, "model", req.Config.Model)
	return id
}

// handleProxy handles POST /api/llm-proxy: one buffered generation call.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	const endpoint = "llm-proxy"

	// Step 1: Decode and validate the body.
	req, ok := s.relayRequest(w, r, endpoint)
	if !ok {
		return
	}
	id := s.startCall(w, req)

	// Step 2: Call the vendor. r.Context() is cancelled if the client
	// disconnects, which cancels the upstream call too.
	start := time.Now()
	res, err := s.gateway.Generate(r.Context(), req)
	s.metrics.observeUpstream(string(req.Config.Provider), start)

	// Step 3: Translate the outcome.
	if err != nil {
		code := s.writeCallError(w, req, err)
		s.metrics.countRequest(endpoint, string(req.Config.Provider), code)
		s.log.Error("proxy call failed", "call_id", id, "provider", req.Config.Provider, "status", code, "error", err)
		return
	}

	s.metrics.countRequest(endpoint, string(req.Config.Provider), http.StatusOK)
	s.log.Info("proxied response", "call_id", id, "provider", req.Config.Provider)
	writeJSON(w, http.StatusOK, res)
}

// handleProxyStream handles POST /api/llm-proxy/stream. The body is the
// same as for /api/llm-proxy; the response is an OpenAI-style SSE stream
// whatever the vendor.
func (s *Server) handleProxyStream(w http.ResponseWriter, r *http.Request) {
	const endpoint = "llm-proxy-stream"

	req, ok := s.relayRequest(w, r, endpoint)
	if !ok {
		return
	}
	id := s.startCall(w, req)

	start := time.Now()
	st, err := s.gateway.Stream(r.Context(), req)
	s.metrics.observeUpstream(string(req.Config.Provider), start)

	// Errors before the first chunk still get a proper status code.
	if err != nil {
		code := s.writeCallError(w, req, err)
		s.metrics.countRequest(endpoint, string(req.Config.Provider), code)
		s.log.Error("stream call failed", "call_id", id, "provider", req.Config.Provider, "status", code, "error", err)
		return
	}

	s.metrics.countRequest(endpoint, string(req.Config.Provider), http.StatusOK)

	// Past this point the 200 is on the wire; a failure can only cut the
	// stream short, which Write signals by leaving out [DONE].
	if err := stream.Write(w, st, id, req.Config.Model); err != nil {
		s.log.Error("stream interrupted", "call_id", id, "provider", req.Config.Provider, "error", err)
	}
}

// testConnectionBody is the body of /api/test-connection.
type testConnectionBody struct {
	Provider string `json:"provider"`
	APIKey   string `json:"apiKey"`
	Model    string `json:"model"`
}

// handleTestConnection handles POST /api/test-connection: a live probe of
// the vendor with the supplied key.
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	const endpoint = "test-connection"

	var body testConnectionBody
	if !s.decodeBody(w, r, &body) {
		s.metrics.countRequest(endpoint, "unknown", http.StatusBadRequest)
		return
	}

	s.log.Info("test connection request",
		"provider", body.Provider, "model", body.Model, "has_api_key", body.APIKey != "",
		"origin", r.Header.Get("Origin"))

	if body.Provider == "" || body.APIKey == "" || body.Model == "" {
		s.metrics.countRequest(endpoint, "unknown", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Missing required fields for connection test",
		})
		return
	}

	key := provider.Key(body.Provider)
	if !provider.IsRelayed(key) {
		s.metrics.countRequest(endpoint, "unknown", http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("Unsupported provider: %s", body.Provider),
		})
		return
	}

	cfg := provider.Config{
		Provider:   key,
		Endpoint:   s.cfg.VendorBaseURL(key),
		Credential: body.APIKey,
		Model:      body.Model,
	}

	start := time.Now()
	res := s.prober.Probe(r.Context(), cfg, probe.HostContext{DirectAccess: true})
	s.metrics.observeUpstream(string(key), start)

	if res.Ready {
		s.metrics.countRequest(endpoint, string(key), http.StatusOK)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"message":  fmt.Sprintf("Successfully connected to %s", key),
			"provider": key,
			"model":    body.Model,
		})
		return
	}

	var gerr *provider.GenerationError
	if errors.As(res.Err, &gerr) && errors.Is(gerr, provider.ErrVendor) && gerr.Status >= 300 {
		s.metrics.countRequest(endpoint, string(key), gerr.Status)
		writeJSON(w, gerr.Status, map[string]any{
			"error":    fmt.Sprintf("Connection test failed: %s", http.StatusText(gerr.Status)),
			"details":  gerr.Body,
			"provider": key,
			"model":    body.Model,
		})
		return
	}

	s.log.Error("connection test error", "provider", key, "error", res.Err)
	s.metrics.countRequest(endpoint, string(key), http.StatusInternalServerError)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   "Connection test failed",
		"details": res.Reason(),
	})
}

// writeCallError maps a gateway error onto the relay's error responses and
// returns the status it wrote. A vendor's non-success status is passed
// through with its body; anything else is a 500.
func (s *Server) writeCallError(w http.ResponseWriter, req *provider.Request, err error) int {
	var gerr *provider.GenerationError
	if errors.As(err, &gerr) && errors.Is(gerr, provider.ErrVendor) && gerr.Status >= 300 {
		writeJSON(w, gerr.Status, map[string]any{
			"error":    fmt.Sprintf("API request failed: %s", http.StatusText(gerr.Status)),
			"details":  gerr.Body,
			"provider": req.Config.Provider,
			"model":    req.Config.Model,
		})
		return gerr.Status
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":     "Internal server error",
		"details":   err.Error(),
		"timestamp": s.timestamp(),
	})
	return http.StatusInternalServerError
}
