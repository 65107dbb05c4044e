package provider

import (
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"
)

// Error kinds. Every failure the gateway reports matches exactly one of
// these with errors.Is.
var (
	// ErrConfigInvalid marks persisted configuration that had to be repaired.
	// It is logged, never returned to a caller.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrNotReady is returned when a call is attempted while the last probe
	// did not approve the active configuration.
	ErrNotReady = errors.New("gateway not ready")

	ErrCredentialMissing   = errors.New("credential missing")
	ErrCredentialMalformed = errors.New("credential malformed")

	// ErrTransport covers failures to reach the vendor or relay at all.
	ErrTransport = errors.New("transport failure")

	// ErrVendor covers non-success responses from a vendor or the relay.
	ErrVendor = errors.New("vendor error")

	// ErrDecode marks an unparseable streaming line. Decoders swallow it.
	ErrDecode = errors.New("decode error")
)

// maxErrorBody caps how much of a vendor's error body we keep.
const maxErrorBody = 4 << 10

// GenerationError carries the details of a failed vendor or relay call.
type GenerationError struct {
	Kind       error // one of the Err* kinds above
	Provider   Key
	Model      string
	Status     int    // HTTP status, 0 when no response arrived
	StatusText string // e.g. "401 Unauthorized"
	Body       string // raw response body, capped, never re-parsed
	Err        error  // underlying cause, if any
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.Model != "" {
		msg += fmt.Sprintf(" (model %s)", e.Model)
	}
	if e.StatusText != "" {
		msg += ": " + e.StatusText
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause, so errors.Is(err, ErrVendor)
// and errors.Is(err, context.Canceled) both work.
func (e *GenerationError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// VendorError builds the ErrVendor error for a non-success response.
func VendorError(key Key, model string, status int, body []byte) *GenerationError {
	return &GenerationError{
		Kind:       ErrVendor,
		Provider:   key,
		Model:      model,
		Status:     status,
		StatusText: fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       CapBody(body),
	}
}

// TransportError builds the ErrTransport error for a failed round trip.
func TransportError(key Key, model string, err error) *GenerationError {
	return &GenerationError{Kind: ErrTransport, Provider: key, Model: model, Err: err}
}

// CapBody truncates body to maxErrorBody bytes on a rune boundary.
func CapBody(body []byte) string {
	if len(body) <= maxErrorBody {
		return string(body)
	}
	n := maxErrorBody
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return string(body[:n]) + "…"
}
