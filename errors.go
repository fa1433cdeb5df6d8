package overture

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and registries. Callers match them with
// errors.Is.
var (
	ErrSessionNotFound   = errors.New("overture: session not found")
	ErrMessageNotFound   = errors.New("overture: message not found")
	ErrAgentNotFound     = errors.New("overture: agent not found")
	ErrUnknownVendor     = errors.New("overture: unknown vendor")
	ErrUnknownModel      = errors.New("overture: unknown model")
	ErrCredentialMissing = errors.New("overture: credential missing")
	ErrTaskNotFound      = errors.New("overture: background task not found")
)

// ErrHTTP reports a non-success status from a provider or token endpoint.
// Body carries a truncated copy of the response for diagnostics.
type ErrHTTP struct {
	Status int
	URL    string
	Body   string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("overture: http %d from %s: %s", e.Status, e.URL, e.Body)
}

// IsHTTPStatus reports whether err wraps an ErrHTTP with the given status.
func IsHTTPStatus(err error, status int) bool {
	var he *ErrHTTP
	return errors.As(err, &he) && he.Status == status
}

// ErrModel reports a failure surfaced by the model stream itself, after the
// request was accepted. Type carries the provider's error classification when
// one was given.
type ErrModel struct {
	Vendor  string
	Type    string
	Message string
}

func (e *ErrModel) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("overture: model error (%s/%s): %s", e.Vendor, e.Type, e.Message)
	}
	return fmt.Sprintf("overture: model error (%s): %s", e.Vendor, e.Message)
}

// ErrInvalidCredential reports a credential payload that could not be parsed
// or used for the vendor it was stored under.
type ErrInvalidCredential struct {
	Vendor string
	Reason string
}

func (e *ErrInvalidCredential) Error() string {
	return fmt.Sprintf("overture: invalid credential for %s: %s", e.Vendor, e.Reason)
}
