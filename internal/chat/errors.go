package chat

import "errors"

// ValidationError carries a client-safe reason for a rejected request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "chat: invalid request: " + e.Reason }

var (
	ErrRateLimited     = errors.New("chat: rate limit exceeded")
	ErrConsentRequired = errors.New("chat: consent required")
)

// UpstreamError wraps any failure talking to or decoding the workspace API.
// Its detail is logged server-side; clients only ever see the configured
// fallback message.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string { return "chat: upstream failure: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }
