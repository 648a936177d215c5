package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// GatewayError represents an error that can be returned to clients.
// Kind is a stable machine-readable identifier serialized as "error".
type GatewayError struct {
	Code       int    `json:"-"`
	Kind       string `json:"error"`
	Message    string `json:"message,omitempty"`
	Path       string `json:"path,omitempty"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.underlying)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no extra fields), uses pre-serialized JSON to avoid allocations.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrNoRoute = &GatewayError{
		Code: http.StatusNotFound,
		Kind: "no_route",
	}

	ErrAuthRequired = &GatewayError{
		Code:    http.StatusUnauthorized,
		Kind:    "auth_required",
		Message: "Authentication required",
	}

	ErrAuthUnavailable = &GatewayError{
		Code:    http.StatusServiceUnavailable,
		Kind:    "auth_unavailable",
		Message: "Authentication service unavailable",
	}

	ErrRateLimited = &GatewayError{
		Code:    http.StatusTooManyRequests,
		Kind:    "rate_limited",
		Message: "Too Many Requests",
	}

	ErrCircuitOpen = &GatewayError{
		Code: http.StatusServiceUnavailable,
		Kind: "upstream_unavailable",
	}

	ErrNoInstance = &GatewayError{
		Code:    http.StatusServiceUnavailable,
		Kind:    "no_healthy_instance",
		Message: "No healthy instances available",
	}

	ErrUpstreamTimeout = &GatewayError{
		Code:    http.StatusGatewayTimeout,
		Kind:    "upstream_timeout",
		Message: "Upstream service timed out",
	}

	ErrBadUpstream = &GatewayError{
		Code:    http.StatusBadGateway,
		Kind:    "upstream_transport",
		Message: "Upstream service connection failed",
	}

	ErrBadRequest = &GatewayError{
		Code: http.StatusBadRequest,
		Kind: "bad_request",
	}

	ErrInternal = &GatewayError{
		Code: http.StatusInternalServerError,
		Kind: "internal_error",
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*GatewayError][]byte

func init() {
	bases := []*GatewayError{
		ErrNoRoute, ErrAuthRequired, ErrAuthUnavailable, ErrRateLimited,
		ErrCircuitOpen, ErrNoInstance, ErrUpstreamTimeout, ErrBadUpstream,
		ErrBadRequest, ErrInternal,
	}
	preSerialized = make(map[*GatewayError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// New creates a new GatewayError.
func New(code int, kind, message string) *GatewayError {
	return &GatewayError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an error with a status code and kind.
func Wrap(err error, code int, kind string) *GatewayError {
	return &GatewayError{
		Code:       code,
		Kind:       kind,
		underlying: err,
	}
}

// WithPath returns a copy carrying the request path.
func (e *GatewayError) WithPath(path string) *GatewayError {
	c := *e
	c.Path = path
	c.underlying = e.underlying
	return &c
}

// WithDetails returns a copy carrying extra details.
func (e *GatewayError) WithDetails(details string) *GatewayError {
	c := *e
	c.Details = details
	c.underlying = e.underlying
	return &c
}

// WithRequestID returns a copy carrying the request ID.
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	c := *e
	c.RequestID = requestID
	c.underlying = e.underlying
	return &c
}

// IsGatewayError checks if an error is a GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}
