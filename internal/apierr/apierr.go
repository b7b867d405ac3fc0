// Package apierr defines the tagged error taxonomy shared by every
// component and the single place (WriteHTTP) that maps it onto HTTP
// responses, per the propagation policy in spec.md §7: components
// return tagged values, the API layer is the only thing that knows
// about status codes.
package apierr

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Kind identifies a class of domain error.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindAuth             Kind = "auth"
	KindForbidden        Kind = "forbidden"
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindAlreadyClaimed   Kind = "already_claimed"
	KindAlreadyInSquad   Kind = "already_in_squad"
	KindSquadFull        Kind = "squad_full"
	KindInsufficientFunds Kind = "insufficient_balance"
	KindCooldown         Kind = "cooldown"
	KindCampaignLocked   Kind = "campaign_locked"
	KindUnreachable      Kind = "unreachable"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Error is the tagged error value every component returns instead of a
// plain error when the failure is a domain condition the API layer
// needs to render distinctly.
type Error struct {
	Kind    Kind
	Message string
	Field   string         // set for KindValidation
	Details map[string]any // machine-readable context (required, available, retry_after_seconds, ...)
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// Unwrap exposes the wrapped cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an internal Error that preserves cause for logging but
// never leaks it to the client.
func Wrap(cause error, message string) *Error {
	return &Error{Kind: KindInternal, Message: message, cause: cause}
}

// WithDetails attaches machine-readable context and returns the error
// for chaining.
func (e *Error) WithDetails(d map[string]any) *Error {
	e.Details = d
	return e
}

// WithField sets the offending field name for validation errors.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// statusFor maps a Kind to its HTTP status code per spec.md §7.
func statusFor(k Kind) int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindAlreadyClaimed, KindAlreadyInSquad, KindSquadFull:
		return http.StatusConflict
	case KindInsufficientFunds:
		return http.StatusPaymentRequired
	case KindCooldown:
		return http.StatusTooManyRequests
	case KindCampaignLocked:
		return http.StatusLocked
	case KindUnreachable:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type envelope struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details,omitempty"`
}

// WriteHTTP renders err as the JSON error envelope from spec.md §6.1,
// choosing the status code from its Kind. Non-*Error values are treated
// as KindInternal and never leak their message to the client.
func WriteHTTP(w http.ResponseWriter, err error) {
	apiErr, ok := err.(*Error)
	if !ok {
		apiErr = &Error{Kind: KindInternal, Message: "internal error", cause: err}
	}

	status := statusFor(apiErr.Kind)
	msg := apiErr.Message
	if apiErr.Kind == KindInternal {
		msg = "internal error"
	}

	w.Header().Set("Content-Type", "application/json")
	if retry, ok := apiErr.Details["retry_after_seconds"]; ok {
		if secs, ok := retry.(int64); ok {
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Error:   msg,
		Code:    string(apiErr.Kind),
		Details: apiErr.Details,
	})
}
