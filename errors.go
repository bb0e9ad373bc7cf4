package spendauth

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an authorization failure. Callers decide retry policy by kind,
// never by message text.
type ErrorKind string

const (
	// KindEncoding is a field that violates its declared typed-data range. Fatal to the action.
	KindEncoding ErrorKind = "encoding_error"
	// KindInvalidPermission is caller input rejected while building a permission.
	KindInvalidPermission ErrorKind = "invalid_permission"
	// KindEmptyBatch is a call batch without calls.
	KindEmptyBatch ErrorKind = "empty_batch"
	// KindSigningRejected is a declined or cancelled signature request. Safe to re-initiate.
	KindSigningRejected ErrorKind = "signing_rejected"
	// KindSubmissionFailure is a verifier rejection or transport failure. Never retried.
	KindSubmissionFailure ErrorKind = "submission_failure"
	// KindExpiredOrRevoked is a validator refusal for a permission outside its window or revoked.
	KindExpiredOrRevoked ErrorKind = "expired_or_revoked"
	// KindValidation is any other validator refusal (amount, chain, sub-account, signature).
	KindValidation ErrorKind = "validation_failed"
	// KindActionInFlight is a second request for an action that is still pending.
	KindActionInFlight ErrorKind = "action_in_flight"
	// KindInvalidTransition is a lifecycle transition not allowed from the current state.
	KindInvalidTransition ErrorKind = "invalid_transition"
)

// Sentinel errors for errors.Is. They match any *Error of the same kind.
var (
	ErrEncoding          = &Error{Kind: KindEncoding}
	ErrInvalidPermission = &Error{Kind: KindInvalidPermission}
	ErrEmptyBatch        = &Error{Kind: KindEmptyBatch}
	ErrSigningRejected   = &Error{Kind: KindSigningRejected}
	ErrSubmissionFailure = &Error{Kind: KindSubmissionFailure}
	ErrExpiredOrRevoked  = &Error{Kind: KindExpiredOrRevoked}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrActionInFlight    = &Error{Kind: KindActionInFlight}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition}
)

// Reason codes carried in Error.Code. They are stable and safe to return over the wire.
const (
	ReasonFieldOutOfRange   = "field_out_of_range"
	ReasonInvalidAddress    = "invalid_address"
	ReasonMalformedCallData = "malformed_call_data"
	ReasonUnknownEntityKind = "unknown_entity_kind"
	ReasonMalformedRequest  = "malformed_request"

	ReasonZeroAccount       = "zero_account"
	ReasonZeroSpender       = "zero_spender"
	ReasonZeroAllowance     = "zero_allowance"
	ReasonZeroPeriod        = "zero_period"
	ReasonInvalidWindow     = "invalid_window"
	ReasonWindowElapsed     = "window_elapsed"
	ReasonSaltUnavailable   = "salt_unavailable"
	ReasonInvalidAmount     = "invalid_amount"
	ReasonPrecisionExceeded = "precision_exceeded"

	ReasonNoCalls = "no_calls"

	ReasonUserRejected    = "user_rejected"
	ReasonSignerMismatch  = "signer_mismatch"
	ReasonSigningFailed   = "signing_failed"
	ReasonNoAccounts      = "no_accounts"
	ReasonRequestCanceled = "request_canceled"

	ReasonVerifierRejected = "verifier_rejected"
	ReasonTransportFailure = "transport_failure"

	ReasonPermissionNotYetValid   = "permission_not_yet_valid"
	ReasonPermissionWindowExpired = "permission_window_expired"
	ReasonPermissionRevoked       = "permission_revoked"
	ReasonInvalidSignature        = "invalid_signature"
	ReasonAllowanceExceeded       = "allowance_exceeded"
	ReasonSaltReused              = "salt_reused"
	ReasonSpenderMismatch         = "spender_mismatch"
	ReasonDomainMismatch          = "domain_mismatch"
	ReasonStaleSpendState         = "stale_spend_state"

	ReasonBatchChainMismatch   = "batch_chain_mismatch"
	ReasonBatchUnknownSender   = "batch_unknown_sender"
	ReasonBatchVersionMismatch = "batch_version_mismatch"

	ReasonInFlight          = "in_flight"
	ReasonWrongState        = "wrong_state"
	ReasonSessionUnresolved = "session_unresolved"
	ReasonWindowOpen        = "window_open"
	ReasonHookAborted       = "hook_aborted"
)

// Error is the single error type surfaced by this module. Code is a snake_case reason,
// Details carries structured context for logs and API responses, Err is the underlying cause.
type Error struct {
	Kind    ErrorKind              `json:"kind"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports kind equality so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// WithDetail returns e with key set in Details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, code, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// WrapError creates a new error of the given kind around cause.
func WrapError(kind ErrorKind, code string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: "",
		Err:     cause,
	}
}

// Encodingf is shorthand for a formatted KindEncoding error.
func Encodingf(code, format string, args ...interface{}) *Error {
	return NewError(KindEncoding, code, fmt.Sprintf(format, args...))
}

// InvalidPermissionf is shorthand for a formatted KindInvalidPermission error.
func InvalidPermissionf(code, format string, args ...interface{}) *Error {
	return NewError(KindInvalidPermission, code, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the reason code of err, or "" when err is not an *Error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
