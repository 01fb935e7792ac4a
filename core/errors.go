package core

import "fmt"

// ErrorKind is the taxonomy from which every user-visible failure is built.
// Every kind, HashChainError included, is returned to the caller; no error
// path aborts the process.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation_error"
	KindConflict   ErrorKind = "conflict_error"
	KindHashChain  ErrorKind = "hash_chain_error"
	KindCapacity   ErrorKind = "capacity_error"
	KindMode       ErrorKind = "mode_error"
	KindNotFound   ErrorKind = "not_found_error"
	KindIO         ErrorKind = "io_error"
	KindTimeout    ErrorKind = "timeout_error"
	KindSignature  ErrorKind = "signature_error"
)

// Machine-stable reason codes referenced throughout this module.
const (
	ReasonHashChainBroken    = "HASH_CHAIN_BROKEN"
	ReasonSchemaInvalid      = "SCHEMA_INVALID"
	ReasonEntityUnknown      = "ENTITY_UNKNOWN"
	ReasonRateLimited        = "RATE_LIMITED"
	ReasonUnauthorized       = "UNAUTHORIZED"
	ReasonAlreadyClosed      = "already_closed"
	ReasonSystemAtCapacity   = "system_at_capacity"
	ReasonQueueFull          = "queue_full"
	ReasonModeDeniesWork     = "mode_denies_work"
	ReasonBuildNotAllowed    = "build_not_allowed"
	ReasonNotFound           = "not_found"
	ReasonActionRequired     = "action_required"
	ReasonReasonRequired     = "reason_required"
	ReasonMissingIdentifier  = "missing_identifier"
	ReasonTimeout            = "timeout"
)

// Error is the structured failure shape returned by every public operation:
// {error, reason, details?}.
type Error struct {
	Kind    ErrorKind      `json:"error"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func newErr(kind ErrorKind, reason string, details map[string]any) *Error {
	return &Error{Kind: kind, Reason: reason, Details: details}
}

func errValidation(reason string, details map[string]any) *Error {
	return newErr(KindValidation, reason, details)
}

func errConflict(reason string, details map[string]any) *Error {
	return newErr(KindConflict, reason, details)
}

func errHashChain(reason string) *Error {
	return newErr(KindHashChain, reason, nil)
}

func errCapacity(reason string, details map[string]any) *Error {
	return newErr(KindCapacity, reason, details)
}

func errMode(reason string, details map[string]any) *Error {
	return newErr(KindMode, reason, details)
}

func errNotFound(reason string) *Error {
	return newErr(KindNotFound, reason, nil)
}

func errTimeout(reason string) *Error {
	return newErr(KindTimeout, reason, nil)
}

func errSignature(reason string) *Error {
	return newErr(KindSignature, reason, nil)
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
