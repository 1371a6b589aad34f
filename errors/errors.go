// Package errors provides error handling for matrixd.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Network portability for distributed systems
//   - Sentry integration
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "try increasing the timeout")
//
//	// Check errors
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSafeDetails    = crdb.WithSafeDetails
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Advanced features
var (
	Handled                 = crdb.Handled
	HandledWithMessage      = crdb.HandledWithMessage
	WithDomain              = crdb.WithDomain
	GetDomain               = crdb.GetDomain
	WithContextTags         = crdb.WithContextTags
	EncodeError             = crdb.EncodeError
	DecodeError             = crdb.DecodeError
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// GetStack is an alias for GetReportableStackTrace for convenience.
var GetStack = crdb.GetReportableStackTrace

// Assertions and panics
var (
	AssertionFailedf                 = crdb.AssertionFailedf
	NewAssertionErrorWithWrappedErrf = crdb.NewAssertionErrorWithWrappedErrf
)

// Kind classifies an error into one of the kinds the core distinguishes
// when deciding how to propagate a failure (per-PDU result map entry,
// request-boundary 500, fatal startup abort, ...).
type Kind string

// The error kinds the core produces. Each is attached to an error with
// WithKind and recovered with GetKind; the underlying message still comes
// from New/Newf/Wrap at the call site.
const (
	KindMalformedJSON      Kind = "MalformedJson"
	KindBadHash            Kind = "BadHash"
	KindBadSignature       Kind = "BadSignature"
	KindUnknownSigningKey  Kind = "UnknownSigningKey"
	KindMissingPrev        Kind = "MissingPrev"
	KindMissingAuth        Kind = "MissingAuth"
	KindForbidden          Kind = "Forbidden"
	KindAuthFailed         Kind = "AuthFailed"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindResolutionIncomplete Kind = "ResolutionIncomplete"
	KindUnreachable        Kind = "Unreachable"
	KindBadServerResponse  Kind = "BadServerResponse"
	KindStorageFailed      Kind = "StorageFailed"
	KindBadConfig          Kind = "BadConfig"
)

// kindDomain maps each Kind to a cockroachdb errors Domain so Is()-style
// domain checks (crdb.EnsureInDomain, crdb.GetDomain) work across process
// boundaries when an error crosses a federation request.
var kindDomain = map[Kind]crdb.Domain{}

func init() {
	for _, k := range []Kind{
		KindMalformedJSON, KindBadHash, KindBadSignature, KindUnknownSigningKey,
		KindMissingPrev, KindMissingAuth, KindForbidden, KindAuthFailed,
		KindNotFound, KindConflict, KindResolutionIncomplete, KindUnreachable,
		KindBadServerResponse, KindStorageFailed, KindBadConfig,
	} {
		kindDomain[k] = crdb.NamedDomain(string(k))
	}
}

// WithKind tags err with the given Kind via WithDomain, so GetKind can
// recover it later regardless of how many times the error was wrapped.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return crdb.WithDomain(err, kindDomain[kind])
}

// NewKind creates a new error already tagged with kind.
func NewKind(kind Kind, msg string) error {
	return WithKind(crdb.New(msg), kind)
}

// NewKindf creates a new formatted error already tagged with kind.
func NewKindf(kind Kind, format string, args ...interface{}) error {
	return WithKind(crdb.Newf(format, args...), kind)
}

// GetKind recovers the Kind attached with WithKind/NewKind, if any.
func GetKind(err error) (Kind, bool) {
	d := crdb.GetDomain(err)
	if d == crdb.NoDomain {
		return "", false
	}
	for k, domain := range kindDomain {
		if domain == d {
			return k, true
		}
	}
	return "", false
}

// Common sentinel errors can be defined like:
//   var ErrNotFound = errors.New("not found")
//   var ErrClosed = errors.New("closed")
