package oidcrp

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidParameter        = errors.New("invalid parameter")
	ErrNilParameter            = errors.New("nil parameter")
	ErrInvalidCACert           = errors.New("invalid CA certificate")
	ErrNotFound                = errors.New("not found")
	ErrNoMatchingState         = errors.New("no matching state found")
	ErrStateMismatch           = errors.New("state does not match request")
	ErrMissingMetadataProperty = errors.New("missing required metadata property")
	ErrUnsupportedResponseType = errors.New("unsupported response type")
	ErrMissingCode             = errors.New("code is missing from response")
	ErrMissingIDToken          = errors.New("id_token is missing")
	ErrMissingSubject          = errors.New("sub claim is missing")
	ErrSubjectMismatch         = errors.New("sub claim mismatch")
	ErrAuthTimeMismatch        = errors.New("auth_time claim mismatch")
	ErrAzpMismatch             = errors.New("azp claim mismatch")
	ErrRevocationNotSupported  = errors.New("revocation is not supported by the provider")
	ErrIDGeneratorFailed       = errors.New("id generation failed")
	ErrTimeout                 = errors.New("timed out")
)

// AuthError represents an OAuth2/OIDC error response returned by the
// provider (error, error_description, error_uri).  It carries the opaque
// caller data that was round-tripped through the flow's correlation state,
// so the caller that started the flow can recover its context when the
// error surfaces.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthError struct {
	// Code is the provider's "error" parameter (e.g. "login_required")
	Code string

	// Description is the provider's optional "error_description" parameter
	Description string

	// URI is the provider's optional "error_uri" parameter
	URI string

	// State is the opaque caller data recovered from the flow's
	// correlation state, if any
	State interface{}

	// SessionState is the provider's session_state, when present on the
	// error response
	SessionState string
}

func (e *AuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// TimeoutError represents an exceeded navigation or fetch budget.  It is the
// only error the silent-renewal loop will retry; everything else it raises.
// It matches ErrTimeout via errors.Is.
type TimeoutError struct {
	// Op is the operation that timed out
	Op string

	// Budget is the configured budget that was exceeded
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Budget)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
