package oidcrp

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/go-uuid"
)

// Request type tags recorded on correlation state, used by the generic
// callback handlers to dispatch to the correct completion path.
const (
	RequestTypeSigninRedirect  = "si:r"
	RequestTypeSigninPopup     = "si:p"
	RequestTypeSigninSilent    = "si:s"
	RequestTypeSignoutRedirect = "so:r"
	RequestTypeSignoutPopup    = "so:p"
	RequestTypeSignoutSilent   = "so:s"
)

// stateStorePrefix namespaces correlation-state entries in the Storage.
const stateStorePrefix = "oidc."

// State is the persisted, time-stamped, single-use record describing an
// in-flight signin or signout flow.  Its ID is generated with
// cryptographically-unpredictable randomness and round-trips through the
// provider as the "state" parameter; a stored entry is consumed
// (read-and-delete) at most once per flow.
type State struct {
	// ID is an opaque, unguessable value used to correlate the request and
	// its callback.
	ID string `json:"id"`

	// Created is the creation time in epoch seconds.
	Created int64 `json:"created"`

	// RequestType tags which flow created this state (see the RequestType
	// constants).
	RequestType string `json:"request_type,omitempty"`

	// Data is an opaque caller payload round-tripped through the flow.
	Data interface{} `json:"data,omitempty"`
}

// NewState creates a State with a fresh random ID.
// Supported options: WithNow
func NewState(requestType string, data interface{}, opt ...Option) (*State, error) {
	const op = "NewState"
	opts := getStateOpts(opt...)
	id, err := newRandomID()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate a state id: %w", op, err)
	}
	return &State{
		ID:          id,
		Created:     opts.now().Unix(),
		RequestType: requestType,
		Data:        data,
	}, nil
}

// ToStorageString serializes the State to its canonical JSON storage shape.
func (s *State) ToStorageString() (string, error) {
	const op = "State.ToStorageString"
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal state: %w", op, err)
	}
	return string(b), nil
}

// StateFromStorageString deserializes a State from its storage shape.
func StateFromStorageString(raw string) (*State, error) {
	const op = "StateFromStorageString"
	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal state: %w", op, err)
	}
	return &s, nil
}

// SigninState extends State with everything a signin callback needs to
// finish the flow without re-reading live settings: the PKCE pair and the
// authority/client/redirect/scope the request was built against.
type SigninState struct {
	State

	// CodeVerifier is the PKCE verifier, present when PKCE is enabled.
	CodeVerifier string `json:"code_verifier,omitempty"`

	// CodeChallenge is the S256 challenge derived from CodeVerifier.
	CodeChallenge string `json:"code_challenge,omitempty"`

	// Authority the request was built against; a callback validated with
	// different settings fails.
	Authority string `json:"authority"`

	// ClientID the request was built against.
	ClientID string `json:"client_id"`

	// RedirectURI used for the request, repeated on the code exchange.
	RedirectURI string `json:"redirect_uri"`

	// Scope requested; "openid" marks the response as an OIDC response.
	Scope string `json:"scope"`

	// ClientSecret used for the code exchange, if any.
	ClientSecret string `json:"client_secret,omitempty"`

	// ResponseMode requested for the callback, if it overrides settings.
	ResponseMode string `json:"response_mode,omitempty"`

	// ExtraTokenParams are appended to the code exchange body.
	ExtraTokenParams map[string]string `json:"extra_token_params,omitempty"`

	// SkipUserInfo suppresses the userinfo fetch during validation.
	SkipUserInfo bool `json:"skip_user_info,omitempty"`
}

// SigninStateArgs are the caller-supplied fields for NewSigninState.
type SigninStateArgs struct {
	RequestType      string
	Data             interface{}
	Authority        string
	ClientID         string
	RedirectURI      string
	Scope            string
	ClientSecret     string
	ResponseMode     string
	ExtraTokenParams map[string]string
	SkipUserInfo     bool
	DisablePKCE      bool
}

// NewSigninState creates a SigninState with a fresh random ID and, unless
// args.DisablePKCE is set, a PKCE verifier/challenge pair.
// Supported options: WithNow
func NewSigninState(args SigninStateArgs, opt ...Option) (*SigninState, error) {
	const op = "NewSigninState"
	base, err := NewState(args.RequestType, args.Data, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s := &SigninState{
		State:            *base,
		Authority:        args.Authority,
		ClientID:         args.ClientID,
		RedirectURI:      args.RedirectURI,
		Scope:            args.Scope,
		ClientSecret:     args.ClientSecret,
		ResponseMode:     args.ResponseMode,
		ExtraTokenParams: args.ExtraTokenParams,
		SkipUserInfo:     args.SkipUserInfo,
	}
	if !args.DisablePKCE {
		verifier, err := NewCodeVerifier()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.CodeVerifier = verifier
		s.CodeChallenge = CodeChallengeS256(verifier)
	}
	return s, nil
}

// ToStorageString serializes the SigninState to its canonical JSON storage
// shape.
func (s *SigninState) ToStorageString() (string, error) {
	const op = "SigninState.ToStorageString"
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal signin state: %w", op, err)
	}
	return string(b), nil
}

// SigninStateFromStorageString deserializes a SigninState from its storage
// shape.
func SigninStateFromStorageString(raw string) (*SigninState, error) {
	const op = "SigninStateFromStorageString"
	var s SigninState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal signin state: %w", op, err)
	}
	return &s, nil
}

// RefreshState is a non-persisted, synthetic stand-in for a SigninState,
// carrying a refresh token and the prior token attributes.  It exists only
// so the refresh-token path can reuse the signin validation pipeline.
type RefreshState struct {
	// RefreshToken to exchange.
	RefreshToken string

	// IDToken previously issued; the renewed token's sub must match its sub.
	IDToken string

	// Profile previously validated.
	Profile Claims

	// Scope originally granted; copied through when the provider omits
	// scope from its refresh response.
	Scope string

	// SessionState previously issued; copied through when omitted.
	SessionState string

	// Data is the opaque caller payload preserved across the refresh.
	Data interface{}
}

// NewCodeVerifier derives a PKCE code verifier as three concatenated
// secure-random UUIDs, stripped of separators.
func NewCodeVerifier() (string, error) {
	const op = "NewCodeVerifier"
	var parts []string
	for i := 0; i < 3; i++ {
		part, err := uuid.GenerateUUID()
		if err != nil {
			return "", fmt.Errorf("%s: unable to generate verifier: %w", op, ErrIDGeneratorFailed)
		}
		parts = append(parts, strings.ReplaceAll(part, "-", ""))
	}
	return strings.Join(parts, ""), nil
}

// CodeChallengeS256 derives the S256 code challenge for a verifier: the
// Base64url, padding-stripped SHA-256 digest of the verifier.
func CodeChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// newRandomID generates an opaque, cryptographically-unpredictable id
// suitable for a State ID.
func newRandomID() (string, error) {
	id, err := uuid.GenerateUUID()
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", ErrIDGeneratorFailed)
	}
	return strings.ReplaceAll(id, "-", ""), nil
}

// stateStoreKey namespaces a state id in the Storage.
func stateStoreKey(id string) string {
	return stateStorePrefix + id
}

// saveState persists any storable state record under its id.
func saveState(ctx context.Context, store Storage, id string, record interface{ ToStorageString() (string, error) }) error {
	const op = "saveState"
	raw, err := record.ToStorageString()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := store.Set(ctx, stateStoreKey(id), raw); err != nil {
		return fmt.Errorf("%s: unable to store state %s: %w", op, id, err)
	}
	return nil
}

// takeStateString consumes (read-and-delete) a stored state entry, returning
// its raw storage string.  A state can be taken at most once.
func takeStateString(ctx context.Context, store Storage, id string) (string, error) {
	const op = "takeStateString"
	raw, err := store.Remove(ctx, stateStoreKey(id))
	switch {
	case err == nil:
		return raw, nil
	case isNotFound(err):
		return "", fmt.Errorf("%s: no stored state for %q: %w", op, id, ErrNoMatchingState)
	default:
		return "", fmt.Errorf("%s: unable to take state %q: %w", op, id, err)
	}
}

// ClearStaleState purges abandoned correlation-state entries: any entry
// under the state namespace whose Created stamp is at or before
// now-maxAge, and any entry that no longer parses.  Callers treat this as
// fire-and-forget; failures are aggregated and reported, never fatal to the
// flow that triggered the sweep.
// Supported options: WithNow
func ClearStaleState(ctx context.Context, store Storage, maxAge time.Duration, opt ...Option) error {
	const op = "ClearStaleState"
	opts := getStateOpts(opt...)
	cutoff := opts.now().Add(-maxAge).Unix()

	keys, err := store.Keys(ctx)
	if err != nil {
		return fmt.Errorf("%s: unable to enumerate state storage: %w", op, err)
	}

	var errs *multierror.Error
	for _, key := range keys {
		if !strings.HasPrefix(key, stateStorePrefix) {
			continue
		}
		raw, err := store.Get(ctx, key)
		if err != nil {
			continue // raced with a concurrent take; nothing to purge
		}
		state, err := StateFromStorageString(raw)
		if err == nil && state.Created > cutoff {
			continue
		}
		// stale, or unparseable and therefore unusable
		if _, err := store.Remove(ctx, key); err != nil && !isNotFound(err) {
			errs = multierror.Append(errs, fmt.Errorf("%s: unable to remove %s: %w", op, key, err))
		}
	}
	return errs.ErrorOrNil()
}

type stateOptions struct {
	withNowFunc func() time.Time
}

func (o stateOptions) now() time.Time {
	if o.withNowFunc != nil {
		return o.withNowFunc()
	}
	return time.Now()
}

func stateDefaults() stateOptions {
	return stateOptions{}
}

func getStateOpts(opt ...Option) stateOptions {
	opts := stateDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
