package oidcrp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// User is the externally visible authenticated session, owned and persisted
// by the UserManager: created on successful validation, replaced on refresh
// or revocation, deleted on sign-out.  Expiry is always derived from
// ExpiresAt against the current time, never stored.
type User struct {
	// IDToken is the raw id_token, when the signin was an OIDC request.
	IDToken string `json:"id_token,omitempty"`

	// AccessToken authorizes calls against the provider's APIs.
	AccessToken string `json:"access_token"`

	// RefreshToken, when granted, enables silent renewal without a
	// hidden-frame round trip.
	RefreshToken string `json:"refresh_token,omitempty"`

	// TokenType is the access token's type, typically "Bearer".
	TokenType string `json:"token_type"`

	// Scope is the granted scope list, when the provider reported one.
	Scope string `json:"scope,omitempty"`

	// Profile is the filtered, merged claim set for the subject.
	Profile Claims `json:"profile"`

	// ExpiresAt is the access token's expiry in epoch seconds; zero means
	// no known expiry.
	ExpiresAt int64 `json:"expires_at,omitempty"`

	// SessionState is the provider's session_state for check-session
	// polling.
	SessionState string `json:"session_state,omitempty"`

	// State is the opaque caller payload recovered from the flow that
	// produced this user.
	State interface{} `json:"state,omitempty"`

	nowFunc    func() time.Time
	expirySkew time.Duration
}

// ExpiresIn derives the seconds until the access token expires; negative
// when already expired, zero when no expiry is known.
func (u *User) ExpiresIn(opt ...Option) int64 {
	if u.ExpiresAt == 0 {
		return 0
	}
	return u.ExpiresAt - u.now(opt...).Unix()
}

// Expired reports whether the access token's expiry has passed, within the
// tolerated clock skew.  Users materialized by a UserManager carry the
// configured Settings.ClockSkew; WithExpirySkew overrides it for one check.
// A user with no known expiry never reports expired.
func (u *User) Expired(opt ...Option) bool {
	if u.ExpiresAt == 0 {
		return false
	}
	return u.ExpiresIn(opt...) <= int64(u.skew(opt...).Seconds())
}

// Scopes splits the granted scope list.
func (u *User) Scopes() []string {
	return strings.Fields(u.Scope)
}

// TokenSource bridges the persisted user to oauth2-consuming code: it yields
// the user's current access token as a static oauth2 token.
func (u *User) TokenSource() oauth2.TokenSource {
	token := &oauth2.Token{
		AccessToken:  u.AccessToken,
		TokenType:    u.TokenType,
		RefreshToken: u.RefreshToken,
	}
	if u.ExpiresAt != 0 {
		token.Expiry = time.Unix(u.ExpiresAt, 0)
	}
	return oauth2.StaticTokenSource(token)
}

// ToStorageString serializes the User to its canonical JSON storage shape.
func (u *User) ToStorageString() (string, error) {
	const op = "User.ToStorageString"
	b, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("%s: unable to marshal user: %w", op, err)
	}
	return string(b), nil
}

// UserFromStorageString deserializes a User from its storage shape.
func UserFromStorageString(raw string) (*User, error) {
	const op = "UserFromStorageString"
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%s: unable to unmarshal user: %w", op, err)
	}
	return &u, nil
}

func (u *User) now(opt ...Option) time.Time {
	opts := getUserOpts(opt...)
	switch {
	case opts.withNowFunc != nil:
		return opts.withNowFunc()
	case u.nowFunc != nil:
		return u.nowFunc()
	default:
		return time.Now()
	}
}

func (u *User) skew(opt ...Option) time.Duration {
	opts := getUserOpts(opt...)
	if opts.withExpirySkew != nil {
		return *opts.withExpirySkew
	}
	return u.expirySkew
}

type userOptions struct {
	withNowFunc    func() time.Time
	withExpirySkew *time.Duration
}

func userDefaults() userOptions {
	return userOptions{}
}

func getUserOpts(opt ...Option) userOptions {
	opts := userDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
