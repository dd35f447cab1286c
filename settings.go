package oidcrp

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/square/go-jose.v2"

	strutil "github.com/authrelay/oidcrp/internal/strutils"
)

// ClientSecret is an oauth client secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret.
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret.
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret.
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Client authentication methods for the token endpoint, using the discovery
// metadata vocabulary.
const (
	AuthMethodSecretPost  = "client_secret_post"
	AuthMethodSecretBasic = "client_secret_basic"
)

// Response modes describing which callback URL component carries the
// authorization response parameters.
const (
	ResponseModeQuery    = "query"
	ResponseModeFragment = "fragment"
)

const (
	// DefaultScope is requested when Settings.Scope is empty.
	DefaultScope = "openid"

	// DefaultStaleStateAge is the age after which an unconsumed correlation
	// state entry is considered abandoned.
	DefaultStaleStateAge = 15 * time.Minute

	// DefaultClockSkew is the tolerated clock difference between this party
	// and the provider when deciding whether an access token has expired.
	DefaultClockSkew = 10 * time.Second

	// DefaultExpiringNotificationTime is how long before access-token expiry
	// the expiring notification fires.
	DefaultExpiringNotificationTime = 60 * time.Second

	// DefaultSilentRequestTimeout bounds hidden-frame navigations.
	DefaultSilentRequestTimeout = 10 * time.Second

	// DefaultCheckSessionInterval is the period of check-session polling.
	DefaultCheckSessionInterval = 2 * time.Second
)

// Settings is the immutable configuration for a relying party.  Construct it
// once with NewSettings; the zero value of every optional field selects the
// documented default.
type Settings struct {
	// Authority is the provider's issuer URL, used for metadata discovery
	// unless MetadataURL overrides the discovery location.
	Authority string

	// MetadataURL optionally overrides "{Authority}/.well-known/openid-configuration".
	MetadataURL string

	// MetadataSeed is an optional pre-seeded partial discovery document,
	// merged under the fetched one (fetched values win on key collision).
	MetadataSeed *ProviderMetadata

	// SigningKeys optionally pre-supplies the provider's signing keys,
	// short-circuiting the jwks_uri fetch.
	SigningKeys []jose.JSONWebKey

	// ClientID is the relying party id.
	ClientID string

	// ClientSecret is the relying party secret, required only for
	// client_secret_basic authentication or confidential clients.
	ClientSecret ClientSecret

	// RedirectURI is the provider's redirect target after signin.
	RedirectURI string

	// PostLogoutRedirectURI is the provider's redirect target after signout.
	PostLogoutRedirectURI string

	// SilentRedirectURI is the redirect target for hidden-frame renewals.
	// Defaults to RedirectURI.
	SilentRedirectURI string

	// PopupRedirectURI is the redirect target for popup flows.  Defaults to
	// RedirectURI.
	PopupRedirectURI string

	// ResponseMode selects which callback URL component carries response
	// parameters: ResponseModeQuery (default) or ResponseModeFragment.
	ResponseMode string

	// Scope is the space-delimited scope list to request.  Defaults to
	// DefaultScope.
	Scope string

	// DisablePKCE turns off PKCE.  PKCE is on by default; only
	// response_type=code is supported, and code exchanges carry the state's
	// code_verifier unless disabled here.
	DisablePKCE bool

	// DisableProtocolClaimsFilter keeps protocol-reserved claims in
	// profiles instead of filtering them.
	DisableProtocolClaimsFilter bool

	// ProtocolClaimsFilter optionally overrides the default set of
	// protocol-reserved claim names removed from profiles.  sub, iss, aud,
	// exp and iat are never removed regardless of this list.
	ProtocolClaimsFilter []string

	// LoadUserInfo enables fetching userinfo claims after signin and
	// merging them into the profile.
	LoadUserInfo bool

	// MergeObjectClaims enables deep merging when a claim's existing and
	// incoming values are both objects; otherwise the two values collapse
	// into a two-element array.
	MergeObjectClaims bool

	// TokenEndpointAuthMethod selects client authentication for the token
	// and revocation endpoints: AuthMethodSecretPost (default) or
	// AuthMethodSecretBasic.  Basic requires a ClientSecret.
	TokenEndpointAuthMethod string

	// ExtraQueryParams are appended to every authorization request URL.
	ExtraQueryParams map[string]string

	// ExtraTokenParams are appended to every token grant request body.
	ExtraTokenParams map[string]string

	// ExtraHeaders are added to every token grant request.
	ExtraHeaders map[string]string

	// StateStore persists correlation state.  Defaults to an in-process
	// MemoryStorage.
	StateStore Storage

	// UserStore persists the user record.  Defaults to an in-process
	// MemoryStorage.
	UserStore Storage

	// StaleStateAge is the age after which unconsumed correlation state is
	// purged.  Defaults to DefaultStaleStateAge.
	StaleStateAge time.Duration

	// ClockSkew is the tolerated clock difference applied by User.Expired:
	// a token within ClockSkew of its expiry is already treated as expired.
	// Defaults to DefaultClockSkew.
	ClockSkew time.Duration

	// ExpiringNotificationTime is how long before access-token expiry the
	// expiring event fires.  Defaults to DefaultExpiringNotificationTime.
	ExpiringNotificationTime time.Duration

	// SilentRequestTimeout bounds hidden-frame navigations; exceeding it
	// yields a TimeoutError.  Defaults to DefaultSilentRequestTimeout.
	SilentRequestTimeout time.Duration

	// AutomaticSilentRenew starts the silent renewal loop as soon as a user
	// with an expiring access token is loaded.
	AutomaticSilentRenew bool

	// MonitorSession starts check-session polling when a user is loaded.
	MonitorSession bool

	// MonitorAnonymousSession keeps one-shot session queries running after
	// the user record is unloaded.
	MonitorAnonymousSession bool

	// CheckSessionInterval is the period of check-session polling.
	// Defaults to DefaultCheckSessionInterval.
	CheckSessionInterval time.Duration

	// ContinueCheckSessionOnError keeps polling after the check-session
	// channel reports an error signal; by default polling stops.
	ContinueCheckSessionOnError bool

	// RevokeTokensOnSignout revokes tokens (best effort) before a signout
	// navigation.
	RevokeTokensOnSignout bool

	// RevokeTokenTypes lists the token type hints revoked on signout.
	// Defaults to refresh_token then access_token.
	RevokeTokenTypes []string

	// ProviderCA is an optional CA cert PEM to trust when sending requests
	// to the provider.
	ProviderCA string

	// Logger is an optional logger shared by every component built from
	// these settings.  Defaults to a named null logger.
	Logger hclog.Logger

	nowFunc func() time.Time
}

// NewSettings copies s, applies defaults and validates the result.
// Supported options: WithNow, WithLogger
func NewSettings(s Settings, opt ...Option) (*Settings, error) {
	const op = "NewSettings"
	opts := getSettingsOpts(opt...)
	if opts.withNowFunc != nil {
		s.nowFunc = opts.withNowFunc
	}
	if opts.withLogger != nil {
		s.Logger = opts.withLogger
	}
	s.applyDefaults()
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid settings: %w", op, err)
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if s.ResponseMode == "" {
		s.ResponseMode = ResponseModeQuery
	}
	if s.Scope == "" {
		s.Scope = DefaultScope
	}
	if s.TokenEndpointAuthMethod == "" {
		s.TokenEndpointAuthMethod = AuthMethodSecretPost
	}
	if s.SilentRedirectURI == "" {
		s.SilentRedirectURI = s.RedirectURI
	}
	if s.PopupRedirectURI == "" {
		s.PopupRedirectURI = s.RedirectURI
	}
	if s.StateStore == nil {
		s.StateStore = NewMemoryStorage()
	}
	if s.UserStore == nil {
		s.UserStore = NewMemoryStorage()
	}
	if s.StaleStateAge == 0 {
		s.StaleStateAge = DefaultStaleStateAge
	}
	if s.ClockSkew == 0 {
		s.ClockSkew = DefaultClockSkew
	}
	if s.ExpiringNotificationTime == 0 {
		s.ExpiringNotificationTime = DefaultExpiringNotificationTime
	}
	if s.SilentRequestTimeout == 0 {
		s.SilentRequestTimeout = DefaultSilentRequestTimeout
	}
	if s.CheckSessionInterval == 0 {
		s.CheckSessionInterval = DefaultCheckSessionInterval
	}
	if len(s.RevokeTokenTypes) == 0 {
		s.RevokeTokenTypes = []string{"refresh_token", "access_token"}
	}
	if s.Logger == nil {
		s.Logger = hclog.NewNullLogger()
	}
}

func (s *Settings) validate() error {
	const op = "Settings.validate"
	if s == nil {
		return fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}
	if s.Authority == "" && s.MetadataURL == "" && s.MetadataSeed == nil {
		return fmt.Errorf("%s: authority is empty: %w", op, ErrInvalidParameter)
	}
	if s.Authority != "" {
		u, err := url.Parse(s.Authority)
		if err != nil {
			return fmt.Errorf("%s: authority %s is invalid: %w", op, s.Authority, err)
		}
		if !strutil.StrListContains([]string{"https", "http"}, u.Scheme) {
			return fmt.Errorf("%s: authority %s scheme is not http or https: %w", op, s.Authority, ErrInvalidParameter)
		}
	}
	if s.ClientID == "" {
		return fmt.Errorf("%s: client id is empty: %w", op, ErrInvalidParameter)
	}
	if !strutil.StrListContains([]string{ResponseModeQuery, ResponseModeFragment}, s.ResponseMode) {
		return fmt.Errorf("%s: response mode %q is not query or fragment: %w", op, s.ResponseMode, ErrInvalidParameter)
	}
	if !strutil.StrListContains([]string{AuthMethodSecretPost, AuthMethodSecretBasic}, s.TokenEndpointAuthMethod) {
		return fmt.Errorf("%s: unsupported token endpoint auth method %q: %w", op, s.TokenEndpointAuthMethod, ErrInvalidParameter)
	}
	if s.TokenEndpointAuthMethod == AuthMethodSecretBasic && s.ClientSecret == "" {
		return fmt.Errorf("%s: %s requires a client secret: %w", op, AuthMethodSecretBasic, ErrInvalidParameter)
	}
	return nil
}

// now returns the current time, honoring WithNow.
func (s *Settings) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now()
}

// userStoreKey is the composite key the user record is persisted under.
func (s *Settings) userStoreKey() string {
	return fmt.Sprintf("user:%s:%s", s.Authority, s.ClientID)
}

type settingsOptions struct {
	withNowFunc func() time.Time
	withLogger  hclog.Logger
}

func settingsDefaults() settingsOptions {
	return settingsOptions{}
}

func getSettingsOpts(opt ...Option) settingsOptions {
	opts := settingsDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
