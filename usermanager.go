package oidcrp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// UserManagerEvents are the observable moments of the user lifecycle.
// Callbacks fire in subscription order and never fail the raiser.
type UserManagerEvents struct {
	// UserLoaded fires when a user record is established or replaced.
	UserLoaded *Event[*User]

	// UserUnloaded fires when the user record is removed.
	UserUnloaded *Event[struct{}]

	// SilentRenewError fires when an automatic renewal attempt fails for a
	// reason the retry policy will not retry.
	SilentRenewError *Event[error]

	// AccessTokenExpiring fires ExpiringNotificationTime before expiry.
	AccessTokenExpiring *Event[struct{}]

	// AccessTokenExpired fires just after the access token expires.
	AccessTokenExpired *Event[struct{}]

	// UserSignedIn / UserSignedOut / UserSessionChanged fire from session
	// monitoring.
	UserSignedIn       *Event[struct{}]
	UserSignedOut      *Event[struct{}]
	UserSessionChanged *Event[struct{}]
}

func newUserManagerEvents(logger hclog.Logger) *UserManagerEvents {
	opt := WithLogger(logger)
	return &UserManagerEvents{
		UserLoaded:          NewEvent[*User]("user-loaded", opt),
		UserUnloaded:        NewEvent[struct{}]("user-unloaded", opt),
		SilentRenewError:    NewEvent[error]("silent-renew-error", opt),
		AccessTokenExpiring: NewEvent[struct{}]("access-token-expiring", opt),
		AccessTokenExpired:  NewEvent[struct{}]("access-token-expired", opt),
		UserSignedIn:        NewEvent[struct{}]("user-signed-in", opt),
		UserSignedOut:       NewEvent[struct{}]("user-signed-out", opt),
		UserSessionChanged:  NewEvent[struct{}]("user-session-changed", opt),
	}
}

// SigninArgs customize one signin flow.  Zero values defer to settings.
type SigninArgs struct {
	RedirectURI      string
	Scope            string
	Nonce            string
	Prompt           string
	Display          string
	MaxAge           *int64
	UILocales        string
	IDTokenHint      string
	LoginHint        string
	ACRValues        string
	Resource         []string
	ExtraQueryParams map[string]string
	ExtraTokenParams map[string]string

	// StateData is an opaque payload round-tripped through the flow and
	// surfaced again on the resulting User and on any AuthError.
	StateData interface{}

	SkipUserInfo bool
}

// SignoutArgs customize one signout flow.
type SignoutArgs struct {
	PostLogoutRedirectURI string
	IDTokenHint           string
	ExtraQueryParams      map[string]string
	StateData             interface{}
}

// SessionStatus is the outcome of QuerySessionStatus.
type SessionStatus struct {
	// SessionState is the provider's current session_state token.
	SessionState string

	// Subject is the authenticated subject, "" when the session is
	// anonymous.
	Subject string

	// SessionID is the provider's "sid" claim, when issued.
	SessionID string
}

// UserManager composes the protocol components into signin, signout,
// refresh and query-session operations.  It owns the persisted User record,
// the event registry, the silent renewal loop and the optional session
// monitor.  Callers must not run overlapping signin/signout flows against
// the same storage namespace.
type UserManager struct {
	settings    *Settings
	logger      hclog.Logger
	metadata    *MetadataService
	tokenClient *TokenClient
	validator   *ResponseValidator
	events      *UserManagerEvents

	silentRenew    *SilentRenewService
	sessionMonitor *SessionMonitor

	redirectNavigator Navigator
	popupNavigator    Navigator
	iframeNavigator   Navigator
}

// NewUserManager creates a UserManager and its component services from
// settings.
// Supported options: WithRedirectNavigator, WithPopupNavigator,
// WithIframeNavigator, WithCheckSessionChannel
func NewUserManager(settings *Settings, opt ...Option) (*UserManager, error) {
	const op = "NewUserManager"
	if settings == nil {
		return nil, fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}
	opts := getUserManagerOpts(opt...)

	metadata, err := NewMetadataService(settings)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	tokenClient, err := NewTokenClient(settings, metadata)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	validator, err := NewResponseValidator(settings, metadata, tokenClient)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	m := &UserManager{
		settings:          settings,
		logger:            settings.Logger.Named("usermanager"),
		metadata:          metadata,
		tokenClient:       tokenClient,
		validator:         validator,
		events:            newUserManagerEvents(settings.Logger),
		redirectNavigator: opts.withRedirectNavigator,
		popupNavigator:    opts.withPopupNavigator,
		iframeNavigator:   opts.withIframeNavigator,
	}
	m.silentRenew = newSilentRenewService(m)
	if opts.withCheckSessionChannel != nil {
		m.sessionMonitor = newSessionMonitor(m, opts.withCheckSessionChannel)
	}

	if settings.AutomaticSilentRenew {
		m.silentRenew.Start()
	}
	if settings.MonitorSession && m.sessionMonitor != nil {
		m.sessionMonitor.Start()
	}
	return m, nil
}

// Events exposes the manager's event registry.
func (m *UserManager) Events() *UserManagerEvents {
	return m.events
}

// Metadata exposes the manager's metadata service.
func (m *UserManager) Metadata() *MetadataService {
	return m.metadata
}

// User loads the persisted user record, or nil when no user is stored.
func (m *UserManager) User(ctx context.Context) (*User, error) {
	const op = "UserManager.User"
	raw, err := m.settings.UserStore.Get(ctx, m.settings.userStoreKey())
	switch {
	case isNotFound(err):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: unable to load user: %w", op, err)
	}
	user, err := UserFromStorageString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user.nowFunc = m.settings.now
	user.expirySkew = m.settings.ClockSkew
	return user, nil
}

// StoreUser persists user, replacing any existing record and raising
// UserLoaded.  A nil user removes the record and raises UserUnloaded.
func (m *UserManager) StoreUser(ctx context.Context, user *User) error {
	if user == nil {
		return m.removeUser(ctx)
	}
	return m.saveUser(ctx, user)
}

// RemoveUser deletes the persisted user record and raises UserUnloaded.
func (m *UserManager) RemoveUser(ctx context.Context) error {
	return m.removeUser(ctx)
}

// SigninRedirect runs a full-page-redirect signin via the redirect
// navigator and returns the validated, persisted User.
func (m *UserManager) SigninRedirect(ctx context.Context, args SigninArgs) (*User, error) {
	const op = "UserManager.SigninRedirect"
	user, err := m.signin(ctx, m.redirectNavigator, RequestTypeSigninRedirect, args, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// SigninPopup runs a popup signin via the popup navigator and returns the
// validated, persisted User.
func (m *UserManager) SigninPopup(ctx context.Context, args SigninArgs) (*User, error) {
	const op = "UserManager.SigninPopup"
	if args.RedirectURI == "" {
		args.RedirectURI = m.settings.PopupRedirectURI
	}
	user, err := m.signin(ctx, m.popupNavigator, RequestTypeSigninPopup, args, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// SigninSilent renews the user without interaction.  A stored refresh token
// is exchanged directly; only when none exists does the flow fall back to a
// hidden-frame round trip with prompt=none.
func (m *UserManager) SigninSilent(ctx context.Context, args SigninArgs) (*User, error) {
	const op = "UserManager.SigninSilent"
	user, err := m.User(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user != nil && user.RefreshToken != "" {
		renewed, err := m.useRefreshToken(ctx, user, args)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return renewed, nil
	}

	if args.RedirectURI == "" {
		args.RedirectURI = m.settings.SilentRedirectURI
	}
	args.Prompt = "none"
	if user != nil && args.IDTokenHint == "" {
		args.IDTokenHint = user.IDToken
	}
	renewed, err := m.signin(ctx, m.iframeNavigator, RequestTypeSigninSilent, args, m.settings.SilentRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return renewed, nil
}

// SigninResourceOwnerCredentials exchanges a username/password pair for a
// token set without any navigation, then validates and persists the result.
func (m *UserManager) SigninResourceOwnerCredentials(ctx context.Context, username, password string, args SigninArgs) (*User, error) {
	const op = "UserManager.SigninResourceOwnerCredentials"
	scope := defaultString(args.Scope, m.settings.Scope)
	tokenResponse, err := m.tokenClient.ExchangeCredentials(ctx, ExchangeCredentialsArgs{
		Username:         username,
		Password:         password,
		Scope:            scope,
		ExtraTokenParams: args.ExtraTokenParams,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp, err := m.validator.ValidateRefreshResponse(ctx, &RefreshState{
		Scope: scope,
		Data:  args.StateData,
	}, tokenResponse)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user := m.userFromResponse(resp)
	if err := m.saveUser(ctx, user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// SigninCallback finishes a signin flow from its callback URL, dispatching
// on the request-type tag recovered from stored state.
func (m *UserManager) SigninCallback(ctx context.Context, callbackURL string) (*User, error) {
	const op = "UserManager.SigninCallback"
	requestType, err := m.peekRequestType(ctx, callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch requestType {
	case RequestTypeSigninRedirect, RequestTypeSigninPopup, RequestTypeSigninSilent, "":
		user, err := m.processSigninResponse(ctx, callbackURL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return user, nil
	default:
		return nil, fmt.Errorf("%s: stored state is not from a signin flow (%s): %w", op, requestType, ErrInvalidParameter)
	}
}

// SignoutRedirect runs a full-page-redirect signout via the redirect
// navigator.
func (m *UserManager) SignoutRedirect(ctx context.Context, args SignoutArgs) (*SignoutResponse, error) {
	const op = "UserManager.SignoutRedirect"
	resp, err := m.signout(ctx, m.redirectNavigator, RequestTypeSignoutRedirect, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// SignoutPopup runs a popup signout via the popup navigator.
func (m *UserManager) SignoutPopup(ctx context.Context, args SignoutArgs) (*SignoutResponse, error) {
	const op = "UserManager.SignoutPopup"
	resp, err := m.signout(ctx, m.popupNavigator, RequestTypeSignoutPopup, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// SignoutSilent runs a hidden-frame signout via the iframe navigator.
func (m *UserManager) SignoutSilent(ctx context.Context, args SignoutArgs) (*SignoutResponse, error) {
	const op = "UserManager.SignoutSilent"
	resp, err := m.signout(ctx, m.iframeNavigator, RequestTypeSignoutSilent, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// SignoutCallback finishes a signout flow from its callback URL.
func (m *UserManager) SignoutCallback(ctx context.Context, callbackURL string) (*SignoutResponse, error) {
	const op = "UserManager.SignoutCallback"
	requestType, err := m.peekRequestType(ctx, callbackURL)
	if err != nil && !errors.Is(err, ErrNoMatchingState) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch requestType {
	case RequestTypeSignoutRedirect, RequestTypeSignoutPopup, RequestTypeSignoutSilent, "":
		resp, err := m.processSignoutResponse(ctx, callbackURL)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("%s: stored state is not from a signout flow (%s): %w", op, requestType, ErrInvalidParameter)
	}
}

// RevokeTokens revokes the persisted user's tokens, best effort, per the
// configured token types.  A successfully revoked non-access token is
// nulled out of the persisted record.
func (m *UserManager) RevokeTokens(ctx context.Context, tokenTypes ...string) error {
	const op = "UserManager.RevokeTokens"
	user, err := m.User(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if user == nil {
		return nil
	}
	if len(tokenTypes) == 0 {
		tokenTypes = m.settings.RevokeTokenTypes
	}

	var errs *multierror.Error
	changed := false
	for _, hint := range tokenTypes {
		var token string
		switch hint {
		case "refresh_token":
			token = user.RefreshToken
		case "access_token":
			token = user.AccessToken
		default:
			errs = multierror.Append(errs, fmt.Errorf("%s: unknown token type %q: %w", op, hint, ErrInvalidParameter))
			continue
		}
		if token == "" {
			continue
		}
		if err := m.tokenClient.Revoke(ctx, token, hint, false); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: unable to revoke %s: %w", op, hint, err))
			continue
		}
		m.logger.Debug("revoked token", "token_type_hint", hint)
		if hint == "refresh_token" {
			user.RefreshToken = ""
			changed = true
		}
	}
	if changed {
		raw, err := user.ToStorageString()
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", op, err))
		} else if err := m.settings.UserStore.Set(ctx, m.settings.userStoreKey(), raw); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: unable to persist user: %w", op, err))
		}
	}
	return errs.ErrorOrNil()
}

// QuerySessionStatus asks the provider about the current session through a
// prompt=none hidden-frame signin, without touching the persisted user.
func (m *UserManager) QuerySessionStatus(ctx context.Context) (*SessionStatus, error) {
	const op = "UserManager.QuerySessionStatus"
	user, err := m.User(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	args := SigninArgs{
		RedirectURI:  m.settings.SilentRedirectURI,
		Scope:        "openid",
		Prompt:       "none",
		SkipUserInfo: true,
	}
	if user != nil {
		args.IDTokenHint = user.IDToken
	}
	resp, err := m.signinRoundTrip(ctx, m.iframeNavigator, RequestTypeSigninSilent, args, m.settings.SilentRequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.SessionState == "" || resp.Profile.Subject() == "" {
		return nil, fmt.Errorf("%s: provider did not report a session: %w", op, ErrNotFound)
	}
	return &SessionStatus{
		SessionState: resp.SessionState,
		Subject:      resp.Profile.Subject(),
		SessionID:    resp.Profile.SessionID(),
	}, nil
}

// StartSilentRenew arms the expiry-driven renewal loop; starting an already
// started loop is a no-op.
func (m *UserManager) StartSilentRenew() {
	m.silentRenew.Start()
}

// StopSilentRenew disarms the renewal loop.
func (m *UserManager) StopSilentRenew() {
	m.silentRenew.Stop()
}

// SessionMonitor returns the session monitor, or nil when no check-session
// channel was supplied.
func (m *UserManager) SessionMonitor() *SessionMonitor {
	return m.sessionMonitor
}

// signin runs one navigated signin flow end to end and persists the result.
func (m *UserManager) signin(ctx context.Context, navigator Navigator, requestType string, args SigninArgs, timeout time.Duration) (*User, error) {
	resp, err := m.signinRoundTrip(ctx, navigator, requestType, args, timeout)
	if err != nil {
		return nil, err
	}
	user := m.userFromResponse(resp)
	if err := m.saveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// signinRoundTrip runs prepare -> build request -> navigate -> validate,
// without persisting anything beyond the flow's correlation state.
func (m *UserManager) signinRoundTrip(ctx context.Context, navigator Navigator, requestType string, args SigninArgs, timeout time.Duration) (*SigninResponse, error) {
	if navigator == nil {
		return nil, fmt.Errorf("no navigator configured for %s: %w", requestType, ErrNilParameter)
	}
	handle, err := navigator.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare navigation: %w", err)
	}
	defer handle.Close()

	request, err := m.buildSigninRequest(ctx, requestType, args)
	if err != nil {
		return nil, err
	}
	if err := saveState(ctx, m.settings.StateStore, request.State.ID, request.State); err != nil {
		return nil, err
	}
	m.sweepStaleState()

	result, err := handle.Navigate(ctx, NavigateParams{
		URL:          request.URL,
		StateID:      request.State.ID,
		ResponseMode: m.responseMode(request.State.ResponseMode),
		Timeout:      timeout,
	})
	if err != nil {
		return nil, err
	}
	return m.validateSigninCallback(ctx, result.URL)
}

// buildSigninRequest resolves the authorization endpoint and assembles the
// request plus its correlation state from settings and args.
func (m *UserManager) buildSigninRequest(ctx context.Context, requestType string, args SigninArgs) (*SigninRequest, error) {
	authorizationEndpoint, err := m.metadata.AuthorizationEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	extraQuery := mergeParams(m.settings.ExtraQueryParams, args.ExtraQueryParams)
	extraToken := mergeParams(m.settings.ExtraTokenParams, args.ExtraTokenParams)
	return NewSigninRequest(SigninRequestArgs{
		URL:              authorizationEndpoint,
		Authority:        m.settings.Authority,
		ClientID:         m.settings.ClientID,
		RedirectURI:      defaultString(args.RedirectURI, m.settings.RedirectURI),
		ResponseType:     ResponseTypeCode,
		Scope:            defaultString(args.Scope, m.settings.Scope),
		ClientSecret:     string(m.settings.ClientSecret),
		Nonce:            args.Nonce,
		ResponseMode:     "",
		Prompt:           args.Prompt,
		Display:          args.Display,
		MaxAge:           args.MaxAge,
		UILocales:        args.UILocales,
		IDTokenHint:      args.IDTokenHint,
		LoginHint:        args.LoginHint,
		ACRValues:        args.ACRValues,
		Resource:         args.Resource,
		ExtraQueryParams: extraQuery,
		ExtraTokenParams: extraToken,
		StateData:        args.StateData,
		RequestType:      requestType,
		SkipUserInfo:     args.SkipUserInfo,
		DisablePKCE:      m.settings.DisablePKCE,
	}, WithNow(m.settings.now))
}

// validateSigninCallback consumes the stored state for a callback URL and
// validates the response against it.
func (m *UserManager) validateSigninCallback(ctx context.Context, callbackURL string) (*SigninResponse, error) {
	stateID, err := m.callbackStateID(callbackURL)
	if err != nil {
		return nil, err
	}
	raw, err := takeStateString(ctx, m.settings.StateStore, stateID)
	if err != nil {
		return nil, err
	}
	state, err := SigninStateFromStorageString(raw)
	if err != nil {
		return nil, err
	}
	resp, err := ParseSigninResponse(callbackURL, m.responseMode(state.ResponseMode))
	if err != nil {
		return nil, err
	}
	if err := m.validator.ValidateSigninResponse(ctx, state, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// processSigninResponse finishes a callback-driven signin: validate,
// persist, raise.
func (m *UserManager) processSigninResponse(ctx context.Context, callbackURL string) (*User, error) {
	resp, err := m.validateSigninCallback(ctx, callbackURL)
	if err != nil {
		return nil, err
	}
	user := m.userFromResponse(resp)
	if err := m.saveUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// useRefreshToken renews the user through the refresh-token grant, reusing
// the validation path via a synthetic RefreshState.
func (m *UserManager) useRefreshToken(ctx context.Context, user *User, args SigninArgs) (*User, error) {
	tokenResponse, err := m.tokenClient.ExchangeRefreshToken(ctx, ExchangeRefreshTokenArgs{
		RefreshToken:     user.RefreshToken,
		Scope:            args.Scope,
		ExtraTokenParams: mergeParams(m.settings.ExtraTokenParams, args.ExtraTokenParams),
	})
	if err != nil {
		return nil, err
	}
	stateData := args.StateData
	if stateData == nil {
		stateData = user.State
	}
	resp, err := m.validator.ValidateRefreshResponse(ctx, &RefreshState{
		RefreshToken: user.RefreshToken,
		IDToken:      user.IDToken,
		Profile:      user.Profile,
		Scope:        user.Scope,
		SessionState: user.SessionState,
		Data:         stateData,
	}, tokenResponse)
	if err != nil {
		return nil, err
	}
	renewed := m.userFromResponse(resp)
	if err := m.saveUser(ctx, renewed); err != nil {
		return nil, err
	}
	return renewed, nil
}

// signout runs one navigated signout flow end to end.
func (m *UserManager) signout(ctx context.Context, navigator Navigator, requestType string, args SignoutArgs) (*SignoutResponse, error) {
	if navigator == nil {
		return nil, fmt.Errorf("no navigator configured for %s: %w", requestType, ErrNilParameter)
	}
	handle, err := navigator.Prepare(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare navigation: %w", err)
	}
	defer handle.Close()

	user, err := m.User(ctx)
	if err != nil {
		return nil, err
	}
	if m.settings.RevokeTokensOnSignout && user != nil {
		// best effort: an unsupported or failing revocation endpoint must
		// not block the signout
		if err := m.RevokeTokens(ctx); err != nil {
			m.logger.Warn("unable to revoke tokens during signout", "error", err)
		}
	}

	endSessionEndpoint, err := m.metadata.EndSessionEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	if endSessionEndpoint == "" {
		return nil, fmt.Errorf("end_session_endpoint: %w", ErrMissingMetadataProperty)
	}
	idTokenHint := args.IDTokenHint
	if idTokenHint == "" && user != nil {
		idTokenHint = user.IDToken
	}
	request, err := NewSignoutRequest(SignoutRequestArgs{
		URL:                   endSessionEndpoint,
		IDTokenHint:           idTokenHint,
		ClientID:              m.settings.ClientID,
		PostLogoutRedirectURI: defaultString(args.PostLogoutRedirectURI, m.settings.PostLogoutRedirectURI),
		StateData:             args.StateData,
		ExtraQueryParams:      mergeParams(m.settings.ExtraQueryParams, args.ExtraQueryParams),
		RequestType:           requestType,
	}, WithNow(m.settings.now))
	if err != nil {
		return nil, err
	}
	var stateID string
	if request.State != nil {
		if err := saveState(ctx, m.settings.StateStore, request.State.ID, request.State); err != nil {
			return nil, err
		}
		stateID = request.State.ID
	}
	m.sweepStaleState()

	if err := m.removeUser(ctx); err != nil {
		return nil, err
	}

	result, err := handle.Navigate(ctx, NavigateParams{
		URL:          request.URL,
		StateID:      stateID,
		ResponseMode: m.settings.ResponseMode,
	})
	if err != nil {
		return nil, err
	}
	return m.processSignoutResponse(ctx, result.URL)
}

// processSignoutResponse finishes a callback-driven signout, consuming the
// stored state when the callback carries one.
func (m *UserManager) processSignoutResponse(ctx context.Context, callbackURL string) (*SignoutResponse, error) {
	resp, err := ParseSignoutResponse(callbackURL, m.settings.ResponseMode)
	if err != nil {
		return nil, err
	}
	state := &State{}
	if resp.State != "" {
		raw, err := takeStateString(ctx, m.settings.StateStore, resp.State)
		if err != nil {
			return nil, err
		}
		state, err = StateFromStorageString(raw)
		if err != nil {
			return nil, err
		}
	}
	state.ID = resp.State
	if err := m.validator.ValidateSignoutResponse(state, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// userFromResponse builds the persisted User from a validated response.
func (m *UserManager) userFromResponse(resp *SigninResponse) *User {
	user := &User{
		IDToken:      resp.IDToken,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		Scope:        resp.Scope,
		Profile:      resp.Profile,
		SessionState: resp.SessionState,
		State:        resp.UserState,
		nowFunc:      m.settings.now,
		expirySkew:   m.settings.ClockSkew,
	}
	if resp.ExpiresIn > 0 {
		user.ExpiresAt = m.settings.now().Unix() + resp.ExpiresIn
	}
	return user
}

func (m *UserManager) saveUser(ctx context.Context, user *User) error {
	raw, err := user.ToStorageString()
	if err != nil {
		return err
	}
	if err := m.settings.UserStore.Set(ctx, m.settings.userStoreKey(), raw); err != nil {
		return fmt.Errorf("unable to persist user: %w", err)
	}
	m.logger.Debug("user loaded", "sub", user.Profile.Subject())
	m.events.UserLoaded.Raise(user)
	return nil
}

func (m *UserManager) removeUser(ctx context.Context) error {
	_, err := m.settings.UserStore.Remove(ctx, m.settings.userStoreKey())
	switch {
	case isNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("unable to remove user: %w", err)
	}
	m.logger.Debug("user unloaded")
	m.events.UserUnloaded.Raise(struct{}{})
	return nil
}

// sweepStaleState purges abandoned correlation state without blocking the
// flow that triggered it.
func (m *UserManager) sweepStaleState() {
	store, maxAge, now := m.settings.StateStore, m.settings.StaleStateAge, m.settings.now
	go func() {
		if err := ClearStaleState(context.Background(), store, maxAge, WithNow(now)); err != nil {
			m.logger.Debug("stale state sweep reported errors", "error", err)
		}
	}()
}

// peekRequestType reads, without consuming, the request-type tag of the
// state entry a callback URL refers to.
func (m *UserManager) peekRequestType(ctx context.Context, callbackURL string) (string, error) {
	stateID, err := m.callbackStateID(callbackURL)
	if err != nil {
		return "", err
	}
	raw, err := m.settings.StateStore.Get(ctx, stateStoreKey(stateID))
	if isNotFound(err) {
		return "", fmt.Errorf("no stored state for %q: %w", stateID, ErrNoMatchingState)
	}
	if err != nil {
		return "", err
	}
	state, err := StateFromStorageString(raw)
	if err != nil {
		return "", err
	}
	return state.RequestType, nil
}

// callbackStateID extracts the state parameter from a callback URL, trying
// the configured response mode first and the other component second (a
// per-request response-mode override is recorded on the stored state, which
// cannot be read before its id is known).
func (m *UserManager) callbackStateID(callbackURL string) (string, error) {
	modes := []string{ResponseModeQuery, ResponseModeFragment}
	if m.settings.ResponseMode == ResponseModeFragment {
		modes = []string{ResponseModeFragment, ResponseModeQuery}
	}
	for _, mode := range modes {
		values, err := callbackValues(callbackURL, mode)
		if err != nil {
			continue
		}
		if id := values.Get("state"); id != "" {
			return id, nil
		}
	}
	return "", fmt.Errorf("callback url carries no state parameter: %w", ErrNoMatchingState)
}

func (m *UserManager) responseMode(override string) string {
	return defaultString(override, m.settings.ResponseMode)
}

func mergeParams(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

type userManagerOptions struct {
	withRedirectNavigator   Navigator
	withPopupNavigator      Navigator
	withIframeNavigator     Navigator
	withCheckSessionChannel CheckSessionChannel
}

func userManagerDefaults() userManagerOptions {
	return userManagerOptions{}
}

func getUserManagerOpts(opt ...Option) userManagerOptions {
	opts := userManagerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRedirectNavigator supplies the navigator used by redirect flows.
func WithRedirectNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*userManagerOptions); ok {
			o.withRedirectNavigator = n
		}
	}
}

// WithPopupNavigator supplies the navigator used by popup flows.
func WithPopupNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*userManagerOptions); ok {
			o.withPopupNavigator = n
		}
	}
}

// WithIframeNavigator supplies the navigator used by silent flows.
func WithIframeNavigator(n Navigator) Option {
	return func(o interface{}) {
		if o, ok := o.(*userManagerOptions); ok {
			o.withIframeNavigator = n
		}
	}
}

// WithCheckSessionChannel supplies the cross-window channel used for
// session monitoring; without one the SessionMonitor is not created.
func WithCheckSessionChannel(c CheckSessionChannel) Option {
	return func(o interface{}) {
		if o, ok := o.(*userManagerOptions); ok {
			o.withCheckSessionChannel = c
		}
	}
}
