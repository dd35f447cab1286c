package oidcrp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"
	josejwt "gopkg.in/square/go-jose.v2/jwt"
)

// ResponseValidator orchestrates state matching, code exchange, id_token
// claim extraction and claims enrichment into one validated outcome.
//
// Token payloads are decoded structurally only: no signature, issuer,
// audience or expiry verification is performed anywhere in this package,
// even though MetadataService fetches and caches a signing-key set.  Tokens
// are assumed to arrive over a trusted channel directly from the token
// endpoint; callers needing cryptographic verification must perform it out
// of band against MetadataService.SigningKeys.
type ResponseValidator struct {
	settings    *Settings
	metadata    *MetadataService
	tokenClient *TokenClient
	claims      *ClaimsService
	logger      hclog.Logger
	client      *http.Client
}

// NewResponseValidator creates a ResponseValidator for the given
// collaborators.
func NewResponseValidator(settings *Settings, metadata *MetadataService, tokenClient *TokenClient) (*ResponseValidator, error) {
	const op = "NewResponseValidator"
	if settings == nil {
		return nil, fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%s: metadata service is nil: %w", op, ErrNilParameter)
	}
	if tokenClient == nil {
		return nil, fmt.Errorf("%s: token client is nil: %w", op, ErrNilParameter)
	}
	client, err := settings.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	return &ResponseValidator{
		settings:    settings,
		metadata:    metadata,
		tokenClient: tokenClient,
		claims:      NewClaimsService(settings),
		logger:      settings.Logger.Named("validator"),
		client:      client,
	}, nil
}

// ValidateSigninResponse drives a signin response through the validation
// pipeline, enriching resp in place: state matching, code exchange, id_token
// claim extraction and claims enrichment.
func (v *ResponseValidator) ValidateSigninResponse(ctx context.Context, state *SigninState, resp *SigninResponse) error {
	const op = "ResponseValidator.ValidateSigninResponse"
	if state == nil || resp == nil {
		return fmt.Errorf("%s: state or response is nil: %w", op, ErrNilParameter)
	}
	if err := v.processSigninState(state, resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.Code != "" {
		if err := v.processCode(ctx, state, resp); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := v.processClaims(ctx, state.Scope, state.SkipUserInfo, resp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ValidateSignoutResponse checks a signout response against its stored
// state.  Only state-id equality is checked; a provider error parameter is
// surfaced with the round-tripped caller data attached.
func (v *ResponseValidator) ValidateSignoutResponse(state *State, resp *SignoutResponse) error {
	const op = "ResponseValidator.ValidateSignoutResponse"
	if state == nil || resp == nil {
		return fmt.Errorf("%s: state or response is nil: %w", op, ErrNilParameter)
	}
	resp.UserState = state.Data
	if resp.State != "" && resp.State != state.ID {
		return fmt.Errorf("%s: %w", op, ErrStateMismatch)
	}
	if resp.Error != "" {
		v.logger.Warn("signout response carries an error", "error", resp.Error)
		return &AuthError{
			Code:        resp.Error,
			Description: resp.ErrorDescription,
			URI:         resp.ErrorURI,
			State:       state.Data,
		}
	}
	return nil
}

// ValidateRefreshResponse reuses the signin claim pipeline against a
// synthetic RefreshState.  When the provider omits scope or session_state
// from its response, the prior values apply unchanged (omission means "all
// originally granted scopes still apply").
func (v *ResponseValidator) ValidateRefreshResponse(ctx context.Context, state *RefreshState, tokenResponse *TokenResponse) (*SigninResponse, error) {
	const op = "ResponseValidator.ValidateRefreshResponse"
	if state == nil || tokenResponse == nil {
		return nil, fmt.Errorf("%s: state or token response is nil: %w", op, ErrNilParameter)
	}
	if tokenResponse.Error != "" {
		return nil, &AuthError{
			Code:        tokenResponse.Error,
			Description: tokenResponse.ErrorDescription,
			URI:         tokenResponse.ErrorURI,
			State:       state.Data,
		}
	}

	resp := &SigninResponse{
		AccessToken:  tokenResponse.AccessToken,
		TokenType:    tokenResponse.TokenType,
		IDToken:      tokenResponse.IDToken,
		RefreshToken: tokenResponse.RefreshToken,
		Scope:        tokenResponse.Scope,
		SessionState: tokenResponse.SessionState,
		ExpiresIn:    tokenResponse.ExpiresIn,
		UserState:    state.Data,
	}
	if resp.Scope == "" {
		resp.Scope = state.Scope
	}
	if resp.SessionState == "" {
		resp.SessionState = state.SessionState
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = state.RefreshToken
	}

	if resp.IDToken != "" {
		claims, err := parseJWTClaims(resp.IDToken)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		// compare against the prior id_token's raw claims when available;
		// the stored profile has protocol claims like auth_time and azp
		// already filtered out
		prior := state.Profile
		if state.IDToken != "" {
			if decoded, err := parseJWTClaims(state.IDToken); err == nil {
				prior = decoded
			}
		}
		if err := validateRenewedClaims(claims, prior); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := v.enrichProfile(ctx, claims, resp, state.Scope, false); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else {
		// no renewed id_token; the prior token and profile carry over
		resp.IDToken = state.IDToken
		resp.Profile = state.Profile
	}
	return resp, nil
}

// processSigninState is the awaiting-state-check step: stored state id must
// equal the response state, the stored client/authority must agree with the
// current settings, a provider error fails the flow, and PKCE without a
// returned code fails the flow.
func (v *ResponseValidator) processSigninState(state *SigninState, resp *SigninResponse) error {
	resp.UserState = state.Data
	if resp.State != state.ID {
		return ErrNoMatchingState
	}
	if state.ClientID != "" && state.ClientID != v.settings.ClientID {
		return fmt.Errorf("stored client_id %q does not match settings: %w", state.ClientID, ErrStateMismatch)
	}
	if state.Authority != "" && v.settings.Authority != "" && state.Authority != v.settings.Authority {
		return fmt.Errorf("stored authority %q does not match settings: %w", state.Authority, ErrStateMismatch)
	}
	if resp.Error != "" {
		v.logger.Warn("signin response carries an error", "error", resp.Error)
		return &AuthError{
			Code:         resp.Error,
			Description:  resp.ErrorDescription,
			URI:          resp.ErrorURI,
			State:        state.Data,
			SessionState: resp.SessionState,
		}
	}
	if state.CodeVerifier != "" && resp.Code == "" {
		return ErrMissingCode
	}
	return nil
}

// processCode is the awaiting-code-exchange step: exchange the code using
// the stored redirect URI, client credentials and code verifier, then
// overlay the exchange result onto the response.
func (v *ResponseValidator) processCode(ctx context.Context, state *SigninState, resp *SigninResponse) error {
	tokenResponse, err := v.tokenClient.ExchangeCode(ctx, ExchangeCodeArgs{
		Code:             resp.Code,
		RedirectURI:      state.RedirectURI,
		CodeVerifier:     state.CodeVerifier,
		ClientID:         state.ClientID,
		ClientSecret:     state.ClientSecret,
		ExtraTokenParams: state.ExtraTokenParams,
	})
	if err != nil {
		return err
	}
	if tokenResponse.Error != "" {
		return &AuthError{
			Code:        tokenResponse.Error,
			Description: tokenResponse.ErrorDescription,
			URI:         tokenResponse.ErrorURI,
			State:       state.Data,
		}
	}
	resp.AccessToken = tokenResponse.AccessToken
	resp.TokenType = tokenResponse.TokenType
	resp.IDToken = tokenResponse.IDToken
	resp.RefreshToken = tokenResponse.RefreshToken
	resp.ExpiresIn = tokenResponse.ExpiresIn
	if tokenResponse.Scope != "" {
		resp.Scope = tokenResponse.Scope
	}
	if tokenResponse.SessionState != "" {
		resp.SessionState = tokenResponse.SessionState
	}
	return nil
}

// processClaims is the awaiting-id-token-check and awaiting-claims steps:
// decode the id_token payload (structurally), require a subject, then filter
// and optionally enrich the profile with userinfo claims.
func (v *ResponseValidator) processClaims(ctx context.Context, requestedScope string, skipUserInfo bool, resp *SigninResponse) error {
	if !resp.isOIDC(requestedScope) {
		resp.Profile = Claims{}
		return nil
	}
	if resp.IDToken == "" {
		return ErrMissingIDToken
	}
	claims, err := parseJWTClaims(resp.IDToken)
	if err != nil {
		return err
	}
	if claims.Subject() == "" {
		return ErrMissingSubject
	}
	return v.enrichProfile(ctx, claims, resp, requestedScope, skipUserInfo)
}

// enrichProfile filters protocol claims and, unless skipped or disabled,
// merges userinfo claims whose subject must match the id_token's.
func (v *ResponseValidator) enrichProfile(ctx context.Context, claims Claims, resp *SigninResponse, requestedScope string, skipUserInfo bool) error {
	profile := v.claims.FilterProtocolClaims(claims)
	if !skipUserInfo && v.settings.LoadUserInfo && resp.AccessToken != "" {
		userInfo, err := v.fetchUserInfo(ctx, resp.AccessToken, resp.TokenType)
		if err != nil {
			return fmt.Errorf("unable to load userinfo: %w", err)
		}
		if userInfo.Subject() != claims.Subject() {
			return fmt.Errorf("userinfo sub %q differs from id_token sub %q: %w", userInfo.Subject(), claims.Subject(), ErrSubjectMismatch)
		}
		profile = v.claims.MergeClaims(profile, v.claims.FilterProtocolClaims(userInfo))
	}
	resp.Profile = profile
	return nil
}

// fetchUserInfo gets claims from the userinfo endpoint with a bearer token.
// The response body may be JSON or a signed token, which is decoded
// structurally like every other token in this package.
func (v *ResponseValidator) fetchUserInfo(ctx context.Context, accessToken, tokenType string) (Claims, error) {
	endpoint, err := v.metadata.UserinfoEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build userinfo request: %w", err)
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   tokenType,
	})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("unable to resolve bearer token: %w", err)
	}
	token.SetAuthHeader(req)

	resp, err := httpClientFromContext(ctx, v.client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("userinfo request to %s failed: %w", endpoint, err)
	}
	defer closeQuietly(resp.Body, v.logger)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from userinfo endpoint", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataResponseSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read userinfo response: %w", err)
	}

	if responseContentType(resp) == "application/jwt" {
		return parseJWTClaims(string(body))
	}
	var claims Claims
	if err := json.Unmarshal(body, &claims); err != nil {
		return nil, fmt.Errorf("unexpected userinfo response: %w", err)
	}
	return claims, nil
}

// validateRenewedClaims re-validates a renewed id_token's claims against the
// prior profile: the subject must match, auth_time must match when the prior
// profile carried one, and azp presence/value must be consistent.
func validateRenewedClaims(renewed Claims, prior Claims) error {
	if renewed.Subject() == "" {
		return ErrMissingSubject
	}
	if prior == nil {
		return nil
	}
	if sub := prior.Subject(); sub != "" && renewed.Subject() != sub {
		return fmt.Errorf("renewed sub %q differs from prior sub %q: %w", renewed.Subject(), sub, ErrSubjectMismatch)
	}
	if priorAuthTime, ok := prior["auth_time"]; ok {
		renewedAuthTime, ok := renewed["auth_time"]
		if !ok || fmt.Sprint(renewedAuthTime) != fmt.Sprint(priorAuthTime) {
			return ErrAuthTimeMismatch
		}
	}
	priorAzp, priorHasAzp := prior["azp"]
	renewedAzp, renewedHasAzp := renewed["azp"]
	if priorHasAzp != renewedHasAzp || (priorHasAzp && fmt.Sprint(priorAzp) != fmt.Sprint(renewedAzp)) {
		return ErrAzpMismatch
	}
	return nil
}

// parseJWTClaims structurally decodes a signed token's payload.  No
// cryptographic verification is performed; see the ResponseValidator doc.
func parseJWTClaims(raw string) (Claims, error) {
	token, err := josejwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("unable to parse token: %w", err)
	}
	var claims Claims
	if err := token.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return nil, fmt.Errorf("unable to decode token payload: %w", err)
	}
	return claims, nil
}
