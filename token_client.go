package oidcrp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// Grant types posted to the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
)

// TokenResponse is the token endpoint's JSON body, decoded verbatim.  The
// grant client never interprets token contents; the ResponseValidator does.
type TokenResponse struct {
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`

	AccessToken  string `json:"access_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	SessionState string `json:"session_state,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// TokenClient performs the three OAuth2 grant exchanges and revocation
// against the discovered token and revocation endpoints.
type TokenClient struct {
	settings *Settings
	metadata *MetadataService
	logger   hclog.Logger
	client   *http.Client
}

// NewTokenClient creates a TokenClient for the given settings and metadata
// service.
func NewTokenClient(settings *Settings, metadata *MetadataService) (*TokenClient, error) {
	const op = "NewTokenClient"
	if settings == nil {
		return nil, fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}
	if metadata == nil {
		return nil, fmt.Errorf("%s: metadata service is nil: %w", op, ErrNilParameter)
	}
	client, err := settings.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	return &TokenClient{
		settings: settings,
		metadata: metadata,
		logger:   settings.Logger.Named("token-client"),
		client:   client,
	}, nil
}

// ExchangeCodeArgs are the arguments for an authorization-code exchange.
// Zero-valued client fields default from the instance settings.
type ExchangeCodeArgs struct {
	Code             string
	RedirectURI      string
	CodeVerifier     string
	ClientID         string
	ClientSecret     string
	ExtraTokenParams map[string]string
}

// ExchangeCode exchanges an authorization code (plus its PKCE verifier) for
// a token set.
func (c *TokenClient) ExchangeCode(ctx context.Context, args ExchangeCodeArgs) (*TokenResponse, error) {
	const op = "TokenClient.ExchangeCode"
	params := url.Values{}
	params.Set("grant_type", GrantTypeAuthorizationCode)
	setNonEmpty(params, "code", args.Code)
	setNonEmpty(params, "redirect_uri", defaultString(args.RedirectURI, c.settings.RedirectURI))
	setNonEmpty(params, "code_verifier", args.CodeVerifier)
	for k, v := range args.ExtraTokenParams {
		params.Set(k, v)
	}
	for _, required := range []string{"code", "redirect_uri", "code_verifier"} {
		if params.Get(required) == "" {
			return nil, fmt.Errorf("%s: %s is missing: %w", op, required, ErrInvalidParameter)
		}
	}
	resp, err := c.exchange(ctx, params, args.ClientID, args.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// ExchangeCredentialsArgs are the arguments for a resource-owner-credentials
// exchange.
type ExchangeCredentialsArgs struct {
	Username         string
	Password         string
	Scope            string
	ClientID         string
	ClientSecret     string
	ExtraTokenParams map[string]string
}

// ExchangeCredentials exchanges resource-owner credentials for a token set.
func (c *TokenClient) ExchangeCredentials(ctx context.Context, args ExchangeCredentialsArgs) (*TokenResponse, error) {
	const op = "TokenClient.ExchangeCredentials"
	params := url.Values{}
	params.Set("grant_type", GrantTypePassword)
	setNonEmpty(params, "username", args.Username)
	setNonEmpty(params, "password", args.Password)
	setNonEmpty(params, "scope", defaultString(args.Scope, c.settings.Scope))
	for k, v := range args.ExtraTokenParams {
		params.Set(k, v)
	}
	for _, required := range []string{"username", "password"} {
		if params.Get(required) == "" {
			return nil, fmt.Errorf("%s: %s is missing: %w", op, required, ErrInvalidParameter)
		}
	}
	resp, err := c.exchange(ctx, params, args.ClientID, args.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// ExchangeRefreshTokenArgs are the arguments for a refresh-token exchange.
type ExchangeRefreshTokenArgs struct {
	RefreshToken     string
	Scope            string
	ClientID         string
	ClientSecret     string
	ExtraTokenParams map[string]string
}

// ExchangeRefreshToken exchanges a refresh token for a fresh token set.
func (c *TokenClient) ExchangeRefreshToken(ctx context.Context, args ExchangeRefreshTokenArgs) (*TokenResponse, error) {
	const op = "TokenClient.ExchangeRefreshToken"
	params := url.Values{}
	params.Set("grant_type", GrantTypeRefreshToken)
	setNonEmpty(params, "refresh_token", args.RefreshToken)
	setNonEmpty(params, "scope", args.Scope)
	for k, v := range args.ExtraTokenParams {
		params.Set(k, v)
	}
	if params.Get("refresh_token") == "" {
		return nil, fmt.Errorf("%s: refresh_token is missing: %w", op, ErrInvalidParameter)
	}
	resp, err := c.exchange(ctx, params, args.ClientID, args.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

// Revoke posts a token to the discovered revocation endpoint.  When required
// is false and the provider advertises no revocation endpoint, Revoke is a
// logged no-op.
func (c *TokenClient) Revoke(ctx context.Context, token, tokenTypeHint string, required bool) error {
	const op = "TokenClient.Revoke"
	if token == "" {
		return fmt.Errorf("%s: token is empty: %w", op, ErrInvalidParameter)
	}
	endpoint, err := c.metadata.RevocationEndpoint(ctx, required)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if endpoint == "" {
		if required {
			return fmt.Errorf("%s: %w", op, ErrRevocationNotSupported)
		}
		c.logger.Debug("provider does not support revocation, skipping", "token_type_hint", tokenTypeHint)
		return nil
	}

	params := url.Values{}
	params.Set("token", token)
	setNonEmpty(params, "token_type_hint", tokenTypeHint)

	resp, err := c.postForm(ctx, endpoint, params, "", "")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer closeQuietly(resp.Body, c.logger)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d from revocation endpoint", op, resp.StatusCode)
	}
	return nil
}

// exchange posts a grant to the token endpoint and decodes the JSON body
// verbatim.
func (c *TokenClient) exchange(ctx context.Context, params url.Values, clientID, clientSecret string) (*TokenResponse, error) {
	endpoint, err := c.metadata.TokenEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.postForm(ctx, endpoint, params, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	defer closeQuietly(resp.Body, c.logger)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataResponseSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read token endpoint response: %w", err)
	}
	var tokenResponse TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("unexpected token endpoint response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && tokenResponse.Error == "" {
		return nil, fmt.Errorf("unexpected status %d from token endpoint", resp.StatusCode)
	}
	return &tokenResponse, nil
}

// postForm sends a form body with client authentication per settings: basic
// auth moves the client credentials into the Authorization header, otherwise
// they are appended to the body.
func (c *TokenClient) postForm(ctx context.Context, endpoint string, params url.Values, clientID, clientSecret string) (*http.Response, error) {
	clientID = defaultString(clientID, c.settings.ClientID)
	clientSecret = defaultString(clientSecret, string(c.settings.ClientSecret))
	if clientID == "" {
		return nil, fmt.Errorf("client_id is missing: %w", ErrInvalidParameter)
	}

	basic := c.settings.TokenEndpointAuthMethod == AuthMethodSecretBasic
	if basic && clientSecret == "" {
		return nil, fmt.Errorf("%s requires a client secret: %w", AuthMethodSecretBasic, ErrInvalidParameter)
	}
	if !basic {
		params.Set("client_id", clientID)
		setNonEmpty(params, "client_secret", clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if basic {
		req.SetBasicAuth(url.QueryEscape(clientID), url.QueryEscape(clientSecret))
	}
	for k, v := range c.settings.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := httpClientFromContext(ctx, c.client).Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request to %s failed: %w", endpoint, err)
	}
	return resp, nil
}

func setNonEmpty(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func defaultString(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func closeQuietly(body io.Closer, logger hclog.Logger) {
	if err := body.Close(); err != nil && logger != nil {
		logger.Debug("unable to close response body", "error", err)
	}
}
