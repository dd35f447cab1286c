package oidcrp

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSigninRequestArgs() SigninRequestArgs {
	return SigninRequestArgs{
		URL:          "https://example.com/auth",
		Authority:    "https://example.com",
		ClientID:     "test-rp",
		RedirectURI:  "https://example.com/callback",
		ResponseType: ResponseTypeCode,
		Scope:        "openid",
	}
}

func queryKeys(t *testing.T, rawURL string) []string {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	var keys []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		keys = append(keys, strings.SplitN(pair, "=", 2)[0])
	}
	return keys
}

func TestNewSigninRequest_RequiredFields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mod  func(*SigninRequestArgs)
	}{
		{"missing-url", func(a *SigninRequestArgs) { a.URL = "" }},
		{"missing-client-id", func(a *SigninRequestArgs) { a.ClientID = "" }},
		{"missing-redirect-uri", func(a *SigninRequestArgs) { a.RedirectURI = "" }},
		{"missing-response-type", func(a *SigninRequestArgs) { a.ResponseType = "" }},
		{"missing-scope", func(a *SigninRequestArgs) { a.Scope = "" }},
		{"missing-authority", func(a *SigninRequestArgs) { a.Authority = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			args := validSigninRequestArgs()
			tt.mod(&args)
			got, err := NewSigninRequest(args)
			assert.Nil(got)
			assert.ErrorIs(err, ErrInvalidParameter)
		})
	}
}

func TestNewSigninRequest_ResponseType(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	for _, responseType := range []string{"token", "id_token", "code id_token"} {
		args := validSigninRequestArgs()
		args.ResponseType = responseType
		got, err := NewSigninRequest(args)
		assert.Nil(got)
		assert.ErrorIs(err, ErrUnsupportedResponseType)
	}
}

func TestNewSigninRequest(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	maxAge := int64(0)
	args := validSigninRequestArgs()
	args.Scope = "openid profile"
	args.Nonce = "n-abc"
	args.Prompt = "login"
	args.MaxAge = &maxAge
	args.ACRValues = "urn:mfa"
	args.Resource = []string{"https://api.one", "https://api.two"}
	args.ExtraQueryParams = map[string]string{"b_param": "2", "a_param": "1"}
	args.RequestType = RequestTypeSigninRedirect

	req, err := NewSigninRequest(args)
	require.NoError(err)
	require.NotNil(req.State)

	u, err := url.Parse(req.URL)
	require.NoError(err)
	values := u.Query()
	assert.Equal("test-rp", values.Get("client_id"))
	assert.Equal("https://example.com/callback", values.Get("redirect_uri"))
	assert.Equal("code", values.Get("response_type"))
	assert.Equal("openid profile", values.Get("scope"))
	assert.Equal("n-abc", values.Get("nonce"))
	assert.Equal(req.State.ID, values.Get("state"))
	assert.Equal(CodeChallengeS256(req.State.CodeVerifier), values.Get("code_challenge"))
	assert.Equal(CodeChallengeMethodS256, values.Get("code_challenge_method"))
	assert.Equal([]string{"https://api.one", "https://api.two"}, values["resource"])
	assert.Equal("login", values.Get("prompt"))
	assert.Equal("0", values.Get("max_age"))
	assert.Equal("urn:mfa", values.Get("acr_values"))

	// parameters appear in a fixed order, extras sorted by key
	assert.Equal([]string{
		"client_id", "redirect_uri", "response_type", "scope", "nonce",
		"state", "code_challenge", "code_challenge_method",
		"resource", "resource", "prompt", "max_age", "acr_values",
		"a_param", "b_param",
	}, queryKeys(t, req.URL))

	assert.Equal(RequestTypeSigninRedirect, req.State.RequestType)
}

func TestNewSigninRequest_OmitsUnsetParameters(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	req, err := NewSigninRequest(validSigninRequestArgs())
	require.NoError(err)
	u, err := url.Parse(req.URL)
	require.NoError(err)
	values := u.Query()
	for _, absent := range []string{"nonce", "prompt", "display", "max_age", "ui_locales", "id_token_hint", "login_hint", "acr_values", "response_mode", "resource"} {
		assert.NotContains(values, absent)
	}
}

func TestNewSigninRequest_DisablePKCE(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	args := validSigninRequestArgs()
	args.DisablePKCE = true
	req, err := NewSigninRequest(args)
	require.NoError(err)
	u, err := url.Parse(req.URL)
	require.NoError(err)
	assert.Empty(u.Query().Get("code_challenge"))
	assert.Empty(u.Query().Get("code_challenge_method"))
	assert.Empty(req.State.CodeVerifier)
}

func TestNewSigninRequest_DeduplicatesResources(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	args := validSigninRequestArgs()
	args.Resource = []string{"https://api.one", "https://api.two", "https://api.one", " "}
	req, err := NewSigninRequest(args)
	require.NoError(err)
	u, err := url.Parse(req.URL)
	require.NoError(err)
	assert.Equal([]string{"https://api.one", "https://api.two"}, u.Query()["resource"])
}

func TestNewSigninRequest_PreservesExistingQuery(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	args := validSigninRequestArgs()
	args.URL = "https://example.com/auth?tenant=acme"
	req, err := NewSigninRequest(args)
	require.NoError(err)
	u, err := url.Parse(req.URL)
	require.NoError(err)
	assert.Equal("acme", u.Query().Get("tenant"))
	assert.Equal("test-rp", u.Query().Get("client_id"))
	assert.Equal("tenant", queryKeys(t, req.URL)[0])
}
