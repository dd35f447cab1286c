package oidcrp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	strutil "github.com/authrelay/oidcrp/internal/strutils"
)

// SigninResponse is the value decoded from a signin callback URL's query or
// fragment component.  Validation enriches it in place with values obtained
// by exchanging the code and by decoding the id_token.
type SigninResponse struct {
	// Parameters decoded from the callback URL.
	State            string
	Code             string
	Error            string
	ErrorDescription string
	ErrorURI         string
	SessionState     string

	// Token attributes, overlaid from the code exchange (or, on hybrid
	// providers, present directly in the callback).
	AccessToken  string
	TokenType    string
	IDToken      string
	RefreshToken string
	Scope        string
	ExpiresIn    int64

	// Profile is set during validation from the id_token payload, filtered
	// and optionally merged with userinfo claims.
	Profile Claims

	// UserState is the opaque caller payload recovered from the flow's
	// correlation state during validation.
	UserState interface{}
}

// isOIDC reports whether the response belongs to an OpenID request: the
// requested scope contains "openid" or an id_token is present.
func (r *SigninResponse) isOIDC(requestedScope string) bool {
	if r.IDToken != "" {
		return true
	}
	return scopeContains(requestedScope, "openid")
}

// SignoutResponse is the value decoded from a signout callback URL.
type SignoutResponse struct {
	State            string
	Error            string
	ErrorDescription string
	ErrorURI         string

	// UserState is the opaque caller payload recovered from the flow's
	// correlation state during validation.
	UserState interface{}
}

// ParseSigninResponse extracts the designated URL component per the response
// mode and decodes it as form-encoded parameters.
func ParseSigninResponse(callbackURL, responseMode string) (*SigninResponse, error) {
	const op = "ParseSigninResponse"
	values, err := callbackValues(callbackURL, responseMode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp := &SigninResponse{
		State:            values.Get("state"),
		Code:             values.Get("code"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
		ErrorURI:         values.Get("error_uri"),
		SessionState:     values.Get("session_state"),
		AccessToken:      values.Get("access_token"),
		TokenType:        values.Get("token_type"),
		IDToken:          values.Get("id_token"),
		RefreshToken:     values.Get("refresh_token"),
		Scope:            values.Get("scope"),
	}
	if raw := values.Get("expires_in"); raw != "" {
		expiresIn, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid expires_in %q: %w", op, raw, ErrInvalidParameter)
		}
		resp.ExpiresIn = expiresIn
	}
	return resp, nil
}

// ParseSignoutResponse extracts the designated URL component per the
// response mode and decodes it as form-encoded parameters.
func ParseSignoutResponse(callbackURL, responseMode string) (*SignoutResponse, error) {
	const op = "ParseSignoutResponse"
	values, err := callbackValues(callbackURL, responseMode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SignoutResponse{
		State:            values.Get("state"),
		Error:            values.Get("error"),
		ErrorDescription: values.Get("error_description"),
		ErrorURI:         values.Get("error_uri"),
	}, nil
}

func callbackValues(callbackURL, responseMode string) (url.Values, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return nil, fmt.Errorf("invalid callback url %q: %w", callbackURL, err)
	}
	var component string
	switch responseMode {
	case ResponseModeQuery:
		component = u.RawQuery
	case ResponseModeFragment:
		component = u.EscapedFragment()
	default:
		return nil, fmt.Errorf("response mode %q is not query or fragment: %w", responseMode, ErrInvalidParameter)
	}
	values, err := url.ParseQuery(component)
	if err != nil {
		return nil, fmt.Errorf("invalid callback %s component: %w", responseMode, err)
	}
	return values, nil
}

// scopeContains reports whether a space-delimited scope list contains scope.
func scopeContains(scopes, scope string) bool {
	return strutil.StrListContains(strings.Fields(scopes), scope)
}
