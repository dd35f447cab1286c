package oidcrp

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	strutil "github.com/authrelay/oidcrp/internal/strutils"
)

// ResponseTypeCode is the only supported response type; Authorization Code
// (+PKCE) is the single supported grant.
const ResponseTypeCode = "code"

// CodeChallengeMethodS256 is the only supported PKCE challenge method.
const CodeChallengeMethodS256 = "S256"

// SigninRequestArgs describe one outbound authorization request.
type SigninRequestArgs struct {
	// URL is the provider's authorization endpoint.
	URL string

	// Authority, ClientID, RedirectURI, ResponseType and Scope are
	// required; only ResponseType "code" is accepted.
	Authority    string
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string

	// ClientSecret is recorded on the correlation state for the later code
	// exchange.
	ClientSecret string

	// Nonce is an optional replay-protection value.
	Nonce string

	// ResponseMode optionally overrides the configured response mode.
	ResponseMode string

	// Optional OIDC request parameters, appended only when set.
	Prompt      string
	Display     string
	MaxAge      *int64 // seconds
	UILocales   string
	IDTokenHint string
	LoginHint   string
	ACRValues   string

	// Resource values, zero or more; duplicates and blanks are dropped.
	Resource []string

	// ExtraQueryParams are appended after every known parameter, in sorted
	// key order for reproducibility.
	ExtraQueryParams map[string]string

	// ExtraTokenParams are recorded on the correlation state and appended
	// to the later code exchange body.
	ExtraTokenParams map[string]string

	// StateData is the opaque caller payload round-tripped through the
	// flow's correlation state.
	StateData interface{}

	// RequestType tags the correlation state for callback dispatch.
	RequestType string

	// SkipUserInfo suppresses the userinfo fetch during validation.
	SkipUserInfo bool

	// DisablePKCE turns off the verifier/challenge pair for this request.
	DisablePKCE bool
}

// SigninRequest is a ready-to-navigate authorization request: the full
// request URL and the correlation state that must be persisted before
// navigating.
type SigninRequest struct {
	URL   string
	State *SigninState
}

// NewSigninRequest validates args, creates the request's correlation state
// (including PKCE material) and builds the authorization URL.  Parameters
// are appended in a fixed order so identical inputs produce identical URLs.
// Supported options: WithNow
func NewSigninRequest(args SigninRequestArgs, opt ...Option) (*SigninRequest, error) {
	const op = "NewSigninRequest"
	required := []struct{ name, value string }{
		{"url", args.URL},
		{"client_id", args.ClientID},
		{"redirect_uri", args.RedirectURI},
		{"response_type", args.ResponseType},
		{"scope", args.Scope},
		{"authority", args.Authority},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, fmt.Errorf("%s: %s is missing: %w", op, r.name, ErrInvalidParameter)
		}
	}
	if args.ResponseType != ResponseTypeCode {
		return nil, fmt.Errorf("%s: response type %q: %w", op, args.ResponseType, ErrUnsupportedResponseType)
	}

	state, err := NewSigninState(SigninStateArgs{
		RequestType:      args.RequestType,
		Data:             args.StateData,
		Authority:        args.Authority,
		ClientID:         args.ClientID,
		RedirectURI:      args.RedirectURI,
		Scope:            args.Scope,
		ClientSecret:     args.ClientSecret,
		ResponseMode:     args.ResponseMode,
		ExtraTokenParams: args.ExtraTokenParams,
		SkipUserInfo:     args.SkipUserInfo,
		DisablePKCE:      args.DisablePKCE,
	}, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b := newURLBuilder(args.URL)
	b.add("client_id", args.ClientID)
	b.add("redirect_uri", args.RedirectURI)
	b.add("response_type", args.ResponseType)
	b.add("scope", args.Scope)
	b.addNonEmpty("nonce", args.Nonce)
	b.add("state", state.ID)
	if state.CodeChallenge != "" {
		b.add("code_challenge", state.CodeChallenge)
		b.add("code_challenge_method", CodeChallengeMethodS256)
	}
	for _, r := range strutil.RemoveDuplicatesStable(args.Resource, false) {
		b.add("resource", r)
	}
	b.addNonEmpty("response_mode", args.ResponseMode)
	b.addNonEmpty("prompt", args.Prompt)
	b.addNonEmpty("display", args.Display)
	if args.MaxAge != nil {
		b.add("max_age", strconv.FormatInt(*args.MaxAge, 10))
	}
	b.addNonEmpty("ui_locales", args.UILocales)
	b.addNonEmpty("id_token_hint", args.IDTokenHint)
	b.addNonEmpty("login_hint", args.LoginHint)
	b.addNonEmpty("acr_values", args.ACRValues)
	b.addSorted(args.ExtraQueryParams)

	requestURL, err := b.String()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SigninRequest{URL: requestURL, State: state}, nil
}

// urlBuilder appends query parameters to a base URL preserving append order;
// url.Values cannot, since Encode sorts by key.
type urlBuilder struct {
	base  string
	pairs []string
}

func newURLBuilder(base string) *urlBuilder {
	return &urlBuilder{base: base}
}

func (b *urlBuilder) add(key, value string) {
	b.pairs = append(b.pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
}

func (b *urlBuilder) addNonEmpty(key, value string) {
	if value != "" {
		b.add(key, value)
	}
}

func (b *urlBuilder) addSorted(params map[string]string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.addNonEmpty(k, params[k])
	}
}

func (b *urlBuilder) String() (string, error) {
	u, err := url.Parse(b.base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", b.base, err)
	}
	query := strings.Join(b.pairs, "&")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + query
	} else {
		u.RawQuery = query
	}
	return u.String(), nil
}
