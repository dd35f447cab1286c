package oidcrp

import (
	"fmt"
)

// SignoutRequestArgs describe one outbound end-session request.
type SignoutRequestArgs struct {
	// URL is the provider's end-session endpoint; required.
	URL string

	// IDTokenHint identifies the session being ended; appended when set.
	IDTokenHint string

	// ClientID is appended when set (some providers require it when no
	// id_token_hint is available).
	ClientID string

	// PostLogoutRedirectURI is where the provider redirects after ending
	// the session; appended when set.
	PostLogoutRedirectURI string

	// StateData is the opaque caller payload to round-trip.  Correlation
	// state (and a "state" parameter) is only created when both a
	// post-logout redirect URI and state data are present; without a
	// redirect there is no callback to correlate.
	StateData interface{}

	// ExtraQueryParams are appended last, in sorted key order.
	ExtraQueryParams map[string]string

	// RequestType tags the correlation state for callback dispatch.
	RequestType string
}

// SignoutRequest is a ready-to-navigate end-session request.  State is nil
// when the request carries nothing to correlate.
type SignoutRequest struct {
	URL   string
	State *State
}

// NewSignoutRequest validates args and builds the end-session URL,
// conditionally creating correlation state.
// Supported options: WithNow
func NewSignoutRequest(args SignoutRequestArgs, opt ...Option) (*SignoutRequest, error) {
	const op = "NewSignoutRequest"
	if args.URL == "" {
		return nil, fmt.Errorf("%s: url is missing: %w", op, ErrInvalidParameter)
	}

	b := newURLBuilder(args.URL)
	b.addNonEmpty("id_token_hint", args.IDTokenHint)
	b.addNonEmpty("client_id", args.ClientID)

	var state *State
	if args.PostLogoutRedirectURI != "" {
		b.add("post_logout_redirect_uri", args.PostLogoutRedirectURI)
		if args.StateData != nil {
			var err error
			state, err = NewState(args.RequestType, args.StateData, opt...)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			b.add("state", state.ID)
		}
	}
	b.addSorted(args.ExtraQueryParams)

	requestURL, err := b.String()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &SignoutRequest{URL: requestURL, State: state}, nil
}
