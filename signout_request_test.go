package oidcrp

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSignoutRequest(t *testing.T) {
	t.Parallel()
	t.Run("missing-url", func(t *testing.T) {
		assert := assert.New(t)
		got, err := NewSignoutRequest(SignoutRequestArgs{})
		assert.Nil(got)
		assert.ErrorIs(err, ErrInvalidParameter)
	})
	t.Run("no-redirect-means-no-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewSignoutRequest(SignoutRequestArgs{
			URL:         "https://example.com/end-session",
			IDTokenHint: "the-id-token",
			StateData:   map[string]interface{}{"k": "v"},
		})
		require.NoError(err)
		assert.Nil(req.State)
		u, err := url.Parse(req.URL)
		require.NoError(err)
		assert.Equal("the-id-token", u.Query().Get("id_token_hint"))
		assert.NotContains(u.Query(), "state")
		assert.NotContains(u.Query(), "post_logout_redirect_uri")
	})
	t.Run("redirect-without-data-means-no-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewSignoutRequest(SignoutRequestArgs{
			URL:                   "https://example.com/end-session",
			PostLogoutRedirectURI: "https://example.com/done",
		})
		require.NoError(err)
		assert.Nil(req.State)
		u, err := url.Parse(req.URL)
		require.NoError(err)
		assert.Equal("https://example.com/done", u.Query().Get("post_logout_redirect_uri"))
		assert.NotContains(u.Query(), "state")
	})
	t.Run("redirect-with-data-creates-state", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		req, err := NewSignoutRequest(SignoutRequestArgs{
			URL:                   "https://example.com/end-session",
			IDTokenHint:           "the-id-token",
			ClientID:              "test-rp",
			PostLogoutRedirectURI: "https://example.com/done",
			StateData:             map[string]interface{}{"k": "v"},
			ExtraQueryParams:      map[string]string{"tenant": "acme"},
			RequestType:           RequestTypeSignoutRedirect,
		})
		require.NoError(err)
		require.NotNil(req.State)
		assert.Equal(RequestTypeSignoutRedirect, req.State.RequestType)
		assert.Equal(map[string]interface{}{"k": "v"}, req.State.Data)

		u, err := url.Parse(req.URL)
		require.NoError(err)
		assert.Equal(req.State.ID, u.Query().Get("state"))
		assert.Equal("acme", u.Query().Get("tenant"))
		assert.Equal([]string{
			"id_token_hint", "client_id", "post_logout_redirect_uri", "state", "tenant",
		}, queryKeys(t, req.URL))
	})
}
