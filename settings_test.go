package oidcrp

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSettings_Defaults(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	s, err := NewSettings(Settings{
		Authority:   "https://example.com",
		ClientID:    "test-rp",
		RedirectURI: "https://example.com/callback",
	})
	require.NoError(err)

	assert.Equal(ResponseModeQuery, s.ResponseMode)
	assert.Equal(DefaultScope, s.Scope)
	assert.Equal(AuthMethodSecretPost, s.TokenEndpointAuthMethod)
	assert.Equal("https://example.com/callback", s.SilentRedirectURI)
	assert.Equal("https://example.com/callback", s.PopupRedirectURI)
	assert.NotNil(s.StateStore)
	assert.NotNil(s.UserStore)
	assert.Equal(DefaultStaleStateAge, s.StaleStateAge)
	assert.Equal(DefaultClockSkew, s.ClockSkew)
	assert.Equal(DefaultExpiringNotificationTime, s.ExpiringNotificationTime)
	assert.Equal(DefaultSilentRequestTimeout, s.SilentRequestTimeout)
	assert.Equal(DefaultCheckSessionInterval, s.CheckSessionInterval)
	assert.Equal([]string{"refresh_token", "access_token"}, s.RevokeTokenTypes)
	assert.NotNil(s.Logger)
}

func TestNewSettings_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   Settings
	}{
		{
			name: "missing-authority",
			in:   Settings{ClientID: "test-rp"},
		},
		{
			name: "bad-authority-scheme",
			in:   Settings{Authority: "ldap://example.com", ClientID: "test-rp"},
		},
		{
			name: "missing-client-id",
			in:   Settings{Authority: "https://example.com"},
		},
		{
			name: "bad-response-mode",
			in: Settings{
				Authority:    "https://example.com",
				ClientID:     "test-rp",
				ResponseMode: "form_post",
			},
		},
		{
			name: "bad-auth-method",
			in: Settings{
				Authority:               "https://example.com",
				ClientID:                "test-rp",
				TokenEndpointAuthMethod: "private_key_jwt",
			},
		},
		{
			name: "basic-auth-requires-secret",
			in: Settings{
				Authority:               "https://example.com",
				ClientID:                "test-rp",
				TokenEndpointAuthMethod: AuthMethodSecretBasic,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert := assert.New(t)
			got, err := NewSettings(tt.in)
			assert.Nil(got)
			assert.ErrorIs(err, ErrInvalidParameter)
		})
	}
}

func TestNewSettings_MetadataSeedOnly(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	// no authority needed when a full seed or metadata url is supplied
	_, err := NewSettings(Settings{
		ClientID:     "test-rp",
		MetadataSeed: &ProviderMetadata{TokenEndpoint: "https://example.com/token"},
	})
	require.NoError(err)
}

func TestClientSecret_Redaction(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	secret := ClientSecret("super-secret")
	assert.Equal(RedactedClientSecret, secret.String())

	b, err := json.Marshal(secret)
	require.NoError(err)
	assert.NotContains(string(b), "super-secret")
	assert.Contains(string(b), "REDACTED")
}

func TestSettings_UserStoreKey(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	s := testSettings(t, nil)
	assert.Equal("user:https://example.com:test-rp", s.userStoreKey())
}

func TestSettings_Now(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	frozen := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	s, err := NewSettings(Settings{
		Authority: "https://example.com",
		ClientID:  "test-rp",
	}, WithNow(func() time.Time { return frozen }))
	require.NoError(err)
	assert.Equal(frozen, s.now())
}
