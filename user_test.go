package oidcrp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_Expiry(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	withNow := WithNow(func() time.Time { return now })

	u := &User{ExpiresAt: now.Add(2 * time.Minute).Unix()}
	assert.Equal(int64(120), u.ExpiresIn(withNow))
	assert.False(u.Expired(withNow))

	u = &User{ExpiresAt: now.Add(-time.Minute).Unix()}
	assert.Equal(int64(-60), u.ExpiresIn(withNow))
	assert.True(u.Expired(withNow))

	u = &User{ExpiresAt: now.Unix()}
	assert.True(u.Expired(withNow))

	// no known expiry never reports expired
	u = &User{}
	assert.Equal(int64(0), u.ExpiresIn(withNow))
	assert.False(u.Expired(withNow))
}

func TestUser_Expired_ClockSkew(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	withNow := WithNow(func() time.Time { return now })

	// a token within the skew window is already treated as expired
	u := &User{ExpiresAt: now.Add(5 * time.Second).Unix(), expirySkew: 10 * time.Second}
	assert.True(u.Expired(withNow))
	// ExpiresIn stays raw so renewal scheduling is unaffected
	assert.Equal(int64(5), u.ExpiresIn(withNow))

	u = &User{ExpiresAt: now.Add(30 * time.Second).Unix(), expirySkew: 10 * time.Second}
	assert.False(u.Expired(withNow))

	// WithExpirySkew overrides the carried skew for one check
	assert.True(u.Expired(withNow, WithExpirySkew(time.Minute)))
	u = &User{ExpiresAt: now.Add(5 * time.Second).Unix(), expirySkew: 10 * time.Second}
	assert.False(u.Expired(withNow, WithExpirySkew(0)))
}

func TestUser_Scopes(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	u := &User{Scope: "openid profile email"}
	assert.Equal([]string{"openid", "profile", "email"}, u.Scopes())
	assert.Empty((&User{}).Scopes())
}

func TestUser_TokenSource(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	u := &User{
		AccessToken:  "at",
		TokenType:    "Bearer",
		RefreshToken: "rt",
		ExpiresAt:    time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC).Unix(),
	}
	token, err := u.TokenSource().Token()
	require.NoError(err)
	assert.Equal("at", token.AccessToken)
	assert.Equal("Bearer", token.TokenType)
	assert.Equal("rt", token.RefreshToken)
	assert.Equal(u.ExpiresAt, token.Expiry.Unix())
}

func TestUser_StorageRoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	u := &User{
		IDToken:      "idt",
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		Scope:        "openid",
		Profile:      Claims{"sub": "alice"},
		ExpiresAt:    1700000000,
		SessionState: "ss",
		State:        map[string]interface{}{"return_to": "/inbox"},
	}
	raw, err := u.ToStorageString()
	require.NoError(err)
	got, err := UserFromStorageString(raw)
	require.NoError(err)
	assert.Equal(u.IDToken, got.IDToken)
	assert.Equal(u.AccessToken, got.AccessToken)
	assert.Equal(u.RefreshToken, got.RefreshToken)
	assert.Equal(u.TokenType, got.TokenType)
	assert.Equal(u.Scope, got.Scope)
	assert.Equal(u.Profile, got.Profile)
	assert.Equal(u.ExpiresAt, got.ExpiresAt)
	assert.Equal(u.SessionState, got.SessionState)
	assert.Equal(map[string]interface{}{"return_to": "/inbox"}, got.State)

	_, err = UserFromStorageString("not json")
	assert.Error(err)
}
