package oidcrp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)

	s, err := NewState(RequestTypeSigninRedirect, map[string]interface{}{"return_to": "/inbox"}, WithNow(func() time.Time { return now }))
	require.NoError(err)
	assert.NotEmpty(s.ID)
	assert.Equal(now.Unix(), s.Created)
	assert.Equal(RequestTypeSigninRedirect, s.RequestType)

	other, err := NewState("", nil)
	require.NoError(err)
	assert.NotEqual(s.ID, other.ID)
}

func TestState_StorageRoundTrip(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	s, err := NewState(RequestTypeSignoutRedirect, map[string]interface{}{"k": "v"})
	require.NoError(err)

	raw, err := s.ToStorageString()
	require.NoError(err)
	got, err := StateFromStorageString(raw)
	require.NoError(err)
	assert.Equal(s.ID, got.ID)
	assert.Equal(s.Created, got.Created)
	assert.Equal(s.RequestType, got.RequestType)
	assert.Equal(map[string]interface{}{"k": "v"}, got.Data)

	_, err = StateFromStorageString("not json")
	assert.Error(err)
}

func TestNewSigninState(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	args := SigninStateArgs{
		RequestType:      RequestTypeSigninPopup,
		Authority:        "https://example.com",
		ClientID:         "test-rp",
		RedirectURI:      "https://example.com/callback",
		Scope:            "openid profile",
		ClientSecret:     "shh",
		ResponseMode:     ResponseModeFragment,
		ExtraTokenParams: map[string]string{"audience": "api"},
		SkipUserInfo:     true,
	}
	s, err := NewSigninState(args)
	require.NoError(err)
	assert.NotEmpty(s.CodeVerifier)
	assert.Equal(CodeChallengeS256(s.CodeVerifier), s.CodeChallenge)

	raw, err := s.ToStorageString()
	require.NoError(err)
	got, err := SigninStateFromStorageString(raw)
	require.NoError(err)
	assert.Equal(s.ID, got.ID)
	assert.Equal(s.CodeVerifier, got.CodeVerifier)
	assert.Equal(s.CodeChallenge, got.CodeChallenge)
	assert.Equal("https://example.com", got.Authority)
	assert.Equal("test-rp", got.ClientID)
	assert.Equal("https://example.com/callback", got.RedirectURI)
	assert.Equal("openid profile", got.Scope)
	assert.Equal("shh", got.ClientSecret)
	assert.Equal(ResponseModeFragment, got.ResponseMode)
	assert.Equal(map[string]string{"audience": "api"}, got.ExtraTokenParams)
	assert.True(got.SkipUserInfo)

	args.DisablePKCE = true
	noPKCE, err := NewSigninState(args)
	require.NoError(err)
	assert.Empty(noPKCE.CodeVerifier)
	assert.Empty(noPKCE.CodeChallenge)
}

func TestNewCodeVerifier(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	v1, err := NewCodeVerifier()
	require.NoError(err)
	v2, err := NewCodeVerifier()
	require.NoError(err)
	// three uuids, separators stripped
	assert.Len(v1, 96)
	assert.NotContains(v1, "-")
	assert.NotEqual(v1, v2)
}

func TestCodeChallengeS256(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	// vector from RFC 7636 appendix B
	const verifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	assert.Equal("E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", CodeChallengeS256(verifier))
}

func TestTakeStateString(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	store := NewMemoryStorage()

	s, err := NewState(RequestTypeSigninRedirect, nil)
	require.NoError(err)
	require.NoError(saveState(ctx, store, s.ID, s))

	raw, err := takeStateString(ctx, store, s.ID)
	require.NoError(err)
	got, err := StateFromStorageString(raw)
	require.NoError(err)
	assert.Equal(s.ID, got.ID)

	// consumed: a second take finds nothing
	_, err = takeStateString(ctx, store, s.ID)
	assert.ErrorIs(err, ErrNoMatchingState)

	_, err = takeStateString(ctx, store, "never-stored")
	assert.ErrorIs(err, ErrNoMatchingState)
}

func TestClearStaleState(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	store := NewMemoryStorage()
	now := time.Date(2023, 5, 1, 12, 0, 0, 0, time.UTC)
	maxAge := 15 * time.Minute
	withNow := WithNow(func() time.Time { return now })

	storeAt := func(id string, created time.Time) {
		s := &State{ID: id, Created: created.Unix()}
		require.NoError(saveState(ctx, store, id, s))
	}
	storeAt("fresh", now.Add(-time.Second))
	storeAt("at-boundary", now.Add(-maxAge))
	storeAt("stale", now.Add(-maxAge-time.Second))
	require.NoError(store.Set(ctx, stateStoreKey("garbled"), "not json"))
	require.NoError(store.Set(ctx, "user:https://example.com:test-rp", "untouched"))

	require.NoError(ClearStaleState(ctx, store, maxAge, withNow))

	_, err := store.Get(ctx, stateStoreKey("fresh"))
	assert.NoError(err)
	_, err = store.Get(ctx, stateStoreKey("at-boundary"))
	assert.ErrorIs(err, ErrNotFound)
	_, err = store.Get(ctx, stateStoreKey("stale"))
	assert.ErrorIs(err, ErrNotFound)
	_, err = store.Get(ctx, stateStoreKey("garbled"))
	assert.ErrorIs(err, ErrNotFound)

	// entries outside the state namespace are never touched
	v, err := store.Get(ctx, "user:https://example.com:test-rp")
	require.NoError(err)
	assert.Equal("untouched", v)
}
