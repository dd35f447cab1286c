package oidcrp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataService_Metadata(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)

	svc, err := NewMetadataService(testProviderSettings(t, tp, nil))
	require.NoError(err)

	md, err := svc.Metadata(ctx)
	require.NoError(err)
	assert.Equal(tp.Addr(), md.Issuer)
	assert.Equal(tp.Addr()+"/auth", md.AuthorizationEndpoint)
	assert.Equal(tp.Addr()+"/token", md.TokenEndpoint)
	assert.Equal(tp.Addr()+"/userinfo", md.UserinfoEndpoint)
	assert.Equal(tp.Addr()+"/end-session", md.EndSessionEndpoint)
	assert.Equal(tp.Addr()+"/revoke", md.RevocationEndpoint)
	assert.Equal(tp.Addr()+"/check-session", md.CheckSessionIframe)
	assert.Equal(tp.Addr()+"/certs", md.JWKSURI)
}

func TestMetadataService_FetchesOnce(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)

	svc, err := NewMetadataService(testProviderSettings(t, tp, nil))
	require.NoError(err)

	first, err := svc.Metadata(ctx)
	require.NoError(err)

	// the document is cached for the life of the instance
	tp.Stop()
	second, err := svc.Metadata(ctx)
	require.NoError(err)
	assert.Equal(first, second)
}

func TestMetadataService_SeedMerge(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.DisableEndSession()

	svc, err := NewMetadataService(testProviderSettings(t, tp, func(s *Settings) {
		s.MetadataSeed = &ProviderMetadata{
			EndSessionEndpoint: "https://seeded.example.com/end-session",
			TokenEndpoint:      "https://seeded.example.com/token",
		}
	}))
	require.NoError(err)

	md, err := svc.Metadata(ctx)
	require.NoError(err)
	// the provider does not advertise end_session, so the seed survives
	assert.Equal("https://seeded.example.com/end-session", md.EndSessionEndpoint)
	// fetched values win over seeded ones on collision
	assert.Equal(tp.Addr()+"/token", md.TokenEndpoint)
}

func TestMetadataService_Properties(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)
	tp.DisableUserInfo()
	tp.DisableEndSession()
	tp.DisableRevocation()

	svc, err := NewMetadataService(testProviderSettings(t, tp, nil))
	require.NoError(err)

	// required property missing is an error
	_, err = svc.UserinfoEndpoint(ctx)
	assert.ErrorIs(err, ErrMissingMetadataProperty)

	// optional properties missing return ""
	endSession, err := svc.EndSessionEndpoint(ctx)
	require.NoError(err)
	assert.Empty(endSession)

	revocation, err := svc.RevocationEndpoint(ctx, false)
	require.NoError(err)
	assert.Empty(revocation)

	// unless the caller requires them
	_, err = svc.RevocationEndpoint(ctx, true)
	assert.ErrorIs(err, ErrMissingMetadataProperty)

	issuer, err := svc.Issuer(ctx)
	require.NoError(err)
	assert.Equal(tp.Addr(), issuer)
}

func TestMetadataService_SigningKeys(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)

	svc, err := NewMetadataService(testProviderSettings(t, tp, nil))
	require.NoError(err)

	keys, err := svc.SigningKeys(ctx)
	require.NoError(err)
	require.Len(keys, 1)
	assert.NotNil(keys[0].Key)

	// reset clears only the key cache; the next call refetches
	svc.ResetSigningKeys()
	keys, err = svc.SigningKeys(ctx)
	require.NoError(err)
	assert.Len(keys, 1)
}

func TestMetadataService_PreSuppliedSigningKeys(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)

	pub, _ := tp.SigningKeys()
	seeded := testJWKS(t, pub)

	svc, err := NewMetadataService(testProviderSettings(t, tp, func(s *Settings) {
		s.SigningKeys = seeded.Keys
	}))
	require.NoError(err)

	// no jwks fetch happens: the seeded keys short-circuit even when the
	// provider is unreachable
	tp.Stop()
	keys, err := svc.SigningKeys(ctx)
	require.NoError(err)
	assert.Equal(seeded.Keys, keys)
}

func TestMetadataService_MetadataURLOverride(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	tp := StartTestProvider(t)

	svc, err := NewMetadataService(testProviderSettings(t, tp, func(s *Settings) {
		s.Authority = "https://unreachable.example.com"
		s.MetadataURL = tp.Addr() + "/.well-known/openid-configuration"
	}))
	require.NoError(err)

	md, err := svc.Metadata(ctx)
	require.NoError(err)
	assert.Equal(tp.Addr(), md.Issuer)
}
