package oidcrp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSigninResponse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name         string
		url          string
		responseMode string
		wantErr      error
		want         *SigninResponse
	}{
		{
			name:         "query-mode",
			url:          "https://example.com/callback?state=s1&code=c1&session_state=ss1&scope=openid&expires_in=300",
			responseMode: ResponseModeQuery,
			want: &SigninResponse{
				State:        "s1",
				Code:         "c1",
				SessionState: "ss1",
				Scope:        "openid",
				ExpiresIn:    300,
			},
		},
		{
			name:         "fragment-mode",
			url:          "https://example.com/callback#state=s1&code=c1",
			responseMode: ResponseModeFragment,
			want: &SigninResponse{
				State: "s1",
				Code:  "c1",
			},
		},
		{
			name:         "query-mode-ignores-fragment",
			url:          "https://example.com/callback?state=s1#code=c1",
			responseMode: ResponseModeQuery,
			want: &SigninResponse{
				State: "s1",
			},
		},
		{
			name:         "error-parameters",
			url:          "https://example.com/callback?state=s1&error=login_required&error_description=not%20signed%20in",
			responseMode: ResponseModeQuery,
			want: &SigninResponse{
				State:            "s1",
				Error:            "login_required",
				ErrorDescription: "not signed in",
			},
		},
		{
			name:         "invalid-expires-in",
			url:          "https://example.com/callback?state=s1&expires_in=soon",
			responseMode: ResponseModeQuery,
			wantErr:      ErrInvalidParameter,
		},
		{
			name:         "unknown-response-mode",
			url:          "https://example.com/callback?state=s1",
			responseMode: "form_post",
			wantErr:      ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := ParseSigninResponse(tt.url, tt.responseMode)
			if tt.wantErr != nil {
				assert.ErrorIs(err, tt.wantErr)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
		})
	}
}

func TestParseSignoutResponse(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)

	got, err := ParseSignoutResponse("https://example.com/done?state=s1&error=server_error", ResponseModeQuery)
	require.NoError(err)
	assert.Equal("s1", got.State)
	assert.Equal("server_error", got.Error)

	_, err = ParseSignoutResponse("https://example.com/done", "form_post")
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestSigninResponse_IsOIDC(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.True((&SigninResponse{IDToken: "x"}).isOIDC(""))
	assert.True((&SigninResponse{}).isOIDC("openid profile"))
	assert.False((&SigninResponse{}).isOIDC("api:read"))
	assert.False((&SigninResponse{}).isOIDC(""))
}
