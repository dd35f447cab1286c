package oidcrp

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io/ioutil"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	strutil "github.com/authrelay/oidcrp/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local server that stands in for an OpenID provider in
// tests: it serves discovery, jwks, authorization, token, userinfo,
// revocation and end-session endpoints over TLS, and exposes knobs to drive
// the success and failure paths of each flow.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	jwks       *jose.JSONWebKeySet

	mu                   sync.Mutex
	clientID             string
	clientSecret         string
	expectedAuthCode     string
	expectedRefreshToken string
	allowedRedirectURIs  []string
	replySubject         string
	replySessionState    string
	replyRefreshToken    string
	replyExpiresIn       int64
	replyUserinfo        map[string]interface{}
	customClaims         map[string]interface{}
	authError            string
	tokenError           string
	omitIDToken          bool
	disableUserInfo      bool
	disableRevocation    bool
	disableEndSession    bool

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates a disposable TestProvider on a random port.  The
// server is shut down with the test.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                   t,
		allowedRedirectURIs: []string{"https://example.com/callback"},
		replySubject:        "alice@example.com",
		replySessionState:   "test-session-state",
		replyRefreshToken:   "test-refresh-token",
		replyExpiresIn:      300,
		replyUserinfo: map[string]interface{}{
			"color":       "red",
			"temperature": "76",
		},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(ioutil.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the provider's base URL, which also serves as its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate of the provider's TLS
// server, suitable for Settings.ProviderCA.
func (p *TestProvider) CACert() string { return p.caCert }

// SigningKeys returns the provider's pem-encoded id_token signing keys.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SetClientCreds configures the client the provider will issue tokens for.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetExpectedAuthCode configures the code returned from the authorization
// endpoint and required by the token endpoint.  An empty code makes the
// authorization endpoint deny every request.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetExpectedRefreshToken configures the refresh token the token endpoint
// accepts for the refresh_token grant.
func (p *TestProvider) SetExpectedRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedRefreshToken = token
}

// SetAllowedRedirectURIs configures the redirect URIs the token endpoint
// accepts.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetReplySubject configures the subject embedded in issued id_tokens and
// userinfo responses.
func (p *TestProvider) SetReplySubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetReplySessionState configures the session_state returned from the
// authorization and token endpoints.
func (p *TestProvider) SetReplySessionState(sessionState string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySessionState = sessionState
}

// SetReplyRefreshToken configures the refresh token issued by the token
// endpoint; empty omits it.
func (p *TestProvider) SetReplyRefreshToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyRefreshToken = token
}

// SetReplyExpiresIn configures the expires_in issued by the token endpoint.
func (p *TestProvider) SetReplyExpiresIn(secs int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiresIn = secs
}

// SetReplyUserinfo configures the claims returned from the userinfo
// endpoint.  The subject is always included.
func (p *TestProvider) SetReplyUserinfo(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = claims
}

// SetCustomClaims configures additional claims embedded in issued id_tokens.
func (p *TestProvider) SetCustomClaims(claims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = claims
}

// SetAuthError makes the authorization endpoint reply with the given error
// code instead of a code.
func (p *TestProvider) SetAuthError(errorCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authError = errorCode
}

// SetTokenError makes the token endpoint reply with the given error code.
func (p *TestProvider) SetTokenError(errorCode string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenError = errorCode
}

// OmitIDTokens forces an error state where the token endpoint does not
// return an id_token.
func (p *TestProvider) OmitIDTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = true
}

// DisableUserInfo makes the userinfo endpoint return 404 and omits it from
// discovery.
func (p *TestProvider) DisableUserInfo() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = true
}

// DisableRevocation omits the revocation endpoint from discovery.
func (p *TestProvider) DisableRevocation() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableRevocation = true
}

// DisableEndSession omits the end_session endpoint from discovery.
func (p *TestProvider) DisableEndSession() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = true
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)
	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}
	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := struct {
			Issuer             string `json:"issuer"`
			AuthEndpoint       string `json:"authorization_endpoint"`
			TokenEndpoint      string `json:"token_endpoint"`
			JWKSURI            string `json:"jwks_uri"`
			UserinfoEndpoint   string `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint string `json:"end_session_endpoint,omitempty"`
			RevocationEndpoint string `json:"revocation_endpoint,omitempty"`
			CheckSessionIframe string `json:"check_session_iframe,omitempty"`
		}{
			Issuer:             p.Addr(),
			AuthEndpoint:       p.Addr() + "/auth",
			TokenEndpoint:      p.Addr() + "/token",
			JWKSURI:            p.Addr() + "/certs",
			UserinfoEndpoint:   p.Addr() + "/userinfo",
			EndSessionEndpoint: p.Addr() + "/end-session",
			RevocationEndpoint: p.Addr() + "/revoke",
			CheckSessionIframe: p.Addr() + "/check-session",
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.disableRevocation {
			reply.RevocationEndpoint = ""
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}

		_ = p.writeJSON(w, &reply)

	case "/auth":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		if p.authError != "" {
			p.writeAuthErrorResponse(w, req, p.authError, "")
			return
		}
		if qv.Get("response_type") != "code" {
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
			return
		}
		if !strutil.StrListContains(strings.Fields(qv.Get("scope")), "openid") {
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
			return
		}
		if p.expectedAuthCode == "" {
			p.writeAuthErrorResponse(w, req, "access_denied", "")
			return
		}

		state := qv.Get("state")
		if state == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
			return
		}
		redirectURI := qv.Get("redirect_uri")
		if redirectURI == "" {
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing redirect_uri parameter")
			return
		}

		redirectURI += "?state=" + url.QueryEscape(state) +
			"&code=" + url.QueryEscape(p.expectedAuthCode)
		if p.replySessionState != "" {
			redirectURI += "&session_state=" + url.QueryEscape(p.replySessionState)
		}
		http.Redirect(w, req, redirectURI, http.StatusFound)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/certs_missing":
		w.WriteHeader(http.StatusNotFound)

	case "/certs_invalid":
		_, _ = w.Write([]byte("It's not a keyset!"))

	case "/token":
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if p.tokenError != "" {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, p.tokenError, "")
			return
		}

		switch req.FormValue("grant_type") {
		case "authorization_code":
			switch {
			case !strutil.StrListContains(p.allowedRedirectURIs, req.FormValue("redirect_uri")):
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "redirect_uri is not allowed")
				return
			case req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected auth code")
				return
			}
		case "refresh_token":
			if p.expectedRefreshToken != "" && req.FormValue("refresh_token") != p.expectedRefreshToken {
				_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_grant", "unexpected refresh token")
				return
			}
		case "password":
			if req.FormValue("username") == "" || req.FormValue("password") == "" {
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "missing credentials")
				return
			}
		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad grant_type")
			return
		}

		stdClaims := jwt.Claims{
			Subject:   p.replySubject,
			Issuer:    p.Addr(),
			NotBefore: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
			Expiry:    jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
			Audience:  jwt.Audience{p.clientID},
		}
		jwtData := TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, p.customClaims)

		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			IDToken      string `json:"id_token,omitempty"`
			RefreshToken string `json:"refresh_token,omitempty"`
			ExpiresIn    int64  `json:"expires_in,omitempty"`
			SessionState string `json:"session_state,omitempty"`
		}{
			AccessToken:  "test-access-token",
			TokenType:    "Bearer",
			IDToken:      jwtData,
			RefreshToken: p.replyRefreshToken,
			ExpiresIn:    p.replyExpiresIn,
			SessionState: p.replySessionState,
		}
		if p.omitIDToken {
			reply.IDToken = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		reply := map[string]interface{}{"sub": p.replySubject}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		_ = p.writeJSON(w, reply)

	case "/revoke":
		if p.disableRevocation {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != "POST" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)

	case "/end-session":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		qv := req.URL.Query()
		redirectURI := qv.Get("post_logout_redirect_uri")
		if redirectURI == "" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if state := qv.Get("state"); state != "" {
			redirectURI += "?state=" + url.QueryEscape(state)
		}
		http.Redirect(w, req, redirectURI, http.StatusFound)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// TestGenerateKeys generates a test ECDSA P-256 pub/priv key pair, both
// pem-encoded.
func TestGenerateKeys(t *testing.T) (pub, priv string) {
	t.Helper()
	require := require.New(t)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(err)

	{
		derBytes, err := x509.MarshalECPrivateKey(privateKey)
		require.NoError(err)
		priv = string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: derBytes}))
	}
	{
		derBytes, err := x509.MarshalPKIXPublicKey(privateKey.Public())
		require.NoError(err)
		pub = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: derBytes}))
	}

	return pub, priv
}

// TestSignJWT bundles the provided claims into a signed test JWT.  The key
// must be a pem-encoded ECDSA private key.
func TestSignJWT(t *testing.T, ecdsaPrivKeyPEM string, claims jwt.Claims, privateClaims interface{}) string {
	t.Helper()
	require := require.New(t)

	var key *ecdsa.PrivateKey
	block, _ := pem.Decode([]byte(ecdsaPrivKeyPEM))
	if block != nil {
		var err error
		key, err = x509.ParseECPrivateKey(block.Bytes)
		require.NoError(err)
	}

	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.ES256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(err)

	raw, err := jwt.Signed(sig).
		Claims(claims).
		Claims(privateClaims).
		CompactSerialize()
	require.NoError(err)

	return raw
}

// testJWKS converts a pem-encoded public key into a key set suitable for a
// jwks endpoint response.
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{Key: pub},
		},
	}
}
