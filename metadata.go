package oidcrp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/square/go-jose.v2"
)

// ProviderMetadata is a partial OIDC discovery document.  Every field is
// optional; components that need a specific endpoint request it through the
// MetadataService, which decides whether absence is an error.
type ProviderMetadata struct {
	Issuer                string `json:"issuer,omitempty"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
	EndSessionEndpoint    string `json:"end_session_endpoint,omitempty"`
	RevocationEndpoint    string `json:"revocation_endpoint,omitempty"`
	CheckSessionIframe    string `json:"check_session_iframe,omitempty"`
	JWKSURI               string `json:"jwks_uri,omitempty"`
}

// maxMetadataResponseSize bounds discovery and jwks response bodies.
const maxMetadataResponseSize = 1024 * 1024

// MetadataService discovers and caches the provider's discovery document for
// the lifetime of the instance.  A caller-supplied seed document is merged
// under the fetched one the first time it is fetched (fetched values win on
// key collision).  The signing-key set is cached separately and can be reset
// without discarding the document cache.
type MetadataService struct {
	settings *Settings
	logger   hclog.Logger
	client   *http.Client

	mu          sync.Mutex
	metadata    *ProviderMetadata
	signingKeys []jose.JSONWebKey
}

// NewMetadataService creates a MetadataService for the given settings.
func NewMetadataService(settings *Settings) (*MetadataService, error) {
	const op = "NewMetadataService"
	if settings == nil {
		return nil, fmt.Errorf("%s: settings are nil: %w", op, ErrNilParameter)
	}
	client, err := settings.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}
	return &MetadataService{
		settings: settings,
		logger:   settings.Logger.Named("metadata"),
		client:   client,
	}, nil
}

// metadataURL is the discovery location: Settings.MetadataURL if set, else
// the authority's well-known configuration path.
func (m *MetadataService) metadataURL() (string, error) {
	const op = "MetadataService.metadataURL"
	if m.settings.MetadataURL != "" {
		return m.settings.MetadataURL, nil
	}
	u, err := url.Parse(m.settings.Authority)
	if err != nil {
		return "", fmt.Errorf("%s: authority %s is invalid: %w", op, m.settings.Authority, err)
	}
	u.Path = path.Join(u.Path, "/.well-known/openid-configuration")
	return u.String(), nil
}

// Metadata returns the discovery document, fetching it at most once per
// instance.
func (m *MetadataService) Metadata(ctx context.Context) (*ProviderMetadata, error) {
	const op = "MetadataService.Metadata"
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metadata != nil {
		return m.metadata, nil
	}

	metadataURL, err := m.metadataURL()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var fetched map[string]interface{}
	if err := m.getJSON(ctx, metadataURL, &fetched); err != nil {
		return nil, fmt.Errorf("%s: unable to fetch metadata from %s: %w", op, metadataURL, err)
	}

	merged, err := mergeMetadata(m.settings.MetadataSeed, fetched)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.logger.Debug("discovered provider metadata", "url", metadataURL, "issuer", merged.Issuer)
	m.metadata = merged
	return m.metadata, nil
}

// mergeMetadata lays fetched over seed; fetched values win on collision.
func mergeMetadata(seed *ProviderMetadata, fetched map[string]interface{}) (*ProviderMetadata, error) {
	merged := map[string]interface{}{}
	if seed != nil {
		seedJSON, err := json.Marshal(seed)
		if err != nil {
			return nil, fmt.Errorf("unable to marshal metadata seed: %w", err)
		}
		if err := json.Unmarshal(seedJSON, &merged); err != nil {
			return nil, fmt.Errorf("unable to remarshal metadata seed: %w", err)
		}
	}
	for k, v := range fetched {
		merged[k] = v
	}
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("unable to marshal merged metadata: %w", err)
	}
	var doc ProviderMetadata
	if err := json.Unmarshal(mergedJSON, &doc); err != nil {
		return nil, fmt.Errorf("unable to decode merged metadata: %w", err)
	}
	return &doc, nil
}

// Issuer returns the discovered issuer; absence is an error.
func (m *MetadataService) Issuer(ctx context.Context) (string, error) {
	return m.property(ctx, "issuer", false)
}

// AuthorizationEndpoint returns the discovered authorization endpoint;
// absence is an error.
func (m *MetadataService) AuthorizationEndpoint(ctx context.Context) (string, error) {
	return m.property(ctx, "authorization_endpoint", false)
}

// TokenEndpoint returns the discovered token endpoint; absence is an error.
func (m *MetadataService) TokenEndpoint(ctx context.Context) (string, error) {
	return m.property(ctx, "token_endpoint", false)
}

// UserinfoEndpoint returns the discovered userinfo endpoint; absence is an
// error.
func (m *MetadataService) UserinfoEndpoint(ctx context.Context) (string, error) {
	return m.property(ctx, "userinfo_endpoint", false)
}

// EndSessionEndpoint returns the discovered end-session endpoint, or "" when
// the provider does not advertise one.
func (m *MetadataService) EndSessionEndpoint(ctx context.Context) (string, error) {
	return m.property(ctx, "end_session_endpoint", true)
}

// CheckSessionIframe returns the discovered check-session location, or ""
// when the provider does not advertise one.
func (m *MetadataService) CheckSessionIframe(ctx context.Context) (string, error) {
	return m.property(ctx, "check_session_iframe", true)
}

// RevocationEndpoint returns the discovered revocation endpoint.  When
// required is set, absence is an error; otherwise "" is returned.
func (m *MetadataService) RevocationEndpoint(ctx context.Context, required bool) (string, error) {
	return m.property(ctx, "revocation_endpoint", !required)
}

func (m *MetadataService) property(ctx context.Context, name string, optional bool) (string, error) {
	const op = "MetadataService.property"
	md, err := m.Metadata(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	var value string
	switch name {
	case "issuer":
		value = md.Issuer
	case "authorization_endpoint":
		value = md.AuthorizationEndpoint
	case "token_endpoint":
		value = md.TokenEndpoint
	case "userinfo_endpoint":
		value = md.UserinfoEndpoint
	case "end_session_endpoint":
		value = md.EndSessionEndpoint
	case "revocation_endpoint":
		value = md.RevocationEndpoint
	case "check_session_iframe":
		value = md.CheckSessionIframe
	case "jwks_uri":
		value = md.JWKSURI
	default:
		return "", fmt.Errorf("%s: unknown metadata property %q: %w", op, name, ErrInvalidParameter)
	}
	if value == "" {
		if !optional {
			return "", fmt.Errorf("%s: %q: %w", op, name, ErrMissingMetadataProperty)
		}
		m.logger.Warn("metadata property is not advertised by the provider", "property", name)
	}
	return value, nil
}

// SigningKeys returns the provider's signing keys: the pre-supplied
// Settings.SigningKeys if present, else the key set fetched once from the
// discovered jwks_uri.
func (m *MetadataService) SigningKeys(ctx context.Context) ([]jose.JSONWebKey, error) {
	const op = "MetadataService.SigningKeys"
	m.mu.Lock()
	cached := m.signingKeys
	m.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	if m.settings.SigningKeys != nil {
		m.mu.Lock()
		m.signingKeys = m.settings.SigningKeys
		m.mu.Unlock()
		return m.settings.SigningKeys, nil
	}

	jwksURI, err := m.property(ctx, "jwks_uri", false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var payload struct {
		Keys []jose.JSONWebKey `json:"keys"`
	}
	var probe map[string]json.RawMessage
	raw, err := m.getRaw(ctx, jwksURI)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to fetch signing keys from %s: %w", op, jwksURI, err)
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("%s: unable to decode key set document: %w", op, err)
	}
	if _, ok := probe["keys"]; !ok {
		return nil, fmt.Errorf("%s: key set document has no keys array: %w", op, ErrInvalidParameter)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%s: unable to decode key set document: %w", op, err)
	}

	m.mu.Lock()
	m.signingKeys = payload.Keys
	m.mu.Unlock()
	return payload.Keys, nil
}

// ResetSigningKeys clears only the signing-key cache; the discovery document
// cache is untouched.
func (m *MetadataService) ResetSigningKeys() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signingKeys = nil
}

func (m *MetadataService) getJSON(ctx context.Context, rawURL string, dest interface{}) error {
	raw, err := m.getRaw(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unexpected response from %s: %w", rawURL, err)
	}
	return nil
}

func (m *MetadataService) getRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClientFromContext(ctx, m.client).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			m.logger.Debug("unable to close response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataResponseSize))
	if err != nil {
		return nil, fmt.Errorf("unable to read response from %s: %w", rawURL, err)
	}
	return body, nil
}

// responseContentType reports the media type of a response, lowercased and
// stripped of parameters.
func responseContentType(resp *http.Response) string {
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
