package oidcrp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// testSettings builds valid settings against a static authority, letting the
// caller adjust fields before defaults and validation apply.
func testSettings(t *testing.T, mod func(*Settings)) *Settings {
	t.Helper()
	s := Settings{
		Authority:   "https://example.com",
		ClientID:    "test-rp",
		RedirectURI: "https://example.com/callback",
	}
	if mod != nil {
		mod(&s)
	}
	settings, err := NewSettings(s)
	require.NoError(t, err)
	return settings
}

// testProviderSettings builds valid settings against a running TestProvider.
func testProviderSettings(t *testing.T, tp *TestProvider, mod func(*Settings)) *Settings {
	t.Helper()
	s := Settings{
		Authority:   tp.Addr(),
		ClientID:    "test-rp",
		RedirectURI: "https://example.com/callback",
		ProviderCA:  tp.CACert(),
	}
	if mod != nil {
		mod(&s)
	}
	settings, err := NewSettings(s)
	require.NoError(t, err)
	return settings
}

// testHTTPClient is an http client trusting the TestProvider's CA which does
// not follow redirects, so a navigation can capture the callback location.
func testHTTPClient(t *testing.T, tp *TestProvider) *http.Client {
	t.Helper()
	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM([]byte(tp.CACert())))
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// testNavigator drives navigations against a TestProvider over plain HTTP:
// it requests the given URL and reports the redirect target as the callback.
type testNavigator struct {
	t  *testing.T
	tp *TestProvider
}

func newTestNavigator(t *testing.T, tp *TestProvider) *testNavigator {
	return &testNavigator{t: t, tp: tp}
}

func (n *testNavigator) Prepare(context.Context) (NavigatorHandle, error) {
	return &testNavigatorHandle{t: n.t, tp: n.tp}, nil
}

type testNavigatorHandle struct {
	t  *testing.T
	tp *TestProvider
}

func (h *testNavigatorHandle) Navigate(ctx context.Context, params NavigateParams) (*NavigateResult, error) {
	client := testHTTPClient(h.t, h.tp)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, params.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, params.URL)
	}
	return &NavigateResult{URL: resp.Header.Get("Location")}, nil
}

func (h *testNavigatorHandle) Close() {}
