package oidcrp

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

// HTTPClient creates a new http client for the provider configured.  It uses
// the optional ProviderCA PEM if provided, otherwise the installed system CA
// chain.
func (s *Settings) HTTPClient() (*http.Client, error) {
	const op = "Settings.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()

	if s.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(s.ProviderCA)); !ok {
			return nil, ErrInvalidCACert
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs: certPool,
		}
	}

	return &http.Client{
		Transport: tr,
	}, nil
}

// HTTPClientContext is a helper function that returns a new Context that
// carries the provided HTTP client.  This method sets the same context key
// used by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so
// the returned context works for those packages as well.  Every HTTP call
// made by this package honors the override.
func HTTPClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// httpClientFromContext returns the client carried by ctx via
// HTTPClientContext, or def when none is set.
func httpClientFromContext(ctx context.Context, def *http.Client) *http.Client {
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && c != nil {
		return c
	}
	return def
}
