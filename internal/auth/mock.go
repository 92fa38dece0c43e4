package auth

import (
	"context"
	"fmt"

	"github.com/oauth2-proxy/mockoidc"
)

// MockProvider runs an in-process OIDC issuer for local development so
// sign-in works without real Google credentials.
type MockProvider struct {
	server *mockoidc.MockOIDC
	client *OIDCProviderClient
}

// StartMockProvider boots the in-process issuer and returns a client
// configured against it. Callers own Shutdown.
func StartMockProvider(ctx context.Context) (*MockProvider, error) {
	server, err := mockoidc.Run()
	if err != nil {
		return nil, fmt.Errorf("start mock OIDC issuer: %w", err)
	}

	cfg := server.Config()
	client, err := NewOIDCProviderClient(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		server.Shutdown()
		return nil, err
	}
	return &MockProvider{server: server, client: client}, nil
}

// Client returns the OIDC client bound to the mock issuer.
func (m *MockProvider) Client() *OIDCProviderClient { return m.client }

// Issuer returns the mock issuer URL.
func (m *MockProvider) Issuer() string { return m.server.Issuer() }

// QueueUser enqueues the identity the next authorization will return.
func (m *MockProvider) QueueUser(email, name string) {
	m.server.QueueUser(&mockoidc.MockUser{
		Subject:           "mock-" + email,
		Email:             email,
		EmailVerified:     true,
		PreferredUsername: name,
	})
}

// Shutdown stops the in-process issuer.
func (m *MockProvider) Shutdown() error { return m.server.Shutdown() }
