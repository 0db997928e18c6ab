package azuread

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"cost-dashboard/domain/auth"
)

// ServicePrincipalStore mints tokens with the client-credentials grant for
// headless runs. There is no user, so interactive acquisition always fails.
type ServicePrincipalStore struct {
	tenantID     string
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	httpClient   *http.Client

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewServicePrincipalStore creates a store for an app registration secret.
func NewServicePrincipalStore(authority, tenantID, clientID, clientSecret string, httpClient *http.Client) (*ServicePrincipalStore, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, errors.New("azuread: tenant, client id and client secret are required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ServicePrincipalStore{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     Endpoint(authority, tenantID),
		httpClient:   httpClient,
		sources:      map[string]oauth2.TokenSource{},
	}, nil
}

// Session describes the service principal as a signed-in identity.
func (s *ServicePrincipalStore) Session() *auth.Session {
	return &auth.Session{
		PrincipalName: s.clientID,
		DisplayName:   "service principal",
		AccountHandle: s.tenantID + "/" + s.clientID,
	}
}

// AcquireSilent returns a cached token for scope or fetches a new one.
// Each scope gets its own token source, so tokens never cross scopes.
func (s *ServicePrincipalStore) AcquireSilent(ctx context.Context, session *auth.Session, scope string) (auth.AccessToken, error) {
	s.mu.Lock()
	ts, ok := s.sources[scope]
	if !ok {
		cc := &clientcredentials.Config{
			ClientID:     s.clientID,
			ClientSecret: s.clientSecret,
			TokenURL:     s.endpoint.TokenURL,
			Scopes:       []string{scope},
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The source outlives this call, so it must not capture ctx.
		ts = oauth2.ReuseTokenSource(nil, cc.TokenSource(context.WithValue(context.Background(), oauth2.HTTPClient, s.httpClient)))
		s.sources[scope] = ts
	}
	s.mu.Unlock()

	tok, err := ts.Token()
	if err != nil {
		return auth.AccessToken{}, fmt.Errorf("client credentials: %w", err)
	}
	return toAccessToken(tok, scope), nil
}

// AcquireInteractive is not available without a user.
func (s *ServicePrincipalStore) AcquireInteractive(ctx context.Context, session *auth.Session, scope string) (auth.AccessToken, error) {
	return auth.AccessToken{}, ErrInteractiveUnsupported
}
