package azuread

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"cost-dashboard/domain/auth"
)

var (
	ErrInteractionRequired    = errors.New("interaction required")
	ErrNotSignedIn            = errors.New("not signed in")
	ErrAccountMismatch        = errors.New("token belongs to a different account")
	ErrInteractiveUnsupported = errors.New("interactive acquisition is not supported")
)

// identityScopes are requested alongside the resource scope so the token
// response carries an id_token and a refresh token.
var identityScopes = []string{"openid", "profile", "offline_access"}

// Options configures a DeviceCodeStore.
type Options struct {
	TenantID    string
	ClientID    string
	Authority   string // defaults to https://login.microsoftonline.com
	SessionPath string
	// Prompt receives the device-code instructions. Defaults to os.Stderr.
	Prompt     io.Writer
	HTTPClient *http.Client
}

// DeviceCodeStore is a CredentialStore for a signed-in user. Silent
// acquisition uses the per-scope token cache and refresh tokens; interactive
// acquisition runs the OAuth 2.0 device authorization grant and waits for
// the user to finish in a browser.
type DeviceCodeStore struct {
	clientID   string
	endpoint   oauth2.Endpoint
	path       string
	prompt     io.Writer
	httpClient *http.Client

	// mu serializes read-modify-write of the session file within the process.
	mu sync.Mutex
}

// NewDeviceCodeStore creates a store persisting to opts.SessionPath.
func NewDeviceCodeStore(opts Options) (*DeviceCodeStore, error) {
	if opts.TenantID == "" || opts.ClientID == "" {
		return nil, errors.New("azuread: tenant and client id are required")
	}
	path := opts.SessionPath
	if path == "" {
		p, err := DefaultSessionPath()
		if err != nil {
			return nil, fmt.Errorf("resolve session path: %w", err)
		}
		path = p
	}
	prompt := opts.Prompt
	if prompt == nil {
		prompt = os.Stderr
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &DeviceCodeStore{
		clientID:   opts.ClientID,
		endpoint:   Endpoint(opts.Authority, opts.TenantID),
		path:       path,
		prompt:     prompt,
		httpClient: hc,
	}, nil
}

// Endpoint returns the Microsoft identity platform v2 endpoints for tenant.
func Endpoint(authority, tenant string) oauth2.Endpoint {
	if authority == "" {
		authority = "https://login.microsoftonline.com"
	}
	base := strings.TrimRight(authority, "/") + "/" + tenant + "/oauth2/v2.0"
	return oauth2.Endpoint{
		AuthURL:       base + "/authorize",
		TokenURL:      base + "/token",
		DeviceAuthURL: base + "/devicecode",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
}

func (s *DeviceCodeStore) oauthConfig(scope string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: s.clientID,
		Endpoint: s.endpoint,
		Scopes:   append([]string{scope}, identityScopes...),
	}
}

func (s *DeviceCodeStore) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// load reads the session file. It is read on every call so that a login or
// logout from another process is seen by a running server. Callers hold s.mu.
func (s *DeviceCodeStore) load() (*sessionFile, error) {
	return readSessionFile(s.path)
}

// Current returns the persisted session, or nil when nobody is signed in.
func (s *DeviceCodeStore) Current() (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return nil, err
	}
	return sf.Session, nil
}

// SignIn runs the device flow for scope and creates the session.
func (s *DeviceCodeStore) SignIn(ctx context.Context, scope string) (*auth.Session, error) {
	tok, err := s.deviceFlow(ctx, scope)
	if err != nil {
		return nil, err
	}
	session, err := sessionFromToken(tok)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf := &sessionFile{Session: session, Tokens: map[string]*oauth2.Token{scope: tok}}
	if err := writeSessionFile(s.path, sf); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	slog.Info("azuread.signin.ok", "principal", session.PrincipalName)
	return session, nil
}

// SignOut destroys the session and every cached token.
func (s *DeviceCodeStore) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeSessionFile(s.path)
}

// AcquireSilent returns the cached token for scope, refreshing it when it
// has expired. It never prompts.
func (s *DeviceCodeStore) AcquireSilent(ctx context.Context, session *auth.Session, scope string) (auth.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return auth.AccessToken{}, err
	}
	if sf.Session == nil {
		return auth.AccessToken{}, ErrNotSignedIn
	}
	if session.AccountHandle != sf.Session.AccountHandle {
		return auth.AccessToken{}, ErrAccountMismatch
	}
	cached := sf.Tokens[scope]
	if cached == nil {
		return auth.AccessToken{}, fmt.Errorf("%w: no cached token for %s", ErrInteractionRequired, scope)
	}
	if cached.Valid() {
		return toAccessToken(cached, scope), nil
	}
	if cached.RefreshToken == "" {
		return auth.AccessToken{}, fmt.Errorf("%w: token expired", ErrInteractionRequired)
	}

	fresh, err := s.oauthConfig(scope).TokenSource(s.clientContext(ctx), cached).Token()
	if err != nil {
		return auth.AccessToken{}, fmt.Errorf("%w: refresh: %v", ErrInteractionRequired, err)
	}
	sf.Tokens[scope] = fresh
	if err := writeSessionFile(s.path, sf); err != nil {
		slog.Warn("azuread.session.persist.error", "error", err)
	}
	slog.Debug("azuread.silent.refreshed", "scope", scope)
	return toAccessToken(fresh, scope), nil
}

// AcquireInteractive runs the device flow for scope and blocks until the
// user approves, declines or lets the code expire.
func (s *DeviceCodeStore) AcquireInteractive(ctx context.Context, session *auth.Session, scope string) (auth.AccessToken, error) {
	tok, err := s.deviceFlow(ctx, scope)
	if err != nil {
		return auth.AccessToken{}, err
	}
	got, err := sessionFromToken(tok)
	if err != nil {
		slog.Warn("azuread.interactive.identity.error", "error", err)
		return auth.AccessToken{}, fmt.Errorf("%w: %v", ErrAccountMismatch, err)
	}
	if got.AccountHandle != session.AccountHandle {
		return auth.AccessToken{}, ErrAccountMismatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.load()
	if err != nil {
		return auth.AccessToken{}, err
	}
	if sf.Session == nil {
		sf.Session = session
	}
	sf.Tokens[scope] = tok
	if err := writeSessionFile(s.path, sf); err != nil {
		slog.Warn("azuread.session.persist.error", "error", err)
	}
	return toAccessToken(tok, scope), nil
}

func (s *DeviceCodeStore) deviceFlow(ctx context.Context, scope string) (*oauth2.Token, error) {
	conf := s.oauthConfig(scope)
	ctx = s.clientContext(ctx)
	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("start device authorization: %w", err)
	}
	if da.VerificationURIComplete != "" {
		fmt.Fprintf(s.prompt, "To sign in, open %s\n", da.VerificationURIComplete)
	} else {
		fmt.Fprintf(s.prompt, "To sign in, open %s and enter the code %s\n", da.VerificationURI, da.UserCode)
	}
	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("device authorization: %w", err)
	}
	return tok, nil
}

func toAccessToken(t *oauth2.Token, scope string) auth.AccessToken {
	return auth.AccessToken{Value: t.AccessToken, Scope: scope, Expiry: t.Expiry}
}

type idClaims struct {
	ObjectID          string `json:"oid"`
	Subject           string `json:"sub"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	UPN               string `json:"upn"`
}

// sessionFromToken reads the identity claims of the id_token. The signature
// is not verified.
func sessionFromToken(t *oauth2.Token) (*auth.Session, error) {
	raw, _ := t.Extra("id_token").(string)
	if raw == "" {
		return nil, errors.New("token response has no id_token")
	}
	parts := strings.Split(raw, ".")
	if len(parts) < 2 {
		return nil, errors.New("malformed id_token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return nil, fmt.Errorf("decode id_token: %w", err)
	}
	var c idClaims
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}
	handle := c.ObjectID
	if handle == "" {
		handle = c.Subject
	}
	principal := c.PreferredUsername
	if principal == "" {
		principal = c.UPN
	}
	return &auth.Session{PrincipalName: principal, DisplayName: c.Name, AccountHandle: handle}, nil
}
