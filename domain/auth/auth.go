package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultScope grants read access to Azure Resource Manager, which covers
// the Cost Management query and the subscription list.
const DefaultScope = "https://management.azure.com/.default"

// Session is the signed-in identity. A nil *Session means unauthenticated.
type Session struct {
	PrincipalName string `json:"principalName"`
	DisplayName   string `json:"displayName"`
	AccountHandle string `json:"accountHandle"`
}

// AccessToken is a bearer token minted for exactly one scope.
type AccessToken struct {
	Value  string
	Scope  string
	Expiry time.Time
}

// AuthorizationHeader returns the value for the HTTP Authorization header.
func (t AccessToken) AuthorizationHeader() string {
	return "Bearer " + t.Value
}

// Valid reports whether the token is non-empty and not expired.
func (t AccessToken) Valid() bool {
	if t.Value == "" {
		return false
	}
	return t.Expiry.IsZero() || time.Now().Before(t.Expiry)
}

// String never prints the raw token.
func (t AccessToken) String() string {
	return MaskToken(t.Value)
}

// LogValue keeps tokens out of structured logs.
func (t AccessToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("value", MaskToken(t.Value)),
		slog.String("scope", t.Scope),
		slog.Time("expiry", t.Expiry),
	)
}

// CredentialStore holds the session and mints tokens for it.
type CredentialStore interface {
	// AcquireSilent must not prompt the user. It fails when the token cannot
	// be produced from cached state alone.
	AcquireSilent(ctx context.Context, session *Session, scope string) (AccessToken, error)
	// AcquireInteractive may block on user input for as long as it takes.
	AcquireInteractive(ctx context.Context, session *Session, scope string) (AccessToken, error)
}

// Reason classifies an AuthError.
type Reason string

const (
	ReasonNoSession                  Reason = "no_session"
	ReasonSilentAndInteractiveFailed Reason = "silent_and_interactive_failed"
)

// AuthError is returned by Acquirer.Acquire when no token could be obtained.
type AuthError struct {
	Reason Reason
	Scope  string
	Err    error
}

func (e *AuthError) Error() string {
	switch e.Reason {
	case ReasonNoSession:
		return "unable to authenticate: no signed-in session"
	default:
		if e.Err != nil {
			return fmt.Sprintf("unable to authenticate for %s: %v", e.Scope, e.Err)
		}
		return fmt.Sprintf("unable to authenticate for %s", e.Scope)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// ErrScopeMismatch is reported when a store hands back a token for another scope.
var ErrScopeMismatch = errors.New("token scope does not match requested scope")

// MaskToken keeps the last 4 characters of a secret.
func MaskToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= 4 {
		return "****"
	}
	return "****" + value[len(value)-4:]
}

// MaskAuthorization masks a bearer header value, preserving the scheme.
func MaskAuthorization(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	parts := strings.Fields(value)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return "Bearer " + MaskToken(parts[1])
	}
	return MaskToken(value)
}
