package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Acquirer wraps a CredentialStore with the silent-then-interactive strategy.
type Acquirer struct {
	store CredentialStore
}

// NewAcquirer creates an Acquirer backed by store.
func NewAcquirer(store CredentialStore) *Acquirer {
	return &Acquirer{store: store}
}

// Acquire returns a token for scope on behalf of session. It tries the silent
// path first and prompts at most once. Any failure is an *AuthError.
func (a *Acquirer) Acquire(ctx context.Context, session *Session, scope string) (AccessToken, error) {
	if session == nil {
		slog.Debug("auth.acquire.no_session", "scope", scope)
		return AccessToken{}, &AuthError{Reason: ReasonNoSession, Scope: scope}
	}

	tok, silentErr := a.store.AcquireSilent(ctx, session, scope)
	if silentErr == nil {
		silentErr = checkScope(tok, scope)
	}
	if silentErr == nil {
		slog.Debug("auth.silent.ok", "scope", scope, "token", tok)
		return tok, nil
	}
	slog.Info("auth.silent.failed", "scope", scope, "error", silentErr)

	tok, interactiveErr := a.store.AcquireInteractive(ctx, session, scope)
	if interactiveErr == nil {
		interactiveErr = checkScope(tok, scope)
	}
	if interactiveErr == nil {
		slog.Info("auth.interactive.ok", "scope", scope, "token", tok)
		return tok, nil
	}
	slog.Warn("auth.interactive.failed", "scope", scope, "error", interactiveErr)

	return AccessToken{}, &AuthError{
		Reason: ReasonSilentAndInteractiveFailed,
		Scope:  scope,
		Err: errors.Join(
			fmt.Errorf("silent: %w", silentErr),
			fmt.Errorf("interactive: %w", interactiveErr),
		),
	}
}

func checkScope(tok AccessToken, scope string) error {
	if tok.Scope != scope {
		return fmt.Errorf("%w: got %q, want %q", ErrScopeMismatch, tok.Scope, scope)
	}
	if !tok.Valid() {
		return errors.New("empty or expired access token")
	}
	return nil
}
