package azuread

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"cost-dashboard/domain/auth"
)

// sessionFile is what survives between runs: who is signed in and the
// tokens minted for them, keyed by scope.
type sessionFile struct {
	Session *auth.Session            `json:"session"`
	Tokens  map[string]*oauth2.Token `json:"tokens"`
}

// DefaultSessionPath is ~/.cache/cost-dashboard/session.json on Linux.
func DefaultSessionPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cost-dashboard", "session.json"), nil
}

func readSessionFile(path string) (*sessionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &sessionFile{Tokens: map[string]*oauth2.Token{}}, nil
		}
		return nil, err
	}
	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("decode session file: %w", err)
	}
	if sf.Tokens == nil {
		sf.Tokens = map[string]*oauth2.Token{}
	}
	return &sf, nil
}

func writeSessionFile(path string, sf *sessionFile) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	data, err := json.Marshal(sf)
	if err != nil {
		return err
	}
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func removeSessionFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
