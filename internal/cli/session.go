package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tycoon/internal/auth"
)

var ErrSessionExpired = errors.New("session expired")

// Session is the owner token kept between tyc invocations.
type Session struct {
	AccessToken string    `json:"access_token"`
	OwnerID     string    `json:"owner_id"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// NewSession reads the owner and expiry out of token.
func NewSession(token string) (Session, error) {
	token = strings.TrimSpace(token)
	owner, exp, err := auth.Inspect(token)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, OwnerID: owner, ExpiresAt: exp}, nil
}

// Check rejects a session whose token no longer names OwnerID or whose
// expiry has passed at now.
func (s Session) Check(now time.Time) error {
	if strings.TrimSpace(s.AccessToken) == "" {
		return fmt.Errorf("no access token found in session")
	}
	owner, exp, err := auth.Inspect(s.AccessToken)
	if err != nil {
		return err
	}
	if owner != s.OwnerID {
		return fmt.Errorf("session owner %q does not match token subject %q", s.OwnerID, owner)
	}
	if !exp.IsZero() && !now.Before(exp) {
		return fmt.Errorf("%w at %s", ErrSessionExpired, exp.Format(time.RFC3339))
	}
	return nil
}

func baseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".tyc")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// SaveSession checks s and writes it through a temp file and rename.
func SaveSession(s Session) error {
	if err := s.Check(time.Now()); err != nil {
		return err
	}
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadSession returns the stored session if it is still usable.
func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if err := s.Check(time.Now()); err != nil {
		return Session{}, err
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
