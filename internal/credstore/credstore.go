// Package credstore holds the agent's API token: the one credential it
// carries. The token is loaded once at startup, kept behind an atomic
// pointer, and rewritten on disk whenever the control plane rotates it.
package credstore

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
)

// ErrMissingCredential means no token could be found in either the
// environment or the token file. The agent cannot authenticate and must not
// start.
var ErrMissingCredential = errors.New("credstore: no API token in environment or token file")

// EnvVar is the environment variable consulted before the token file.
const EnvVar = "NODEWARDEN_TOKEN"

// Store is the process-wide token holder. Reads are lock-free; Rotate is
// called only from the sync loop.
type Store struct {
	path  string
	log   *audit.Logger
	token atomic.Pointer[string]
}

// Load builds a Store from the environment or the token file at path, in
// that order. A token present in both places resolves to the environment
// value. Returns ErrMissingCredential when neither source yields a
// non-empty token.
func Load(path string, log *audit.Logger) (*Store, error) {
	if log == nil {
		log = audit.NewNop()
	}
	s := &Store{path: path, log: log}

	if tok := strings.TrimSpace(os.Getenv(EnvVar)); tok != "" {
		s.token.Store(&tok)
		return s, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from local config, not the network
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMissingCredential
		}
		return nil, fmt.Errorf("credstore: read token file: %w", err)
	}
	tok := strings.TrimSpace(string(data))
	if tok == "" {
		return nil, ErrMissingCredential
	}
	s.token.Store(&tok)
	return s, nil
}

// Current returns the active token. Never empty after a successful Load.
func (s *Store) Current() string {
	return *s.token.Load()
}

// Rotate installs token as the active credential and persists it to the
// token file with owner-only permissions. The in-memory update always takes
// effect; a persistence failure is reported to the caller and logged but
// does not roll the token back, since the control plane has already moved
// on to the new value.
func (s *Store) Rotate(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credstore: refusing to rotate to an empty token")
	}
	s.token.Store(&token)

	if err := s.persist(token); err != nil {
		s.log.LogRotationPersistFailed(s.path, err)
		return fmt.Errorf("credstore: persist rotated token: %w", err)
	}
	s.log.LogTokenRotated(s.path)
	return nil
}

// persist writes the token with mode 0600 set at open time, so the file is
// never observable with wider permissions regardless of the process umask.
func (s *Store) persist(token string) error {
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	// The mode argument only applies on create; tighten a pre-existing file.
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.WriteString(token + "\n"); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}
