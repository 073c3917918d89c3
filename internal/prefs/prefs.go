// Package prefs persists per-user surface preferences.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"pkt.systems/pinwire/schema"
	"pkt.systems/pslog"
)

// DefaultLanguage is used until a user picks one.
const DefaultLanguage = "en"

var languagePattern = regexp.MustCompile(`^[a-zA-Z]{2,3}(-[a-zA-Z0-9]{1,8})*$`)

// Prefs captures the preferences a surface persists across restarts.
type Prefs struct {
	Language string `json:"language"`
}

// Store is a file-backed preference store keyed by user id. A Store with an
// empty path keeps preferences in memory only.
type Store struct {
	path string
	log  pslog.Logger

	mu    sync.Mutex
	prefs map[schema.UserID]Prefs
}

// NewStore loads the preference file when it exists.
func NewStore(path string, logger pslog.Logger) (*Store, error) {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	s := &Store{
		path:  path,
		log:   logger,
		prefs: make(map[schema.UserID]Prefs),
	}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.prefs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}

// Get returns the preferences for the user, defaults applied.
func (s *Store) Get(userID schema.UserID) Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefs := s.prefs[userID]
	if prefs.Language == "" {
		prefs.Language = DefaultLanguage
	}
	return prefs
}

// Set validates and persists the preferences for the user.
func (s *Store) Set(userID schema.UserID, prefs Prefs) error {
	if userID == "" {
		return fmt.Errorf("%w: missing user id", schema.ErrInvalidRequest)
	}
	if prefs.Language == "" {
		prefs.Language = DefaultLanguage
	}
	if !languagePattern.MatchString(prefs.Language) {
		return fmt.Errorf("%w: invalid language %q", schema.ErrInvalidRequest, prefs.Language)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[userID] = prefs
	if err := s.saveLocked(); err != nil {
		s.log.Warn("prefs save failed", "user", userID, "err", err)
		return err
	}
	s.log.Debug("prefs saved", "user", userID, "language", prefs.Language)
	return nil
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.prefs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "prefs-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
