// Package session manages the authenticated portal session: the cookie
// credential, its durable JSON store, and the acquisition state machine.
package session

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog"
)

// Credential is the session state required to authenticate portal calls,
// a mapping of cookie names to values. It is read-only once acquired;
// workers receive their own copy via Clone.
type Credential map[string]string

// Clone returns an independent copy of the credential.
func (c Credential) Clone() Credential {
	if c == nil {
		return nil
	}
	out := make(Credential, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// FileStore persists a credential as a JSON object on durable storage.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore creates a credential store backed by the given file path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads the credential file. A missing or corrupt file is not an
// error: it returns nil, meaning a fresh login is required.
func (s *FileStore) Load() Credential {
	data, err := os.ReadFile(s.path)
	if err != nil {
		s.logger.Warn().Str("path", s.path).Msg("Cookie file not found")
		return nil
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Cookie file corrupted")
		return nil
	}

	s.logger.Info().Str("path", s.path).Int("cookies", len(cred)).Msg("Cookies loaded")
	return cred
}

// Save writes the credential to the store as a JSON object.
func (s *FileStore) Save(cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return err
	}
	s.logger.Info().Str("path", s.path).Msg("Cookies saved")
	return nil
}
