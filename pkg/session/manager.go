package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// State represents a session acquisition state.
type State string

const (
	// StateNoCredential means no usable credential is present.
	StateNoCredential State = "no_credential"

	// StateValidating means a loaded credential is being probed.
	StateValidating State = "validating"

	// StateLoggingIn means an interactive OTP-gated login is in progress.
	StateLoggingIn State = "logging_in"

	// StateValid means the credential is accepted and persisted.
	StateValid State = "valid"
)

// Prober probes a credential with a lightweight synthetic call.
type Prober interface {
	Probe(ctx context.Context, cred Credential) bool
}

// Authenticator performs the interactive OTP-gated login and returns a
// fresh credential.
type Authenticator interface {
	Login(ctx context.Context) (Credential, error)
}

// Manager drives the session state machine:
//
//	NoCredential -> Validating -> Valid
//	NoCredential -> LoggingIn  -> Valid
//
// A failed probe falls through to LoggingIn. A failed login is fatal to
// the run. Once Valid, the credential is never re-validated mid-run.
type Manager struct {
	store  *FileStore
	prober Prober
	auth   Authenticator
	logger zerolog.Logger
	state  State
}

// NewManager creates a session manager.
func NewManager(store *FileStore, prober Prober, auth Authenticator, logger zerolog.Logger) *Manager {
	return &Manager{
		store:  store,
		prober: prober,
		auth:   auth,
		logger: logger,
		state:  StateNoCredential,
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	return m.state
}

func (m *Manager) setState(s State) {
	m.state = s
	m.logger.Info().Str("state", string(s)).Msg("Session state changed")
}

// Acquire returns a valid credential, persisting it on acquisition.
// It probes a stored credential first and falls back to interactive login.
func (m *Manager) Acquire(ctx context.Context) (Credential, error) {
	m.setState(StateNoCredential)

	if cred := m.store.Load(); cred != nil {
		m.setState(StateValidating)
		if m.prober.Probe(ctx, cred) {
			m.setState(StateValid)
			return cred, nil
		}
		m.logger.Info().Msg("Stored cookies are invalid, logging in again")
	}

	m.setState(StateLoggingIn)
	cred, err := m.auth.Login(ctx)
	if err != nil {
		m.setState(StateNoCredential)
		return nil, fmt.Errorf("login: %w", err)
	}

	if err := m.store.Save(cred); err != nil {
		return nil, fmt.Errorf("save cookies: %w", err)
	}

	m.setState(StateValid)
	return cred, nil
}
