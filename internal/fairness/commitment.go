package fairness

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

const secretSize = 32 // 256 bits of entropy

var (
	// ErrEntropyUnavailable means the secure randomness source failed. The
	// manager never falls back to a weaker source; callers must refuse to
	// open new rounds until rotation succeeds.
	ErrEntropyUnavailable = errors.New("entropy unavailable")
	ErrSecretNotFound     = errors.New("no secret for digest")
	ErrNotDisclosable     = errors.New("secret is still active")
)

// SecretRecord is one generation of the server secret. Superseded records are
// retained so past rounds stay verifiable.
type SecretRecord struct {
	Digest    string    `json:"digest"`
	Secret    []byte    `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	RetiredAt time.Time `json:"retired_at,omitempty"`
}

// HistoryStore persists retired secrets for the audit retention period.
type HistoryStore interface {
	SaveSecret(rec SecretRecord) error
	GetSecret(digest string) (*SecretRecord, bool, error)
}

// Manager owns the server secret and its one-way commitment. The secret never
// leaves the manager until the digest is superseded by a rotation, at which
// point the retired secret becomes disclosable for verification.
type Manager struct {
	mu      sync.Mutex
	entropy io.Reader
	clock   func() time.Time
	history HistoryStore
	current SecretRecord
}

type ManagerOption func(*Manager)

// WithEntropy overrides the randomness source. Tests inject a fixed reader to
// get deterministic secrets.
func WithEntropy(r io.Reader) ManagerOption {
	return func(m *Manager) { m.entropy = r }
}

func WithClock(clock func() time.Time) ManagerOption {
	return func(m *Manager) { m.clock = clock }
}

// NewManager creates a Manager and performs the initial rotation.
func NewManager(history HistoryStore, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		entropy: rand.Reader,
		clock:   time.Now,
		history: history,
	}
	for _, opt := range opts {
		opt(m)
	}
	if _, err := m.Rotate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Rotate replaces the current secret with a fresh 256-bit value and returns
// the digest of the new secret. The previous secret is retired into history,
// not discarded.
func (m *Manager) Rotate() (string, error) {
	secret := make([]byte, secretSize)
	if _, err := io.ReadFull(m.entropy, secret); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if m.current.Digest != "" {
		retired := m.current
		retired.RetiredAt = now
		if err := m.history.SaveSecret(retired); err != nil {
			return "", fmt.Errorf("retire secret %s: %w", retired.Digest, err)
		}
	}

	m.current = SecretRecord{
		Digest:    DigestOf(secret),
		Secret:    secret,
		CreatedAt: now,
	}
	return m.current.Digest, nil
}

// CurrentDigest returns the published commitment for the active secret.
func (m *Manager) CurrentDigest() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Digest
}

// SecretFor resolves the secret committed under digest, whether active or
// retired. Used by the draw path only; the secret must not cross the process
// boundary through this call.
func (m *Manager) SecretFor(digest string) ([]byte, error) {
	m.mu.Lock()
	if m.current.Digest == digest {
		secret := m.current.Secret
		m.mu.Unlock()
		return secret, nil
	}
	m.mu.Unlock()

	rec, found, err := m.history.GetSecret(digest)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, digest)
	}
	return rec.Secret, nil
}

// Disclose returns a retired secret for public verification. The active
// secret is never disclosable; rotate first.
func (m *Manager) Disclose(digest string) ([]byte, error) {
	m.mu.Lock()
	if m.current.Digest == digest {
		m.mu.Unlock()
		return nil, ErrNotDisclosable
	}
	m.mu.Unlock()

	rec, found, err := m.history.GetSecret(digest)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrSecretNotFound, digest)
	}
	return rec.Secret, nil
}

// DigestOf returns the hex SHA-256 commitment of a secret.
func DigestOf(secret []byte) string {
	sum := sha256.Sum256(secret)
	return hex.EncodeToString(sum[:])
}
