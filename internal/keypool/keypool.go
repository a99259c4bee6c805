// Package keypool tracks per-principal API credentials: round-robin
// selection among keys whose cooldown has elapsed, usage accounting, and
// rate-limit cooldowns. An exhausted pool is a signal to the caller, not a
// failure.
package keypool

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lectern/internal/logging"
	"lectern/internal/services"
)

// MaxCredentials bounds the number of keys one principal may pool.
const MaxCredentials = 5

// Credential is one API key with its usage and cooldown tracking.
type Credential struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	UsageCount    int64     `json:"usage_count"`
	CooldownUntil time.Time `json:"cooldown_until,omitzero"`
	AddedAt       time.Time `json:"added_at"`
}

// Usable reports whether the credential's cooldown has elapsed.
func (c Credential) Usable(now time.Time) bool {
	return c.CooldownUntil.IsZero() || !now.Before(c.CooldownUntil)
}

type pool struct {
	Credentials []Credential `json:"credentials"`
	Next        int          `json:"next"`
}

// Manager owns every principal's pool and persists state to a JSON file so
// usage counters and cooldowns survive restarts.
type Manager struct {
	path            string
	logger          *slog.Logger
	defaultCooldown time.Duration

	mu    sync.Mutex
	pools map[string]*pool
	now   func() time.Time
}

// NewManager loads (or lazily creates) the key store at path. An empty path
// yields an in-memory manager.
func NewManager(path string, defaultCooldown time.Duration, logger *slog.Logger) *Manager {
	m := &Manager{
		path:            path,
		logger:          logging.NewComponentLogger(logger, "keypool"),
		defaultCooldown: defaultCooldown,
		pools:           make(map[string]*pool),
		now:             time.Now,
	}
	if path != "" {
		if err := m.load(); err != nil {
			m.logger.Warn("failed to load key store; starting empty",
				logging.String("path", path),
				logging.Error(err))
		}
	}
	return m
}

// WithClock overrides the time source (used in tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// NextUsable selects the next credential whose cooldown has elapsed,
// round-robin from the last selection point. Selection is atomic with the
// cooldown check: two concurrent callers never both receive a credential
// that is still cooling down as usable. Returns services.ErrExhausted when
// every credential is cooling down, and services.ErrNotFound when the
// principal has no credentials at all.
func (m *Manager) NextUsable(principal string) (Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pools[principal]
	if !ok || len(p.Credentials) == 0 {
		return Credential{}, services.Wrap(services.ErrNotFound, "keypool", "select", "no credentials for principal", nil)
	}
	now := m.now()
	for i := 0; i < len(p.Credentials); i++ {
		idx := (p.Next + i) % len(p.Credentials)
		if p.Credentials[idx].Usable(now) {
			p.Next = (idx + 1) % len(p.Credentials)
			return p.Credentials[idx], nil
		}
	}
	return Credential{}, services.Wrap(services.ErrExhausted, "keypool", "select", "all credentials cooling down", nil)
}

// ReportSuccess increments the usage counter for observability.
func (m *Manager) ReportSuccess(principal, credID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cred := m.find(principal, credID); cred != nil {
		cred.UsageCount++
		m.persistLocked()
	}
}

// ReportRateLimited puts the credential on cooldown using the provider's
// advertised retry delay, or the configured default when none was given.
func (m *Manager) ReportRateLimited(principal, credID string, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = m.defaultCooldown
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cred := m.find(principal, credID)
	if cred == nil {
		return
	}
	cred.CooldownUntil = m.now().Add(retryAfter)
	m.persistLocked()
	m.logger.Info("credential cooling down",
		logging.String("principal", principal),
		logging.String("credential", Mask(cred.Key)),
		logging.Duration("cooldown", retryAfter))
}

// Add inserts a new credential, rejecting duplicates and insertions beyond
// the pool bound.
func (m *Manager) Add(principal, key string) (Credential, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Credential{}, errors.New("keypool: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	p := m.pools[principal]
	if p == nil {
		p = &pool{}
		m.pools[principal] = p
	}
	if len(p.Credentials) >= MaxCredentials {
		return Credential{}, fmt.Errorf("keypool: pool for %q is full (max %d)", principal, MaxCredentials)
	}
	for _, cred := range p.Credentials {
		if cred.Key == key {
			return Credential{}, errors.New("keypool: key already present")
		}
	}
	cred := Credential{
		ID:      uuid.NewString(),
		Key:     key,
		AddedAt: m.now().UTC(),
	}
	p.Credentials = append(p.Credentials, cred)
	m.persistLocked()
	return cred, nil
}

// Remove deletes a credential by ID or masked/full key value.
func (m *Manager) Remove(principal, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pools[principal]
	if p == nil {
		return fmt.Errorf("keypool: principal %q not found", principal)
	}
	for i, cred := range p.Credentials {
		if cred.ID == ref || cred.Key == ref || Mask(cred.Key) == ref {
			p.Credentials = append(p.Credentials[:i], p.Credentials[i+1:]...)
			if p.Next >= len(p.Credentials) {
				p.Next = 0
			}
			m.persistLocked()
			return nil
		}
	}
	return fmt.Errorf("keypool: credential %q not found", ref)
}

// List returns a snapshot of the principal's credentials in insertion order.
func (m *Manager) List(principal string) []Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.pools[principal]
	if p == nil {
		return nil
	}
	out := make([]Credential, len(p.Credentials))
	copy(out, p.Credentials)
	return out
}

// Principals returns every principal with at least one credential.
func (m *Manager) Principals() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.pools))
	for principal, p := range m.pools {
		if len(p.Credentials) > 0 {
			out = append(out, principal)
		}
	}
	sort.Strings(out)
	return out
}

// Mask renders a key for display without revealing it.
func Mask(key string) string {
	if len(key) < 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

func (m *Manager) find(principal, credID string) *Credential {
	p := m.pools[principal]
	if p == nil {
		return nil
	}
	for i := range p.Credentials {
		if p.Credentials[i].ID == credID {
			return &p.Credentials[i]
		}
	}
	return nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &m.pools)
}

func (m *Manager) persistLocked() {
	if m.path == "" {
		return
	}
	data, err := json.MarshalIndent(m.pools, "", "  ")
	if err != nil {
		m.logger.Error("encode key store failed", logging.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		m.logger.Error("ensure key store directory failed", logging.Error(err))
		return
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		m.logger.Error("write key store failed", logging.Error(err))
		return
	}
	if err := os.Rename(tmp, m.path); err != nil {
		m.logger.Error("persist key store failed", logging.Error(err))
	}
}
