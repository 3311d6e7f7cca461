package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/marginalia/internal/logging"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/ports"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/google/uuid"
)

// DefaultLockTTL bounds how long a crashed replica can keep a session locked.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.SnapshotStore

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker    ports.DistributedLocker
	lockTTL   time.Duration
	logger    *slog.Logger
	trackOpts []tracking.Option
	onFailure func(sessionID string, err error)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the distributed lock expiry.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTrackerOptions are applied to every tracker the Manager creates, e.g. a prefix or hooks.
// The prefix stored in a snapshot wins over the one given here.
func WithTrackerOptions(opts ...tracking.Option) Option {
	return func(m *Manager) {
		m.trackOpts = append(m.trackOpts, opts...)
	}
}

// WithFailureHook is called when a fatal error forces a session restart.
func WithFailureHook(fn func(sessionID string, err error)) Option {
	return func(m *Manager) {
		m.onFailure = fn
	}
}

// NewManager creates a new Session Manager with the given persistence store.
func NewManager(store ports.SnapshotStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller must lock entry.mu, and call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// Start creates a session for xml. An empty sessionID gets a random UUID.
// Markers already present in xml are adopted: the counter is recovered from them.
func (m *Manager) Start(ctx context.Context, sessionID, xml string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	doc, err := Parse(xml)
	if err != nil {
		return nil, err
	}
	tracker, err := tracking.Recover(doc, m.trackerOptions()...)
	if err != nil {
		return nil, fmt.Errorf("document carries an unusable change log: %w", err)
	}
	sess := &Session{ID: sessionID, Document: doc, Tracker: tracker}

	err = m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		_, err := m.store.Load(ctx, sessionID)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrSessionExists, sessionID)
		}
		if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		return m.save(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Debug("session started", "session_id", sessionID, "counter", tracker.Counter())
	return sess, nil
}

// Load retrieves an existing session from the store.
func (m *Manager) Load(ctx context.Context, sessionID string) (*Session, error) {
	var sess *Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.load(ctx, sessionID)
		return err
	})
	return sess, err
}

// Edit loads the session, runs fn on it and saves the result, all under the session lock.
//
// If fn returns a non-fatal error nothing is saved. If it returns a fatal error
// (see domain.IsFatal) the session is restarted from the clean form of the last stored
// document, with counter 0, and the error is returned.
func (m *Manager) Edit(ctx context.Context, sessionID string, fn func(*Session) error) (*Session, error) {
	var sess *Session
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		var err error
		sess, err = m.load(ctx, sessionID)
		if err != nil {
			return err
		}
		// The stored form stays untouched while fn mutates sess.
		base := sess.Fork(sess.ID)

		if err := fn(sess); err != nil {
			if domain.IsFatal(err) {
				return m.restart(ctx, base, err)
			}
			return err
		}
		return m.save(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// restart replaces a corrupted session with the clean form of its last stored document.
func (m *Manager) restart(ctx context.Context, base *Session, cause error) error {
	m.logger.Error("session corrupted, restarting from clean document", "session_id", base.ID, "err", cause)
	if m.onFailure != nil {
		m.onFailure(base.ID, cause)
	}

	clean := &Session{
		ID:       base.ID,
		Document: base.Tracker.RemoveChangeTracking(base.Document),
		Tracker:  tracking.New(m.trackerOptions(tracking.WithPrefix(base.Tracker.Prefix()))...),
	}
	if err := m.save(ctx, clean); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to restart session: %w", err))
	}
	return cause
}

// Clean returns the document of a session without markers.
func (m *Manager) Clean(ctx context.Context, sessionID string) (string, error) {
	sess, err := m.Load(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return sess.Clean()
}

// Fork copies a session, markers and counter included, under newID.
// An empty newID gets a random UUID.
func (m *Manager) Fork(ctx context.Context, sessionID, newID string) (*Session, error) {
	if newID == "" {
		newID = uuid.NewString()
	}
	src, err := m.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	fork := src.Fork(newID)

	err = m.WithLock(ctx, newID, func(ctx context.Context) error {
		if _, err := m.store.Load(ctx, newID); err == nil {
			return fmt.Errorf("%w: %s", domain.ErrSessionExists, newID)
		} else if !errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("failed to check session existence: %w", err)
		}
		return m.save(ctx, fork)
	})
	if err != nil {
		return nil, err
	}
	return fork, nil
}

// Delete removes the session from the store.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	return m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		return m.store.Delete(ctx, sessionID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying snapshot store.
func (m *Manager) Store() ports.SnapshotStore {
	return m.store
}

// WithLock executes fn while holding the lock for the session.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// trackerOptions returns a fresh slice so callers never append into m.trackOpts.
func (m *Manager) trackerOptions(extra ...tracking.Option) []tracking.Option {
	opts := make([]tracking.Option, 0, len(m.trackOpts)+len(extra))
	opts = append(opts, m.trackOpts...)
	return append(opts, extra...)
}

func (m *Manager) load(ctx context.Context, sessionID string) (*Session, error) {
	snap, err := m.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if snap.SessionID == "" {
		snap.SessionID = sessionID
	}
	return fromSnapshot(snap, m.trackOpts...)
}

func (m *Manager) save(ctx context.Context, sess *Session) error {
	snap, err := sess.Snapshot()
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, sess.ID, snap); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.ID, err)
	}
	return nil
}
