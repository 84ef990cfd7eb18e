package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/forestnet/forestnet/internal/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Options configures a Manager.
type Options struct {
	// MaxAge is the session lifetime; zero never expires.
	MaxAge time.Duration
	// Refresh measures expiry from the last access instead of creation.
	Refresh bool
	// Now overrides the clock in tests.
	Now func() time.Time
	Logger *zap.Logger
}

// Manager resolves, persists and expires sessions.
type Manager struct {
	store  Store
	opts   Options
	locks  *keyedLocks
	logger *zap.Logger
}

// NewManager returns a Manager over store.
func NewManager(store Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:  store,
		opts:   opts,
		locks:  newKeyedLocks(),
		logger: logging.Or(opts.Logger),
	}
}

// Store returns the backing store.
func (m *Manager) Store() Store { return m.store }

// Refresh reports whether sliding expiry is on.
func (m *Manager) Refresh() bool { return m.opts.Refresh }

// Resolve returns the session named by cookieValue, or a fresh empty one when
// the cookie is empty, unknown, expired or unreadable. Expired and unreadable
// sessions are deleted. The returned session is locked until Release.
func (m *Manager) Resolve(cookieValue string) (*Session, error) {
	now := m.opts.Now()

	if cookieValue != "" && validID(cookieValue) {
		m.locks.Lock(cookieValue)
		s, err := m.store.Load(cookieValue)
		switch {
		case err == nil:
			s.MaxAge = m.opts.MaxAge
			s.Refresh = m.opts.Refresh
			if !s.Expired(now) {
				return s, nil
			}
			m.logger.Debug("Session expired",
				zap.String("session_id", cookieValue),
				zap.Time("expired_at", s.ExpiresAt()),
			)
			m.drop(cookieValue)
		case isMissing(err):
			if !errors.Is(err, ErrNotFound) {
				m.logger.Warn("Discarding unreadable session",
					zap.String("session_id", cookieValue),
					zap.Error(err),
				)
				m.drop(cookieValue)
			}
		default:
			m.logger.Warn("Session store failed, starting a new session",
				zap.String("session_id", cookieValue),
				zap.Error(err),
			)
		}
		m.locks.Unlock(cookieValue)
	}

	s := &Session{
		ID:         uuid.NewString(),
		Created:    now,
		LastAccess: now,
		MaxAge:     m.opts.MaxAge,
		Refresh:    m.opts.Refresh,
		Data:       make(map[string]any),
		isNew:      true,
	}
	m.locks.Lock(s.ID)
	return s, nil
}

func (m *Manager) drop(id string) {
	if err := m.store.Delete(id); err != nil {
		m.logger.Warn("Failed to delete session", zap.String("session_id", id), zap.Error(err))
	}
}

// Touch records an access. With refresh on, the expiry clock restarts now;
// with refresh off, expiry stays fixed from creation.
func (m *Manager) Touch(s *Session) {
	if m.opts.Refresh {
		s.LastAccess = m.opts.Now()
	}
}

// Persist writes the session to the store. Invalidated sessions are not
// written back.
func (m *Manager) Persist(s *Session) error {
	if s.dropped {
		return nil
	}
	if err := m.store.Save(s); err != nil {
		return err
	}
	s.isNew = false
	return nil
}

// Release unlocks the session. Calling it twice is harmless.
func (m *Manager) Release(s *Session) {
	if s == nil || s.released {
		return
	}
	s.released = true
	m.locks.Unlock(s.ID)
}

// Invalidate deletes the session from the store; a later Persist of the same
// session is skipped.
func (m *Manager) Invalidate(s *Session) error {
	s.dropped = true
	return m.store.Delete(s.ID)
}

// Cookie returns the cookie announcing s. secure marks it for https only.
func (m *Manager) Cookie(s *Session, secure bool) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
	if m.opts.MaxAge > 0 {
		c.MaxAge = int(m.opts.MaxAge.Seconds())
		if c.MaxAge == 0 {
			c.MaxAge = 1
		}
	}
	if s.dropped {
		c.Value = ""
		c.MaxAge = -1
	}
	return c
}

// ShouldIssueCookie reports whether the response must carry Set-Cookie: for
// new sessions always, and on every response when refresh is on.
func (m *Manager) ShouldIssueCookie(s *Session) bool {
	return s.isNew || s.dropped || m.opts.Refresh
}

// Sweep deletes every expired or unreadable session and returns how many
// were removed.
func (m *Manager) Sweep() (int, error) {
	ids, err := m.store.List()
	if err != nil {
		return 0, err
	}
	now := m.opts.Now()
	removed := 0
	for _, id := range ids {
		m.locks.Lock(id)
		s, err := m.store.Load(id)
		switch {
		case err == nil:
			s.MaxAge = m.opts.MaxAge
			s.Refresh = m.opts.Refresh
			if s.Expired(now) {
				m.drop(id)
				removed++
			}
		case isMissing(err) && !errors.Is(err, ErrNotFound):
			m.drop(id)
			removed++
		}
		m.locks.Unlock(id)
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep()
			if err != nil {
				m.logger.Warn("Session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				m.logger.Info("Removed expired sessions", zap.Int("count", n))
			}
		}
	}
}
