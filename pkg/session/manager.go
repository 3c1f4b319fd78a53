package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maratron-ai/maratron-monorepo/pkg/users"
)

// Default timing values.
const (
	DefaultIdleTimeout      = 60 * time.Minute
	DefaultSaveInterval     = 60 * time.Second
	DefaultExpiryInterval   = 5 * time.Minute
	DefaultRetention        = 7 * 24 * time.Hour
	DefaultStoreTimeout     = 30 * time.Second
	DefaultRecentRunsWindow = 30 * 24 * time.Hour
)

var (
	// ErrNoActiveSession is returned when an operation needs a current user
	// and none is set or the session has expired.
	ErrNoActiveSession = errors.New("no active user session")

	// ErrUserNotFound is returned when the referenced user does not exist.
	// It matches users.ErrNotFound under errors.Is.
	ErrUserNotFound = users.ErrNotFound
)

// Config configures the session manager.
type Config struct {
	// IdleTimeout is how long a session may go untouched before it expires.
	IdleTimeout time.Duration

	// SaveInterval is the period of the dirty-session flush loop.
	SaveInterval time.Duration

	// ExpiryInterval is the period of the expiry sweep.
	ExpiryInterval time.Duration

	// Retention is how long inactive durable records are kept.
	Retention time.Duration

	// StoreTimeout bounds every durable store call.
	StoreTimeout time.Duration

	// RecentRunsWindow is the look-back used for the cached run count.
	RecentRunsWindow time.Duration

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SaveInterval <= 0 {
		c.SaveInterval = DefaultSaveInterval
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = DefaultExpiryInterval
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.RecentRunsWindow <= 0 {
		c.RecentRunsWindow = DefaultRecentRunsWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Info summarizes one in-memory session.
type Info struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name,omitempty"`
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	IsCurrent      bool      `json:"is_current"`
	CachedDataKeys []string  `json:"cached_data_keys"`
}

// Manager is the single authority for the current user and for session
// lifetime. There is one Manager per process; it is constructed by the
// platform and injected into the handlers that need it.
//
// Lock order is Manager.mu before Session.mu. Durable I/O never happens
// while Manager.mu is held.
type Manager struct {
	store Store
	users users.Directory
	cfg   Config

	mu       sync.Mutex
	sessions map[string]*Session
	current  string

	recoverOnce sync.Once
	startOnce   sync.Once
	stopOnce    sync.Once

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a session manager. Call Start to run the background
// save and expiry loops.
func NewManager(store Store, dir users.Directory, cfg Config) *Manager {
	return &Manager{
		store:    store,
		users:    dir,
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Start launches the save loop and the expiry loop. Each loop recovers
// from its own failures so one cannot stop the other.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.wg.Add(2) //nolint:mnd // two background loops
		go m.loop(ctx, "save", m.cfg.SaveInterval, func(ctx context.Context) {
			m.SaveDirty(ctx)
		})
		go m.loop(ctx, "expire", m.cfg.ExpiryInterval, m.ExpireSessions)
	})
}

// Close stops the background loops, waits for them to exit and flushes
// every dirty session once. It is safe to call Close even if Start was
// never called.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.wg.Wait()
	})
	m.SaveDirty(ctx)
	return nil
}

func (m *Manager) loop(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runTick(ctx, name, tick)
		}
	}
}

func runTick(ctx context.Context, name string, tick func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session loop panicked", "loop", name, "panic", r)
		}
	}()
	tick(ctx)
}

// SetCurrentUser makes userID the current user, returning its session.
// It is the only operation that creates sessions. A live in-memory session
// is reused; otherwise the newest active durable record is recovered;
// otherwise a fresh session is created. Returns ErrUserNotFound if the
// user does not exist.
func (m *Manager) SetCurrentUser(ctx context.Context, userID string) (*Session, error) {
	m.recoverOnce.Do(func() { m.recoverSessions(ctx) })

	profile, err := m.users.Lookup(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	now := m.cfg.Now()
	if sess := m.live(userID, now); sess != nil {
		sess.touch(now)
		m.mu.Lock()
		m.current = userID
		m.mu.Unlock()
		return sess, nil
	}

	var sess *Session
	if rec := m.findDurable(ctx, userID, now); rec != nil {
		sess = restore(rec)
		sess.touch(now)
		slog.Debug("session recovered from store", "user_id", userID, "session_id", sess.sessionID)
	} else {
		sess = m.newSession(ctx, profile, now)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[userID]; ok && !existing.Expired(now, m.cfg.IdleTimeout) {
		// Another caller won the race; keep a single session per user.
		existing.touch(now)
		sess = existing
	} else {
		m.sessions[userID] = sess
	}
	m.current = userID
	return sess, nil
}

// SwitchUserContext makes another user current. It behaves exactly like
// SetCurrentUser.
func (m *Manager) SwitchUserContext(ctx context.Context, userID string) (*Session, error) {
	return m.SetCurrentUser(ctx, userID)
}

// CurrentSession returns the current user's session, touching it. An
// expired session is evicted, the pointer cleared and nil returned. It
// never consults the durable store.
func (m *Manager) CurrentSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == "" {
		return nil
	}
	sess, ok := m.sessions[m.current]
	if !ok {
		m.current = ""
		return nil
	}
	now := m.cfg.Now()
	if sess.Expired(now, m.cfg.IdleTimeout) {
		delete(m.sessions, m.current)
		m.current = ""
		return nil
	}
	sess.touch(now)
	return sess
}

// CurrentUserID returns the current user's id, or "" if there is no live
// session.
func (m *Manager) CurrentUserID() string {
	if sess := m.CurrentSession(); sess != nil {
		return sess.UserID()
	}
	return ""
}

// ClearCurrentUser clears the current-user pointer. The session stays in
// memory and in the store.
func (m *Manager) ClearCurrentUser() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
}

// UpdatePreferences merges patch onto the current session's preferences.
// A distance-unit change is also written to the user directory; a failure
// of that write is logged and does not fail the update.
func (m *Manager) UpdatePreferences(ctx context.Context, patch PreferencesPatch) (Preferences, error) {
	sess := m.CurrentSession()
	if sess == nil {
		return Preferences{}, ErrNoActiveSession
	}
	prefs := sess.updatePreferences(patch, m.cfg.Now())

	if patch.DistanceUnit != nil {
		sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
		defer cancel()
		if err := m.users.SetDistanceUnit(sctx, sess.UserID(), string(*patch.DistanceUnit)); err != nil {
			slog.Warn("saving distance unit to user profile failed",
				"user_id", sess.UserID(), "error", err)
		}
	}
	return prefs, nil
}

// UpdateConversationContext merges patch onto the current session's
// conversation context.
func (m *Manager) UpdateConversationContext(patch ContextPatch) (ConversationContext, error) {
	sess := m.CurrentSession()
	if sess == nil {
		return ConversationContext{}, ErrNoActiveSession
	}
	return sess.updateConversation(patch, m.cfg.Now()), nil
}

// TrackTopic records the current conversation topic, if a user is set.
func (m *Manager) TrackTopic(topic string) {
	if sess := m.CurrentSession(); sess != nil {
		sess.updateConversation(ContextPatch{LastTopic: &topic}, m.cfg.Now())
	}
}

// TrackAction records the last action performed, if a user is set.
func (m *Manager) TrackAction(action string) {
	if sess := m.CurrentSession(); sess != nil {
		sess.updateConversation(ContextPatch{LastAction: &action}, m.cfg.Now())
	}
}

// SessionInfo describes the in-memory session of userID, or nil.
func (m *Manager) SessionInfo(userID string) *Info {
	m.mu.Lock()
	sess, ok := m.sessions[userID]
	isCurrent := m.current == userID
	m.mu.Unlock()
	if !ok || sess.Expired(m.cfg.Now(), m.cfg.IdleTimeout) {
		return nil
	}
	return sess.info(isCurrent)
}

// ActiveCount returns how many unexpired sessions are held in memory.
func (m *Manager) ActiveCount() int {
	now := m.cfg.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, sess := range m.sessions {
		if !sess.Expired(now, m.cfg.IdleTimeout) {
			n++
		}
	}
	return n
}

// DistanceUnit returns the current user's distance unit or the default.
func (m *Manager) DistanceUnit() DistanceUnit {
	if sess := m.CurrentSession(); sess != nil {
		return sess.Preferences().DistanceUnit
	}
	return DefaultPreferences().DistanceUnit
}

// MaxResults returns the current user's result limit or the default.
func (m *Manager) MaxResults() int {
	if sess := m.CurrentSession(); sess != nil {
		return sess.Preferences().MaxResultsPerQuery
	}
	return DefaultPreferences().MaxResultsPerQuery
}

// IncludeSocialData reports the current user's social-data preference.
func (m *Manager) IncludeSocialData() bool {
	if sess := m.CurrentSession(); sess != nil {
		return sess.Preferences().IncludeSocialData
	}
	return DefaultPreferences().IncludeSocialData
}

// DetailedResponses reports the current user's verbosity preference.
func (m *Manager) DetailedResponses() bool {
	if sess := m.CurrentSession(); sess != nil {
		return sess.Preferences().DetailedResponses
	}
	return DefaultPreferences().DetailedResponses
}

// UserName returns the cached name of the current user, or "User".
func (m *Manager) UserName() string {
	if sess := m.CurrentSession(); sess != nil {
		if name := sess.Profile().Name; name != "" {
			return name
		}
	}
	return "User"
}

// SaveDirty writes every dirty in-memory session to the store and returns
// how many were written. Failures are logged and retried on the next call.
func (m *Manager) SaveDirty(ctx context.Context) int {
	saved := 0
	for _, sess := range m.snapshotSessions() {
		if !sess.Dirty() {
			continue
		}
		if err := m.flush(ctx, sess, true); err != nil {
			slog.Warn("session save failed", "user_id", sess.UserID(), "error", err)
			continue
		}
		saved++
	}
	if saved > 0 {
		slog.Debug("saved sessions", "count", saved)
	}
	return saved
}

// ExpireSessions evicts idle sessions, writes them inactive and deletes
// durable records past the retention window.
func (m *Manager) ExpireSessions(ctx context.Context) {
	now := m.cfg.Now()

	m.mu.Lock()
	var expired []*Session
	for userID, sess := range m.sessions {
		if sess.Expired(now, m.cfg.IdleTimeout) {
			expired = append(expired, sess)
			delete(m.sessions, userID)
			if m.current == userID {
				m.current = ""
			}
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		if err := m.flush(ctx, sess, false); err != nil {
			slog.Warn("saving expired session failed", "user_id", sess.UserID(), "error", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("expired sessions", "count", len(expired))
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	n, err := m.store.DeleteIdleBefore(sctx, now.Add(-m.cfg.Retention))
	if err != nil {
		slog.Warn("deleting old sessions failed", "error", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
		return
	}
	if n > 0 {
		slog.Debug("deleted old sessions", "count", n)
	}
}

// live returns the unexpired in-memory session for userID, evicting it if
// it has expired.
func (m *Manager) live(userID string, now time.Time) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if sess.Expired(now, m.cfg.IdleTimeout) {
		delete(m.sessions, userID)
		if m.current == userID {
			m.current = ""
		}
		return nil
	}
	return sess
}

func (m *Manager) snapshotSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	return out
}

// findDurable loads the newest active record for userID. Store failures
// are logged and reported as no record.
func (m *Manager) findDurable(ctx context.Context, userID string, now time.Time) *Record {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	rec, err := m.store.FindActive(sctx, userID, now)
	if err != nil {
		slog.Warn("loading session failed", "user_id", userID,
			"error", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
		return nil
	}
	if rec == nil || now.After(rec.LastActivity.Add(m.cfg.IdleTimeout)) {
		return nil
	}
	return rec
}

func (m *Manager) newSession(ctx context.Context, profile *users.Profile, now time.Time) *Session {
	sess := newSession(profile.ID, uuid.NewString(), now)
	if unit := DistanceUnit(profile.DefaultDistanceUnit); unit.Valid() {
		sess.preferences.DistanceUnit = unit
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	count, err := m.users.RecentRunCount(sctx, profile.ID, now.Add(-m.cfg.RecentRunsWindow))
	if err != nil {
		slog.Warn("caching recent run count failed", "user_id", profile.ID, "error", err)
		count = 0
	}
	sess.profile = profileSnapshot(profile, count)
	return sess
}

// flush writes one session to the store. Concurrent flushes of the same
// session are serialized so a new session is inserted only once.
func (m *Manager) flush(ctx context.Context, sess *Session, active bool) error {
	sess.flushMu.Lock()
	defer sess.flushMu.Unlock()

	rec, version := sess.snapshot(m.cfg.IdleTimeout, active)

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()

	var err error
	if rec.ID == "" {
		rec.ID = uuid.NewString()
		err = m.store.Insert(sctx, rec)
	} else {
		err = m.store.Update(sctx, rec)
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	sess.markSaved(rec.ID, version)
	return nil
}

// recoverSessions loads every active durable record, keeping the newest
// per user and deactivating older duplicates and idle records. It runs
// once per process, on the first SetCurrentUser.
func (m *Manager) recoverSessions(ctx context.Context) {
	now := m.cfg.Now()

	recs, err := m.listActive(ctx, now)
	if err != nil {
		slog.Warn("session recovery failed", "error", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
		return
	}
	slices.SortStableFunc(recs, func(a, b *Record) int {
		return b.LastActivity.Compare(a.LastActivity)
	})

	seen := make(map[string]bool, len(recs))
	var stale []string
	recovered := 0

	m.mu.Lock()
	for _, rec := range recs {
		if seen[rec.UserID] {
			stale = append(stale, rec.ID)
			continue
		}
		seen[rec.UserID] = true
		if now.After(rec.LastActivity.Add(m.cfg.IdleTimeout)) {
			stale = append(stale, rec.ID)
			continue
		}
		if _, ok := m.sessions[rec.UserID]; !ok {
			m.sessions[rec.UserID] = restore(rec)
			recovered++
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		if err := m.deactivate(ctx, id); err != nil {
			slog.Warn("deactivating stale session failed", "record_id", id, "error", err)
		}
	}
	if recovered > 0 || len(stale) > 0 {
		slog.Info("recovered sessions from store", "count", recovered, "stale", len(stale))
	}
}

func (m *Manager) listActive(ctx context.Context, now time.Time) ([]*Record, error) {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	recs, err := m.store.ListActive(sctx, now)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	return recs, nil
}

func (m *Manager) deactivate(ctx context.Context, id string) error {
	sctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.Deactivate(sctx, id); err != nil {
		return fmt.Errorf("deactivating session %s: %w", id, err)
	}
	return nil
}

func (s *Session) info(isCurrent bool) *Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := []string{"name", "email", "training_level", "goals", "recent_runs_count"}
	if s.profile.Name == "" && s.profile.Email == "" {
		keys = []string{"recent_runs_count"}
	}
	return &Info{
		UserID:         s.userID,
		UserName:       s.profile.Name,
		SessionID:      s.sessionID,
		CreatedAt:      s.createdAt,
		LastActivity:   s.lastActivity,
		IsCurrent:      isCurrent,
		CachedDataKeys: keys,
	}
}
