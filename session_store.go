package auth

import (
	"context"
	"sync"
	"time"
)

// SessionHandler receives session events. session is nil on sign out.
// Handlers run on the dispatching goroutine; they must not block or call
// back into the store.
type SessionHandler func(event SessionEvent, session *Session)

// Unsubscribe removes a subscription. Calling it more than once is safe.
type Unsubscribe func()

// SessionStore owns the current session and tells subscribers when it changes.
type SessionStore interface {
	CurrentSession() *Session
	Subscribe(handler SessionHandler) Unsubscribe
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
	SignOut(ctx context.Context)
	Refresh(ctx context.Context) (*Session, error)
}

// SessionStoreOption customizes the session store.
type SessionStoreOption func(*sessionStore)

// WithInitialSession seeds the store, e.g. with a session restored from storage.
func WithInitialSession(session *Session) SessionStoreOption {
	return func(s *sessionStore) {
		s.current = session.Clone()
	}
}

// WithSessionStoreLogger overrides the logger.
func WithSessionStoreLogger(logger Logger) SessionStoreOption {
	return func(s *sessionStore) {
		s.provider, s.logger = ResolveLogger("auth.session_store", s.provider, logger)
	}
}

// WithSessionStoreLoggerProvider overrides the logger provider.
func WithSessionStoreLoggerProvider(provider LoggerProvider) SessionStoreOption {
	return func(s *sessionStore) {
		s.provider, s.logger = ResolveLogger("auth.session_store", provider, s.logger)
	}
}

// WithSessionStoreClock injects a clock for expiry checks.
func WithSessionStoreClock(clock func() time.Time) SessionStoreOption {
	return func(s *sessionStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

type subscription struct {
	id      uint64
	handler SessionHandler
}

type sessionStore struct {
	backend  AuthBackend
	logger   Logger
	provider LoggerProvider
	now      func() time.Time

	mu      sync.RWMutex
	current *Session

	subsMu sync.Mutex
	subs   []subscription
	nextID uint64

	// dispatchMu serializes delivery so every subscriber sees events in
	// emission order.
	dispatchMu sync.Mutex
}

// NewSessionStore returns a SessionStore in front of the given backend.
func NewSessionStore(backend AuthBackend, opts ...SessionStoreOption) SessionStore {
	s := &sessionStore{
		backend: backend,
		now:     time.Now,
	}
	s.provider, s.logger = ResolveLogger("auth.session_store", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *sessionStore) CurrentSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.Expired(s.now()) && s.current.RefreshToken == "" {
		return nil
	}
	return s.current.Clone()
}

// Subscribe registers handler and immediately replays the current session
// to it as EventInitialSession, so a new subscriber never misses the state
// that existed before it subscribed.
func (s *sessionStore) Subscribe(handler SessionHandler) Unsubscribe {
	if handler == nil {
		return func() {}
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.subsMu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, handler: handler})
	s.subsMu.Unlock()

	handler(EventInitialSession, s.CurrentSession())

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *sessionStore) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	session, err := s.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, NewError(ErrAuthBackend, nil, map[string]any{"reason": "backend returned no session"})
	}

	s.setAndEmit(EventSignedIn, session)
	return session.Clone(), nil
}

func (s *sessionStore) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	result, err := s.backend.SignUp(ctx, email, password, metadata)

	// a session next to an error means the account exists and is signed in,
	// only a later step such as the profile write failed
	if result != nil && result.Session != nil {
		s.setAndEmit(EventSignedIn, result.Session)
	}
	return result, err
}

// SignOut always clears local state. A backend failure is only logged.
func (s *sessionStore) SignOut(ctx context.Context) {
	s.dispatchMu.Lock()
	s.mu.Lock()
	previous := s.current
	s.current = nil
	s.mu.Unlock()
	if previous != nil {
		s.deliver(EventSignedOut, nil)
	}
	s.dispatchMu.Unlock()

	if previous == nil {
		return
	}

	if err := s.backend.SignOut(ctx, previous); err != nil {
		s.logger.Warn("remote sign out failed, local session cleared", "subject", previous.GetUserID(), "error", err)
	}
}

func (s *sessionStore) Refresh(ctx context.Context) (*Session, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil || current.RefreshToken == "" {
		return nil, ErrSessionRequired.Clone()
	}

	session, err := s.backend.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return nil, err
	}

	event := EventTokenRefreshed
	if session.GetUserID() != current.GetUserID() {
		event = EventSignedIn
	}
	s.setAndEmit(event, session)
	return session.Clone(), nil
}

func (s *sessionStore) setAndEmit(event SessionEvent, session *Session) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.current = session.Clone()
	s.mu.Unlock()

	s.deliver(event, session)
}

// deliver must be called with dispatchMu held.
func (s *sessionStore) deliver(event SessionEvent, session *Session) {
	s.subsMu.Lock()
	subs := make([]subscription, len(s.subs))
	copy(subs, s.subs)
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.handler(event, session.Clone())
	}
}
