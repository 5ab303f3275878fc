package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// IdentityState is where the identity context is in its lifecycle.
type IdentityState string

const (
	StateUnresolved    IdentityState = "unresolved"
	StateAnonymous     IdentityState = "anonymous"
	StateResolving     IdentityState = "resolving"
	StateAuthenticated IdentityState = "authenticated"
)

func (s IdentityState) settled() bool {
	return s == StateAnonymous || s == StateAuthenticated
}

// Snapshot is a consistent read of the identity context.
type Snapshot struct {
	State           IdentityState `json:"state"`
	Identity        *Identity     `json:"identity,omitempty"`
	IsLoading       bool          `json:"is_loading"`
	IsAuthenticated bool          `json:"is_authenticated"`
}

// IdentityResolver resolves profiles and performs the signup compensation.
// ProfileResolver implements it.
type IdentityResolver interface {
	Resolve(ctx context.Context, subjectID string, metadata map[string]any) Resolution
	ManualProfileWriter
}

// IdentityOption customizes the identity context.
type IdentityOption func(*IdentityContext)

// WithIdentityLogger overrides the logger.
func WithIdentityLogger(logger Logger) IdentityOption {
	return func(c *IdentityContext) {
		c.provider, c.logger = ResolveLogger("auth.identity_context", c.provider, logger)
	}
}

// WithIdentityLoggerProvider overrides the logger provider.
func WithIdentityLoggerProvider(provider LoggerProvider) IdentityOption {
	return func(c *IdentityContext) {
		c.provider, c.logger = ResolveLogger("auth.identity_context", provider, c.logger)
	}
}

// WithIdentityActivitySink records login, signup and resolution events.
func WithIdentityActivitySink(sink ActivitySink) IdentityOption {
	return func(c *IdentityContext) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithIdentityClock injects a clock for activity timestamps.
func WithIdentityClock(clock func() time.Time) IdentityOption {
	return func(c *IdentityContext) {
		if clock != nil {
			c.now = clock
		}
	}
}

// SnapshotListener is told about every state change. Listeners run
// synchronously in registration order and must not call Login, Signup,
// Logout or Stop.
type SnapshotListener func(Snapshot)

type snapshotListener struct {
	id uint64
	fn SnapshotListener
}

// IdentityContext is the single source of truth for who is using the
// application. The identity is written only by the session subscription and
// the resolutions it starts.
type IdentityContext struct {
	store        SessionStore
	resolver     IdentityResolver
	logger       Logger
	provider     LoggerProvider
	activitySink ActivitySink
	now          func() time.Time

	// notifyMu is held across a state change and its notification so
	// listeners observe changes in the order they were made.
	notifyMu sync.Mutex

	mu          sync.Mutex
	state       IdentityState
	identity    *Identity
	session     *Session
	generation  uint64
	cancel      context.CancelFunc
	baseCtx     context.Context
	baseCancel  context.CancelFunc
	settled     chan struct{}
	unsubscribe Unsubscribe
	started     bool
	stopped     bool

	listenersMu  sync.Mutex
	listeners    []snapshotListener
	nextListener uint64

	wg sync.WaitGroup
}

// NewIdentityContext wires a session store to a profile resolver. Call Start
// to begin tracking the session.
func NewIdentityContext(store SessionStore, resolver IdentityResolver, opts ...IdentityOption) *IdentityContext {
	c := &IdentityContext{
		store:        store,
		resolver:     resolver,
		activitySink: noopActivitySink{},
		now:          time.Now,
		state:        StateUnresolved,
		settled:      make(chan struct{}),
	}
	c.provider, c.logger = ResolveLogger("auth.identity_context", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Start subscribes to the session store. The subscription replays the
// current session, which completes the initial probe. Calling Start again
// is a no-op.
func (c *IdentityContext) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.baseCtx, c.baseCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	unsubscribe := c.store.Subscribe(c.handleSession)

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()

	c.logger.Debug("identity context started")
	return nil
}

// Stop unsubscribes, cancels any resolution in flight and waits for it to
// return.
func (c *IdentityContext) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	unsubscribe := c.unsubscribe
	cancel := c.cancel
	baseCancel := c.baseCancel
	c.cancel = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	if baseCancel != nil {
		baseCancel()
	}
	c.wg.Wait()

	c.logger.Debug("identity context stopped")
}

// Snapshot returns the current state.
func (c *IdentityContext) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Identity returns the current identity, nil unless authenticated.
func (c *IdentityContext) Identity() *Identity {
	return c.Snapshot().Identity
}

// OnChange registers a listener for state changes.
func (c *IdentityContext) OnChange(fn SnapshotListener) Unsubscribe {
	if fn == nil {
		return func() {}
	}

	c.listenersMu.Lock()
	c.nextListener++
	id := c.nextListener
	c.listeners = append(c.listeners, snapshotListener{id: id, fn: fn})
	c.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listenersMu.Lock()
			defer c.listenersMu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// AwaitSettled blocks until the context is anonymous or authenticated, or
// ctx ends.
func (c *IdentityContext) AwaitSettled(ctx context.Context) (Snapshot, error) {
	for {
		c.mu.Lock()
		if c.state.settled() {
			snap := c.snapshotLocked()
			c.mu.Unlock()
			return snap, nil
		}
		settled := c.settled
		c.mu.Unlock()

		select {
		case <-settled:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}
}

// Login signs in with email and password. The identity is updated by the
// resulting session event, not by Login itself.
func (c *IdentityContext) Login(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))

	_, err := c.store.SignInWithPassword(ctx, email, password)
	if err != nil {
		translated := TranslateAuthError(err)
		c.logger.Warn("login failed", "email", email, "code", translated.TextCode, "error", err)
		recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
			EventType: ActivityEventLoginFailure,
			Metadata:  map[string]any{"email": email, "code": translated.TextCode},
		})
		return translated
	}

	recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		Metadata:  map[string]any{"email": email},
	})
	return nil
}

// Signup creates an account, compensating a failed profile write once.
func (c *IdentityContext) Signup(ctx context.Context, req SignupRequest) (*SignUpResult, error) {
	outcome, err := Signup(ctx, c.store, c.resolver, req, c.logger)
	if err != nil {
		recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
			EventType: ActivityEventSignupFailure,
			SubjectID: subjectOf(outcome.Result),
			Metadata:  map[string]any{"email": req.Email, "code": TextCode(err)},
		})
		return outcome.Result, err
	}

	event := ActivityEventSignupSuccess
	if outcome.Compensated {
		event = ActivityEventSignupCompensated
	}
	recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
		EventType: event,
		SubjectID: subjectOf(outcome.Result),
		Metadata:  map[string]any{"email": req.Email, "role": req.SignupRole().String()},
	})
	return outcome.Result, nil
}

// Logout signs out. It never fails, and is a no-op when already anonymous.
func (c *IdentityContext) Logout(ctx context.Context) error {
	c.store.SignOut(ctx)
	return nil
}

func (c *IdentityContext) handleSession(event SessionEvent, session *Session) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	if session == nil {
		c.generation++
		c.cancelLocked()
		c.session = nil
		changed := c.state != StateAnonymous
		c.setStateLocked(StateAnonymous, nil)
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.logger.Debug("session cleared", "event", event)
		if changed {
			c.notify(snap)
		}
		return
	}

	if c.sameSubjectLocked(session) && (event == EventTokenRefreshed || event == EventInitialSession) {
		c.session = session
		if c.state == StateResolving {
			// the resolution in flight picks up the new session when it lands
			c.mu.Unlock()
			return
		}
		refreshed := *c.identity
		refreshed.Email = session.User.Email
		refreshed.Verified = session.User.EmailConfirmed()
		c.setStateLocked(StateAuthenticated, &refreshed)
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.logger.Debug("session refreshed", "subject", session.User.ID)
		c.notify(snap)
		return
	}

	c.generation++
	generation := c.generation
	c.cancelLocked()
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel
	c.session = session
	c.setStateLocked(StateResolving, nil)
	snap := c.snapshotLocked()
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Debug("resolving identity", "event", event, "subject", session.User.ID, "generation", generation)
	c.notify(snap)

	go c.resolve(ctx, cancel, generation, session)
}

func (c *IdentityContext) resolve(ctx context.Context, cancel context.CancelFunc, generation uint64, session *Session) {
	defer c.wg.Done()
	defer cancel()

	res := c.resolver.Resolve(ctx, session.User.ID, session.User.Metadata)

	c.notifyMu.Lock()
	c.mu.Lock()
	if c.stopped || generation != c.generation {
		current := c.generation
		c.mu.Unlock()
		c.notifyMu.Unlock()
		c.logger.Debug("discarding stale identity resolution",
			"subject", session.User.ID,
			"generation", generation,
			"current", current,
		)
		return
	}

	identity := NewIdentity(c.session, res)
	c.cancel = nil
	c.setStateLocked(StateAuthenticated, identity)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	c.notifyMu.Unlock()

	c.logger.Info("identity resolved",
		"subject", identity.ID,
		"role", identity.Role.String(),
		"source", identity.Source,
		"attempts", res.Attempts,
	)
	recordActivity(ctx, c.activitySink, c.logger, c.now, ActivityEvent{
		EventType: ActivityEventIdentityResolved,
		Actor:     identity.Actor(),
		SubjectID: identity.ID,
		Metadata: map[string]any{
			"role":     identity.Role.String(),
			"source":   string(identity.Source),
			"attempts": res.Attempts,
		},
	})
}

func (c *IdentityContext) sameSubjectLocked(session *Session) bool {
	if c.session == nil || c.session.User.ID != session.User.ID {
		return false
	}
	switch c.state {
	case StateAuthenticated:
		return c.identity != nil
	case StateResolving:
		return true
	default:
		return false
	}
}

func (c *IdentityContext) cancelLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *IdentityContext) setStateLocked(state IdentityState, identity *Identity) {
	wasSettled := c.state.settled()
	c.state = state
	c.identity = identity

	switch {
	case state.settled() && !wasSettled:
		close(c.settled)
	case !state.settled() && wasSettled:
		c.settled = make(chan struct{})
	}
}

func (c *IdentityContext) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:           c.state,
		IsLoading:       c.state == StateUnresolved || c.state == StateResolving,
		IsAuthenticated: c.state == StateAuthenticated,
	}
	if c.identity != nil {
		identity := *c.identity
		snap.Identity = &identity
	}
	return snap
}

func (c *IdentityContext) notify(snap Snapshot) {
	c.listenersMu.Lock()
	listeners := make([]snapshotListener, len(c.listeners))
	copy(listeners, c.listeners)
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l.fn(snap)
	}
}

func subjectOf(result *SignUpResult) string {
	if result == nil {
		return ""
	}
	return result.User.ID
}
