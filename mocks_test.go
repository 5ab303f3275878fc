package auth_test

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	auth "github.com/goliatone/go-estate-auth"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockProfileStore implements auth.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FindProfile(ctx context.Context, id string) (*auth.Profile, error) {
	args := m.Called(ctx, id)
	profile, _ := args.Get(0).(*auth.Profile)
	return profile, args.Error(1)
}

func (m *MockProfileStore) CreateProfile(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	args := m.Called(ctx, profile)
	created, _ := args.Get(0).(*auth.Profile)
	return created, args.Error(1)
}

// MockPropertyStore implements auth.PropertyStore
type MockPropertyStore struct {
	mock.Mock
}

func (m *MockPropertyStore) FindProperty(ctx context.Context, id string) (*auth.Property, error) {
	args := m.Called(ctx, id)
	property, _ := args.Get(0).(*auth.Property)
	return property, args.Error(1)
}

func (m *MockPropertyStore) ListProperties(ctx context.Context, filter auth.PropertyFilter) ([]*auth.Property, error) {
	args := m.Called(ctx, filter)
	properties, _ := args.Get(0).([]*auth.Property)
	return properties, args.Error(1)
}

func (m *MockPropertyStore) ApplyVerification(ctx context.Context, actor auth.ActorRef, id string, patch auth.VerificationPatch) (*auth.Property, error) {
	args := m.Called(ctx, actor, id, patch)
	property, _ := args.Get(0).(*auth.Property)
	return property, args.Error(1)
}

// MockAuthBackend implements auth.AuthBackend
type MockAuthBackend struct {
	mock.Mock
}

func (m *MockAuthBackend) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	args := m.Called(ctx, email, password)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

func (m *MockAuthBackend) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.SignUpResult, error) {
	args := m.Called(ctx, email, password, metadata)
	result, _ := args.Get(0).(*auth.SignUpResult)
	return result, args.Error(1)
}

func (m *MockAuthBackend) SignOut(ctx context.Context, session *auth.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockAuthBackend) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	args := m.Called(ctx, refreshToken)
	session, _ := args.Get(0).(*auth.Session)
	return session, args.Error(1)
}

// memoryProfiles is a ProfileStore backed by a map. Rows added with
// appearAfter only become visible after that many reads.
type memoryProfiles struct {
	mu       sync.Mutex
	rows     map[string]*auth.Profile
	hidden   map[string]int
	reads    int
	readErr  error
	writeErr error
}

func newMemoryProfiles() *memoryProfiles {
	return &memoryProfiles{
		rows:   make(map[string]*auth.Profile),
		hidden: make(map[string]int),
	}
}

func (m *memoryProfiles) add(p auth.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID.String()] = &p
}

func (m *memoryProfiles) appearAfter(p auth.Profile, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[p.ID.String()] = &p
	m.hidden[p.ID.String()] = reads
}

func (m *memoryProfiles) FindProfile(_ context.Context, id string) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.readErr != nil {
		return nil, m.readErr
	}
	if n := m.hidden[id]; n > 0 {
		m.hidden[id] = n - 1
		return nil, auth.NewError(auth.ErrProfileNotFound, nil)
	}
	p, ok := m.rows[id]
	if !ok {
		return nil, auth.NewError(auth.ErrProfileNotFound, nil)
	}
	c := *p
	return &c, nil
}

func (m *memoryProfiles) CreateProfile(_ context.Context, profile *auth.Profile) (*auth.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return nil, m.writeErr
	}
	c := *profile
	m.rows[profile.ID.String()] = &c
	return profile, nil
}

func (m *memoryProfiles) get(id string) (*auth.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	return p, ok
}

func (m *memoryProfiles) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// recordingSink collects activity events.
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.EventType
	}
	return out
}

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	c     chan time.Time
	waits *[]time.Duration
}

func (t *instantTimer) Start(d time.Duration) {
	if t.waits != nil {
		*t.waits = append(*t.waits, d)
	}
	t.c = make(chan time.Time, 1)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

func instantPolicy(attempts int, waits *[]time.Duration) auth.RetryPolicy {
	return auth.RetryPolicy{
		MaxAttempts: attempts,
		Delay:       time.Second,
		NewTimer: func() backoff.Timer {
			return &instantTimer{waits: waits}
		},
	}
}

func newSession(id, email string, metadata map[string]any) *auth.Session {
	confirmed := time.Now()
	return &auth.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User: auth.SessionUser{
			ID:               id,
			Email:            email,
			EmailConfirmedAt: &confirmed,
			Metadata:         metadata,
		},
	}
}

func newSubject() string {
	return uuid.NewString()
}

// signalLogger forwards every message to msgs without blocking.
type signalLogger struct {
	msgs chan string
}

func newSignalLogger() *signalLogger {
	return &signalLogger{msgs: make(chan string, 64)}
}

func (l *signalLogger) send(msg string) {
	select {
	case l.msgs <- msg:
	default:
	}
}

func (l *signalLogger) Debug(msg string, _ ...any) { l.send(msg) }
func (l *signalLogger) Info(msg string, _ ...any)  { l.send(msg) }
func (l *signalLogger) Warn(msg string, _ ...any)  { l.send(msg) }
func (l *signalLogger) Error(msg string, _ ...any) { l.send(msg) }

func (l *signalLogger) waitFor(msg string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-l.msgs:
			if got == msg {
				return true
			}
		case <-deadline:
			return false
		}
	}
}
