package auth

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// VerificationOption customizes the verification service.
type VerificationOption func(*VerificationService)

// WithPropertyCache enables read-through caching of properties.
func WithPropertyCache(cache PropertyCache) VerificationOption {
	return func(s *VerificationService) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// WithVerificationMachine replaces the machine used for writes.
func WithVerificationMachine(machine *VerificationMachine) VerificationOption {
	return func(s *VerificationService) {
		if machine != nil {
			s.machine = machine
		}
	}
}

// WithVerificationActivitySink sets the sink of the default machine.
func WithVerificationActivitySink(sink ActivitySink) VerificationOption {
	return func(s *VerificationService) {
		s.machineOpts = append(s.machineOpts, WithStateMachineActivitySink(sink))
	}
}

// WithVerificationClock injects a clock into the default machine.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		s.machineOpts = append(s.machineOpts, WithStateMachineClock(clock))
	}
}

// WithVerificationLogger overrides the logger.
func WithVerificationLogger(logger Logger) VerificationOption {
	return func(s *VerificationService) {
		s.provider, s.logger = ResolveLogger("auth.verification", s.provider, logger)
	}
}

// WithVerificationLoggerProvider overrides the logger provider.
func WithVerificationLoggerProvider(provider LoggerProvider) VerificationOption {
	return func(s *VerificationService) {
		s.provider, s.logger = ResolveLogger("auth.verification", provider, s.logger)
	}
}

// VerificationService is the verification lifecycle: admin decisions plus
// the role-scoped reads every dashboard uses.
type VerificationService struct {
	store       PropertyStore
	machine     *VerificationMachine
	machineOpts []StateMachineOption
	cache       PropertyCache
	loads       singleflight.Group
	logger      Logger
	provider    LoggerProvider

	// epochs count writes per property so a load that started before a
	// write does not repopulate the cache with the old row. stale holds ids
	// whose invalidation failed; their cache entries are bypassed until a
	// later delete succeeds.
	epochMu sync.Mutex
	epochs  map[string]uint64
	stale   map[string]struct{}
}

// NewVerificationService returns a service writing through store.
func NewVerificationService(store PropertyStore, opts ...VerificationOption) *VerificationService {
	s := &VerificationService{
		store:  store,
		cache:  noopPropertyCache{},
		epochs: make(map[string]uint64),
		stale:  make(map[string]struct{}),
	}
	s.provider, s.logger = ResolveLogger("auth.verification", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.machine == nil {
		machineOpts := append([]StateMachineOption{WithStateMachineLogger(s.logger)}, s.machineOpts...)
		s.machine = NewVerificationMachine(store, machineOpts...)
	}
	return s
}

// SetVerification records an admin decision. It fails with ErrForbidden for
// non-admin actors before touching the store, ErrPropertyNotFound for an
// unknown id, and ErrVerificationBackend for anything else. Nothing is
// retried.
func (s *VerificationService) SetVerification(ctx context.Context, propertyID string, decision Decision, actor ActorRef, opts ...TransitionOption) error {
	_, err := s.Decide(ctx, propertyID, decision, actor, opts...)
	return err
}

// Decide is SetVerification returning the stored property.
func (s *VerificationService) Decide(ctx context.Context, propertyID string, decision Decision, actor ActorRef, opts ...TransitionOption) (*Property, error) {
	if !actor.Role.CanVerifyProperties() {
		s.logger.Warn("verification refused", "property", propertyID, "actor", actor.ID, "role", actor.Role.String())
		return nil, NewError(ErrForbidden, nil, map[string]any{
			"property": propertyID,
			"actor":    actor.ID,
			"role":     actor.Role.String(),
		})
	}

	if !decision.IsValid() {
		return nil, NewError(ErrInvalidDecision, nil, map[string]any{"decision": string(decision)})
	}

	current, err := s.store.FindProperty(ctx, propertyID)
	if err != nil {
		return nil, mapStoreError(err, propertyID)
	}
	if current == nil {
		return nil, NewError(ErrPropertyNotFound, nil, map[string]any{"property": propertyID})
	}

	updated, err := s.machine.Apply(ctx, actor, current, decision, opts...)

	// A backend error may still have reached the store, so the cached row
	// is dropped in that case too.
	if err == nil || HasTextCode(err, TextCodeVerificationBackend) {
		s.invalidate(ctx, propertyID)
	}
	if err != nil {
		s.logger.Error("verification failed", "property", propertyID, "decision", decision, "error", err)
		return nil, err
	}

	s.logger.Info("verification recorded",
		"property", propertyID,
		"decision", decision,
		"state", StateOf(updated),
		"actor", actor.ID,
	)
	return updated, nil
}

// Get returns a property, reading through the cache.
func (s *VerificationService) Get(ctx context.Context, propertyID string) (*Property, error) {
	epoch, stale := s.cacheState(propertyID)
	if !stale {
		if cached, ok, err := s.cache.Get(ctx, propertyID); err != nil {
			s.logger.Warn("property cache read failed", "property", propertyID, "error", err)
		} else if ok {
			return cached, nil
		}
	}

	v, err, _ := s.loads.Do(propertyID+"@"+strconv.FormatUint(epoch, 10), func() (any, error) {
		property, err := s.store.FindProperty(ctx, propertyID)
		if err != nil {
			return nil, mapStoreError(err, propertyID)
		}
		if property == nil {
			return nil, NewError(ErrPropertyNotFound, nil, map[string]any{"property": propertyID})
		}

		if s.epoch(propertyID) != epoch {
			return property, nil
		}
		if stale && !s.clearStale(ctx, propertyID) {
			return property, nil
		}
		if err := s.cache.Set(ctx, property); err != nil {
			s.logger.Warn("property cache write failed", "property", propertyID, "error", err)
		}
		// a write that landed between the check and Set has already
		// invalidated, so undo the Set ourselves
		if s.epoch(propertyID) != epoch {
			_ = s.cache.Invalidate(ctx, propertyID)
		}
		return property, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Property).Clone(), nil
}

// PendingFor lists the unverified properties actor is allowed to see: the
// review queue for admins and their own listings for owners, brokers and
// community heads. Plain users get ErrForbidden.
func (s *VerificationService) PendingFor(ctx context.Context, actor ActorRef, limit int) ([]*Property, error) {
	var filter PropertyFilter
	switch {
	case actor.Role.CanVerifyProperties():
		filter = PropertyFilter{AwaitingReview: true, Limit: limit}
	case actor.Role.ListsProperties():
		if actor.ID == "" {
			return nil, NewError(ErrForbidden, nil, map[string]any{"reason": "actor has no id"})
		}
		filter = PropertyFilter{OwnerID: actor.ID, Unverified: true, Limit: limit}
	default:
		return nil, NewError(ErrForbidden, nil, map[string]any{
			"actor": actor.ID,
			"role":  actor.Role.String(),
		})
	}

	properties, err := s.store.ListProperties(ctx, filter)
	if err != nil {
		return nil, NewError(ErrVerificationBackend, err)
	}
	return properties, nil
}

// invalidate drops the cached row after a write. The delete is tried twice;
// when both fail the id is marked stale so reads go to the store until a
// later delete succeeds.
func (s *VerificationService) invalidate(ctx context.Context, propertyID string) {
	s.epochMu.Lock()
	s.epochs[propertyID]++
	s.epochMu.Unlock()

	err := s.cache.Invalidate(ctx, propertyID)
	if err != nil {
		err = s.cache.Invalidate(ctx, propertyID)
	}
	if err == nil {
		return
	}

	s.logger.Error("property cache invalidation failed, bypassing cache", "property", propertyID, "error", err)
	s.epochMu.Lock()
	s.stale[propertyID] = struct{}{}
	s.epochMu.Unlock()
}

// clearStale retries the delete for a stale id and reports whether the
// cache can be used again.
func (s *VerificationService) clearStale(ctx context.Context, propertyID string) bool {
	if err := s.cache.Invalidate(ctx, propertyID); err != nil {
		s.logger.Warn("stale property cache entry still present", "property", propertyID, "error", err)
		return false
	}
	s.epochMu.Lock()
	delete(s.stale, propertyID)
	s.epochMu.Unlock()
	return true
}

func (s *VerificationService) cacheState(propertyID string) (uint64, bool) {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	_, stale := s.stale[propertyID]
	return s.epochs[propertyID], stale
}

func (s *VerificationService) epoch(propertyID string) uint64 {
	s.epochMu.Lock()
	defer s.epochMu.Unlock()
	return s.epochs[propertyID]
}
