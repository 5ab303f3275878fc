package auth

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	ActorTypeSystem = "system"
	ActorTypeUser   = "user"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
	Role Role
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor    ActorRef
	Property *Property
	Decision Decision
	From     VerificationState
	To       VerificationState
	Meta     TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes a single transition.
type TransitionOption func(*transitionOptions)

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// VerificationPatch is the canonical write for a decision. Verified and
// Status are always written together.
type VerificationPatch struct {
	Verified   bool
	Status     PropertyStatus
	Decision   Decision
	ReviewedBy *uuid.UUID
	ReviewedAt time.Time
}

// PatchFor returns the patch a decision writes: approve sets verified and
// available, reject clears verified and sets pending.
func PatchFor(decision Decision, actor ActorRef, at time.Time) VerificationPatch {
	patch := VerificationPatch{
		Decision:   decision,
		ReviewedAt: at,
	}
	if id, err := uuid.Parse(actor.ID); err == nil {
		patch.ReviewedBy = &id
	}

	switch decision {
	case DecisionApprove:
		patch.Verified = true
		patch.Status = PropertyAvailable
	case DecisionReject:
		patch.Verified = false
		patch.Status = PropertyPending
	}
	return patch
}

// TargetState is the verification state a decision leads to.
func TargetState(decision Decision) VerificationState {
	if decision == DecisionApprove {
		return VerificationVerified
	}
	return VerificationRejected
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*VerificationMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *VerificationMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish verification events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *VerificationMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *VerificationMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *VerificationMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the write.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the write succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// VerificationMachine applies admin decisions to properties. Every decision
// is legal from every state; only the actor's role gates it.
type VerificationMachine struct {
	store            PropertyStore
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

// NewVerificationMachine returns a machine writing through store.
func NewVerificationMachine(store PropertyStore, opts ...StateMachineOption) *VerificationMachine {
	sm := &VerificationMachine{
		store:            store,
		now:              time.Now,
		activitySink:     noopActivitySink{},
		logger:           defaultLogger("auth.verification_machine"),
		hookErrorHandler: defaultHookErrorHandler,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloneMetadata(o.metadata.Metadata),
	}
}

// Apply writes decision to property on behalf of actor and returns the
// stored result. Non-admin actors are refused before any I/O.
func (sm *VerificationMachine) Apply(ctx context.Context, actor ActorRef, property *Property, decision Decision, opts ...TransitionOption) (*Property, error) {
	if !actor.Role.CanVerifyProperties() {
		return nil, NewError(ErrForbidden, nil, map[string]any{
			"actor": actor.ID,
			"role":  actor.Role.String(),
		})
	}

	if !decision.IsValid() {
		return nil, NewError(ErrInvalidDecision, nil, map[string]any{"decision": string(decision)})
	}

	if property == nil {
		return nil, NewError(ErrPropertyNotFound, nil)
	}

	options := sm.buildTransitionOptions(opts...)

	tc := TransitionContext{
		Actor:    actor,
		Property: property.Clone(),
		Decision: decision,
		From:     StateOf(property),
		To:       TargetState(decision),
		Meta:     options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, tc, HookPhaseBefore); err != nil {
		return nil, err
	}

	patch := PatchFor(decision, actor, sm.now())
	updated, err := sm.store.ApplyVerification(ctx, actor, property.ID.String(), patch)
	if err != nil {
		return nil, mapStoreError(err, property.ID.String())
	}
	if updated == nil {
		updated = property.Clone()
		applyPatch(updated, patch)
	}

	tc.Property = updated.Clone()
	if err := sm.runHooks(ctx, options.afterHooks, tc, HookPhaseAfter); err != nil {
		return nil, err
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType:  ActivityEventVerificationChanged,
		Actor:      actor,
		PropertyID: property.ID.String(),
		SubjectID:  property.OwnerID.String(),
		FromState:  tc.From,
		ToState:    tc.To,
		Metadata:   transitionMetadata(tc),
	})

	return updated, nil
}

func (sm *VerificationMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *VerificationMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	var propertyID string
	if tc.Property != nil {
		propertyID = tc.Property.ID.String()
	}
	return goerrors.Wrap(err, goerrors.CategoryOperation, "verification transition hook failed").
		WithMetadata(map[string]any{
			"phase":    string(phase),
			"property": propertyID,
			"from":     string(tc.From),
			"to":       string(tc.To),
			"reason":   tc.Meta.Reason,
		})
}

// mapStoreError keeps the three verification failures distinct. Anything the
// store did not classify is a backend error.
func mapStoreError(err error, propertyID string) error {
	switch {
	case IsForbidden(err):
		return err
	case IsPropertyNotFound(err):
		if HasTextCode(err, TextCodePropertyNotFound) {
			return err
		}
		return NewError(ErrPropertyNotFound, err, map[string]any{"property": propertyID})
	case HasTextCode(err, TextCodeVerificationBackend):
		return err
	default:
		return NewError(ErrVerificationBackend, err, map[string]any{"property": propertyID})
	}
}

func applyPatch(p *Property, patch VerificationPatch) {
	p.Verified = patch.Verified
	p.Status = patch.Status
	p.Decision = patch.Decision
	p.ReviewedBy = patch.ReviewedBy
	at := patch.ReviewedAt
	p.ReviewedAt = &at
}

func transitionMetadata(tc TransitionContext) map[string]any {
	result := map[string]any{"decision": string(tc.Decision)}
	if tc.Meta.Reason != "" {
		result["reason"] = tc.Meta.Reason
	}
	for k, v := range tc.Meta.Metadata {
		result[k] = v
	}
	return result
}
