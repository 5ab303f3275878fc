package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
)

// ProfileSource records where a resolved profile came from.
type ProfileSource string

const (
	// ProfileStored is a profile read from the store.
	ProfileStored ProfileSource = "stored"
	// ProfileFallbackMissing is synthesized because the row never showed up.
	ProfileFallbackMissing ProfileSource = "fallback_missing"
	// ProfileFallbackReadError is synthesized because the store kept failing.
	ProfileFallbackReadError ProfileSource = "fallback_read_error"
)

// Resolution is the outcome of resolving a subject's profile. It always
// carries a usable Profile.
type Resolution struct {
	Profile  Profile
	Source   ProfileSource
	Attempts int
	// Err is the last read error when Source is a fallback, for logging only.
	Err error
}

// Provisional reports whether the profile was synthesized from session metadata.
func (r Resolution) Provisional() bool {
	return r.Source != ProfileStored
}

// ResolverOption customizes the profile resolver.
type ResolverOption func(*ProfileResolver)

// WithResolverRetryPolicy overrides the read schedule.
func WithResolverRetryPolicy(policy RetryPolicy) ResolverOption {
	return func(r *ProfileResolver) {
		r.policy = policy
	}
}

// WithResolverPhoneRegion sets the default region used to parse phone numbers
// without a country prefix.
func WithResolverPhoneRegion(region string) ResolverOption {
	return func(r *ProfileResolver) {
		if region != "" {
			r.region = strings.ToUpper(region)
		}
	}
}

// WithResolverLogger overrides the logger.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *ProfileResolver) {
		r.provider, r.logger = ResolveLogger("auth.profile_resolver", r.provider, logger)
	}
}

// WithResolverLoggerProvider overrides the logger provider.
func WithResolverLoggerProvider(provider LoggerProvider) ResolverOption {
	return func(r *ProfileResolver) {
		r.provider, r.logger = ResolveLogger("auth.profile_resolver", provider, r.logger)
	}
}

// WithResolverClock injects a clock for profile timestamps.
func WithResolverClock(clock func() time.Time) ResolverOption {
	return func(r *ProfileResolver) {
		if clock != nil {
			r.now = clock
		}
	}
}

// ProfileResolver turns a subject id into a profile, tolerating the window in
// which a fresh account's profile row is not visible yet.
type ProfileResolver struct {
	store    ProfileStore
	policy   RetryPolicy
	region   string
	now      func() time.Time
	logger   Logger
	provider LoggerProvider
}

// NewProfileResolver returns a resolver reading from store.
func NewProfileResolver(store ProfileStore, opts ...ResolverOption) *ProfileResolver {
	r := &ProfileResolver{
		store:  store,
		policy: DefaultProfileRetryPolicy(),
		region: "US",
		now:    time.Now,
	}
	r.provider, r.logger = ResolveLogger("auth.profile_resolver", nil, nil)

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve reads the profile for subjectID, retrying per the policy. When no
// read succeeds it synthesizes a profile from metadata. It never fails.
func (r *ProfileResolver) Resolve(ctx context.Context, subjectID string, metadata map[string]any) Resolution {
	var (
		found   *Profile
		lastErr error
	)

	attempts, err := r.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		profile, err := r.store.FindProfile(ctx, subjectID)
		switch {
		case err == nil && profile != nil:
			found = profile
			return nil
		case err == nil:
			err = NewError(ErrProfileNotFound, nil, map[string]any{"subject": subjectID})
		}
		lastErr = err
		return err
	}, func(err error, attempt int, wait time.Duration) {
		r.logger.Debug("profile not available, retrying",
			"subject", subjectID,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})

	if err == nil && found != nil {
		return Resolution{
			Profile:  *found,
			Source:   ProfileStored,
			Attempts: attempts,
		}
	}

	if lastErr == nil {
		lastErr = err
	}

	source := ProfileFallbackMissing
	if lastErr != nil && !IsProfileNotFound(lastErr) {
		source = ProfileFallbackReadError
	}

	r.logger.Warn("using fallback profile",
		"subject", subjectID,
		"source", source,
		"attempts", attempts,
		"error", lastErr,
	)

	return Resolution{
		Profile:  r.FallbackProfile(subjectID, metadata),
		Source:   source,
		Attempts: attempts,
		Err:      lastErr,
	}
}

// FallbackProfile builds a profile from signup metadata. The role defaults to
// user, and admin is never granted from metadata.
func (r *ProfileResolver) FallbackProfile(subjectID string, metadata map[string]any) Profile {
	role, ok := ParseRole(metadataString(metadata, MetadataRole))
	if !ok || role == RoleAdmin {
		role = RoleUser
	}

	id, _ := uuid.Parse(subjectID)
	return Profile{
		ID:       id,
		FullName: metadataString(metadata, MetadataFullName),
		Role:     role,
		Phone:    NormalizePhone(metadataString(metadata, MetadataPhone), r.region),
	}
}

// CreateProfileManually writes the profile a signup should have produced.
func (r *ProfileResolver) CreateProfileManually(ctx context.Context, subjectID, name, phone string, role Role) error {
	id, err := uuid.Parse(subjectID)
	if err != nil {
		return NewError(ErrProfileWriteFailed, err, map[string]any{
			"subject": subjectID,
			"reason":  "subject id is not a uuid",
		})
	}

	if !role.IsValid() {
		role = RoleUser
	}

	now := r.now()
	profile := &Profile{
		ID:        id,
		FullName:  strings.TrimSpace(name),
		Role:      role,
		Phone:     NormalizePhone(phone, r.region),
		CreatedAt: &now,
		UpdatedAt: &now,
	}

	if _, err := r.store.CreateProfile(ctx, profile); err != nil {
		r.logger.Error("manual profile creation failed", "subject", subjectID, "error", err)
		return NewError(ErrProfileWriteFailed, err, map[string]any{"subject": subjectID})
	}

	r.logger.Info("profile created manually", "subject", subjectID, "role", role)
	return nil
}

// NormalizePhone formats raw as E.164 when it parses as a valid number for
// region, and returns it trimmed otherwise.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}
