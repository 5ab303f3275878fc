package auth

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profile is the application-side record attached to an auth subject.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	FullName      string     `bun:"full_name,notnull" json:"full_name"`
	Role          Role       `bun:"role,type:varchar(32)" json:"role"`
	Phone         string     `bun:"phone" json:"phone,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// PropertyStatus is the market status of a listing.
type PropertyStatus string

const (
	PropertyAvailable PropertyStatus = "available"
	PropertyPending   PropertyStatus = "pending"
	PropertySold      PropertyStatus = "sold"
	PropertyRented    PropertyStatus = "rented"
)

// IsValid checks the status against the known set.
func (s PropertyStatus) IsValid() bool {
	switch s {
	case PropertyAvailable, PropertyPending, PropertySold, PropertyRented:
		return true
	default:
		return false
	}
}

// Decision is an admin's verification verdict.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid checks the decision against the known set.
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// ParseDecision parses a decision name.
func ParseDecision(s string) (Decision, bool) {
	d := Decision(s)
	return d, d.IsValid()
}

// VerificationState is derived from a property's verified flag and last decision.
type VerificationState string

const (
	VerificationPending  VerificationState = "pending"
	VerificationVerified VerificationState = "verified"
	VerificationRejected VerificationState = "rejected"
)

// Property is the verification projection of a listing.
// Verified and Status are independent columns set together by a decision.
type Property struct {
	bun.BaseModel `bun:"table:properties,alias:prop"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	OwnerID       uuid.UUID      `bun:"owner_id,notnull,type:uuid" json:"owner_id"`
	Title         string         `bun:"title,notnull" json:"title"`
	Verified      bool           `bun:"verified,notnull" json:"verified"`
	Status        PropertyStatus `bun:"status,notnull" json:"status"`
	Decision      Decision       `bun:"verification_decision,nullzero" json:"verification_decision,omitempty"`
	ReviewedBy    *uuid.UUID     `bun:"reviewed_by,type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time     `bun:"reviewed_at,nullzero" json:"reviewed_at,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// StateOf derives the verification state. A nil property reads as pending.
func StateOf(p *Property) VerificationState {
	switch {
	case p == nil:
		return VerificationPending
	case p.Verified:
		return VerificationVerified
	case p.Decision == DecisionReject:
		return VerificationRejected
	default:
		return VerificationPending
	}
}

// Clone returns a copy that shares no pointers with p.
func (p *Property) Clone() *Property {
	if p == nil {
		return nil
	}
	c := *p
	if p.ReviewedBy != nil {
		id := *p.ReviewedBy
		c.ReviewedBy = &id
	}
	if p.ReviewedAt != nil {
		at := *p.ReviewedAt
		c.ReviewedAt = &at
	}
	if p.CreatedAt != nil {
		at := *p.CreatedAt
		c.CreatedAt = &at
	}
	if p.UpdatedAt != nil {
		at := *p.UpdatedAt
		c.UpdatedAt = &at
	}
	return &c
}

// Account is a credential record of the local authentication backend.
type Account struct {
	bun.BaseModel    `bun:"table:accounts,alias:acc"`
	ID               uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	Email            string         `bun:"email,notnull,unique" json:"email"`
	PasswordHash     string         `bun:"password_hash,notnull" json:"-"`
	EmailConfirmedAt *time.Time     `bun:"email_confirmed_at,nullzero" json:"email_confirmed_at,omitempty"`
	Metadata         map[string]any `bun:"metadata" json:"metadata,omitempty"`
	LoginAttempts    int            `bun:"login_attempts,notnull,default:0" json:"login_attempts,omitempty"`
	LoginAttemptAt   *time.Time     `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt       *time.Time     `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt        *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// AddMetadata sets a metadata key, allocating the map on first use.
func (a *Account) AddMetadata(key string, val any) *Account {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = val
	return a
}
