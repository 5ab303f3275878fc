package auth

import "strings"

// Identity is the application-level view of who is signed in. Values are
// replaced on every session change, never mutated in place.
type Identity struct {
	ID          string        `json:"id"`
	DisplayName string        `json:"display_name"`
	Email       string        `json:"email"`
	Role        Role          `json:"role"`
	Verified    bool          `json:"verified"`
	Phone       string        `json:"phone,omitempty"`
	Source      ProfileSource `json:"profile_source"`
}

// NewIdentity combines a session with a profile resolution. Email and
// Verified always come from the session.
func NewIdentity(session *Session, res Resolution) *Identity {
	if session == nil {
		return nil
	}

	name := strings.TrimSpace(res.Profile.FullName)
	if name == "" {
		name = emailLocalPart(session.User.Email)
	}

	return &Identity{
		ID:          session.User.ID,
		DisplayName: name,
		Email:       session.User.Email,
		Role:        res.Profile.Role,
		Verified:    session.User.EmailConfirmed(),
		Phone:       res.Profile.Phone,
		Source:      res.Source,
	}
}

// Provisional reports an identity built from a synthesized profile.
func (i *Identity) Provisional() bool {
	return i != nil && i.Source != ProfileStored
}

// HasRole reports whether the identity has one of the given roles.
func (i *Identity) HasRole(roles ...Role) bool {
	if i == nil {
		return false
	}
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

// Actor returns the ActorRef used to attribute actions to this identity.
func (i *Identity) Actor() ActorRef {
	if i == nil {
		return ActorRef{Type: ActorTypeSystem}
	}
	return ActorRef{ID: i.ID, Type: ActorTypeUser, Role: i.Role}
}

func emailLocalPart(email string) string {
	email = strings.TrimSpace(email)
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
