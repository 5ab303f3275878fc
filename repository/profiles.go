package repository

import (
	"context"
	"strings"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Profiles persists application profiles keyed by the auth subject id.
type Profiles struct {
	repository.Repository[*auth.Profile]
	db *bun.DB
}

var _ auth.ProfileStore = (*Profiles)(nil)

func NewProfiles(db *bun.DB) *Profiles {
	repo := repository.NewRepository[*auth.Profile](db, repository.ModelHandlers[*auth.Profile]{
		NewRecord: func() *auth.Profile { return &auth.Profile{} },
		GetID: func(p *auth.Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *auth.Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
	return &Profiles{Repository: repo, db: db}
}

// FindProfile returns ErrProfileNotFound when no row exists for id.
func (p *Profiles) FindProfile(ctx context.Context, id string) (*auth.Profile, error) {
	return p.FindProfileTx(ctx, p.db, id)
}

func (p *Profiles) FindProfileTx(ctx context.Context, tx bun.IDB, id string) (*auth.Profile, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, auth.NewError(auth.ErrProfileNotFound, err, map[string]any{"id": id})
	}

	record := &auth.Profile{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.NewError(auth.ErrProfileNotFound, err, map[string]any{"id": id})
		}
		return nil, err
	}
	return record, nil
}

// CreateProfile inserts profile. An existing row with the same id is
// updated in place so a compensating write after a slow provisioning
// succeeds instead of failing on the key.
func (p *Profiles) CreateProfile(ctx context.Context, profile *auth.Profile) (*auth.Profile, error) {
	return p.CreateProfileTx(ctx, p.db, profile)
}

func (p *Profiles) CreateProfileTx(ctx context.Context, tx bun.IDB, profile *auth.Profile) (*auth.Profile, error) {
	if profile == nil || profile.ID == uuid.Nil {
		return nil, auth.NewError(auth.ErrProfileWriteFailed, nil, map[string]any{"reason": "missing profile id"})
	}

	_, err := tx.NewInsert().
		Model(profile).
		On("CONFLICT (id) DO UPDATE").
		Set("full_name = EXCLUDED.full_name").
		Set("role = EXCLUDED.role").
		Set("phone = EXCLUDED.phone").
		Set("updated_at = CURRENT_TIMESTAMP").
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// UpdateRole changes the stored role of a profile.
func (p *Profiles) UpdateRole(ctx context.Context, id uuid.UUID, role auth.Role) (*auth.Profile, error) {
	record, err := p.FindProfile(ctx, id.String())
	if err != nil {
		return nil, err
	}
	record.Role = role
	return p.Repository.UpdateTx(ctx, p.db, record, repository.UpdateByID(id.String()))
}
