package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ApplyVerificationSQL writes a decision. Verified and status are both set
// so the outcome does not depend on the starting state.
var ApplyVerificationSQL = `UPDATE "properties"
SET
	"verified" = ?,
	"status" = ?,
	"verification_decision" = ?,
	"reviewed_by" = ?,
	"reviewed_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
RETURNING *;`

// Properties persists listings and enforces the admin rule on verification
// writes against the stored profile role.
type Properties struct {
	repository.Repository[*auth.Property]
	db  *bun.DB
	now func() time.Time
}

var _ auth.PropertyStore = (*Properties)(nil)

type PropertiesOption func(*Properties)

// WithPropertiesClock sets the clock stamping updated_at.
func WithPropertiesClock(now func() time.Time) PropertiesOption {
	return func(p *Properties) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProperties(db *bun.DB, opts ...PropertiesOption) *Properties {
	repo := repository.NewRepository[*auth.Property](db, repository.ModelHandlers[*auth.Property]{
		NewRecord: func() *auth.Property { return &auth.Property{} },
		GetID: func(p *auth.Property) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *auth.Property, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	props := &Properties{Repository: repo, db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(props)
		}
	}
	return props
}

// CreateProperty inserts a new listing. New listings start unverified and
// pending review.
func (p *Properties) CreateProperty(ctx context.Context, property *auth.Property) (*auth.Property, error) {
	if property == nil {
		return nil, auth.NewError(auth.ErrVerificationBackend, nil, map[string]any{"reason": "nil property"})
	}
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	if property.Status == "" {
		property.Status = auth.PropertyPending
	}
	property.Verified = false
	property.Decision = ""
	property.ReviewedBy = nil
	property.ReviewedAt = nil
	return p.Repository.CreateTx(ctx, p.db, property)
}

func (p *Properties) FindProperty(ctx context.Context, id string) (*auth.Property, error) {
	return p.FindPropertyTx(ctx, p.db, id)
}

func (p *Properties) FindPropertyTx(ctx context.Context, tx bun.IDB, id string) (*auth.Property, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, auth.NewError(auth.ErrPropertyNotFound, err, map[string]any{"property": id})
	}

	record := &auth.Property{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.NewError(auth.ErrPropertyNotFound, err, map[string]any{"property": id})
		}
		return nil, auth.NewError(auth.ErrVerificationBackend, err, map[string]any{"property": id})
	}
	return record, nil
}

// ListProperties returns listings matching filter, newest first.
func (p *Properties) ListProperties(ctx context.Context, filter auth.PropertyFilter) ([]*auth.Property, error) {
	var records []*auth.Property
	q := p.db.NewSelect().Model(&records)

	if filter.OwnerID != "" {
		uid, err := uuid.Parse(filter.OwnerID)
		if err != nil {
			return []*auth.Property{}, nil
		}
		q = q.Where("?TableAlias.owner_id = ?", uid)
	}
	if filter.Unverified || filter.AwaitingReview {
		q = q.Where("?TableAlias.verified = ?", false)
	}
	if filter.AwaitingReview {
		q = q.Where("?TableAlias.verification_decision IS NULL")
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	if err := q.Order("created_at DESC").Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return []*auth.Property{}, nil
		}
		return nil, err
	}
	return records, nil
}

// ApplyVerification writes patch to property id inside a transaction. The
// actor must hold the admin role in the profiles table, whatever the
// caller claims.
func (p *Properties) ApplyVerification(ctx context.Context, actor auth.ActorRef, id string, patch auth.VerificationPatch) (*auth.Property, error) {
	var updated *auth.Property
	err := p.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := p.requireAdminTx(ctx, tx, actor); err != nil {
			return err
		}

		uid, err := uuid.Parse(strings.TrimSpace(id))
		if err != nil {
			return auth.NewError(auth.ErrPropertyNotFound, err, map[string]any{"property": id})
		}

		var decision any
		if patch.Decision != "" {
			decision = string(patch.Decision)
		}

		res, err := p.Repository.RawTx(ctx, tx, ApplyVerificationSQL,
			patch.Verified,
			string(patch.Status),
			decision,
			patch.ReviewedBy,
			patch.ReviewedAt,
			p.now(),
			uid,
		)
		if err != nil {
			return err
		}
		if len(res) == 0 {
			return auth.NewError(auth.ErrPropertyNotFound, nil, map[string]any{"property": id})
		}
		updated = res[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (p *Properties) requireAdminTx(ctx context.Context, tx bun.IDB, actor auth.ActorRef) error {
	forbidden := func(source error) error {
		return auth.NewError(auth.ErrForbidden, source, map[string]any{
			"actor": actor.ID,
			"role":  actor.Role.String(),
		})
	}

	uid, err := uuid.Parse(strings.TrimSpace(actor.ID))
	if err != nil {
		return forbidden(err)
	}

	var role auth.Role
	err = tx.NewSelect().
		Table("profiles").
		Column("role").
		Where("id = ?", uid).
		Limit(1).
		Scan(ctx, &role)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return forbidden(err)
		}
		return err
	}
	if !role.CanVerifyProperties() {
		return forbidden(nil)
	}
	return nil
}
