package repository

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts stores credentials of the local authentication backend.
type Accounts struct {
	repository.Repository[*auth.Account]
	db  *bun.DB
	now func() time.Time
}

type AccountsOption func(*Accounts)

// WithAccountsClock sets the clock used for login tracking timestamps.
func WithAccountsClock(now func() time.Time) AccountsOption {
	return func(a *Accounts) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAccounts(db *bun.DB, opts ...AccountsOption) *Accounts {
	repo := repository.NewRepository[*auth.Account](db, repository.ModelHandlers[*auth.Account]{
		NewRecord: func() *auth.Account { return &auth.Account{} },
		GetID: func(a *auth.Account) uuid.UUID {
			if a == nil {
				return uuid.Nil
			}
			return a.ID
		},
		SetID: func(a *auth.Account, id uuid.UUID) {
			if a != nil {
				a.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	accounts := &Accounts{Repository: repo, db: db, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(accounts)
		}
	}
	return accounts
}

// FindAccountByEmail looks an account up by its normalized email.
func (a *Accounts) FindAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	record := &auth.Account{}
	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.NewError(auth.ErrAccountNotFound, err, map[string]any{"email": email})
		}
		return nil, err
	}
	return record, nil
}

func (a *Accounts) FindAccount(ctx context.Context, id string) (*auth.Account, error) {
	uid, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return nil, auth.NewError(auth.ErrAccountNotFound, err, map[string]any{"id": id})
	}
	record := &auth.Account{}
	err = a.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, auth.NewError(auth.ErrAccountNotFound, err, map[string]any{"id": id})
		}
		return nil, err
	}
	return record, nil
}

// CreateAccount inserts account with a lower-cased email.
func (a *Accounts) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	return a.Repository.CreateTx(ctx, a.db, account)
}

// ConfirmEmail stamps the account's email as confirmed.
func (a *Accounts) ConfirmEmail(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewRaw(`
		UPDATE "accounts"
		SET
			"email_confirmed_at" = ?,
			"updated_at" = ?
		WHERE
			"id" = ?;
	`, a.now(), a.now(), id).Exec(ctx)
	return err
}

func (a *Accounts) TrackAttemptedLogin(ctx context.Context, account *auth.Account) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, account)
}

func (a *Accounts) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, account *auth.Account) error {
	now := a.now()
	_, err := tx.NewRaw(`
		UPDATE "accounts"
		SET
			"login_attempts" = ?,
			"login_attempt_at" = ?
		WHERE
			"id" = ?;
	`, account.LoginAttempts+1, now, account.ID).Exec(ctx)
	if err != nil {
		return err
	}
	account.LoginAttempts++
	account.LoginAttemptAt = &now
	return nil
}

func (a *Accounts) TrackSuccessfulLogin(ctx context.Context, account *auth.Account) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, account)
}

// TrackSuccessfulLoginTx resets the attempt counter. The raw update is
// needed because bun skips zero values and would keep the old counter.
func (a *Accounts) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, account *auth.Account) error {
	now := a.now()
	_, err := tx.NewRaw(`
		UPDATE "accounts"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE
			"id" = ?;
	`, now, account.ID).Exec(ctx)
	if err != nil {
		return err
	}
	account.LoginAttempts = 0
	account.LoginAttemptAt = nil
	account.LoggedInAt = &now
	return nil
}
