package repository

import (
	"errors"
	"log"

	"github.com/uptrace/bun"
)

// Manager exposes every store over a single database handle.
type Manager struct {
	db         *bun.DB
	profiles   *Profiles
	properties *Properties
	accounts   *Accounts
}

func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:         db,
		profiles:   NewProfiles(db),
		properties: NewProperties(db),
		accounts:   NewAccounts(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository database should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.properties == nil {
		return errors.New("repository properties should be initialized")
	}

	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) Profiles() *Profiles { return m.profiles }

func (m *Manager) Properties() *Properties { return m.properties }

func (m *Manager) Accounts() *Accounts { return m.accounts }
