package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPasswordWithCost hashes password with an explicit bcrypt cost. Costs
// outside bcrypt's range fall back to bcrypt.DefaultCost.
func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", NewError(ErrWeakPassword, nil, map[string]any{"reason": "empty password"})
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(h), err
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return NewError(ErrInvalidCredentials, err)
		}
		return err
	}
	return nil
}
