package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-estate-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordWithCost(t *testing.T) {
	tests := []struct {
		name     string
		password string
		cost     int
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
			cost:     bcrypt.MinCost,
		},
		{
			name:     "Out of range cost falls back",
			password: "abc123",
			cost:     99,
		},
		{
			name:     "Empty password",
			password: "",
			cost:     bcrypt.MinCost,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := auth.HashPasswordWithCost(tt.password, tt.cost)

			if tt.wantErr {
				assert.Error(t, err)
				assert.True(t, auth.HasTextCode(err, auth.TextCodeWeakPassword))
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, auth.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestComparePasswordAndHash(t *testing.T) {
	password := "testPassword123!"
	hash, err := auth.HashPasswordWithCost(password, bcrypt.MinCost)
	require.NoError(t, err)

	tests := []struct {
		name      string
		password  string
		hash      string
		wantErr   bool
		wantCreds bool
	}{
		{
			name:     "Matching password",
			password: password,
			hash:     hash,
		},
		{
			name:      "Wrong password",
			password:  "wrongPassword",
			hash:      hash,
			wantErr:   true,
			wantCreds: true,
		},
		{
			name:     "Invalid hash",
			password: password,
			hash:     "not-a-bcrypt-hash",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ComparePasswordAndHash(tt.password, tt.hash)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.Error(t, err)
			assert.Equal(t, tt.wantCreds, auth.HasTextCode(err, auth.TextCodeInvalidCredentials))
		})
	}
}
