package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenServiceOption customizes the token service.
type TokenServiceOption func(*TokenService)

// WithTokenClock injects the clock used to stamp and check tokens.
func WithTokenClock(clock func() time.Time) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger overrides the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// TokenService mints and validates HS256 session tokens.
type TokenService struct {
	signingKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	audience   jwt.ClaimStrings
	now        func() time.Time
	logger     Logger
}

// NewTokenService creates a token service from cfg. Expirations are in hours.
func NewTokenService(cfg Config, opts ...TokenServiceOption) *TokenService {
	ts := &TokenService{
		signingKey: []byte(cfg.GetSigningKey()),
		accessTTL:  time.Duration(cfg.GetTokenExpiration()) * time.Hour,
		refreshTTL: time.Duration(cfg.GetRefreshTokenExpiration()) * time.Hour,
		issuer:     cfg.GetIssuer(),
		audience:   jwt.ClaimStrings(cfg.GetAudience()),
		now:        time.Now,
		logger:     defaultLogger("auth.token_service"),
	}
	if ts.accessTTL <= 0 {
		ts.accessTTL = time.Hour
	}
	if ts.refreshTTL <= 0 {
		ts.refreshTTL = 30 * 24 * time.Hour
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Issue mints an access and refresh token pair for user.
func (ts *TokenService) Issue(user SessionUser) (*Session, error) {
	now := ts.now()

	access := ts.claims(user, TokenUseAccess, now, ts.accessTTL)
	accessToken, err := ts.SignClaims(access)
	if err != nil {
		return nil, err
	}

	refresh := ts.claims(user, TokenUseRefresh, now, ts.refreshTTL)
	refresh.UserMetadata = nil
	refreshToken, err := ts.SignClaims(refresh)
	if err != nil {
		return nil, err
	}

	return &Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresAt:    access.Expires(),
		User:         user,
	}, nil
}

func (ts *TokenService) claims(user SessionUser, use TokenUse, now time.Time, ttl time.Duration) *JWTClaims {
	return &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   user.ID,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:          user.ID,
		EmailAddress: user.Email,
		Confirmed:    user.EmailConfirmed(),
		UserMetadata: cloneMetadata(user.Metadata),
		TokenUse:     use,
	}
}

// SignClaims signs arbitrary JWT claims using the configured signing key.
func (ts *TokenService) SignClaims(claims *JWTClaims) (string, error) {
	if claims == nil {
		return "", errors.New("claims must not be nil", errors.CategoryInternal)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

// Validate accepts access tokens only.
func (ts *TokenService) Validate(tokenString string) (AuthClaims, error) {
	return ts.ValidateUse(tokenString, TokenUseAccess)
}

// ValidateUse parses tokenString and checks it was minted for use.
func (ts *TokenService) ValidateUse(tokenString string, use TokenUse) (*JWTClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token signed with unexpected method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, NewError(ErrTokenExpired, err)
		}
		return nil, NewError(ErrTokenMalformed, err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, NewError(ErrTokenMalformed, nil, map[string]any{"reason": "claims could not be decoded"})
	}

	if claims.Use() != use {
		return nil, NewError(ErrTokenMalformed, nil, map[string]any{
			"reason":   "wrong token use",
			"expected": string(use),
			"got":      string(claims.Use()),
		})
	}
	return claims, nil
}
