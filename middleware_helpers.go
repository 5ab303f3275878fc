package auth

import (
	"context"

	"github.com/goliatone/go-router"

	"github.com/goliatone/go-estate-auth/middleware/jwtware"
)

// JWTValidator exposes a TokenValidator through the jwtware contract. A
// validator that returns no claims and no error is treated as malformed.
func JWTValidator(validator TokenValidator) jwtware.TokenValidator {
	return jwtware.TokenValidatorFunc(func(token string) (jwtware.AuthClaims, error) {
		if validator == nil {
			return nil, NewError(ErrTokenMalformed, nil, map[string]any{"reason": "no validator"})
		}
		claims, err := validator.Validate(token)
		switch {
		case err != nil:
			return nil, err
		case claims == nil:
			return nil, NewError(ErrTokenMalformed, nil)
		}
		return claims, nil
	})
}

// ContextEnricherAdapter copies validated claims into the request context so
// handlers reading context.Context see the same caller as router locals.
func ContextEnricherAdapter(c context.Context, claims jwtware.AuthClaims) context.Context {
	if authClaims, ok := claims.(AuthClaims); ok {
		return WithClaimsContext(c, authClaims)
	}
	return c
}

// traceValidated logs each accepted token at debug level.
func traceValidated(logger Logger) jwtware.ValidationListener {
	return func(_ router.Context, claims jwtware.AuthClaims) error {
		logger.Debug("token accepted", "subject", claims.UserID())
		return nil
	}
}
