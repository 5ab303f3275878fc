package auth

// TokenValidator turns a raw token into claims.
type TokenValidator interface {
	Validate(tokenString string) (AuthClaims, error)
}

// TokenValidatorFunc adapts a function into a TokenValidator.
type TokenValidatorFunc func(tokenString string) (AuthClaims, error)

func (f TokenValidatorFunc) Validate(tokenString string) (AuthClaims, error) {
	if f == nil {
		return nil, NewError(ErrTokenMalformed, nil, map[string]any{"reason": "no validator"})
	}
	return f(tokenString)
}

// IsMalformedError reports a token that could not be parsed or whose
// signature did not verify.
func IsMalformedError(err error) bool {
	return HasTextCode(err, TextCodeTokenMalformed)
}

// IsTokenExpiredError reports an expired token.
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired)
}

// MultiTokenValidator accepts tokens signed with any of several keys, the
// current signing key first and retired keys after it. A malformed result
// moves on to the next validator; any other failure (expired, revoked) is
// final since the signature already matched.
type MultiTokenValidator struct {
	chain  []TokenValidator
	logger Logger
}

func NewMultiTokenValidator(validators ...TokenValidator) *MultiTokenValidator {
	m := &MultiTokenValidator{logger: NopLogger()}
	for _, v := range validators {
		if v != nil {
			m.chain = append(m.chain, v)
		}
	}
	return m
}

// WithLogger reports which key position accepted a token.
func (m *MultiTokenValidator) WithLogger(logger Logger) *MultiTokenValidator {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *MultiTokenValidator) Validate(tokenString string) (AuthClaims, error) {
	var err error = NewError(ErrTokenMalformed, nil, map[string]any{"reason": "no validators"})
	for pos, v := range m.chain {
		var claims AuthClaims
		claims, err = v.Validate(tokenString)
		if err == nil {
			if pos > 0 && claims != nil {
				m.logger.Debug("token accepted by retired key", "position", pos, "subject", claims.UserID())
			}
			return claims, nil
		}
		if !IsMalformedError(err) {
			return nil, err
		}
	}
	return nil, err
}
