package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-estate-auth/middleware/jwtware"
)

// identityLocalsKey caches the resolved identity on the request.
const identityLocalsKey = "estate.identity"

// RouteAuthenticator guards routes with token validation and resolves the
// caller's identity from the validated claims.
type RouteAuthenticator struct {
	cfg            Config
	validator      TokenValidator
	resolver       IdentityResolver
	cookieName     string
	cookieDuration time.Duration
	Logger         Logger
	ErrorHandler   func(c router.Context, err error) error
}

func NewRouteAuthenticator(cfg Config, validator TokenValidator, resolver IdentityResolver) *RouteAuthenticator {
	cookieDuration := 24 * time.Hour
	if cfg.GetRefreshTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetRefreshTokenExpiration()) * time.Hour
	}

	a := &RouteAuthenticator{
		cfg:            cfg,
		validator:      validator,
		resolver:       resolver,
		cookieName:     sessionCookieName(cfg),
		cookieDuration: cookieDuration,
		Logger:         defaultLogger("auth.http"),
	}
	a.ErrorHandler = a.defaultErrHandler
	return a
}

// WithLogger replaces the request logger.
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
	}
	return a
}

func (a *RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// GetCookieName is the cookie the session token is written to, the first
// cookie source of the token lookup or the context key when there is none.
func (a *RouteAuthenticator) GetCookieName() string {
	return a.cookieName
}

func sessionCookieName(cfg Config) string {
	for _, source := range strings.Split(cfg.GetTokenLookup(), ",") {
		parts := strings.SplitN(strings.TrimSpace(source), ":", 2)
		if len(parts) == 2 && parts[0] == "cookie" && parts[1] != "" {
			return parts[1]
		}
	}
	return cfg.GetContextKey()
}

// ProtectedRoute rejects requests without a valid token.
func (a *RouteAuthenticator) ProtectedRoute() router.MiddlewareFunc {
	return a.middleware(false)
}

// OptionalRoute validates a token when present and lets anonymous
// requests through.
func (a *RouteAuthenticator) OptionalRoute() router.MiddlewareFunc {
	return a.middleware(true)
}

func (a *RouteAuthenticator) middleware(optional bool) router.MiddlewareFunc {
	return jwtware.New(jwtware.Config{
		ErrorHandler:    a.authErrHandler,
		TokenValidator:  JWTValidator(a.validator),
		Optional:        optional,
		AuthScheme:      a.cfg.GetAuthScheme(),
		ContextKey:      a.cfg.GetContextKey(),
		TokenLookup:     a.cfg.GetTokenLookup(),
		ContextEnricher: ContextEnricherAdapter,
		ValidationListeners: []jwtware.ValidationListener{
			traceValidated(a.Logger),
		},
	})
}

// RequireRole allows the request only when the resolved identity has one of
// roles. It must run after ProtectedRoute.
func (a *RouteAuthenticator) RequireRole(roles ...Role) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			identity := a.Identity(ctx)
			if !identity.HasRole(roles...) {
				return a.ErrorHandler(ctx, NewError(ErrForbidden, nil, map[string]any{
					"subject": identity.Actor().ID,
					"roles":   roles,
				}))
			}
			return ctx.Next()
		}
	}
}

// Identity returns the caller's identity or nil for anonymous requests. The
// profile is resolved once per request.
func (a *RouteAuthenticator) Identity(ctx router.Context) *Identity {
	if cached, ok := ctx.Locals(identityLocalsKey).(*Identity); ok && cached != nil {
		return cached
	}

	claims, ok := GetRouterClaims(ctx, a.cfg.GetContextKey())
	if !ok {
		return nil
	}

	session := SessionFromClaims("", claims)
	res := a.resolver.Resolve(ctx.Context(), session.User.ID, session.User.Metadata)
	identity := NewIdentity(session, res)
	ctx.Locals(identityLocalsKey, identity)
	return identity
}

// RawToken returns the token the request carried, if any.
func (a *RouteAuthenticator) RawToken(ctx router.Context) string {
	extractors := jwtware.GetExtractors(a.cfg.GetTokenLookup(), a.cfg.GetAuthScheme())
	token, err := jwtware.ExtractRawTokenFromContext(ctx, extractors)
	if err != nil {
		return ""
	}
	return token
}

func (a *RouteAuthenticator) SetSessionCookie(c router.Context, session *Session) {
	if session == nil {
		return
	}
	a.setCookieToken(c, session.AccessToken, a.cookieDuration)
}

func (a *RouteAuthenticator) ClearSessionCookie(c router.Context) {
	a.cookieDel(c, a.cookieName)
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cookieName,
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) authErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	switch {
	case goerrors.As(err, &richErr):
	case IsTokenExpiredError(err):
		richErr = NewError(ErrTokenExpired, err)
	case IsMalformedError(err):
		richErr = NewError(ErrTokenMalformed, err)
	default:
		richErr = NewError(ErrSessionRequired, err)
	}
	return a.ErrorHandler(c, richErr)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	return WriteError(c, a.Logger, err)
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Category string         `json:"category,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// WriteError renders err as an ErrorResponse with the status carried by the
// error, or 500 for errors that carry none.
func WriteError(c router.Context, logger Logger, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := richErr.Code
	if status == 0 {
		status = statusFor(richErr)
	}

	if logger != nil {
		args := []any{
			"error", richErr.Message,
			"text_code", richErr.TextCode,
			"category", richErr.Category,
			"status", status,
		}
		if len(richErr.Metadata) > 0 {
			args = append(args, "details", print.MaybePrettyJSON(richErr.Metadata))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", args...)
		} else {
			logger.Info("request rejected", args...)
		}
	}

	body := ErrorBody{
		Code:     richErr.TextCode,
		Message:  UserMessage(richErr),
		Category: fmt.Sprint(richErr.Category),
	}
	if richErr.Category == goerrors.CategoryValidation && len(richErr.Metadata) > 0 {
		body.Fields = richErr.Metadata
	}
	return c.JSON(status, ErrorResponse{Error: body})
}

func statusFor(richErr *goerrors.Error) int {
	switch richErr.Category {
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
