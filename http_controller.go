package auth

import (
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RegisterAuthRoutes mounts the JSON routes of the controller on app.
func RegisterAuthRoutes[T any](app router.Router[T], controller *HTTPController) {
	guard := controller.Auth
	protected := guard.ProtectedRoute()
	optional := guard.OptionalRoute()
	admins := guard.RequireRole(RoleAdmin)

	app.Post(controller.Routes.Login, controller.LoginPost).SetName("auth.login")
	app.Post(controller.Routes.Signup, controller.SignupPost).SetName("auth.signup")
	app.Post(controller.Routes.Refresh, controller.RefreshPost).SetName("auth.refresh")
	app.Post(controller.Routes.Logout, controller.LogoutPost, optional).SetName("auth.logout")

	app.Get(controller.Routes.Me, controller.MeShow, protected).SetName("me.get")
	app.Get(controller.Routes.Dashboard, controller.DashboardShow, optional).SetName("dashboard.get")

	app.Get(controller.Routes.Property, controller.PropertyShow, protected).SetName("property.get")
	app.Get(controller.Routes.OwnerPending, controller.PendingIndex, protected).SetName("owner.pending")
	app.Get(controller.Routes.AdminQueue, controller.PendingIndex, protected, admins).SetName("admin.queue")
	app.Post(controller.Routes.Verification, controller.VerificationPost, protected, admins).
		SetName("admin.verification")
}

type HTTPControllerRoutes struct {
	Login        string
	Signup       string
	Refresh      string
	Logout       string
	Me           string
	Dashboard    string
	Property     string
	OwnerPending string
	AdminQueue   string
	Verification string
}

// HTTPController serves the identity and verification JSON API.
type HTTPController struct {
	Debug        bool
	Logger       Logger
	Routes       *HTTPControllerRoutes
	Sessions     AuthBackend
	Profiles     IdentityResolver
	Verification *VerificationService
	Auth         *RouteAuthenticator
	ErrorHandler router.ErrorHandler
	// PageSize caps the pending lists.
	PageSize int
}

type HTTPControllerOption func(*HTTPController) *HTTPController

func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithControllerDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Debug = debug
		return c
	}
}

func NewHTTPController(sessions AuthBackend, profiles IdentityResolver, verification *VerificationService, guard *RouteAuthenticator, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:       defaultLogger("auth.controller"),
		Sessions:     sessions,
		Profiles:     profiles,
		Verification: verification,
		Auth:         guard,
		PageSize:     50,
		Routes: &HTTPControllerRoutes{
			Login:        "/auth/login",
			Signup:       "/auth/signup",
			Refresh:      "/auth/refresh",
			Logout:       "/auth/logout",
			Me:           "/me",
			Dashboard:    "/dashboard",
			Property:     "/properties/:id",
			OwnerPending: "/owner/properties/pending",
			AdminQueue:   "/admin/verification",
			Verification: "/admin/properties/:id/verification",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing AuthBackend in http controller...")
	}
	if c.Profiles == nil {
		panic("Missing IdentityResolver in http controller...")
	}
	if c.Verification == nil {
		panic("Missing VerificationService in http controller...")
	}
	if c.Auth == nil {
		panic("Missing RouteAuthenticator in http controller...")
	}
	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Auth.ErrorHandler
	}
	return c
}

// LoginRequest payload
type LoginRequest struct {
	Email      string `form:"email" json:"email"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// Validate will run validation rules. Surrounding whitespace in the email
// is not an error, the handler trims it before signing in.
func (r LoginRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
	)
}

// RefreshRequest payload
type RefreshRequest struct {
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

func (r RefreshRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RefreshToken, validation.Required),
	)
}

// VerificationRequest is the admin decision payload.
type VerificationRequest struct {
	Decision string `form:"decision" json:"decision"`
	Reason   string `form:"reason" json:"reason,omitempty"`
}

func (r VerificationRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Decision, validation.Required,
			validation.In(string(DecisionApprove), string(DecisionReject))),
		validation.Field(&r.Reason, validation.Length(0, 500)),
	)
}

// SessionResponse is returned by login, signup and refresh.
type SessionResponse struct {
	Session *Session `json:"session,omitempty"`
	User    any      `json:"user"`
	View    *View    `json:"view,omitempty"`
}

// SignupResponse reports the created account.
type SignupResponse struct {
	User                 SessionUser `json:"user"`
	Session              *Session    `json:"session,omitempty"`
	ConfirmationRequired bool        `json:"confirmation_required"`
	ProfileCompensated   bool        `json:"profile_compensated,omitempty"`
}

// MeResponse is the resolved identity of the caller.
type MeResponse struct {
	Identity    *Identity `json:"identity"`
	Provisional bool      `json:"provisional"`
	View        View      `json:"view"`
}

func (a *HTTPController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, invalidPayload(err, "invalid login request"))
	}

	email := strings.ToLower(strings.TrimSpace(payload.Email))
	session, err := a.Sessions.SignInWithPassword(ctx.Context(), email, payload.Password)
	if err != nil {
		return a.ErrorHandler(ctx, TranslateAuthError(err))
	}

	if a.Debug {
		a.Logger.Debug("login succeeded", "session", print.MaybePrettyJSON(session.User))
	}

	a.Auth.SetSessionCookie(ctx, session)
	return ctx.JSON(router.StatusOK, SessionResponse{
		Session: session,
		User:    session.User,
	})
}

func (a *HTTPController) SignupPost(ctx router.Context) error {
	payload := new(SignupRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	outcome, err := Signup(ctx.Context(), a.Sessions, a.Profiles, *payload, a.Logger)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	res := SignupResponse{
		User:                 outcome.Result.User,
		Session:              outcome.Result.Session,
		ConfirmationRequired: !outcome.Result.User.EmailConfirmed(),
		ProfileCompensated:   outcome.Compensated,
	}
	a.Auth.SetSessionCookie(ctx, outcome.Result.Session)
	return ctx.JSON(http.StatusCreated, res)
}

func (a *HTTPController) RefreshPost(ctx router.Context) error {
	payload := new(RefreshRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, invalidPayload(err, "invalid refresh request"))
	}

	session, err := a.Sessions.Refresh(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	a.Auth.SetSessionCookie(ctx, session)
	return ctx.JSON(router.StatusOK, SessionResponse{
		Session: session,
		User:    session.User,
	})
}

// LogoutPost revokes the caller's tokens. Logging out without a session
// succeeds and does nothing.
func (a *HTTPController) LogoutPost(ctx router.Context) error {
	claims, ok := GetRouterClaims(ctx, a.Auth.cfg.GetContextKey())
	if !ok {
		return ctx.NoContent(http.StatusNoContent)
	}

	payload := new(RefreshRequest)
	if err := ctx.Bind(payload); err != nil {
		a.Logger.Debug("logout without refresh token", "error", err)
	}

	session := SessionFromClaims(a.Auth.RawToken(ctx), claims)
	session.RefreshToken = payload.RefreshToken

	if err := a.Sessions.SignOut(ctx.Context(), session); err != nil {
		a.Logger.Error("sign out failed", "subject", session.User.ID, "error", err)
		return a.ErrorHandler(ctx, TranslateAuthError(err))
	}

	a.Auth.ClearSessionCookie(ctx)
	return ctx.NoContent(http.StatusNoContent)
}

func (a *HTTPController) MeShow(ctx router.Context) error {
	identity := a.Auth.Identity(ctx)
	if identity == nil {
		return a.ErrorHandler(ctx, NewError(ErrSessionRequired, nil))
	}

	return ctx.JSON(router.StatusOK, MeResponse{
		Identity:    identity,
		Provisional: identity.Provisional(),
		View:        SelectView(identity),
	})
}

// DashboardShow returns the view for the caller, public when anonymous.
func (a *HTTPController) DashboardShow(ctx router.Context) error {
	return ctx.JSON(router.StatusOK, SelectView(a.Auth.Identity(ctx)))
}

func (a *HTTPController) PropertyShow(ctx router.Context) error {
	property, err := a.Verification.Get(ctx.Context(), ctx.Param("id"))
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"property": property,
		"state":    StateOf(property),
	})
}

// PendingIndex lists the review queue for admins and the caller's own
// unverified listings for everybody else allowed to list properties.
func (a *HTTPController) PendingIndex(ctx router.Context) error {
	identity := a.Auth.Identity(ctx)
	properties, err := a.Verification.PendingFor(ctx.Context(), identity.Actor(), a.PageSize)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	if properties == nil {
		properties = []*Property{}
	}
	return ctx.JSON(router.StatusOK, router.ViewContext{
		"properties": properties,
		"count":      len(properties),
	})
}

func (a *HTTPController) VerificationPost(ctx router.Context) error {
	payload := new(VerificationRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, badPayload(err))
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, NewError(ErrInvalidDecision, err, map[string]any{
			"decision": payload.Decision,
		}))
	}

	decision, _ := ParseDecision(payload.Decision)
	identity := a.Auth.Identity(ctx)
	propertyID := ctx.Param("id")

	var opts []TransitionOption
	if reason := strings.TrimSpace(payload.Reason); reason != "" {
		opts = append(opts, WithTransitionReason(reason))
	}

	property, err := a.Verification.Decide(ctx.Context(), propertyID, decision, identity.Actor(), opts...)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, router.ViewContext{
		"property": property,
		"state":    StateOf(property),
	})
}

func badPayload(err error) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, "unable to parse request body").
		WithCode(goerrors.CodeBadRequest)
}

func invalidPayload(err error, msg string) error {
	return goerrors.FromOzzoValidation(err, msg).WithCode(goerrors.CodeBadRequest)
}
