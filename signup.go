package auth

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	goerrors "github.com/goliatone/go-errors"
)

// MinPasswordLength is the shortest password accepted at signup.
const MinPasswordLength = 6

// SignupRequest is what a person fills in to create an account.
type SignupRequest struct {
	Name     string `json:"name" form:"name"`
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
	Phone    string `json:"phone,omitempty" form:"phone"`
	Role     string `json:"role" form:"role"`
}

// Validate checks the request shape. Password strength is reported
// separately as ErrWeakPassword so users get the same message the backend
// would give.
func (r SignupRequest) Validate() error {
	r.Email = strings.TrimSpace(r.Email)
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.Phone, validation.Length(0, 32)),
		validation.Field(&r.Role, validation.By(validateSignupRole)),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid signup request").
			WithTextCode(TextCodeInvalidSignup).
			WithCode(goerrors.CodeBadRequest)
	}

	if len(r.Password) < MinPasswordLength {
		return NewError(ErrWeakPassword, nil, map[string]any{"min_length": MinPasswordLength})
	}
	return nil
}

// SignupRole returns the requested role, defaulting to user.
func (r SignupRequest) SignupRole() Role {
	role, ok := ParseRole(r.Role)
	if !ok {
		return RoleUser
	}
	return role
}

// Metadata returns the signup metadata stored on the auth user.
func (r SignupRequest) Metadata() map[string]any {
	md := map[string]any{
		MetadataFullName: strings.TrimSpace(r.Name),
		MetadataRole:     r.SignupRole().String(),
	}
	if phone := strings.TrimSpace(r.Phone); phone != "" {
		md[MetadataPhone] = phone
	}
	return md
}

func validateSignupRole(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return nil
	}
	role, ok := ParseRole(s)
	if !ok {
		return validation.NewError("validation_role_unknown", "must be one of user, owner, community or broker")
	}
	if role == RoleAdmin {
		return validation.NewError("validation_role_forbidden", "cannot sign up as admin")
	}
	return nil
}

// ManualProfileWriter performs the compensating profile write after signup.
type ManualProfileWriter interface {
	CreateProfileManually(ctx context.Context, subjectID, name, phone string, role Role) error
}

// SignupOutcome reports what a signup produced.
type SignupOutcome struct {
	Result *SignUpResult
	// Compensated is true when the profile had to be written manually.
	Compensated bool
}

// Signup validates req, creates the account and, when the backend reports a
// generic failure after creating the auth user, writes the profile once
// manually. A failed compensation returns ErrProfileIncomplete. Any other
// failure is translated with TranslateAuthError.
func Signup(ctx context.Context, signer SignUpper, profiles ManualProfileWriter, req SignupRequest, logger Logger) (SignupOutcome, error) {
	if logger == nil {
		logger = NopLogger()
	}

	if err := req.Validate(); err != nil {
		return SignupOutcome{}, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	result, err := signer.SignUp(ctx, email, req.Password, req.Metadata())
	if err == nil {
		return SignupOutcome{Result: result}, nil
	}

	translated := TranslateAuthError(err)
	if translated.TextCode != TextCodeAuthBackend || result == nil || result.User.ID == "" {
		logger.Warn("signup failed", "email", email, "error", err)
		return SignupOutcome{Result: result}, translated
	}

	subject := result.User.ID
	logger.Warn("signup created user but profile write failed, compensating",
		"subject", subject,
		"error", err,
	)

	if cerr := profiles.CreateProfileManually(ctx, subject, req.Name, req.Phone, req.SignupRole()); cerr != nil {
		logger.Error("signup compensation failed", "subject", subject, "error", cerr)
		return SignupOutcome{Result: result}, NewError(ErrProfileIncomplete, cerr, map[string]any{
			"subject": subject,
		})
	}

	return SignupOutcome{Result: result, Compensated: true}, nil
}
