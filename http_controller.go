package auth

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/google/uuid"
)

type Middleware interface {
	ProtectedRoute(policy AccessPolicy) router.MiddlewareFunc
}

// RegisterAuthRoutes mounts the role-scoped entry points plus the shared
// password-reset flow. Login, signup, and OTP login live under the role
// segment so each request carries the role the user claims to be.
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {
	controller := NewAuthController(opts...)

	app.Get(fmt.Sprintf("/:role%s", controller.Routes.Login), controller.LoginShow).
		SetName("sign-in.get")
	app.Post(fmt.Sprintf("/:role%s", controller.Routes.Login), controller.LoginPost).
		SetName("sign-in.post")

	app.Get(fmt.Sprintf("/:role%s", controller.Routes.Signup), controller.SignupShow).
		SetName("sign-up.get")
	app.Post(fmt.Sprintf("/:role%s", controller.Routes.Signup), controller.SignupPost).
		SetName("sign-up.post")

	app.Get(fmt.Sprintf("/:role%s", controller.Routes.OTPLogin), controller.MagicLinkShow).
		SetName("otp-login.get")
	app.Post(fmt.Sprintf("/:role%s", controller.Routes.OTPLogin), controller.MagicLinkPost).
		SetName("otp-login.post")
	app.Get(fmt.Sprintf("%s/:uuid", controller.Routes.MagicLink), controller.MagicLinkRedeem).
		SetName("otp-redeem.get")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetShow).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Get(fmt.Sprintf("%s/:uuid", controller.Routes.PasswordUpdate), controller.PasswordUpdateShow).
		SetName("pwd-update.get")
	app.Post(fmt.Sprintf("%s/:uuid", controller.Routes.PasswordUpdate), controller.PasswordUpdatePost).
		SetName("pwd-update.post")
}

type AuthControllerRoutes struct {
	Login          string
	Logout         string
	Signup         string
	OTPLogin       string
	MagicLink      string
	PasswordReset  string
	PasswordUpdate string
}

type AuthControllerViews struct {
	Login          string
	Signup         string
	OTPLogin       string
	PasswordReset  string
	PasswordUpdate string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	Auther       *RouteAuthenticator
	Issuer       *Issuer
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func WithControllerIssuer(issuer *Issuer) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Issuer = issuer
		return c
	}
}

func WithControllerAuther(auther *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Repo = repo
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = logger
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Login:          "/login",
			Logout:         "/logout",
			Signup:         "/signup",
			OTPLogin:       "/login-otp",
			MagicLink:      "/auth/magic-link",
			PasswordReset:  "/auth/reset-password",
			PasswordUpdate: "/auth/update-password",
		},
		Views: &AuthControllerViews{
			Login:          "login",
			Signup:         "signup",
			OTPLogin:       "login_otp",
			PasswordReset:  "password_reset",
			PasswordUpdate: "password_update",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Issuer == nil {
		panic("Missing Issuer in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

// entryRole resolves the :role URL segment. An unknown segment renders a
// not-found, not a default role.
func (a *AuthController) entryRole(ctx router.Context) (UserRole, bool) {
	return ParseRole(ctx.Param("role", ""))
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	role, ok := a.entryRole(ctx)
	if !ok {
		return ctx.Status(fiber.StatusNotFound).Render("errors/404", router.ViewContext{})
	}

	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": nil,
		"record": nil,
		"role":   string(role),
	})
}

// SignInPayload binds the login form. The role comes from the URL, not the
// form body.
type SignInPayload struct {
	Identifier   string `form:"identifier" json:"identifier"`
	Password     string `form:"password" json:"password"`
	DeviceMarker string `form:"device_marker" json:"device_marker"`

	role UserRole
}

func (r SignInPayload) GetIdentifier() string   { return r.Identifier }
func (r SignInPayload) GetPassword() string     { return r.Password }
func (r SignInPayload) GetRole() UserRole       { return r.role }
func (r SignInPayload) GetDeviceMarker() string { return r.DeviceMarker }

// Validate will run validation rules
func (r SignInPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	role, ok := a.entryRole(ctx)
	if !ok {
		return ctx.Status(fiber.StatusNotFound).Render("errors/404", router.ViewContext{})
	}

	payload := new(SignInPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.ErrorHandler(ctx, err)
	}
	payload.role = role

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     payload,
			"role":       string(role),
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println(print.MaybePrettyJSON(payload))
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		return a.renderLoginError(ctx, role, payload, err)
	}

	redirect := a.Auther.GetRedirect(ctx, role.DashboardPath())
	return ctx.Redirect(redirect, router.StatusSeeOther)
}

// renderLoginError maps the credential issuer's failures to what the form
// shows. A role mismatch redirects to the account's real entry point; every
// credential failure collapses into one message so the form never confirms
// which part was wrong.
func (a *AuthController) renderLoginError(ctx router.Context, role UserRole, payload *SignInPayload, err error) error {
	if IsRoleMismatch(err) {
		return a.redirectToActualRole(ctx, err)
	}

	errs := map[string]string{
		"authentication": "Invalid email or password",
	}
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": errs,
		"record": payload,
		"role":   string(role),
	})
}

// redirectToActualRole sends a mismatched entry to the role the account
// really holds, naming that role in the flash message.
func (a *AuthController) redirectToActualRole(ctx router.Context, err error) error {
	actual, _ := MismatchedRole(err)
	target, ok := RedirectTarget(err)
	if !ok {
		target = "/"
	}
	return flash.WithError(ctx, router.ViewContext{
		"system_message": fmt.Sprintf("This account is registered as a %s. Sign in there instead.", actual),
	}).Redirect(target, fiber.StatusSeeOther)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.Redirect("/", router.StatusTemporaryRedirect)
}

func (a *AuthController) SignupShow(ctx router.Context) error {
	role, ok := a.entryRole(ctx)
	if !ok {
		return ctx.Status(fiber.StatusNotFound).Render("errors/404", router.ViewContext{})
	}

	return ctx.Render(a.Views.Signup, router.ViewContext{
		"errors": map[string]string{},
		"record": SignUpRequest{Role: string(role)},
		"role":   string(role),
	})
}

func (a *AuthController) SignupPost(ctx router.Context) error {
	role, ok := a.entryRole(ctx)
	if !ok {
		return ctx.Status(fiber.StatusNotFound).Render("errors/404", router.ViewContext{})
	}

	payload := new(SignUpRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("signup parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Signup, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
			"role":   string(role),
		})
	}
	payload.Role = string(role)

	if err := payload.Validate(); err != nil {
		a.Logger.Error("signup validate payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Signup, router.ViewContext{
			"record":     payload,
			"role":       string(role),
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if _, err := a.Issuer.SignUp(ctx.Context(), *payload); err != nil {
		if IsConflict(err) {
			existing, _ := ConflictingRole(err)
			target, ok := RedirectTarget(err)
			if !ok {
				target = "/"
			}
			return flash.WithError(ctx, router.ViewContext{
				"system_message": fmt.Sprintf("An account with this email already exists as a %s.", existing),
			}).Redirect(target, fiber.StatusSeeOther)
		}

		a.Logger.Error("signup error: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Could not create account",
		}).Render(a.Views.Signup, router.ViewContext{
			"record": payload,
			"role":   string(role),
			"errors": []string{err.Error()},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Account created, check your email to confirm",
	}).Redirect(role.LoginPath(), fiber.StatusSeeOther)
}

func (a *AuthController) MagicLinkShow(ctx router.Context) error {
	role, ok := a.entryRole(ctx)
	if !ok {
		return ctx.Status(fiber.StatusNotFound).Render("errors/404", router.ViewContext{})
	}

	return ctx.Render(a.Views.OTPLogin, router.ViewContext{
		"errors": nil,
		"role":   string(role),
	})
}

// MagicLinkRequestPayload binds the OTP login form.
type MagicLinkRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r MagicLinkRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) MagicLinkPost(ctx router.Context) error {
	role, ok := a.entryRole(ctx)
	if !ok {
		return ctx.Status(fiber.StatusNotFound).Render("errors/404", router.ViewContext{})
	}

	payload := new(MagicLinkRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.OTPLogin, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"role":   string(role),
		})
	}

	if err := payload.Validate(); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.OTPLogin, router.ViewContext{
			"record":     payload,
			"role":       string(role),
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if err := a.Issuer.RequestMagicLink(ctx.Context(), payload.Email, role); err != nil {
		if IsRoleMismatch(err) {
			return a.redirectToActualRole(ctx, err)
		}

		a.Logger.Error("magic link request error: %v", err)
	}

	// Same response whether or not the account exists.
	return ctx.Render(a.Views.OTPLogin, router.ViewContext{
		"role": string(role),
		"sent": true,
	})
}

func (a *AuthController) MagicLinkRedeem(ctx router.Context) error {
	tokenID, err := uuid.Parse(ctx.Param("uuid", ""))
	if err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "That sign-in link is not valid",
		}).Redirect("/", fiber.StatusSeeOther)
	}

	result, err := a.Issuer.RedeemMagicLink(ctx.Context(), tokenID, "magic-link")
	if err != nil {
		if IsRoleMismatch(err) {
			return a.redirectToActualRole(ctx, err)
		}

		return flash.WithError(ctx, router.ViewContext{
			"system_message": "That sign-in link expired or was already used",
		}).Redirect("/", fiber.StatusSeeOther)
	}

	a.Auther.setCookieToken(ctx, result.Token, a.Auther.GetCookieDuration())

	return ctx.Redirect(result.Identity.Role.DashboardPath(), router.StatusSeeOther)
}

func (a *AuthController) PasswordResetShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"errors": nil,
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset parse payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password reset validate payload: %v", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.PasswordReset, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	// Never errors on a missing account, so the form cannot be used to
	// probe which emails are registered.
	if err := a.Issuer.RequestPasswordReset(ctx.Context(), payload.Email); err != nil {
		a.Logger.Error("password reset request error: %v", err)
	}

	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"sent": true,
	})
}

func (a *AuthController) PasswordUpdateShow(ctx router.Context) error {
	tokenID := ctx.Param("uuid", "")

	return ctx.Render(a.Views.PasswordUpdate, router.ViewContext{
		"errors": nil,
		"token":  tokenID,
	})
}

// PasswordUpdatePayload holds values for finalizing a password reset
type PasswordUpdatePayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Password,
			validation.Required,
			validation.By(passwordStrength),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) PasswordUpdatePost(ctx router.Context) error {
	tokenID, err := uuid.Parse(ctx.Param("uuid", ""))
	if err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "That reset link is not valid",
		}).Redirect(a.Routes.PasswordReset, fiber.StatusSeeOther)
	}

	payload := new(PasswordUpdatePayload)

	if err := ctx.Bind(payload); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordUpdate, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"token":  tokenID.String(),
		})
	}

	if err := payload.Validate(); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.PasswordUpdate, router.ViewContext{
			"validation": FormatValidationErrorToMap(err),
			"token":      tokenID.String(),
		})
	}

	if err := a.Issuer.FinalizePasswordReset(ctx.Context(), tokenID, payload.Password); err != nil {
		if IsExpiredToken(err) {
			return flash.WithError(ctx, router.ViewContext{
				"system_message": "That reset link expired or was already used",
			}).Redirect(a.Routes.PasswordReset, fiber.StatusSeeOther)
		}

		a.Logger.Error("password update error: %v", err)
		return ctx.Render(a.Views.PasswordUpdate, router.ViewContext{
			"errors": map[string]string{"validation": err.Error()},
			"token":  tokenID.String(),
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Password updated, sign in with your new password",
	}).Redirect("/", fiber.StatusSeeOther)
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
