package auth

import (
	"net/http"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// RouteAuthenticator bridges the credential issuer and the authorization
// gate into cookie-based HTTP flows. Routes carry the role they admit, so
// the gate can bounce a professional token off a homeowner dashboard and
// point it home instead.
type RouteAuthenticator struct {
	issuer           *Issuer
	gate             *Gate
	cfg              Config
	cookieDuration   time.Duration
	Logger           Logger
	AuthErrorHandler func(c router.Context, err error) error
	ErrorHandler     func(c router.Context, err error) error
}

func NewHTTPAuthenticator(issuer *Issuer, cfg Config) (*RouteAuthenticator, error) {
	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	a := &RouteAuthenticator{
		cfg:            cfg,
		issuer:         issuer,
		gate:           NewGate(issuer),
		Logger:         defLogger{},
		cookieDuration: cookieDuration,
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a, nil
}

func (a RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// ProtectedRoute runs every request through the authorization gate before
// the handler sees it. Anything short of Authorized turns into the
// decision's redirect.
func (a *RouteAuthenticator) ProtectedRoute(policy AccessPolicy) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			rawToken := ctx.Cookies(a.cfg.GetContextKey())
			decision := a.gate.Authorize(ctx.Context(), rawToken, policy, ctx.OriginalURL())

			switch decision.State {
			case StateAuthorized:
				// Serving a protected route counts as activity; without
				// the touch, a user navigating continuously would still
				// idle out after the window.
				if sid, err := uuid.Parse(decision.Session.SessionID); err == nil {
					if err := a.issuer.RecordActivity(ctx.Context(), sid); err != nil {
						a.Logger.Warn("session activity update error: %s", err)
					}
				}
				ctx.Locals(a.cfg.GetContextKey(), decision.Session)
				return hf(ctx)
			case StateUnauthenticated:
				a.SetRedirect(ctx)
				return a.redirect(ctx, decision.RedirectTo)
			case StatePendingVerification, StateForbidden:
				if decision.Notice != "" {
					a.Logger.Info("access denied: %s path=%s", decision.Notice, ctx.OriginalURL())
				}
				return a.redirect(ctx, decision.RedirectTo)
			default:
				return a.ErrorHandler(ctx, errors.New(
					"unexpected authorization state",
					errors.CategoryInternal,
				).WithCode(errors.CodeInternal))
			}
		}
	}
}

func (a *RouteAuthenticator) Login(ctx router.Context, payload LoginPayload) error {
	result, err := a.issuer.SignIn(
		ctx.Context(),
		payload.GetIdentifier(),
		payload.GetPassword(),
		payload.GetRole(),
		normalizeDeviceMarker(payload.GetDeviceMarker()),
	)
	if err != nil {
		a.Logger.Error("Login error: %s", err)
		return err
	}

	a.setCookieToken(ctx, result.Token, a.cookieDuration)
	return nil
}

// Logout revokes the current session before clearing the cookie, so the
// token dies server side too.
func (a *RouteAuthenticator) Logout(ctx router.Context) {
	rawToken := ctx.Cookies(a.cfg.GetContextKey())
	if session, err := a.issuer.SessionFromToken(ctx.Context(), rawToken); err == nil {
		if sid, parseErr := uuid.Parse(session.SessionID); parseErr == nil {
			if err := a.issuer.SignOut(ctx.Context(), sid); err != nil {
				a.Logger.Warn("Logout revocation error: %s", err)
			}
		}
	}
	a.cookieDel(ctx, a.cfg.GetContextKey())
}

func (a *RouteAuthenticator) GetRedirect(ctx router.Context, def ...string) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	r := ctx.Cookies(rejectedRoute)
	if r == "" {
		return def[0]
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) GetRedirectOrDefault(ctx router.Context) string {
	rejectedRoute := a.cfg.GetRejectedRouteKey()
	refererHeader := string(ctx.Referer())

	r := ctx.Cookies(rejectedRoute, refererHeader)
	if r == "" {
		r = a.cfg.GetRejectedRouteDefault()
	}
	a.cookieDel(ctx, rejectedRoute)
	return r
}

func (a *RouteAuthenticator) SetRedirect(ctx router.Context) {
	rejectedRoute := a.cfg.GetRejectedRouteKey()

	a.Logger.Info("Setting redirect cookie", "key", rejectedRoute, "path", ctx.OriginalURL())

	ctx.Cookie(&router.Cookie{
		Name:     rejectedRoute,
		Value:    ctx.OriginalURL(),
		Expires:  time.Now().Add(time.Minute * 5),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *RouteAuthenticator) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
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

func (a *RouteAuthenticator) redirect(c router.Context, target string) error {
	if target == "" {
		target = a.cfg.GetRejectedRouteDefault()
	}
	statusCode := http.StatusSeeOther
	if c.Method() == string(router.GET) {
		statusCode = http.StatusFound
	}
	return c.Redirect(target, statusCode)
}

func (a *RouteAuthenticator) defaultAuthErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryAuth, "An unexpected authentication error").
			WithCode(errors.CodeUnauthorized)
	}

	a.Logger.Info(
		"Authentication error, redirecting to login",
		"error", richErr.Message,
		"text_code", richErr.TextCode,
		"path", c.OriginalURL(),
	)

	a.SetRedirect(c)

	target := "/"
	if redirect, ok := RedirectTarget(richErr); ok {
		target = redirect
	}

	return a.redirect(c, target)
}

func (a *RouteAuthenticator) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Middleware error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	switch richErr.Category {
	case errors.CategoryAuth, errors.CategoryAuthz:
		return a.AuthErrorHandler(c, richErr)
	default:
		return c.Status(richErr.Code).Render("errors/500", router.ViewContext{
			"error": richErr,
		})
	}
}

// normalizeDeviceMarker keeps the per-device label opaque and bounded. The
// marker only needs to tell "sign out this device" apart from "sign out
// everywhere".
func normalizeDeviceMarker(marker string) string {
	if marker == "" {
		return "unknown-device"
	}
	if len(marker) > 120 {
		marker = marker[:120]
	}
	return marker
}
