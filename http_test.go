package auth_test

import (
	"context"
	"mime/multipart"
	"net/http"
	"testing"
	"time"

	auth "github.com/anushkaps/tradehub-sub000"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// fakeRouterContext is a recording router.Context for middleware tests.
// Cookies behave like a browser jar: past expirations delete.
type fakeRouterContext struct {
	ctx          context.Context
	cookies      map[string]string
	locals       map[any]any
	redirectedTo string
	redirectCode int
	method       string
	originalURL  string
}

func newFakeRouterContext() *fakeRouterContext {
	return &fakeRouterContext{
		ctx:         context.Background(),
		cookies:     map[string]string{},
		locals:      map[any]any{},
		method:      "GET",
		originalURL: "/dashboard",
	}
}

var _ router.Context = (*fakeRouterContext)(nil)

func (f *fakeRouterContext) Next() error                    { return nil }
func (f *fakeRouterContext) Context() context.Context       { return f.ctx }
func (f *fakeRouterContext) SetContext(ctx context.Context) { f.ctx = ctx }
func (f *fakeRouterContext) Path() string                   { return f.originalURL }
func (f *fakeRouterContext) Method() string                 { return f.method }
func (f *fakeRouterContext) Body() []byte                   { return nil }
func (f *fakeRouterContext) Status(code int) router.Context { return f }
func (f *fakeRouterContext) SendString(s string) error      { return nil }
func (f *fakeRouterContext) Send(b []byte) error            { return nil }
func (f *fakeRouterContext) JSON(code int, val any) error   { return nil }
func (f *fakeRouterContext) NoContent(code int) error       { return nil }

func (f *fakeRouterContext) Render(name string, bind any, layout ...string) error { return nil }

func (f *fakeRouterContext) Redirect(path string, status ...int) error {
	f.redirectedTo = path
	if len(status) > 0 {
		f.redirectCode = status[0]
	}
	return nil
}

func (f *fakeRouterContext) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	return nil
}

func (f *fakeRouterContext) RedirectBack(fallback string, status ...int) error { return nil }
func (f *fakeRouterContext) SetHeader(key, val string) router.Context          { return f }
func (f *fakeRouterContext) Header(key string) string                          { return "" }
func (f *fakeRouterContext) Get(key string, defaultValue any) any              { return defaultValue }
func (f *fakeRouterContext) GetBool(key string, defaultValue bool) bool        { return defaultValue }
func (f *fakeRouterContext) GetInt(key string, def int) int                    { return def }
func (f *fakeRouterContext) Set(key string, val any)                           {}
func (f *fakeRouterContext) Bind(i any) error                                  { return nil }
func (f *fakeRouterContext) BindJSON(i any) error                              { return nil }
func (f *fakeRouterContext) BindXML(i any) error                               { return nil }
func (f *fakeRouterContext) BindQuery(i any) error                             { return nil }
func (f *fakeRouterContext) CookieParser(i any) error                          { return nil }

func (f *fakeRouterContext) Cookie(cookie *router.Cookie) {
	if cookie.Expires.After(time.Now()) {
		f.cookies[cookie.Name] = cookie.Value
	} else {
		delete(f.cookies, cookie.Name)
	}
}

func (f *fakeRouterContext) Cookies(key string, defaultValue ...string) string {
	if v, ok := f.cookies[key]; ok {
		return v
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeRouterContext) Param(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeRouterContext) ParamsInt(key string, defaultValue int) int { return defaultValue }

func (f *fakeRouterContext) Query(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeRouterContext) QueryInt(key string, defaultValue int) int        { return defaultValue }
func (f *fakeRouterContext) Queries() map[string]string                       { return nil }
func (f *fakeRouterContext) GetString(key string, defaultValue string) string { return defaultValue }

func (f *fakeRouterContext) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return nil
	}
	return f.locals[key]
}

func (f *fakeRouterContext) OriginalURL() string          { return f.originalURL }
func (f *fakeRouterContext) OnNext(callback func() error) {}
func (f *fakeRouterContext) Referer() string              { return "" }

func (f *fakeRouterContext) FormFile(key string) (*multipart.FileHeader, error) { return nil, nil }

func (f *fakeRouterContext) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeRouterContext) IP() string { return "" }

func (f *fakeRouterContext) LocalsMerge(key any, value map[string]any) map[string]any {
	return value
}

func (f *fakeRouterContext) SendStatus(code int) error      { return nil }
func (f *fakeRouterContext) RouteName() string              { return "" }
func (f *fakeRouterContext) RouteParams() map[string]string { return nil }

func setupRouteAuth(t *testing.T) (*auth.RouteAuthenticator, *auth.Issuer, *bun.DB, func()) {
	t.Helper()

	repo, db, cleanup := setupRepo(t)
	issuer := auth.NewIssuer(repo, auth.NewLocalCredentials(db), testConfig())

	routeAuth, err := auth.NewHTTPAuthenticator(issuer, testConfig())
	require.NoError(t, err)

	return routeAuth, issuer, db, cleanup
}

func sessionActivityAt(t *testing.T, db *bun.DB, id uuid.UUID) time.Time {
	t.Helper()
	record := new(auth.SessionRecord)
	err := db.NewSelect().Model(record).Where("id = ?", id).Scan(context.Background())
	require.NoError(t, err)
	require.NotNil(t, record.LastActivityAt)
	return *record.LastActivityAt
}

func TestProtectedRouteTouchesSessionActivity(t *testing.T) {
	routeAuth, issuer, db, cleanup := setupRouteAuth(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	result, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "laptop")
	require.NoError(t, err)

	sid, err := uuid.Parse(result.Session.SessionID)
	require.NoError(t, err)
	before := sessionActivityAt(t, db, sid)

	time.Sleep(20 * time.Millisecond)

	rc := newFakeRouterContext()
	rc.cookies[testConfig().GetContextKey()] = result.Token

	handled := false
	handler := routeAuth.ProtectedRoute(auth.AccessPolicy{RequiredRole: auth.RoleHomeowner})(
		func(c router.Context) error {
			handled = true
			return nil
		})

	require.NoError(t, handler(rc))
	assert.True(t, handled)
	assert.NotNil(t, rc.locals[testConfig().GetContextKey()])

	// Serving the route counts as activity: the idle window restarts.
	after := sessionActivityAt(t, db, sid)
	assert.True(t, after.After(before))
}

func TestProtectedRouteRedirectsUnauthenticated(t *testing.T) {
	routeAuth, _, _, cleanup := setupRouteAuth(t)
	defer cleanup()

	rc := newFakeRouterContext()

	handler := routeAuth.ProtectedRoute(auth.AccessPolicy{RequiredRole: auth.RoleProfessional})(
		func(c router.Context) error {
			t.Fatal("handler must not run without a session")
			return nil
		})

	require.NoError(t, handler(rc))
	assert.Equal(t, auth.RoleProfessional.LoginPath(), rc.redirectedTo)
	assert.Equal(t, http.StatusFound, rc.redirectCode)

	// The rejected path is remembered for the post-login return.
	assert.Equal(t, "/dashboard", rc.cookies[testConfig().GetRejectedRouteKey()])
}

func TestProtectedRouteForbiddenRedirectsToDashboard(t *testing.T) {
	routeAuth, issuer, _, cleanup := setupRouteAuth(t)
	defer cleanup()

	ctx := context.Background()
	signUp(t, issuer, "pat@example.com", auth.RoleHomeowner)

	result, err := issuer.SignIn(ctx, "pat@example.com", testPassword, auth.RoleHomeowner, "")
	require.NoError(t, err)

	rc := newFakeRouterContext()
	rc.cookies[testConfig().GetContextKey()] = result.Token

	handler := routeAuth.ProtectedRoute(auth.AccessPolicy{RequiredRole: auth.RoleProfessional})(
		func(c router.Context) error {
			t.Fatal("handler must not run for the wrong role")
			return nil
		})

	require.NoError(t, handler(rc))
	assert.Equal(t, auth.RoleHomeowner.DashboardPath(), rc.redirectedTo)
}
