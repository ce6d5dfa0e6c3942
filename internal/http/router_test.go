package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanglm2207/my-microservices-app/internal/adapter/broker"
	"github.com/Sanglm2207/my-microservices-app/internal/adapter/cache"
	"github.com/Sanglm2207/my-microservices-app/internal/config"
	"github.com/Sanglm2207/my-microservices-app/internal/domain"
	"github.com/Sanglm2207/my-microservices-app/internal/events"
	apphttp "github.com/Sanglm2207/my-microservices-app/internal/http"
	"github.com/Sanglm2207/my-microservices-app/internal/http/handler"
	httpmiddleware "github.com/Sanglm2207/my-microservices-app/internal/http/middleware"
	"github.com/Sanglm2207/my-microservices-app/internal/jwt"
	"github.com/Sanglm2207/my-microservices-app/internal/notification"
	"github.com/Sanglm2207/my-microservices-app/internal/password"
	"github.com/Sanglm2207/my-microservices-app/internal/repository/memory"
	"github.com/Sanglm2207/my-microservices-app/internal/secretbox"
	"github.com/Sanglm2207/my-microservices-app/internal/service"
	"github.com/Sanglm2207/my-microservices-app/internal/service/saga"
	"github.com/Sanglm2207/my-microservices-app/internal/service/token"
	"github.com/Sanglm2207/my-microservices-app/internal/service/twofactor"
	"github.com/Sanglm2207/my-microservices-app/internal/totp"
)

const refreshPath = "/api/v1/auth/refresh"

type outbox struct {
	mu   sync.Mutex
	sent []notification.Mail
}

func (o *outbox) Send(_ context.Context, m notification.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.sent)
	body := o.sent[len(o.sent)-1].Body
	u, err := url.Parse(body[strings.Index(body, "http"):])
	require.NoError(t, err)
	return u.Query().Get("token")
}

type testAPI struct {
	router *gin.Engine
	users  *memory.Store
	tokens *token.Manager
	hasher *password.Hasher
	mail   *outbox
}

func newAPI(t *testing.T) testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStore(client)

	bus := broker.NewMemoryBus()
	require.NoError(t, bus.Declare(ctx, events.Merge(events.AuthTopology(), events.NotificationTopology())))
	users := memory.NewStore()

	coord := saga.NewCoordinator(users, store, bus, saga.Options{Workers: 1, VerificationTTL: time.Hour}, zap.NewNop())
	require.NoError(t, coord.Start(ctx))
	t.Cleanup(func() { _ = coord.Stop() })
	mail := &outbox{}
	relay := notification.NewRelay(bus, mail, "http://localhost:3000", 1, zap.NewNop())
	require.NoError(t, relay.Start(ctx))
	t.Cleanup(func() { _ = relay.Stop() })

	accessRing, err := jwt.NewKeyring(jwt.Key{ID: "a1", Secret: []byte("access-secret-0123456789abcdefghij")})
	require.NoError(t, err)
	refreshRing, err := jwt.NewKeyring(jwt.Key{ID: "r1", Secret: []byte("refresh-secret-0123456789abcdefghi")})
	require.NoError(t, err)
	tokens := token.NewManager(users, store,
		jwt.NewSigner(accessRing, "auth-service", 15*time.Minute),
		jwt.NewSigner(refreshRing, "auth-service", 7*24*time.Hour),
		zap.NewNop())

	key, err := secretbox.ParseKey("k1", "0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	box, err := secretbox.New(key)
	require.NoError(t, err)
	tf := twofactor.NewService(users, store, tokens, box, totp.New("MyAwesomeApp"), 3*time.Minute, zap.NewNop())

	hasher, err := password.NewHasher(password.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 32, SaltLen: 16})
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{ServiceName: "auth-service", ResetTokenTTL: 15 * time.Minute}
	auth := service.NewAuthService(users, store, bus, coord, tokens, tf, hasher, node, cfg, zap.NewNop())
	h := handler.NewAuthHandler(auth, tf, handler.CookieConfig{RefreshPath: refreshPath})
	router := apphttp.NewRouter(cfg, h, &httpmiddleware.Auth{Tokens: tokens}, apphttp.Limiters{}, zap.NewNop())
	return testAPI{router: router, users: users, tokens: tokens, hasher: hasher, mail: mail}
}

func (a testAPI) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %s not set", name)
	return nil
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

// signup registers and verifies an account, returning its id.
func (a testAPI) signup(t *testing.T, email string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": email, "password": "s3cret-pass", "name": "Ann"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var body struct {
		User service.UserView `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	rec = a.do(t, http.MethodGet, "/api/v1/auth/verify-email?token="+a.mail.lastToken(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return body.User.ID
}

func (a testAPI) login(t *testing.T, email string) *httptest.ResponseRecorder {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": email, "password": "s3cret-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return rec
}

func TestRegisterValidationAndConflict(t *testing.T) {
	api := newAPI(t)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "not-an-email", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", errorCode(t, rec))

	api.signup(t, "ann@example.com")
	rec = api.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "ann@example.com", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email_taken", errorCode(t, rec))
}

func TestLoginSetsStrictCookies(t *testing.T) {
	api := newAPI(t)
	api.signup(t, "ann@example.com")

	rec := api.login(t, "ann@example.com")
	access := cookieNamed(t, rec, httpmiddleware.AccessCookie)
	refresh := cookieNamed(t, rec, httpmiddleware.RefreshCookie)

	assert.True(t, access.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, access.SameSite)
	assert.Equal(t, "/", access.Path)
	assert.True(t, refresh.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, refresh.SameSite)
	assert.Equal(t, refreshPath, refresh.Path)
	assert.NotContains(t, rec.Body.String(), refresh.Value)

	me := api.do(t, http.MethodGet, "/api/v1/auth/me", nil, access)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	assert.Contains(t, me.Body.String(), `"email":"ann@example.com"`)
	assert.NotContains(t, me.Body.String(), "password")
}

func TestLoginErrorsAreMapped(t *testing.T) {
	api := newAPI(t)
	api.signup(t, "ann@example.com")

	rec := api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ann@example.com", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_credentials", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/v1/auth/register", map[string]string{"email": "bob@example.com", "password": "s3cret-pass"})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "bob@example.com", "password": "s3cret-pass"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "email_not_verified", errorCode(t, rec))
}

func TestMeAcceptsBearerAndRejectsMissingToken(t *testing.T) {
	api := newAPI(t)
	api.signup(t, "ann@example.com")
	access := cookieNamed(t, api.login(t, "ann@example.com"), httpmiddleware.AccessCookie)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+access.Value)
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, &http.Cookie{Name: httpmiddleware.AccessCookie, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRotatesAndRejectsReuse(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()
	annID := api.signup(t, "ann@example.com")
	refresh := cookieNamed(t, api.login(t, "ann@example.com"), httpmiddleware.RefreshCookie)

	rec := api.do(t, http.MethodPost, refreshPath, nil, refresh)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rotated := cookieNamed(t, rec, httpmiddleware.RefreshCookie)
	assert.NotEqual(t, refresh.Value, rotated.Value)

	reused := api.do(t, http.MethodPost, refreshPath, nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, reused.Code)
	assert.Equal(t, "invalid_token", errorCode(t, reused))

	garbage := api.do(t, http.MethodPost, refreshPath, nil, &http.Cookie{Name: httpmiddleware.RefreshCookie, Value: "not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, garbage.Code)
	assert.JSONEq(t, garbage.Body.String(), reused.Body.String())

	_, err := api.tokens.RevokeAllSessions(ctx, annID)
	require.NoError(t, err)
	stale := api.do(t, http.MethodPost, refreshPath, nil, rotated)
	assert.Equal(t, http.StatusUnauthorized, stale.Code)
	assert.JSONEq(t, garbage.Body.String(), stale.Body.String())

	bobID := api.signup(t, "bob@example.com")
	bobRefresh := cookieNamed(t, api.login(t, "bob@example.com"), httpmiddleware.RefreshCookie)
	_, err = api.users.Delete(ctx, bobID)
	require.NoError(t, err)
	deleted := api.do(t, http.MethodPost, refreshPath, nil, bobRefresh)
	assert.Equal(t, http.StatusUnauthorized, deleted.Code)
	assert.JSONEq(t, garbage.Body.String(), deleted.Body.String())

	rec = api.do(t, http.MethodPost, refreshPath, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	api := newAPI(t)
	api.signup(t, "ann@example.com")
	refresh := cookieNamed(t, api.login(t, "ann@example.com"), httpmiddleware.RefreshCookie)

	rec := api.do(t, http.MethodPost, "/api/v1/auth/logout", map[string]string{"refreshToken": refresh.Value})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, -1, cookieNamed(t, rec, httpmiddleware.AccessCookie).MaxAge)

	rec = api.do(t, http.MethodPost, refreshPath, nil, refresh)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTwoFactorGateOnProtectedRoutes(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()
	_, err := api.users.Create(ctx, domain.User{
		ID: "9", Email: "tfa@example.com", Role: domain.RoleUser, Status: domain.StatusActive,
		IsVerified: true, TwoFactorEnabled: true,
	})
	require.NoError(t, err)
	user, err := api.users.GetByID(ctx, "9")
	require.NoError(t, err)

	partial, err := api.tokens.IssueTokens(ctx, user, false)
	require.NoError(t, err)
	rec := api.do(t, http.MethodGet, "/api/v1/auth/me", nil, &http.Cookie{Name: httpmiddleware.AccessCookie, Value: partial.AccessToken})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), `"twoFactorRequired":true`)

	full, err := api.tokens.IssueTokens(ctx, user, true)
	require.NoError(t, err)
	rec = api.do(t, http.MethodGet, "/api/v1/auth/me", nil, &http.Cookie{Name: httpmiddleware.AccessCookie, Value: full.AccessToken})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminRouteRequiresRole(t *testing.T) {
	api := newAPI(t)
	ctx := context.Background()
	targetID := api.signup(t, "ann@example.com")
	userAccess := cookieNamed(t, api.login(t, "ann@example.com"), httpmiddleware.AccessCookie)

	path := "/api/v1/auth/admin/users/" + targetID + "/sessions/revoke"
	rec := api.do(t, http.MethodPost, path, nil, userAccess)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := api.users.Create(ctx, domain.User{
		ID: "1", Email: "admin@example.com", Role: domain.RoleAdmin, Status: domain.StatusActive, IsVerified: true,
	})
	require.NoError(t, err)
	pair, err := api.tokens.IssueTokens(ctx, admin, false)
	require.NoError(t, err)
	rec = api.do(t, http.MethodPost, path, nil, &http.Cookie{Name: httpmiddleware.AccessCookie, Value: pair.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	target, err := api.users.GetByID(ctx, targetID)
	require.NoError(t, err)
	assert.Equal(t, 1, target.TokenVersion)
}

func TestPasswordResetEndpoints(t *testing.T) {
	api := newAPI(t)
	api.signup(t, "ann@example.com")

	rec := api.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	unknownBody := rec.Body.String()

	rec = api.do(t, http.MethodPost, "/api/v1/auth/forgot-password", map[string]string{"email": "ann@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, unknownBody, rec.Body.String())

	resetToken := api.mail.lastToken(t)
	rec = api.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": resetToken, "newPassword": "brand-new-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(t, http.MethodPost, "/api/v1/auth/reset-password", map[string]string{"token": resetToken, "newPassword": "brand-new-pass"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_reset_token", errorCode(t, rec))

	rec = api.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "ann@example.com", "password": "brand-new-pass"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	api := newAPI(t)
	rec := api.do(t, http.MethodGet, "/api/v1/auth/verify-email?token=nope", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_verification_token", errorCode(t, rec))
}

func TestInternalUserAndHealth(t *testing.T) {
	api := newAPI(t)
	id := api.signup(t, "ann@example.com")

	rec := api.do(t, http.MethodGet, "/internal/users/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"`+id+`"`)
	assert.NotContains(t, rec.Body.String(), "argon2")

	rec = api.do(t, http.MethodGet, "/internal/users/404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
