package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Skotchmaster/shop_auth/internal/hash"
	"github.com/Skotchmaster/shop_auth/internal/metrics"
	"github.com/Skotchmaster/shop_auth/internal/models"
	"github.com/Skotchmaster/shop_auth/internal/repo"
	"github.com/Skotchmaster/shop_auth/internal/service"
	"github.com/Skotchmaster/shop_auth/internal/tokens"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type sessionData struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	} `json:"user"`
}

func newTestServer(t *testing.T, ready func(context.Context) error) *echo.Echo {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, gdb.AutoMigrate(models.All()...))

	minter, err := tokens.NewMinter(tokens.Settings{
		Secret:   []byte("http-test-secret-0123456789abcdef0123"),
		Issuer:   "shop-auth",
		Audience: "shop-api",
	}, nil)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	svc, err := service.New(repo.New(gdb, 0), minter, hash.NewBcrypt(bcrypt.MinCost), service.WithMetrics(m))
	require.NoError(t, err)

	return New(&Deps{
		AuthHandler: &AuthHTTP{Svc: svc},
		Metrics:     m,
		Ready:       ready,
	})
}

func do(t *testing.T, e *echo.Echo, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out apiResponse
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

const aliceBody = `{"username":"alice","email":"alice@x.com","password":"Passw0rd!","confirmPassword":"Passw0rd!"}`

func register(t *testing.T, e *echo.Echo) sessionData {
	t.Helper()
	rec, res := do(t, e, http.MethodPost, "/api/auth/register", aliceBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.True(t, res.Success)
	var s sessionData
	require.NoError(t, json.Unmarshal(res.Data, &s))
	return s
}

func bearer(token string) map[string]string {
	return map[string]string{echo.HeaderAuthorization: "Bearer " + token}
}

func TestRegister(t *testing.T) {
	e := newTestServer(t, nil)

	rec, res := do(t, e, http.MethodPost, "/api/auth/register", aliceBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, res.Success)
	assert.Equal(t, "User registered successfully", res.Message)

	var s sessionData
	require.NoError(t, json.Unmarshal(res.Data, &s))
	assert.NotEmpty(t, s.AccessToken)
	assert.NotEmpty(t, s.RefreshToken)
	assert.Equal(t, "alice", s.User.Username)
	assert.Equal(t, "User", s.User.Role)

	var names []string
	for _, ck := range rec.Result().Cookies() {
		names = append(names, ck.Name)
		assert.True(t, ck.HttpOnly)
	}
	assert.ElementsMatch(t, []string{accessCookie, refreshCookie}, names)

	rec, res = do(t, e, http.MethodPost, "/api/auth/register",
		`{"username":"ALICE","email":"other@x.com","password":"Passw0rd!","confirmPassword":"Passw0rd!"}`, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, res.Success)

	rec, res = do(t, e, http.MethodPost, "/api/auth/register",
		`{"username":"bob","email":"bob@x.com","password":"password","confirmPassword":"password"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, res.Message, "password")

	rec, _ = do(t, e, http.MethodPost, "/api/auth/register", `{not json`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	e := newTestServer(t, nil)
	register(t, e)

	rec, res := do(t, e, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"Alice@X.com","password":"Passw0rd!"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Login successful", res.Message)

	recWrong, wrong := do(t, e, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"alice","password":"Nope0000!"}`, nil)
	recMissing, missing := do(t, e, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"nobody","password":"Passw0rd!"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, recWrong.Code)
	assert.Equal(t, http.StatusUnauthorized, recMissing.Code)
	assert.Equal(t, wrong.Message, missing.Message)
}

func TestRefresh(t *testing.T) {
	e := newTestServer(t, nil)
	s := register(t, e)

	body := fmt.Sprintf(`{"refreshToken":%q}`, s.RefreshToken)
	rec, res := do(t, e, http.MethodPost, "/api/auth/refresh-token", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var next sessionData
	require.NoError(t, json.Unmarshal(res.Data, &next))
	assert.NotEqual(t, s.RefreshToken, next.RefreshToken)

	rec, res = do(t, e, http.MethodPost, "/api/auth/refresh-token", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, res.Success)

	rec, _ = do(t, e, http.MethodPost, "/api/auth/refresh-token", `{"refreshToken":"bogus"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/auth/refresh-token", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefresh_FromCookie(t *testing.T) {
	e := newTestServer(t, nil)
	s := register(t, e)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/refresh-token", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: s.RefreshToken})
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMe(t *testing.T) {
	e := newTestServer(t, nil)
	s := register(t, e)

	rec, res := do(t, e, http.MethodGet, "/api/auth/me", "", bearer(s.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(res.Data), `"username":"alice"`)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: accessCookie, Value: s.AccessToken})
	cookieRec := httptest.NewRecorder()
	e.ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/auth/me", "", bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/api/auth/me", "", bearer(s.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRevokeToken(t *testing.T) {
	e := newTestServer(t, nil)
	s := register(t, e)
	body := fmt.Sprintf(`{"refreshToken":%q}`, s.RefreshToken)

	rec, _ := do(t, e, http.MethodPost, "/api/auth/revoke-token", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, res := do(t, e, http.MethodPost, "/api/auth/revoke-token", body, bearer(s.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Token revoked successfully", res.Message)

	rec, res = do(t, e, http.MethodPost, "/api/auth/revoke-token", body, bearer(s.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid token", res.Message)
}

func TestRevokeAllTokensAndLogout(t *testing.T) {
	e := newTestServer(t, nil)
	s := register(t, e)
	_, _ = do(t, e, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"alice","password":"Passw0rd!"}`, nil)

	rec, res := do(t, e, http.MethodPost, "/api/auth/revoke-all-tokens", "", bearer(s.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"revoked":2}`, string(res.Data))

	rec, _ = do(t, e, http.MethodPost, "/api/auth/logout", fmt.Sprintf(`{"refreshToken":%q}`, s.RefreshToken), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestChangePassword(t *testing.T) {
	e := newTestServer(t, nil)
	s := register(t, e)

	rec, _ := do(t, e, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"Wrong000!","newPassword":"N3wPass!","confirmNewPassword":"N3wPass!"}`, bearer(s.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"Passw0rd!","newPassword":"N3wPass!","confirmNewPassword":"Other0!x"}`, bearer(s.AccessToken))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/auth/change-password",
		`{"currentPassword":"Passw0rd!","newPassword":"N3wPass!","confirmNewPassword":"N3wPass!"}`, bearer(s.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/api/auth/login", `{"usernameOrEmail":"alice","password":"N3wPass!"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestServer(t, nil)
	rec, _ := do(t, e, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, e, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")

	down := newTestServer(t, func(context.Context) error { return errors.New("db down") })
	rec, res := do(t, down, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", res.Message)
}

func TestHTTPError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: &service.ValidationError{Field: "email", Reason: "invalid email format"}, code: http.StatusBadRequest},
		{err: service.ErrConflict, code: http.StatusConflict},
		{err: service.ErrUnauthorized, code: http.StatusUnauthorized},
		{err: service.ErrStoreUnavailable, code: http.StatusServiceUnavailable},
		{err: service.ErrInternal, code: http.StatusInternalServerError},
		{err: errors.New("anything"), code: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, httpError(tt.err).Code, tt.err.Error())
	}
	assert.Equal(t, "email: invalid email format", httpError(tests[0].err).Message)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, bearerToken(req))
	req.Header.Set(echo.HeaderAuthorization, "bearer abc")
	assert.Equal(t, "abc", bearerToken(req))
	req.Header.Set(echo.HeaderAuthorization, "Basic abc")
	assert.Empty(t, bearerToken(req))
}
