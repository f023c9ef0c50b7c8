package httpserver

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_auth/internal/logging"
	"github.com/Skotchmaster/shop_auth/internal/service"
)

type AuthHTTP struct {
	Svc *service.AuthService
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// refreshTokenFrom prefers the body and falls back to the refresh cookie.
func refreshTokenFrom(c echo.Context) string {
	var req refreshRequest
	if err := c.Bind(&req); err == nil && req.RefreshToken != "" {
		return req.RefreshToken
	}
	if ck, err := c.Cookie(refreshCookie); err == nil {
		return ck.Value
	}
	return ""
}

func (h *AuthHTTP) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req service.RegisterInput
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Register(ctx, req, c.RealIP())
	if err != nil {
		return httpError(err)
	}
	setSessionCookies(c, res)
	return ok(c, res, "User registered successfully")
}

func (h *AuthHTTP) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req service.LoginInput
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	res, err := h.Svc.Login(ctx, req, c.RealIP())
	if err != nil {
		return httpError(err)
	}
	setSessionCookies(c, res)
	return ok(c, res, "Login successful")
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.Svc.Refresh(ctx, refreshTokenFrom(c), c.RealIP())
	if err != nil {
		return httpError(err)
	}
	setSessionCookies(c, res)
	return ok(c, res, "Token refreshed successfully")
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	if err := h.Svc.Logout(ctx, refreshTokenFrom(c), c.RealIP()); err != nil {
		l.Error("logout_failed", "reason", "cannot revoke refreshToken", "error", err)
		return httpError(err)
	}
	clearSessionCookies(c)
	return ok(c, nil, "Logged out")
}

func (h *AuthHTTP) RevokeToken(c echo.Context) error {
	ctx := c.Request().Context()

	revoked, err := h.Svc.RevokeOne(ctx, refreshTokenFrom(c), c.RealIP())
	if err != nil {
		return httpError(err)
	}
	if !revoked {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid token")
	}
	return ok(c, nil, "Token revoked successfully")
}

func (h *AuthHTTP) RevokeAllTokens(c echo.Context) error {
	ctx := c.Request().Context()
	id, found := userID(c)
	if !found {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	n, err := h.Svc.RevokeAll(ctx, id, c.RealIP())
	if err != nil {
		return httpError(err)
	}
	clearSessionCookies(c)
	return ok(c, echo.Map{"revoked": n}, "All tokens revoked successfully")
}

func (h *AuthHTTP) Me(c echo.Context) error {
	ctx := c.Request().Context()
	id, found := userID(c)
	if !found {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	user, err := h.Svc.CurrentUser(ctx, id)
	if err != nil {
		return httpError(err)
	}
	return ok(c, user, "")
}

func (h *AuthHTTP) ChangePassword(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_change_password")
	id, found := userID(c)
	if !found {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing access token")
	}

	var req service.ChangePasswordInput
	if err := c.Bind(&req); err != nil {
		l.Warn("change_password_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if _, err := h.Svc.ChangePassword(ctx, id, req); err != nil {
		return httpError(err)
	}
	return ok(c, nil, "Password changed successfully")
}
