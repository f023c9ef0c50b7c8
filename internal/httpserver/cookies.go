package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/shop_auth/internal/service"
)

const (
	accessCookie  = "accessToken"
	refreshCookie = "refreshToken"
	refreshPath   = "/api/auth"
)

func createCookie(name, value, path string, exp time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Expires:  exp,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func deleteCookie(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func setSessionCookies(c echo.Context, res *service.AuthResult) {
	c.SetCookie(createCookie(accessCookie, res.AccessToken, "/", res.AccessTokenExpiry))
	c.SetCookie(createCookie(refreshCookie, res.RefreshToken, refreshPath, res.RefreshTokenExpiry))
}

func clearSessionCookies(c echo.Context) {
	c.SetCookie(deleteCookie(accessCookie, "/"))
	c.SetCookie(deleteCookie(refreshCookie, refreshPath))
}
