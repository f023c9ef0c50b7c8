package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/shop_auth/internal/metrics"
)

type Deps struct {
	AuthHandler *AuthHTTP
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// Ready reports whether the store answers; nil means always ready.
	Ready func(ctx context.Context) error
}

func New(d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 15 * time.Second
	e.Server.ReadHeaderTimeout = 3 * time.Second

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	base := d.Logger
	if base == nil {
		base = slog.Default()
	}
	e.Use(RequestLogger(base))
	e.Use(d.Metrics.Middleware())

	e.GET("/health/live", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/health/ready", func(c echo.Context) error {
		if d.Ready == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := d.Ready(ctx); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "not ready")
		}
		return c.NoContent(http.StatusOK)
	})
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	}

	authMw := RequireAuth(d.AuthHandler.Svc)

	g := e.Group("/api/auth")
	g.POST("/register", d.AuthHandler.Register)
	g.POST("/login", d.AuthHandler.Login)
	g.POST("/refresh-token", d.AuthHandler.Refresh)
	g.POST("/logout", d.AuthHandler.Logout)

	private := g.Group("", authMw)
	private.POST("/revoke-token", d.AuthHandler.RevokeToken)
	private.POST("/revoke-all-tokens", d.AuthHandler.RevokeAllTokens)
	private.GET("/me", d.AuthHandler.Me)
	private.POST("/change-password", d.AuthHandler.ChangePassword)
}
