package server

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth/verifierclient"
)

// NewEchoRouter exposes svc through echo with the same routes as NewGinRouter.
func NewEchoRouter(svc *Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoRequestLogger(svc.logger))
	if len(svc.origins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  svc.origins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
			ExposeHeaders: []string{HeaderRequestID},
		}))
	}

	e.GET(verifierclient.PathHealth, func(c echo.Context) error {
		return c.JSON(http.StatusOK, svc.Health())
	})

	e.POST(verifierclient.PathPermissions, echoBody(func(c echo.Context, body []byte) (interface{}, error) {
		return svc.AcceptPermission(c.Request().Context(), body)
	}))
	e.GET(verifierclient.PathPermissions, func(c echo.Context) error {
		sp, err := svc.Permission(c.QueryParams())
		if err != nil {
			return c.JSON(StatusFor(err), ErrorBody(err))
		}
		if sp == nil {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "permission not found"})
		}
		return c.JSON(http.StatusOK, sp)
	})
	e.POST(verifierclient.PathRedeem, echoBody(func(c echo.Context, body []byte) (interface{}, error) {
		return svc.Redeem(c.Request().Context(), body)
	}))
	e.POST(verifierclient.PathRevoke, echoBody(func(c echo.Context, body []byte) (interface{}, error) {
		return svc.Revoke(c.Request().Context(), body)
	}))
	e.GET(verifierclient.PathPeriodSpend, func(c echo.Context) error {
		spend, err := svc.PeriodSpend(c.Request().Context(), c.QueryParams())
		return echoRespond(c, spend, err)
	})
	e.GET(verifierclient.PathRevoked, func(c echo.Context) error {
		revoked, err := svc.Revoked(c.Request().Context(), c.QueryParams())
		return echoRespond(c, revoked, err)
	})
	e.GET(verifierclient.PathOutcome, func(c echo.Context) error {
		outcome, err := svc.Outcome(c.Request().Context(), c.QueryParams())
		return echoRespond(c, outcome, err)
	})
	e.POST(verifierclient.PathBatches, echoBody(func(c echo.Context, body []byte) (interface{}, error) {
		return svc.SubmitBatch(c.Request().Context(), body)
	}))

	return e
}

func echoBody(handle func(c echo.Context, body []byte) (interface{}, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		}
		out, err := handle(c, body)
		return echoRespond(c, out, err)
	}
}

func echoRespond(c echo.Context, out interface{}, err error) error {
	if err != nil {
		return c.JSON(StatusFor(err), ErrorBody(err))
	}
	return c.JSON(http.StatusOK, out)
}

func echoRequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)

			start := time.Now()
			err := next(c)
			logger.Debug("request",
				zap.String("request_id", id),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)))
			return err
		}
	}
}
