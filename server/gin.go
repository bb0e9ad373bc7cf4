package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coinbase/spendauth/verifierclient"
)

// HeaderRequestID carries the request id on requests and responses.
const HeaderRequestID = "X-Request-ID"

// NewGinRouter exposes svc through gin.
func NewGinRouter(svc *Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), ginRequestLogger(svc.logger))
	if len(svc.origins) > 0 {
		r.Use(ginCORS(svc.origins))
	}

	r.GET(verifierclient.PathHealth, func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Health())
	})

	r.POST(verifierclient.PathPermissions, ginBody(func(c *gin.Context, body []byte) (interface{}, error) {
		return svc.AcceptPermission(c.Request.Context(), body)
	}))
	r.GET(verifierclient.PathPermissions, func(c *gin.Context) {
		sp, err := svc.Permission(c.Request.URL.Query())
		if err != nil {
			c.JSON(StatusFor(err), ErrorBody(err))
			return
		}
		if sp == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "permission not found"})
			return
		}
		c.JSON(http.StatusOK, sp)
	})
	r.POST(verifierclient.PathRedeem, ginBody(func(c *gin.Context, body []byte) (interface{}, error) {
		return svc.Redeem(c.Request.Context(), body)
	}))
	r.POST(verifierclient.PathRevoke, ginBody(func(c *gin.Context, body []byte) (interface{}, error) {
		return svc.Revoke(c.Request.Context(), body)
	}))
	r.GET(verifierclient.PathPeriodSpend, func(c *gin.Context) {
		spend, err := svc.PeriodSpend(c.Request.Context(), c.Request.URL.Query())
		respond(c, spend, err)
	})
	r.GET(verifierclient.PathRevoked, func(c *gin.Context) {
		revoked, err := svc.Revoked(c.Request.Context(), c.Request.URL.Query())
		respond(c, revoked, err)
	})
	r.GET(verifierclient.PathOutcome, func(c *gin.Context) {
		outcome, err := svc.Outcome(c.Request.Context(), c.Request.URL.Query())
		respond(c, outcome, err)
	})
	r.POST(verifierclient.PathBatches, ginBody(func(c *gin.Context, body []byte) (interface{}, error) {
		return svc.SubmitBatch(c.Request.Context(), body)
	}))

	return r
}

func ginBody(handle func(c *gin.Context, body []byte) (interface{}, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
			return
		}
		out, err := handle(c, body)
		respond(c, out, err)
	}
}

func respond(c *gin.Context, out interface{}, err error) {
	if err != nil {
		c.JSON(StatusFor(err), ErrorBody(err))
		return
	}
	c.JSON(http.StatusOK, out)
}

func ginRequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)

		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

func ginCORS(origins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	cfg.AllowOrigins = origins
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization"}
	cfg.ExposeHeaders = []string{HeaderRequestID}
	return cors.New(cfg)
}
