package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/IliaW/page-renderer/config"
	"github.com/IliaW/page-renderer/internal/model"
	"github.com/IliaW/page-renderer/internal/renderer"
	"github.com/IliaW/page-renderer/internal/worker"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type Renderer interface {
	Render(context.Context, *model.RenderRequest) (*model.RenderResult, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// NewRouter exposes POST /render and GET /ping. Only /render is rate limited.
func NewRouter(rd Renderer, archiver *worker.Archiver, cfg *config.Config) *gin.Engine {
	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.POST("/render", rateLimit(cfg.RateLimitSettings), Render(rd, archiver))

	return r
}

// Render decodes the request, renders it and returns either the result or a single error message.
func Render(rd Renderer, archiver *worker.Archiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req model.RenderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Kind: "invalid_request"})
			return
		}

		startTime := time.Now()
		res, err := rd.Render(c.Request.Context(), &req)
		if err != nil {
			c.JSON(statusFor(err), ErrorResponse{Error: err.Error(), Kind: renderer.Kind(err)})
			return
		}
		archiver.Archive(context.WithoutCancel(c.Request.Context()), res, time.Since(startTime))

		c.JSON(http.StatusOK, res)
	}
}

func statusFor(err error) int {
	switch renderer.Kind(err) {
	case "invalid_request":
		return http.StatusBadRequest
	case "timeout":
		return http.StatusGatewayTimeout
	case "navigation", "extraction":
		return http.StatusBadGateway
	case "launch":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// rateLimit is a process-wide token bucket. Every render starts a whole browser, so the
// limit protects the host rather than individual clients.
func rateLimit(cfg *config.RateLimitConfig) gin.HandlerFunc {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded, please slow down",
				Kind:  "rate_limited",
			})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		c.Next()
		slog.Info("http request.",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("latency_ms", time.Since(startTime).Milliseconds()),
			slog.String("client_ip", c.ClientIP()))
	}
}
