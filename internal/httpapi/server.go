// Package httpapi exposes the distillation pipeline over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/changelogd/internal/distill"
	"github.com/fyrsmithlabs/changelogd/pkg/threatscan"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server provides HTTP endpoints for changelogd.
type Server struct {
	echo    *echo.Echo
	service *distill.Service
	logger  *zap.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(service *distill.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger,
		config:  cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/scan", s.handleScan)
	v1.POST("/distill", s.handleDistill)
}

// ScanRequest is the request body for POST /api/v1/scan.
type ScanRequest struct {
	Content string `json:"content"`
}

// ScanResponse is the response body for POST /api/v1/scan. Allowed is
// false when the scan policy would reject the content; the verdict is
// data, not an HTTP error.
type ScanResponse struct {
	Allowed       bool     `json:"allowed"`
	Level         string   `json:"level"`
	Issues        []string `json:"issues,omitempty"`
	TokenEstimate int      `json:"token_estimate"`
	Truncated     bool     `json:"truncated"`
}

// DistillRequest is the request body for POST /api/v1/distill.
type DistillRequest struct {
	Content string `json:"content"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleScan scans the provided content and reports the policy verdict.
func (s *Server) handleScan(c echo.Context) error {
	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scan request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	result, err := s.service.Scan(c.Request().Context(), req.Content)
	if err != nil {
		var rejected *threatscan.ContentRejectedError
		if !errors.As(err, &rejected) {
			s.logger.Error("scan failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "scan failed")
		}
	}

	return c.JSON(http.StatusOK, ScanResponse{
		Allowed:       err == nil,
		Level:         result.Level.String(),
		Issues:        result.Issues,
		TokenEstimate: result.TokenEstimate,
		Truncated:     result.Truncated,
	})
}

// handleDistill runs the full distillation pipeline on the provided
// content and returns the report.
func (s *Server) handleDistill(c echo.Context) error {
	var req DistillRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid distill request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content field is required")
	}

	report, err := s.service.Run(c.Request().Context(), req.Content)
	if err != nil {
		var rejected *threatscan.ContentRejectedError
		if errors.As(err, &rejected) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, rejected.Error())
		}
		s.logger.Error("distillation failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "distillation failed")
	}

	return c.JSON(http.StatusOK, report)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
