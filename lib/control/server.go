// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/bureau-foundation/beacon/lib/supervisor"
)

// Agent is the part of *supervisor.Supervisor the API drives.
type Agent interface {
	Start(ctx context.Context) error
	Stop() error
	Status(ctx context.Context) (supervisor.Status, error)
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// shutdownTimeout bounds how long Serve waits for open requests once
// its context ends. A stop request in progress is waiting on delivery
// attempts, so this is longer than a typical HTTP grace period.
const shutdownTimeout = 30 * time.Second

// Server serves the control API. It implements http.Handler.
type Server struct {
	echo   *echo.Echo
	agent  Agent
	logger *slog.Logger
}

// NewServer builds the routes for agent.
func NewServer(agent Agent, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	server := &Server{
		echo:   echo.New(),
		agent:  agent,
		logger: logger.With("component", "control"),
	}

	e := server.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = server.handleError
	e.Use(middleware.Recover())
	e.Use(server.logRequests)

	e.GET("/healthz", server.health)
	v1 := e.Group("/v1")
	v1.POST("/start", server.start)
	v1.POST("/stop", server.stop)
	v1.GET("/status", server.status)
	return server
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Serve accepts connections on listener until ctx is cancelled, then
// shuts down gracefully. It returns nil after a clean shutdown.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
	}

	served := make(chan error, 1)
	go func() { served <- server.Serve(listener) }()
	s.logger.Info("control API listening", "address", listener.Addr().String())

	select {
	case err := <-served:
		return fmt.Errorf("control: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := server.Shutdown(shutdownContext)
	if serveErr := <-served; !errors.Is(serveErr, http.ErrServerClosed) && err == nil {
		err = serveErr
	}
	if err != nil {
		return fmt.Errorf("control: shutting down: %w", err)
	}
	return nil
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) start(c echo.Context) error {
	err := s.agent.Start(c.Request().Context())
	if err != nil {
		var precondition *supervisor.PreconditionError
		if errors.As(err, &precondition) {
			s.logger.Warn("start refused", "reason", precondition.Reason, "error", precondition.Err)
			return c.JSON(http.StatusConflict, errorResponse{
				Error:  err.Error(),
				Reason: precondition.Reason,
			})
		}
		return err
	}
	return s.status(c)
}

func (s *Server) stop(c echo.Context) error {
	if err := s.agent.Stop(); err != nil {
		return err
	}
	return s.status(c)
}

func (s *Server) status(c echo.Context) error {
	current, err := s.agent.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, current)
}

// handleError renders echo routing errors and handler errors in the
// same JSON shape.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := err.Error()
	var httpError *echo.HTTPError
	if errors.As(err, &httpError) {
		code = httpError.Code
		message = fmt.Sprint(httpError.Message)
	} else {
		s.logger.Error("control request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}

	if writeErr := c.JSON(code, errorResponse{Error: message}); writeErr != nil {
		s.logger.Debug("writing error response failed", "error", writeErr)
	}
}

func (s *Server) logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		started := time.Now()
		if err := next(c); err != nil {
			c.Error(err)
		}
		s.logger.Debug("control request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
			"duration", time.Since(started),
		)
		return nil
	}
}
