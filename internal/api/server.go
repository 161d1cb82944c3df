// Package api hosts the HTTP server. Route handlers live in the versioned
// sub-package.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	v2 "github.com/auralink/proactive/internal/api/v2"
	"github.com/auralink/proactive/internal/conf"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	bodyLimit         = "1M"
)

// Server is the echo HTTP server.
type Server struct {
	echo       *echo.Echo
	controller *v2.Controller
	listen     string
	log        logger.Logger
}

// NewServer builds the echo instance, installs middleware and registers the
// v2 routes.
func NewServer(settings *conf.Settings, deps v2.Deps, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	log = log.Module("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadHeaderTimeout = readHeaderTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("path", v.URIPath),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				log.Warn("request failed", append(fields, logger.Error(v.Error))...)
				return nil
			}
			log.Debug("request", fields...)
			return nil
		},
	}))

	s := &Server{echo: e, log: log}
	if settings != nil {
		s.listen = settings.API.Listen
	}
	s.controller = v2.New(e, settings, deps, log)
	return s
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start listens until Shutdown. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http server listening", logger.String("address", s.listen))
	if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryNetwork).
			Context("listen", s.listen).
			Build()
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
