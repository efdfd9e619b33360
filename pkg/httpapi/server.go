// Package httpapi exposes the request dispatcher over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/llm-immersive/immersive/pkg/dispatch"
	"github.com/llm-immersive/immersive/pkg/llm"
	"github.com/llm-immersive/immersive/pkg/models"
)

// Dispatcher routes decoded requests.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.Request) models.Response
}

// Options configures the HTTP server.
type Options struct {
	Listen          string
	ShutdownTimeout time.Duration
}

// Server serves the dispatcher's request types as JSON endpoints.
type Server struct {
	d      Dispatcher
	logger zerolog.Logger
	opts   Options
	echo   *echo.Echo
}

// New creates a Server.
func New(d Dispatcher, logger zerolog.Logger, opts Options) *Server {
	if strings.TrimSpace(opts.Listen) == "" {
		opts.Listen = "127.0.0.1:8787"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{d: d, logger: logger, opts: opts}
	s.echo = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit("64M"))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/v1")
	v1.POST("/dispatch", s.handleDispatch)
	v1.POST("/translate", s.handleTyped(models.RequestTranslate, ""))
	v1.POST("/translate/batch", s.handleTyped(models.RequestTranslateBatch, ""))
	v1.GET("/settings", s.handleTyped(models.RequestGetSettings, ""))
	v1.PUT("/settings", s.handleTyped(models.RequestSaveSettings, "settings"))
	v1.GET("/cache/stats", s.handleTyped(models.RequestCacheStats, ""))
	v1.DELETE("/cache", s.handleTyped(models.RequestClearCache, ""))
	return e
}

// ListenAndServe starts the server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Listen).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleDispatch(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	return s.dispatch(c, body)
}

// handleTyped builds a message of type t from the request body. When
// wrapField is set the whole body becomes that field; otherwise the body's
// fields are used as the message fields.
func (s *Server) handleTyped(t models.RequestType, wrapField string) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}

		fields := map[string]json.RawMessage{}
		switch {
		case wrapField != "":
			if len(strings.TrimSpace(string(body))) > 0 {
				fields[wrapField] = body
			}
		case len(strings.TrimSpace(string(body))) > 0:
			if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
				return c.JSON(http.StatusBadRequest, models.Response{Error: "invalid request: body must be a JSON object"})
			}
		}
		fields["type"], _ = json.Marshal(t)

		msg, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return s.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c echo.Context, raw []byte) error {
	req, err := dispatch.Decode(raw)
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.Response{Error: err.Error()})
	}
	resp := s.d.Dispatch(c.Request().Context(), req)
	return c.JSON(statusFor(resp), resp)
}

// statusFor maps endpoint failures to 502 and local failures to 500.
func statusFor(resp models.Response) int {
	switch {
	case !resp.Failed():
		return http.StatusOK
	case llm.IsUpstream(resp.Cause):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
