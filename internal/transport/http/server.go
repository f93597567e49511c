// Package http exposes the speedtest API over REST. Handlers are thin: they
// parse parameters, call the api service and map its errors to statuses.
package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"netpulse/internal/api"
	"netpulse/internal/queue"
	"netpulse/pkg/logx"
)

// Config controls the HTTP listener.
type Config struct {
	Addr string
	// RunPerMinute caps accepted /run requests. 0 applies the default.
	RunPerMinute int
}

type Server struct {
	cfg Config
	svc *api.Service
	log logx.Logger

	e       *echo.Echo
	runRate *rate.Limiter
}

func NewServer(cfg Config, svc *api.Service, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8766"
	}
	if cfg.RunPerMinute <= 0 {
		cfg.RunPerMinute = 6
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	s := &Server{
		cfg: cfg,
		svc: svc,
		log: log,
		// Manual runs are seconds-scale network work; keep trigger-happy
		// clients from stacking the queue.
		runRate: rate.NewLimiter(rate.Limit(float64(cfg.RunPerMinute)/60.0), cfg.RunPerMinute),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	g := e.Group("/api/speedtest")
	g.GET("", s.index)
	g.GET("/", s.index)
	g.GET("/latest", s.latest)
	g.GET("/time/:days", s.window)
	g.GET("/fail/:days", s.failureRate)
	g.GET("/run", s.run)
	g.DELETE("/delete/all", s.deleteAll)
	g.DELETE("/delete/:id", s.deleteOne)

	s.e = e
	return s
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	err := s.e.Start(s.cfg.Addr)
	if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the route tree for tests and embedding.
func (s *Server) Handler() stdhttp.Handler { return s.e }

func (s *Server) index(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}

	data, err := s.svc.List(c.Request().Context(), page)
	if err != nil {
		return s.serverError(c, "index of speedtests", err)
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method": "index of speedtests",
		"data":   data,
	})
}

func (s *Server) window(c echo.Context) error {
	const method = "get speedtests in last x days"

	days, err := api.ParseDays(c.Param("days"))
	if err != nil {
		return c.JSON(stdhttp.StatusUnprocessableEntity, echo.Map{
			"method": method,
			"error":  err.Error(),
		})
	}

	recs, err := s.svc.Window(c.Request().Context(), days)
	if err != nil {
		return s.serverError(c, method, err)
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method": method,
		"days":   days,
		"data":   recs,
	})
}

func (s *Server) failureRate(c echo.Context) error {
	const method = "get speedtest failure rate in last x days"

	days, err := api.ParseDays(c.Param("days"))
	if err != nil {
		return c.JSON(stdhttp.StatusUnprocessableEntity, echo.Map{
			"method": method,
			"error":  err.Error(),
		})
	}

	stats, err := s.svc.FailureRate(c.Request().Context(), days)
	if err != nil {
		return s.serverError(c, method, err)
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method": method,
		"days":   days,
		"data":   stats,
	})
}

func (s *Server) latest(c echo.Context) error {
	const method = "get latest speedtest"

	data, err := s.svc.Latest(c.Request().Context())
	if errors.Is(err, api.ErrNoResults) {
		return c.JSON(stdhttp.StatusNotFound, echo.Map{
			"method": method,
			"error":  err.Error(),
		})
	}
	if err != nil {
		return s.serverError(c, method, err)
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method":  method,
		"data":    data.Latest,
		"average": data.Average,
		"max":     data.Max,
	})
}

func (s *Server) run(c echo.Context) error {
	const method = "run speedtest"

	if !s.runRate.Allow() {
		return c.JSON(stdhttp.StatusTooManyRequests, echo.Map{
			"method": method,
			"error":  "too many runs requested, slow down",
		})
	}

	if err := s.svc.RunNow(c.Request().Context()); err != nil {
		status := stdhttp.StatusInternalServerError
		if errors.Is(err, queue.ErrQueueFull) {
			status = stdhttp.StatusServiceUnavailable
		}
		return c.JSON(status, echo.Map{
			"method": method,
			"error":  err.Error(),
		})
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method": method,
		"data":   "a new speedtest has been added to the queue",
	})
}

func (s *Server) deleteAll(c echo.Context) error {
	const method = "delete all speedtests from the database"

	n, err := s.svc.DeleteAll(c.Request().Context())
	if err != nil {
		return c.JSON(stdhttp.StatusInternalServerError, echo.Map{
			"method":  method,
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method":  method,
		"success": true,
		"deleted": n,
	})
}

func (s *Server) deleteOne(c echo.Context) error {
	const method = "delete a speedtest from the database"

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(stdhttp.StatusUnprocessableEntity, echo.Map{
			"method": method,
			"error":  "id must be an integer",
		})
	}

	if err := s.svc.Delete(c.Request().Context(), id); err != nil {
		return c.JSON(stdhttp.StatusInternalServerError, echo.Map{
			"method":  method,
			"success": false,
			"error":   err.Error(),
		})
	}
	return c.JSON(stdhttp.StatusOK, echo.Map{
		"method":  method,
		"success": true,
	})
}

func (s *Server) serverError(c echo.Context, method string, err error) error {
	s.log.Error("request failed", logx.String("method", method), logx.Err(err))
	return c.JSON(stdhttp.StatusInternalServerError, echo.Map{
		"method": method,
		"error":  err.Error(),
	})
}
