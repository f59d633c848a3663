package server

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/mixbenchproject/mixbench/internal/common/health"
	"github.com/mixbenchproject/mixbench/internal/mixbench/repository"
)

// BuildServer wires the HTTP API. The caller owns the listener lifecycle.
func BuildServer(
	repo repository.QueueRepository,
	dispatcher Ticker,
	submitter BenchmarkSubmitter,
	defaultQueue string,
	checker health.Checker,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))
	e.Use(requestLogger())

	e.GET("/health", echo.WrapHandler(health.NewHealthCheckHttpHandler(checker)))

	v1 := e.Group("/api/v1")
	v1.POST("/benchmarks", SubmitHandler(submitter, defaultQueue))
	v1.POST("/queues/:queue/tick", TickHandler(dispatcher))
	v1.PUT("/queues/:queue/running", SetRunningHandler(repo))
	v1.GET("/queues/:queue", StatusHandler(repo))

	return e
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			log.WithFields(log.Fields{
				"method":   c.Request().Method,
				"path":     c.Request().URL.Path,
				"status":   c.Response().Status,
				"duration": time.Since(start).String(),
			}).Info("request handled")
			return nil
		}
	}
}
