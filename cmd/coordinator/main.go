// Command coordinator runs the HTTP surface for the per-run actor model:
// start, onTaskResult, onSubworkflowResult, onTimeoutAlarm and cancel, each
// routed to the resident *actor.Run for its run id.
package main

import (
	"context"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/flowcore/common/config"
	"github.com/lyzr/flowcore/common/logger"
	redisclient "github.com/lyzr/flowcore/common/redis"
	"github.com/lyzr/flowcore/common/server"
	"github.com/lyzr/flowcore/internal/alarm"
	"github.com/lyzr/flowcore/internal/clients"
	"github.com/lyzr/flowcore/internal/dispatch"
	"github.com/lyzr/flowcore/internal/events"
)

func main() {
	cfg, err := config.Load("coordinator")
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	if err := os.MkdirAll(cfg.Store.BaseDir, 0o755); err != nil {
		log.Error("create store base dir", "error", err)
		os.Exit(1)
	}

	executorURL := getEnv("EXECUTOR_URL", "http://localhost:8081")
	catalogURL := getEnv("CATALOG_URL", "http://localhost:8082")
	executor := clients.NewHTTPExecutor(executorURL, log)
	catalog := clients.NewHTTPResourceCatalog(catalogURL, log)

	var redisC *redisclient.Client
	if cfg.Trace.Enabled || cfg.Features.EnableRedisAlarms {
		redisC = redisclient.NewClient(goredis.NewClient(&goredis.Options{Addr: cfg.Trace.RedisAddr}), log)
	}

	var publisher dispatch.Publisher
	if cfg.Trace.Enabled {
		publisher = events.NewPublisher(redisC, cfg.Trace.RedisChannelPrefix, log)
	}

	// The alarm scheduler's onFire callback needs to reach back into the
	// registry it is itself a dependency of; reg is filled in once built.
	var reg *Registry
	onFire := func(f alarm.Fired) {
		if reg == nil {
			return
		}
		r, ok := reg.Get(f.RunID)
		if !ok {
			return
		}
		if err := r.OnTimeoutAlarm(context.Background()); err != nil {
			log.Error("alarm-triggered timeout handling failed", "run_id", f.RunID, "fan_in_path", f.FanInPath, "error", err)
		}
	}

	var sched alarm.Scheduler
	switch cfg.Alarm.Backend {
	case "redis":
		redisSched := alarm.NewRedisScheduler(redisC, cfg.Alarm.RedisPrefix, cfg.Alarm.SweepEvery, onFire, log)
		redisSched.Start(context.Background())
		sched = redisSched
	default:
		sched = alarm.NewMemoryScheduler(onFire)
	}

	reg = NewRegistry(cfg.Store.BaseDir, catalog, executor, publisher, sched, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.GET("/healthz", func(c echo.Context) error { return c.JSON(200, map[string]string{"status": "ok"}) })

	api := NewAPI(reg, log)
	api.Register(e)

	srv := server.New(cfg.Service.Name, cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
