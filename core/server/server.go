package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"event-coordinator/core/clock"
	"event-coordinator/core/config"
	"event-coordinator/core/constants"
	"event-coordinator/core/database"
	"event-coordinator/core/gateway"
	"event-coordinator/core/logger"
	"event-coordinator/core/middleware"
	"event-coordinator/migrations"
	"event-coordinator/modules/coordination"
	"event-coordinator/modules/coordination/tasks"
	"event-coordinator/modules/event"
	"event-coordinator/modules/integration"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Run boots the API server and the coordination worker in one process and
// blocks until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Server.LogLevel)

	db, err := database.InitDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := migrations.Apply(ctx, &db); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	gw := gateway.New(cfg.Gateway)
	clients := integration.Init(cfg, gw, rdb)
	clk := clock.NewSystem()

	coordModule := coordination.Init(cfg, &db, clk, clients, asynqClient)

	mw := middleware.NewMiddleware(cfg)
	e := echo.New()
	e.HideBanner = true
	e.Use(mw.Recover())
	e.Use(mw.RequestLogger())

	event.Init(e, cfg, &db, clk, mw, coordModule)

	mux := asynq.NewServeMux()
	coordModule.RegisterHandlers(mux)

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			constants.QueueCoordination: 5,
			constants.QueueDefault:      1,
		},
	})

	// Periodic sweep catches deadlines whose timer task was lost.
	scheduler := asynq.NewScheduler(redisOpt, nil)
	if _, err := scheduler.Register("@every 1m",
		asynq.NewTask(tasks.TypeSweep, nil),
		asynq.Queue(constants.QueueCoordination)); err != nil {
		return fmt.Errorf("register sweep: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Info("Server:Run:HTTP", "addr", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := worker.Run(mux); err != nil {
			errCh <- fmt.Errorf("task worker: %w", err)
		}
	}()
	go func() {
		if err := scheduler.Run(); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info("Server:Run:Shutdown", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	scheduler.Shutdown()
	worker.Shutdown()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
