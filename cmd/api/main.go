package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dispatchd/webhook-engine/config"
	"github.com/dispatchd/webhook-engine/dispatch"
	"github.com/dispatchd/webhook-engine/internal/http/chi"
	"github.com/dispatchd/webhook-engine/metrics"
	"github.com/dispatchd/webhook-engine/provision"
	"github.com/dispatchd/webhook-engine/webhook"
	"github.com/dispatchd/webhook-engine/webhook/memory"
	"github.com/dispatchd/webhook-engine/webhook/postgres"
	"github.com/dispatchd/webhook-engine/webhook/redis"
)

const TIMEOUT = 30 * time.Second

/* Imports flow in one direction only: downward. The application (api,
 * receiver) imports the business layer, which imports the storage layer.
 */

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	store, err := newStore(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer store.Close(ctx)

	service := webhook.NewService(store)

	// Apply declarative registrations before accepting traffic
	if cfg.WebhooksFile != "" {
		loader := provision.NewLoader()
		if err := loader.Load(cfg.WebhooksFile); err != nil {
			fmt.Println(err)
			return
		}
		created, updated, err := loader.Apply(ctx, service)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Printf("Provisioned webhooks: %d created, %d updated\n", created, updated)
	}

	executor := dispatch.NewExecutor(store, dispatch.NewHTTPTransport(), nil)
	coordinator := dispatch.NewCoordinator(store, executor, nil)
	coordinator.Start(ctx, cfg.DispatchWorkers)

	scheduler := dispatch.NewScheduler(store, coordinator, nil)
	if cfg.SchedulerIntervalSecs > 0 {
		scheduler.Interval = time.Duration(cfg.SchedulerIntervalSecs) * time.Second
	}
	go scheduler.Start(ctx)

	exporter, err := metrics.NewOTelExporter(metrics.NewStoreCollector(store))
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())

	r := chi.Handlers(ctx, service, coordinator, exporter.ServeHTTP())
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      r,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	fmt.Printf("Listening on port %s\n", cfg.Port)
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
	coordinator.Wait()
}

// newStore selects the persistence backend from configuration
func newStore(cfg *config.Config) (webhook.Repository, error) {
	switch cfg.Store {
	case "redis":
		return redis.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	case "postgres":
		store, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.CreateTables(context.Background()); err != nil {
			return nil, err
		}
		return store, nil
	case "memory", "":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Store)
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
