package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/citadel-agent/routines/internal/activity"
	"github.com/citadel-agent/routines/internal/config"
	"github.com/citadel-agent/routines/internal/durable"
	"github.com/citadel-agent/routines/internal/observability"
	"github.com/citadel-agent/routines/internal/plugins/builtin"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	registry := builtin.NewRegistry()
	credentials := activity.NewStaticCredentialStore()

	metrics := observability.NewMetricsService()
	telemetry, err := observability.NewTelemetryService(context.Background(), "routine-worker")
	if err != nil {
		log.Fatal("failed to start telemetry:", err)
	}
	defer telemetry.Shutdown(context.Background())

	activities := &durable.Activities{
		Registry:    builtin.NewDurableAdapter(registry),
		Credentials: credentials,
		Metrics:     metrics,
		Telemetry:   telemetry,
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	sink := observability.NewRedisSink(redisClient, zerolog.New(os.Stdout).With().Timestamp().Logger())

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Println("metrics listening on :9090/metrics")
		if err := http.ListenAndServe(":9090", mux); err != nil {
			log.Println("metrics server stopped:", err)
		}
	}()

	log.Printf("routine worker starting: temporal=%s namespace=%s taskQueue=%s",
		cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue)

	if err := durable.RunWorker(cfg.Temporal.HostPort, cfg.Temporal.Namespace, cfg.Temporal.TaskQueue, activities, sink); err != nil {
		log.Fatal("worker stopped with error:", err)
	}

	log.Println("routine worker stopped")
}
