package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forked/internal/config"
	"forked/internal/metrics"
	"forked/internal/obs"
	"forked/internal/queue"
	"forked/internal/store"
	"forked/internal/submission"
)

// Worker consumes submission events and stamps each record with its
// server-side verdict.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend == config.QueueMemory {
		log.Fatalf("QUEUE_BACKEND=memory is validated inside the api; run the worker with redis or amqp")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Printf("warning: tracing disabled: %v", err)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := store.CreateSchema(ctx, db.Client); err != nil {
		log.Fatalf("schema: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == config.QueueAMQP {
		aq, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.AMQPExchange, cfg.QueueKey, []string{queue.TypeSubmissionCreated})
		if err != nil {
			log.Fatalf("amqp: %v", err)
		}
		defer aq.Close()
		q = aq
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	go serveMetrics(ctx)

	policy := cfg.Policy()
	repo := submission.NewRepository(db.Client)
	validator := submission.NewValidator(repo, submission.Policy{
		RateLimit:         policy.Cooldown,
		GeofenceMeters:    policy.GeofenceMeters,
		MaxAccuracyMeters: policy.MaxAccuracyMeters,
	}, m, slog.Default())

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeSubmissionCreated {
			continue
		}

		id := string(msg.Body)
		rec, err := repo.Get(ctx, id)
		if err != nil {
			log.Printf("fetch submission %s failed: %v", id, err)
			continue
		}

		verdict, err := validator.Handle(ctx, rec)
		if err != nil {
			log.Printf("validate submission %s failed: %v", id, err)
			continue
		}
		log.Printf("submission %s validated=%t reason=%q", id, verdict.Validated, verdict.Reason)
	}

	log.Println("worker stopped")
}

func serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ":9091", Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server: %v", err)
	}
}
