package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forked/internal/config"
	"forked/internal/cooldown"
	"forked/internal/hall"
	"forked/internal/hours"
	"forked/internal/httpapi"
	"forked/internal/httpmiddleware"
	"forked/internal/metrics"
	"forked/internal/obs"
	"forked/internal/queue"
	"forked/internal/report"
	"forked/internal/store"
	"forked/internal/submission"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(ctx, cfg.ServiceName+"-api", cfg.OTLPEndpoint, cfg.Env)
	if err != nil {
		log.Printf("warning: tracing disabled: %v", err)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.CreateSchema(ctx, db.Client); err != nil {
		return err
	}

	hallRepo := hall.NewRepository(db.Client)
	if cfg.SeedHalls {
		if err := hallRepo.Seed(ctx, hall.SampleHalls()); err != nil {
			return err
		}
	}
	venues, err := hallRepo.List(ctx)
	if err != nil {
		return err
	}
	halls := hall.NewCache(venues)
	log.Printf("loaded %d halls", len(venues))

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	feed := hall.NewFeed(redisClient.Client, cfg.FeedChannel)
	if err := feed.Subscribe(ctx, halls.Replace); err != nil {
		log.Printf("warning: realtime hall feed unavailable: %v", err)
		feed = nil
	}

	cooldowns, err := cooldown.OpenSQLite(cfg.CooldownDB)
	if err != nil {
		return err
	}
	defer cooldowns.Close()

	q, closeQueue, err := openQueue(cfg, redisClient)
	if err != nil {
		return err
	}
	defer closeQueue()

	m := metrics.New(prometheus.DefaultRegisterer)
	subs := submission.NewRepository(db.Client)
	policy := cfg.Policy()

	// Without a shared broker the worker cannot see this process's queue,
	// so submissions are validated in-process.
	if cfg.QueueBackend == config.QueueMemory {
		v := submission.NewValidator(subs, submission.Policy{
			RateLimit:         policy.Cooldown,
			GeofenceMeters:    policy.GeofenceMeters,
			MaxAccuracyMeters: policy.MaxAccuracyMeters,
		}, m, slog.Default())
		go validate(ctx, q, subs, v)
	}

	var publisher report.HallPublisher
	if feed != nil {
		publisher = feed
	}
	orch := report.New(report.Deps{
		Halls:     halls,
		Hours:     hours.Campus(),
		Cooldowns: cooldowns,
		Shared:    report.NewRemote(hallRepo, subs, q, publisher),
		Metrics:   m,
		Logger:    slog.Default(),
	}, report.Policy(policy))
	defer orch.Close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	httpapi.New(orch, halls, hours.Campus(), httpapi.Options{
		SigningKey:    cfg.JWTSigningKey,
		Issuer:        cfg.JWTIssuer,
		AccessTTL:     cfg.AccessTTL,
		IssueSessions: !cfg.Production(),
		ReportsPerMin: cfg.RateLimitPerMin / 4,
	}).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

func openQueue(cfg config.App, redisClient *store.Redis) (queue.Queue, func(), error) {
	switch cfg.QueueBackend {
	case config.QueueMemory:
		return queue.NewInMemory(64), func() {}, nil
	case config.QueueAMQP:
		q, err := queue.NewAMQPQueue(cfg.AMQPURL, cfg.AMQPExchange, cfg.QueueKey, []string{queue.TypeSubmissionCreated})
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	default:
		return queue.NewRedisQueue(redisClient.Client, cfg.QueueKey), func() {}, nil
	}
}

func validate(ctx context.Context, q queue.Queue, subs *submission.Repository, v *submission.Validator) {
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Printf("in-process validation disabled: %v", err)
		return
	}
	for msg := range messages {
		if msg.Type != queue.TypeSubmissionCreated {
			continue
		}
		rec, err := subs.Get(ctx, string(msg.Body))
		if err != nil {
			log.Printf("fetch submission %s failed: %v", msg.Body, err)
			continue
		}
		if _, err := v.Handle(ctx, rec); err != nil {
			log.Printf("validate submission %s failed: %v", rec.ID, err)
		}
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	return c
}
