package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chatgate/internal/anythingllm"
	"chatgate/internal/chat"
	"chatgate/internal/config"
	"chatgate/internal/consent"
	"chatgate/internal/convlog"
	"chatgate/internal/events"
	"chatgate/internal/httpapi"
	"chatgate/internal/httpapi/handlers"
	"chatgate/internal/ratelimit"
	"chatgate/internal/respcache"
	"chatgate/internal/scheduler"
	"chatgate/internal/stats"
	"chatgate/internal/store"
	"chatgate/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	db, err := store.Connect(cfg.DBDSN)
	if err != nil {
		log.WithError(err).Fatal("database connect failed")
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rds.Ping(ctx); err != nil {
		log.WithError(err).Fatal("redis connect failed")
	}

	// events are optional; without a broker URL the nil publisher is a no-op
	var publisher *events.Publisher
	if cfg.RabbitURL != "" {
		publisher, err = events.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.WithError(err).Fatal("rabbitmq connect failed")
		}
		defer publisher.Close()
	}

	upstream := anythingllm.NewClient(cfg.APIBaseURL, cfg.APIKey, cfg.WorkspaceSlug, cfg.RequestTimeout)
	if !upstream.Configured() {
		log.Warn("upstream not configured, chat requests will fail until it is")
	}

	limiter := ratelimit.New(rds, cfg.RateLimit, cfg.RateWindow)
	consents := consent.NewService(consent.NewRepo(db), cfg.Secret, cfg.ConsentDays, cfg.ConsentRequired, log)
	cache := respcache.New(rds, cfg.WorkspaceSlug, cfg.CacheEnabled, cfg.CacheTTL)
	logs := convlog.NewService(convlog.NewRepo(db), cfg.LogsEnabled, cfg.Secret, cfg.RetentionDays, log)
	statsSvc := stats.NewService(db, rds, cfg.StatsEnabled, log)

	chatSvc := chat.NewService(upstream, limiter, consents, cache, logs, statsSvc, publisher, chat.Options{
		MaxMessageChars:    cfg.MaxMessageChars,
		DefaultImagePrompt: cfg.DefaultImagePrompt,
		AllowAttachments:   cfg.UploadEnabled,
		MaxAttachmentBytes: int64(cfg.MaxFileSizeMB) << 20,
		AllowedExtensions:  cfg.AllowedFileTypes,
	}, log)

	h := handlers.NewHandler(cfg, chatSvc, upstream, limiter, consents, cache, logs, statsSvc, publisher, log)
	r := httpapi.NewRouter(h, cfg.AdminToken, log)

	sched := &scheduler.Scheduler{
		Logs:     logs,
		Consents: consents,
		Stats:    statsSvc,
		Cache:    cache,
		Events:   publisher,
		Log:      log,
	}
	go sched.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}

	// flush today's counters so a restart loses nothing
	if err := statsSvc.Flush(shutdownCtx); err != nil {
		log.WithError(err).Warn("final stats flush failed")
	}
}
