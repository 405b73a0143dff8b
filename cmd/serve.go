package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/egor/permitchat/attachments"
	"github.com/egor/permitchat/chat"
	"github.com/egor/permitchat/config"
	"github.com/egor/permitchat/database"
	"github.com/egor/permitchat/database/queries"
	"github.com/egor/permitchat/faqbot"
	"github.com/egor/permitchat/handlers"
	"github.com/egor/permitchat/identity"
	"github.com/egor/permitchat/limiter"
	"github.com/egor/permitchat/notify"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	log.Info("Starting permitchat",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()

	if cfg.Database.AutoMigrate {
		m, err := database.NewMigrator(db, log)
		if err != nil {
			return err
		}
		if err := m.Up(); err != nil {
			return err
		}
	}

	caps, err := database.DetectCapabilities(ctx, db, log)
	if err != nil {
		return err
	}
	store := queries.NewStore(db, caps, cfg.Database.QueryTimeout)

	sessions, chatLimiter, loginLimiter, closeRedis, err := buildSessionBackends(cfg, log)
	if err != nil {
		return err
	}
	defer closeRedis()

	backend, uploadsDir, err := buildStorage(ctx, cfg, log)
	if err != nil {
		return err
	}

	sinks := []notify.Sink{notify.NewDBSink(store)}
	if cfg.Kafka.Enabled {
		kafkaSink, err := notify.NewKafkaSink(cfg.Kafka, log.Named("kafka"))
		if err != nil {
			return err
		}
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				log.Error("Error closing kafka producer", zap.Error(err))
			}
		}()
		sinks = append(sinks, kafkaSink)
	}
	dispatcher := notify.NewDispatcher(cfg.Chat.NotifyQueue, log.Named("notify"), sinks...)
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(ctx)
	}()

	faq, err := faqbot.Load(cfg.FAQ.Path)
	if err != nil {
		return err
	}

	service := chat.NewService(
		store,
		attachments.NewUploader(backend, cfg.Uploads.MaxSize),
		dispatcher,
		chat.Options{PollBatchLimit: cfg.Chat.PollBatchLimit, MaxMessageLen: cfg.Chat.MaxMessageLen},
		log.Named("chat"),
	)
	tokens := identity.NewTokenManager(cfg.JWT)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.New(handlers.Deps{
		Chat:          service,
		FAQ:           faq,
		Users:         store,
		Notifications: store,
		Tokens:        tokens,
		Cookies:       cfg.Cookie,
		Limiter:       chatLimiter,
		DB:            db,
		MaxBody:       cfg.Uploads.MaxSize + 1<<20,
	})
	router := handlers.NewRouter(h, handlers.RouterConfig{
		Resolver:     identity.NewResolver(tokens, sessions, cfg.Session.TTL, log),
		SessionTTL:   cfg.Session.TTL,
		CORSOrigins:  cfg.HTTP.CORSAllowOrigins,
		LoginLimiter: loginLimiter,
		UploadsDir:   uploadsDir,
		UploadsRoute: cfg.Uploads.PublicBaseURL,
		Log:          log,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			stop()
			<-dispatcherDone
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	stop()
	<-dispatcherDone
	log.Info("Server exited")
	return nil
}

// buildSessionBackends picks Redis when enabled and process memory
// otherwise. Limiters are nil when rate limiting is off.
func buildSessionBackends(cfg *config.Config, log *zap.Logger) (identity.SessionStore, limiter.Limiter, limiter.Limiter, func(), error) {
	limit, window := cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow

	if !cfg.Redis.Enabled {
		log.Warn("Redis disabled: sessions and rate limits are kept in memory")
		var chatLimiter, loginLimiter limiter.Limiter
		if cfg.HTTP.RateLimitEnabled {
			chatLimiter = limiter.NewMemoryLimiter(limit, window)
			loginLimiter = limiter.NewMemoryLimiter(limit, window)
		}
		return identity.NewMemorySessionStore(), chatLimiter, loginLimiter, func() {}, nil
	}

	rdb, err := database.OpenRedis(cfg.Redis, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	closeFn := func() {
		if err := rdb.Close(); err != nil {
			log.Error("Error closing redis", zap.Error(err))
		}
	}
	var chatLimiter, loginLimiter limiter.Limiter
	if cfg.HTTP.RateLimitEnabled {
		chatLimiter = limiter.NewRedisLimiter(rdb, cfg.App.Name+":ratelimit:chat:", limit, window)
		loginLimiter = limiter.NewRedisLimiter(rdb, cfg.App.Name+":ratelimit:login:", limit, window)
	}
	return identity.NewRedisSessionStore(rdb, cfg.Session.KeyPrefix), chatLimiter, loginLimiter, closeFn, nil
}

// buildStorage returns the attachment backend and, for local storage, the
// directory to serve publicly.
func buildStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (attachments.Storage, string, error) {
	switch cfg.Uploads.Backend {
	case "s3":
		s, err := attachments.NewS3Storage(ctx, cfg.S3, log.Named("s3"))
		if err != nil {
			return nil, "", err
		}
		log.Info("Attachments stored in S3", zap.String("bucket", cfg.S3.Bucket))
		return s, "", nil
	default:
		s, err := attachments.NewLocalStorage(cfg.Uploads.Dir, cfg.Uploads.PublicBaseURL)
		if err != nil {
			return nil, "", err
		}
		dir := ""
		if strings.HasPrefix(cfg.Uploads.PublicBaseURL, "/") {
			dir = s.Dir()
		}
		log.Info("Attachments stored on disk", zap.String("dir", s.Dir()))
		return s, dir, nil
	}
}
