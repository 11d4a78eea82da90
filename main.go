package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/face-auth/internal/auth"
	"github.com/example/face-auth/internal/biometric"
	"github.com/example/face-auth/internal/config"
	"github.com/example/face-auth/internal/grpcclient"
	"github.com/example/face-auth/internal/handlers"
	"github.com/example/face-auth/internal/imaging"
	"github.com/example/face-auth/internal/logging"
	"github.com/example/face-auth/internal/passport"
	"github.com/example/face-auth/internal/registration"
	"github.com/example/face-auth/internal/repository"
	"github.com/example/face-auth/internal/session"
	"github.com/example/face-auth/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	db := initDatabase(ctx, cfg, logger)
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repository.AutoMigrate(ctx, db); err != nil {
		logger.Fatal("auto migrate failed", zap.Error(err))
	}

	redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
	defer redisCancel()
	redisClient := initRedis(redisCtx, cfg, logger)
	defer redisClient.Close()

	extractor, conn, err := grpcclient.DialExtractor(ctx, cfg.ExtractorAddr, logger)
	if err != nil {
		logger.Fatal("failed to connect to face extractor", zap.Error(err))
	}
	defer conn.Close()

	passports, err := initPassportStore(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise passport store", zap.Error(err))
	}

	users := repository.NewUserRepository(db, logger)
	sessions := repository.NewSessionRepository(db, logger)
	attempts := repository.NewVerificationRepository(db, logger)

	issuer := session.NewIssuer(sessions, users, logger,
		session.WithCache(session.NewRedisCache(redisClient)),
		session.WithTTL(cfg.SessionTTL),
	)
	decoder := imaging.Decoder{MaxPixels: cfg.ImageMaxPixels}
	pipeline := registration.NewPipeline(users, extractor, passports, decoder, cfg.PassportPadding, logger)
	verifier := biometric.NewVerifier(cfg.VerifyThreshold, cfg.VerifyRequiredMatches)
	login := usecase.NewLoginUseCase(users, attempts, extractor, decoder, verifier, issuer, logger)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go issuer.RunJanitor(janitorCtx, cfg.SessionPurgeInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	handlers.RegisterRoutes(r, handlers.Dependencies{
		Registrar:     pipeline,
		Authenticator: login,
		Sessions:      issuer,
		Cookie:        auth.CookieOptions{Secure: cfg.CookieSecure},
		Logger:        logger,
	}, auth.SessionMiddleware(issuer, logger))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face auth API listening", zap.String("addr", cfg.HTTPAddr))
	if err := serveHTTPServer(server, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

func initDatabase(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *gorm.DB {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		zapLogger.Fatal("failed to access db handle", zap.Error(err))
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.PingContext(ctx); err != nil {
		zapLogger.Fatal("database ping failed", zap.Error(err))
	}

	return db
}

func initRedis(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	return client
}

func initPassportStore(ctx context.Context, cfg *config.Config) (passport.Store, error) {
	if cfg.PassportBackend == config.PassportBackendS3 {
		return passport.NewS3Store(ctx, passport.S3Options{
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			BaseEndpoint: cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
		})
	}
	return passport.NewLocalStore(cfg.PassportDir)
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
