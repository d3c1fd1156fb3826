package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/audit"
	"github.com/iliyamo/auth-service/internal/breach"
	"github.com/iliyamo/auth-service/internal/config"
	"github.com/iliyamo/auth-service/internal/database"
	"github.com/iliyamo/auth-service/internal/email"
	"github.com/iliyamo/auth-service/internal/metrics"
	"github.com/iliyamo/auth-service/internal/queue"
	"github.com/iliyamo/auth-service/internal/ratelimit"
	"github.com/iliyamo/auth-service/internal/repository"
	"github.com/iliyamo/auth-service/internal/service"
	"github.com/iliyamo/auth-service/internal/utils"
)

// app holds every long-lived component.  Each one is built here once and
// handed to its consumers explicitly.
type app struct {
	cfg config.Config
	log *zap.Logger
	db  *sql.DB

	hasher     *utils.Hasher
	dispatcher *email.Dispatcher
	auditor    *audit.Recorder
	publisher  *queue.Publisher
	closers    []func()

	users    *repository.UserRepo
	sessions *repository.TokenRepo
	keyRepo  *repository.APIKeyRepo
	counters *repository.RateLimitRepo

	tokens  *service.TokenService
	auth    *service.AuthService
	keys    *service.APIKeyService
	sweeper *service.Sweeper
	limiter *ratelimit.Limiter
	metrics http.Handler
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func buildApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	if err := config.ValidateJWTSecret(cfg.JWTSecret, cfg.Debug, log); err != nil {
		return nil, err
	}
	codec, err := utils.NewCodec(cfg.JWTSecret, cfg.JWTAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfigurationFatal, err)
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, db: db}

	a.metrics, err = metrics.Register(prometheus.DefaultRegisterer)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	a.hasher = utils.NewHasher(utils.HashParams{
		Time: cfg.Argon2Time, Memory: cfg.Argon2Memory, Parallelism: cfg.Argon2Parallelism,
	}, cfg.HashWorkers)
	a.hasher.Observe = metrics.ObserveHash
	a.hasher.Start()

	a.users = repository.NewUserRepo(db)
	a.sessions = repository.NewTokenRepo(db)
	a.keyRepo = repository.NewAPIKeyRepo(db)
	a.counters = repository.NewRateLimitRepo(db)

	a.dispatcher = email.NewDispatcher(a.mailSender(), cfg.MailQueueSize, cfg.MailWorkers, log.Named("mail"))
	a.dispatcher.Start()
	a.auditor = audit.NewRecorder(repository.NewAuditRepo(db), cfg.AuditQueueSize, log.Named("audit"))
	a.auditor.Start()

	bl := breach.New()
	if n, err := bl.LoadFile(cfg.BreachedPasswordsFile, log); err != nil {
		log.Warn("breached password list not loaded", zap.Error(err))
	} else if n > 0 {
		log.Info("breached password list loaded", zap.Int("entries", n))
	}

	a.tokens = service.NewTokenService(codec, a.sessions, a.users, cfg.AccessTTL, cfg.RefreshTTL)
	a.auth = service.NewAuthService(service.AuthDeps{
		Users:           a.users,
		Sessions:        a.sessions,
		Tokens:          a.tokens,
		Hasher:          a.hasher,
		Notifier:        a.dispatcher,
		Breach:          bl,
		Audit:           a.auditor,
		Mail:            email.Templates{BaseURL: cfg.BaseURL, AppName: cfg.AppName},
		Log:             log.Named("auth"),
		VerificationTTL: cfg.VerificationTTL,
		ResetTTL:        cfg.ResetTTL,
	})
	a.keys = service.NewAPIKeyService(a.keyRepo, cfg.APIKeyPrefix, log.Named("apikey"))

	var purger service.CounterPurger
	if cfg.RateLimit.Enabled {
		store := a.counterStore()
		if _, ok := store.(*ratelimit.SQLStore); ok {
			purger = a.counters
		}
		a.limiter = ratelimit.NewLimiter(store, cfg.RateLimit.Rules, cfg.RateLimit.FailOpen, log.Named("ratelimit"))
	}
	a.sweeper = service.NewSweeper(a.sessions, purger, cfg.PurgeInterval, cfg.PurgeRetention, log.Named("sweeper"))
	return a, nil
}

func (a *app) mailSender() email.Sender {
	switch a.cfg.MailTransport {
	case "smtp":
		return email.NewSMTPSender(smtpConfig(a.cfg), a.log.Named("smtp"))
	case "amqp":
		a.publisher = queue.NewPublisher(a.cfg.RabbitMQURL, a.log.Named("amqp"))
		return a.publisher
	default:
		return email.LogSender{Log: a.log.Named("mail")}
	}
}

func smtpConfig(cfg config.Config) email.SMTPConfig {
	return email.SMTPConfig{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort, User: cfg.SMTPUser, Pass: cfg.SMTPPassword,
		From: cfg.SMTPFrom, TLSMode: cfg.SMTPTLSMode,
	}
}

// counterStore picks the rate-limit backend.  An unreachable Redis falls
// back to MySQL rather than disabling the limiter.
func (a *app) counterStore() ratelimit.CounterStore {
	switch a.cfg.RateLimit.Backend {
	case "redis":
		if rdb := config.NewRedisClient(a.cfg.Redis); rdb != nil {
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			return ratelimit.NewRedisStore(rdb, a.cfg.RateLimit.Prefix)
		}
		a.log.Warn("redis unreachable, rate limiting on mysql", zap.String("addr", a.cfg.Redis.Addr))
	case "memory":
		return ratelimit.NewMemoryStore()
	}
	return ratelimit.NewSQLStore(a.counters)
}

// close releases components in reverse dependency order: queued mail and
// audit events are flushed before the hashing pool and the database go away.
func (a *app) close(ctx context.Context) {
	if err := a.dispatcher.Close(ctx); err != nil {
		a.log.Warn("mail queue not fully drained", zap.Error(err))
	}
	if err := a.auditor.Close(ctx); err != nil {
		a.log.Warn("audit queue not fully drained", zap.Error(err))
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	a.hasher.Close()
	for _, c := range a.closers {
		c()
	}
	_ = a.db.Close()
}
