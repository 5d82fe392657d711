package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/quorum/internal/api"
	"github.com/charlesng35/quorum/internal/app"
	"github.com/charlesng35/quorum/internal/app/maintenance"
	iauth "github.com/charlesng35/quorum/internal/auth"
	"github.com/charlesng35/quorum/internal/cache"
	"github.com/charlesng35/quorum/internal/database"
	"github.com/charlesng35/quorum/internal/middleware"
	"github.com/charlesng35/quorum/internal/notifications"
	"github.com/charlesng35/quorum/internal/signing"
	"github.com/charlesng35/quorum/internal/store"
	"github.com/charlesng35/quorum/pkg/logger"
	"github.com/charlesng35/quorum/pkg/mail"
	"github.com/charlesng35/quorum/pkg/sms"
	"github.com/charlesng35/quorum/pkg/validator"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Signing   *store.SigningStore
	Audit     *store.AuditRecorder
	Issuer    *signing.Issuer
	Verifier  *signing.Verifier
	Status    *signing.Aggregator
	Cleaner   *maintenance.Cleaner
	RateStore middleware.RateStore
	Router    *gin.Engine
}

// bootstrapRuntime initialises the database, delivery channels, signing services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if stack.Signing, err = store.NewSigningStore(stack.DB); err != nil {
		return nil, fmt.Errorf("initialise signing store: %w", err)
	}
	if stack.Audit, err = store.NewAuditRecorder(stack.DB); err != nil {
		return nil, fmt.Errorf("initialise audit recorder: %w", err)
	}

	dispatcher, err := buildDispatcher(cfg.Notifications, log)
	if err != nil {
		return nil, err
	}

	signingCfg, err := cfg.Signing.ServiceConfig()
	if err != nil {
		return nil, err
	}

	stack.Issuer, err = signing.NewIssuer(stack.Signing, dispatcher, signingCfg, signing.WithRecorder(stack.Audit))
	if err != nil {
		return nil, fmt.Errorf("initialise credential issuer: %w", err)
	}
	stack.Verifier, err = signing.NewVerifier(stack.Signing, signingCfg, signing.WithRecorder(stack.Audit))
	if err != nil {
		return nil, fmt.Errorf("initialise signing verifier: %w", err)
	}
	stack.Status, err = signing.NewAggregator(stack.Signing, signingCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise status aggregator: %w", err)
	}

	var jwtSvc *iauth.JWTService
	if cfg.Auth.JWTEnabled() {
		if jwtSvc, err = iauth.NewJWTService(cfg.Auth.JWTServiceConfig()); err != nil {
			return nil, fmt.Errorf("initialise jwt service: %w", err)
		}
	} else {
		log.Warn("auth.jwt.secret not set; credential issuance is unauthenticated")
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.Signing, stack.Audit,
			maintenance.WithCredentialSchedule(cfg.Maintenance.CredentialSchedule),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
			maintenance.WithCredentialGrace(cfg.Maintenance.CredentialGrace),
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithStatusReconciliation(stack.Signing, stack.Status),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	policy := cfg.RateLimit.Policy()
	if policy.Enabled() {
		stack.RateStore = stack.buildRateStore(ctx, cfg.RateLimit, policy, log)
	}

	metricsPath := ""
	if cfg.Monitoring.Prometheus.Enabled {
		metricsPath = cfg.Monitoring.Prometheus.Endpoint
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:          stack.DB,
		Issuer:      stack.Issuer,
		Verifier:    stack.Verifier,
		JWT:         jwtSvc,
		RateStore:   stack.RateStore,
		RatePolicy:  policy,
		MetricsPath: metricsPath,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}
	if err := stack.Router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("configure trusted proxies: %w", err)
	}

	success = true
	return stack, nil
}

// buildRateStore prefers the shared Redis bucket and falls back to in-process limiting.
func (s *runtimeStack) buildRateStore(ctx context.Context, cfg app.RateLimitConfig, policy middleware.RatePolicy, log *zap.Logger) middleware.RateStore {
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable; falling back to in-memory rate limiting", zap.Error(err))
		} else {
			s.Redis = client
			log.Info("redis connected", zap.String("addr", cfg.Redis.Address))
			return middleware.NewRedisRateStore(client, policy)
		}
	}
	return middleware.NewMemoryRateStore(policy)
}

// buildDispatcher wires the configured delivery channels behind a single router.
func buildDispatcher(cfg app.NotificationsConfig, log *zap.Logger) (*notifications.Router, error) {
	opts := []notifications.RouterOption{
		notifications.WithFallback(notifications.NewLogDispatcher(cfg.LogBodies)),
	}

	if cfg.SMS.Enabled {
		sender, err := sms.NewGatewayClient(cfg.SMS.SMSSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise sms gateway: %w", err)
		}
		opts = append(opts, notifications.WithSMS(sender))
	}

	if cfg.SMTP.Enabled {
		mailer, err := mail.NewSMTPMailer(cfg.SMTP.SMTPSettings())
		if err != nil {
			return nil, fmt.Errorf("initialise smtp mailer: %w", err)
		}
		opts = append(opts, notifications.WithMailer(mailer, cfg.EmailSubject))
	}

	if !cfg.SMS.Enabled && !cfg.SMTP.Enabled {
		log.Warn("no delivery channel configured; signing codes will not reach signatories")
	}
	if cfg.LogBodies {
		log.Warn("notifications.log_bodies is enabled; one-time codes are written to the log")
	}

	return notifications.NewRouter(opts...), nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		if stopCtx := s.Cleaner.Stop(); stopCtx != nil {
			select {
			case <-stopCtx.Done():
			case <-ctx.Done():
				log.Warn("maintenance jobs still running at shutdown")
			}
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			log.Warn("failed to close database", zap.Error(err))
		}
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.DatabaseSettings()
	// A resolution row lock must not outlive the store call waiting on it.
	dbCfg.LockTimeout = cfg.Signing.StoreTimeout
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

// seedDemo creates a draft resolution for local testing and logs the identifiers needed to drive it.
func seedDemo(db *gorm.DB, title string, signatories []database.DemoSignatory, log *zap.Logger) error {
	if len(signatories) == 0 {
		signatories = defaultDemoSignatories
	}
	res, err := database.SeedDemo(db, title, signatories)
	if err != nil {
		return fmt.Errorf("seed demo resolution: %w", err)
	}
	log.Info("seeded demo resolution",
		logger.ResolutionID(res.ID),
		zap.String("title", res.Title),
		zap.Int("signatories", len(signatories)))
	return nil
}

var defaultDemoSignatories = []database.DemoSignatory{
	{Name: "Alex Chair", ContactAddress: "chair@example.com"},
	{Name: "Sam Treasurer", ContactAddress: "+14155550101"},
	{Name: "Jo Secretary", ContactAddress: "secretary@example.com"},
}

// parseDemoSignatory accepts "Name=address".
func parseDemoSignatory(value string) (database.DemoSignatory, error) {
	name, address, ok := strings.Cut(value, "=")
	name, address = strings.TrimSpace(name), strings.TrimSpace(address)
	if !ok || name == "" || address == "" {
		return database.DemoSignatory{}, fmt.Errorf("invalid signatory %q, expected Name=address", value)
	}
	if !validator.IsContact(address) {
		return database.DemoSignatory{}, fmt.Errorf("invalid signatory %q: address must be an E.164 number or e-mail", value)
	}
	return database.DemoSignatory{Name: name, ContactAddress: address}, nil
}
