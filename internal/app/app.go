package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	_ "shopflow/docs"
	"shopflow/internal/config"
	"shopflow/internal/handlers"
	"shopflow/internal/logging"
	"shopflow/internal/metrics"
	"shopflow/internal/middleware"
	"shopflow/internal/rate"
	"shopflow/internal/repositories"
	"shopflow/internal/routes"
	"shopflow/internal/services"
	"shopflow/internal/tracing"
)

type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	router  *gin.Engine
	closers []func(context.Context) error
}

// Run читает конфиг, поднимает сервер и ждёт SIGINT/SIGTERM.
func Run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.Name, cfg.App.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// New собирает зависимости: store → сервисы → хендлеры → gin.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	// === Tracing ===
	shutdownTracing, err := tracing.Init(ctx, cfg.App.Name, cfg.App.Env, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdownTracing)

	// === Store ===
	var (
		accounts repositories.AccountRepository
		health   *handlers.HealthHandler
	)
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory account store; data is lost on restart")
		accounts = repositories.NewMemoryAccountRepository()
		health = handlers.NewHealthHandler(nil)
	default:
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		if cfg.Database.AutoMigrate {
			if err := repositories.Migrate(ctx, db); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		accounts = repositories.NewAccountRepository(db)
		health = handlers.NewHealthHandler(db)
	}

	// === Services ===
	hasher, err := services.NewPasswordHasher(cfg.Password.Algorithm, cfg.Password.BcryptCost, services.Argon2Params{
		Memory:      cfg.Password.Argon2.Memory,
		Iterations:  cfg.Password.Argon2.Iterations,
		Parallelism: cfg.Password.Argon2.Parallelism,
		SaltLength:  cfg.Password.Argon2.SaltLength,
		KeyLength:   cfg.Password.Argon2.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	clock := services.SystemClock()
	tokens, err := services.NewTokenService(services.TokenConfig{
		AccessSecret:  cfg.Tokens.AccessSecret,
		RefreshSecret: cfg.Tokens.RefreshSecret,
		Issuer:        cfg.Tokens.Issuer,
		AccessTTL:     cfg.Tokens.AccessTTL,
		RefreshTTL:    cfg.Tokens.RefreshTTL,
	}, clock)
	if err != nil {
		return nil, err
	}
	otp, err := services.NewOTPService(cfg.OTP.Secret, cfg.OTP.Digits)
	if err != nil {
		return nil, err
	}
	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return nil, err
	}

	authService := services.NewAuthService(services.AuthDeps{
		Accounts:        accounts,
		Hasher:          hasher,
		Tokens:          tokens,
		OTP:             otp,
		Notifier:        notifier,
		Logger:          logger,
		Clock:           clock,
		VerificationTTL: cfg.OTP.VerificationTTL,
		ResetTTL:        cfg.OTP.ResetTTL,
	})
	userService := services.NewUserService(accounts, hasher, notifier, logger, clock)

	// === Rate limiting ===
	limiters, err := a.newLimiters(ctx)
	if err != nil {
		return nil, err
	}

	// === Metrics ===
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	// === Handlers ===
	cookies := handlers.CookieOptions{Secure: cfg.SecureCookies(), Domain: cfg.Cookies.Domain}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(
		middleware.RequestID(),
		tracing.Middleware(cfg.App.Name),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.CORS([]string{cfg.App.FrontendURL}),
	)
	routes.SetupRoutes(router, routes.Deps{
		Auth:          handlers.NewAuthHandler(authService, cookies, logger),
		Users:         handlers.NewUserHandler(userService, cookies),
		Health:        health,
		Authenticator: authService,
		Limiters:      limiters,
		Metrics:       metrics.Handler(registry),
		Logger:        logger,
	})
	a.router = router

	ok = true
	return a, nil
}

func (a *App) Handler() http.Handler {
	return a.router
}

// Close закрывает ресурсы в обратном порядке.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// newNotifier: email — основной канал (его ошибка важна для OTP), Telegram — только алерты.
func newNotifier(cfg *config.Config, logger *slog.Logger) (services.Notifier, error) {
	email := services.NewEmailService(services.EmailConfig{
		SMTPHost:     cfg.Email.SMTPHost,
		SMTPPort:     cfg.Email.SMTPPort,
		SMTPUser:     cfg.Email.SMTPUser,
		SMTPPassword: cfg.Email.SMTPPassword,
		FromEmail:    cfg.Email.FromEmail,
		FromName:     cfg.Email.FromName,
		AppName:      cfg.App.Name,
		FrontendURL:  cfg.App.FrontendURL,
	}, logger)

	var observers []services.Notifier
	if cfg.Telegram.BotToken != "" {
		tg, err := services.NewTelegramService(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.App.Name)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		observers = append(observers, tg)
	}
	return services.NewNotifierGroup(email, logger, observers...), nil
}

func (a *App) newLimiters(ctx context.Context) (map[rate.Class]rate.Limiter, error) {
	policies := a.cfg.RateLimit.Policies()
	limiters := make(map[rate.Class]rate.Limiter, len(policies))

	if a.cfg.RateLimit.Backend != "redis" {
		for class, p := range policies {
			limiters[class] = rate.NewMemory(p.Limit, p.Window)
		}
		return limiters, nil
	}

	rc := a.cfg.RateLimit.Redis
	client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	for class, p := range policies {
		limiters[class] = rate.NewRedisLimiter(client, p.Limit, p.Window, rc.Prefix)
	}
	return limiters, nil
}
