package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pocket-pay/pocket_pay/internal/account"
	"github.com/pocket-pay/pocket_pay/internal/config"
	"github.com/pocket-pay/pocket_pay/internal/grants"
	"github.com/pocket-pay/pocket_pay/internal/ledger"
	"github.com/pocket-pay/pocket_pay/internal/middleware"
	"github.com/pocket-pay/pocket_pay/internal/notification"
	"github.com/pocket-pay/pocket_pay/internal/openpayments"
	"github.com/pocket-pay/pocket_pay/internal/payments"
	"github.com/pocket-pay/pocket_pay/internal/reconcile"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	// Health
	RegisterHealthRoutes(app, d)

	// Storage backends
	var accountRepo account.Repository
	if d.DB != nil {
		accountRepo = account.NewPostgresRepository(d.DB)
	} else {
		accountRepo = account.NewMemoryRepository()
	}
	var transferStore ledger.Store
	if d.DB != nil {
		transferStore = ledger.NewPostgresStore(d.DB)
	} else {
		transferStore = ledger.NewInMemory()
	}
	var balanceCache reconcile.BalanceCache
	if d.Cache != nil {
		balanceCache = reconcile.NewRedisBalanceCache(d.Cache)
	} else {
		balanceCache = reconcile.NewMemoryBalanceCache()
	}

	// Open Payments client: a real HTTP client when the provider identity is
	// configured, the in-process simulator otherwise (dev only; Load rejects
	// an unconfigured provider outside of dev).
	var opClient openpayments.Client
	if d.Cfg.OpenPaymentsWalletAddressURL != "" {
		httpClient, err := openpayments.NewHTTPClient(openpayments.Config{
			WalletAddressURL: d.Cfg.OpenPaymentsWalletAddressURL,
			KeyID:            d.Cfg.OpenPaymentsKeyID,
			PrivateKeyPath:   d.Cfg.OpenPaymentsPrivateKeyPath,
		}, d.Logger)
		if err != nil {
			return err
		}
		opClient = httpClient
	} else {
		opClient = openpayments.NewSimulator()
	}

	// Services and handlers
	accountSvc := account.NewService(accountRepo)
	negotiator := grants.NewNegotiator(opClient, d.Cfg.OpenPaymentsWalletAddressURL, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)
	paymentSvc := payments.NewService(accountSvc, opClient, negotiator, transferStore, notifier, d.Logger)
	reconcileSvc := reconcile.NewService(accountSvc, opClient, negotiator, balanceCache, d.Cfg.SyncPageSize, d.Logger)

	accountHandler := account.NewHandler(accountSvc)
	paymentHandler := payments.NewHandler(paymentSvc)
	reconcileHandler := reconcile.NewHandler(reconcileSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAccountRoutes(api, accountHandler, reconcileHandler)
	RegisterTransferRoutes(api, paymentHandler)

	return nil
}
