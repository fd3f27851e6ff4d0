package routes

import (
    "fmt"
    "log/slog"
    "net/http"
    "strings"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/gofiber/fiber/v2/middleware/cors"
    "github.com/gofiber/fiber/v2/middleware/logger"
    "github.com/gofiber/fiber/v2/middleware/recover"
    "github.com/redis/go-redis/v9"

    "github.com/congo-pay/rent_wallet/internal/auth"
    "github.com/congo-pay/rent_wallet/internal/config"
    "github.com/congo-pay/rent_wallet/internal/ledger"
    "github.com/congo-pay/rent_wallet/internal/middleware"
    "github.com/congo-pay/rent_wallet/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
    Cfg      config.Config
    Store    ledger.Store
    Contract *ledger.Contract
    Cache    *redis.Client
    Logger   *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
    if d.Store == nil || d.Contract == nil {
        return fmt.Errorf("ledger store and contract are required")
    }
    // Enforce Redis presence outside of dev, even though config also checks.
    if !d.Cfg.IsDev() && d.Cache == nil {
        return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
    }

    // Middlewares
    app.Use(recover.New())
    if len(d.Cfg.CORSOrigins) > 0 {
        app.Use(cors.New(cors.Config{
            AllowOrigins:  strings.Join(d.Cfg.CORSOrigins, ","),
            AllowMethods:  "GET,POST,OPTIONS",
            AllowHeaders:  "Authorization,Content-Type,Idempotency-Key,X-Deploy-Key,X-Request-ID",
            ExposeHeaders: "Idempotent-Replayed,X-Request-ID,Retry-After",
            MaxAge:        600,
        }))
    }
    app.Use(middleware.RequestID())
    app.Use(middleware.Tracing(d.Cfg.AppName))
    if d.Cfg.IsDev() {
        // Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
        app.Use(logger.New(logger.Config{
            Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
            TimeFormat: "15:04:05",
            TimeZone:   "Local",
        }))
    }
    app.Use(middleware.Audit(d.Logger))

    // Health
    RegisterHealthRoutes(app, d)

    walletHandler := wallet.NewHandler(wallet.NewService(d.Contract, d.Cfg.DisplayScale))

    // API routes
    api := app.Group("/api/v1")
    api.Get("/ping", func(c *fiber.Ctx) error {
        return c.Status(http.StatusOK).JSON(fiber.Map{
            "status":     "ok",
            "request_id": middleware.RequestIDFrom(c),
            "timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
        })
    })

    RegisterLedgerRoutes(api, walletHandler, LedgerGuards{
        Verifier:  auth.NewVerifier(d.Cfg.TokenAudience, d.Cfg.TokenMaxTTL),
        Replay:    auth.NewReplayGuard(d.Cache, d.Cfg.LedgerID),
        DeployKey: auth.NewDeployKey(d.Cfg.DeployKeyHash),
        RateLimit: middleware.RateLimit(d.Cache, d.Cfg.LedgerID, d.Cfg.RateLimit),
        Idempotency: func(principal middleware.PrincipalFunc) fiber.Handler {
            return middleware.Idempotency(d.Cache, d.Cfg.LedgerID, d.Cfg.IdempotencyTTL, d.Logger, principal)
        },
        Logger: d.Logger,
    })

    return nil
}
