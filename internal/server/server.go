package server

import (
    "context"
    "errors"
    "log/slog"
    "time"

    "github.com/gofiber/fiber/v2"
    "github.com/redis/go-redis/v9"

    "github.com/congo-pay/rent_wallet/internal/apierror"
    "github.com/congo-pay/rent_wallet/internal/auth"
    "github.com/congo-pay/rent_wallet/internal/config"
    "github.com/congo-pay/rent_wallet/internal/ledger"
    "github.com/congo-pay/rent_wallet/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
    app      *fiber.App
    cfg      config.Config
    store    ledger.Store
    cache    *redis.Client
    contract *ledger.Contract
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, store ledger.Store, cache *redis.Client, sink ledger.EventSink, logger *slog.Logger) (*Server, error) {
    app := fiber.New(fiber.Config{
        AppName:      cfg.AppName,
        ReadTimeout:  30 * time.Second,
        WriteTimeout: 30 * time.Second,
        BodyLimit:    64 * 1024,
        ErrorHandler: apierror.Handler(logger),
    })

    if store == nil {
        return nil, errors.New("ledger store is required")
    }
    contract := ledger.New(store, auth.CallerAuthenticator{},
        ledger.WithEventSink(sink),
        ledger.WithLogger(logger),
    )

    deps := routes.Deps{Cfg: cfg, Store: store, Contract: contract, Cache: cache, Logger: logger}
    if err := routes.Setup(app, deps); err != nil {
        _ = contract.Close(context.Background())
        return nil, err
    }

    return &Server{app: app, cfg: cfg, store: store, cache: cache, contract: contract}, nil
}

// App exposes the underlying Fiber application, mainly for tests.
func (s *Server) App() *fiber.App {
    return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
    return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then delivers the ledger events
// still queued for the sink.
func (s *Server) Shutdown(ctx context.Context) error {
    if err := s.app.ShutdownWithContext(ctx); err != nil {
        return err
    }
    return s.contract.Close(ctx)
}
