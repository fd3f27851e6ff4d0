package routes

import (
    "log/slog"

    "github.com/gofiber/fiber/v2"

    "github.com/congo-pay/rent_wallet/internal/auth"
    "github.com/congo-pay/rent_wallet/internal/ledger"
    "github.com/congo-pay/rent_wallet/internal/middleware"
    "github.com/congo-pay/rent_wallet/internal/wallet"
)

// LedgerGuards carries the middleware that protects ledger routes.
type LedgerGuards struct {
    Verifier  *auth.Verifier
    Replay    *auth.ReplayGuard
    DeployKey auth.DeployKey
    RateLimit fiber.Handler
    // Idempotency builds the idempotency middleware for a route; principal
    // names the caller whose stored responses may be replayed.
    Idempotency func(principal middleware.PrincipalFunc) fiber.Handler
    Logger      *slog.Logger
}

// admin chains the guards of a call-token route. Idempotency verifies the
// token without spending it so a retry replays the stored response; the
// token is spent only when the call actually runs.
func (g LedgerGuards) admin(fn string, h fiber.Handler) []fiber.Handler {
    return []fiber.Handler{
        g.RateLimit,
        g.Idempotency(middleware.CallerPrincipal(g.Verifier, fn)),
        middleware.CallToken(g.Verifier, g.Replay, fn, g.Logger),
        h,
    }
}

// RegisterLedgerRoutes wires ledger endpoints.
func RegisterLedgerRoutes(r fiber.Router, h *wallet.Handler, g LedgerGuards) {
    l := r.Group("/ledger")

    l.Post("/init", g.RateLimit, middleware.RequireDeployKey(g.DeployKey), g.Idempotency(nil), h.Init)

    l.Post("/credit", g.admin(ledger.EventCredit, h.Credit)...)
    l.Post("/debit", g.admin(ledger.EventDebit, h.Debit)...)
    l.Post("/admin", g.admin(ledger.EventSetAdmin, h.SetAdmin)...)
    l.Post("/pause", g.admin(ledger.EventPause, h.Pause)...)
    l.Post("/unpause", g.admin(ledger.EventUnpause, h.Unpause)...)

    l.Get("/balances/:address", h.Balance)
    l.Get("/paused", h.Paused)
    l.Get("/status", h.Status)
}
