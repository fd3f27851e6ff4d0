package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rent_wallet/internal/apierror"
	"github.com/congo-pay/rent_wallet/internal/auth"
)

const callerLocal = "caller"

// CallToken verifies the bearer call token for operation fn against the
// request body and attaches the caller to the request context. Each token is
// accepted once.
func CallToken(verifier *auth.Verifier, guard *auth.ReplayGuard, fn string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		call, err := verifyCall(c, verifier, fn)
		if err != nil {
			return err
		}

		if err := guard.Spend(c.UserContext(), call); err != nil {
			if errors.Is(err, auth.ErrReplayedToken) {
				return apierror.New(http.StatusConflict, apierror.CodeConflict, err.Error())
			}
			logger.Error("call token replay check failed", slog.String("fn", fn), slog.Any("error", err))
			return apierror.New(http.StatusInternalServerError, apierror.CodeInternal, "replay check failure")
		}

		c.Locals(callerLocal, call.Caller.String())
		c.SetUserContext(auth.WithCaller(c.UserContext(), call.Caller))
		return c.Next()
	}
}

// CallerPrincipal identifies the caller of fn for Idempotency. The token is
// verified but not spent, so a retry can present the token it already used.
func CallerPrincipal(verifier *auth.Verifier, fn string) PrincipalFunc {
	return func(c *fiber.Ctx) (string, error) {
		call, err := verifyCall(c, verifier, fn)
		if err != nil {
			return "", err
		}
		return call.Caller.String(), nil
	}
}

func verifyCall(c *fiber.Ctx, verifier *auth.Verifier, fn string) (auth.Call, error) {
	authz := c.Get(fiber.HeaderAuthorization)
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return auth.Call{}, apierror.New(http.StatusUnauthorized, apierror.CodeUnauthorized, "missing bearer call token")
	}
	call, err := verifier.Verify(strings.TrimSpace(authz[len("Bearer "):]), fn, c.Body())
	if err != nil {
		return auth.Call{}, apierror.New(http.StatusUnauthorized, apierror.CodeUnauthorized, err.Error())
	}
	return call, nil
}
