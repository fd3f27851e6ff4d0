package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/rent_wallet/internal/apierror"
	"github.com/congo-pay/rent_wallet/internal/auth"
)

const deployKeyHeader = "X-Deploy-Key"

// RequireDeployKey admits only requests presenting the deploy key.
func RequireDeployKey(key auth.DeployKey) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := key.Check(c.Get(deployKeyHeader)); err != nil {
			return apierror.New(http.StatusForbidden, apierror.CodeForbidden, err.Error())
		}
		return c.Next()
	}
}
