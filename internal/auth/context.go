package auth

import (
	"context"
	"fmt"

	"github.com/congo-pay/rent_wallet/internal/ledger"
)

type callerKey struct{}

// WithCaller attaches a verified caller address to ctx.
func WithCaller(ctx context.Context, caller ledger.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the verified caller on ctx, if any.
func CallerFrom(ctx context.Context) (ledger.Address, bool) {
	caller, ok := ctx.Value(callerKey{}).(ledger.Address)
	return caller, ok && caller != ""
}

// CallerAuthenticator authorizes a call when the verified caller on the
// context is the required identity.
type CallerAuthenticator struct{}

func (CallerAuthenticator) RequireAuth(ctx context.Context, identity ledger.Address) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return fmt.Errorf("%w: no verified caller", ledger.ErrUnauthorized)
	}
	if caller != identity {
		return fmt.Errorf("%w: caller %s is not %s", ledger.ErrUnauthorized, caller, identity)
	}
	return nil
}
