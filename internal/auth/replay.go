package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayPrefix = "calltoken:v1:"

// ReplayGuard remembers spent token ids until they expire. Without Redis it
// accepts every token.
type ReplayGuard struct {
	cache  *redis.Client
	prefix string
	now    func() time.Time
}

// NewReplayGuard returns a guard namespaced by ledgerID.
func NewReplayGuard(cache *redis.Client, ledgerID string) *ReplayGuard {
	return &ReplayGuard{
		cache:  cache,
		prefix: replayPrefix + ledgerID + ":",
		now:    time.Now,
	}
}

// Spend marks call as used. A token id seen before fails with
// ErrReplayedToken.
func (g *ReplayGuard) Spend(ctx context.Context, call Call) error {
	if g == nil || g.cache == nil {
		return nil
	}
	ttl := call.ExpiresAt.Sub(g.now())
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := g.cache.SetNX(ctx, g.prefix+call.TokenID, call.Caller.String(), ttl).Result()
	if err != nil {
		return fmt.Errorf("record call token: %w", err)
	}
	if !ok {
		return ErrReplayedToken
	}
	return nil
}
