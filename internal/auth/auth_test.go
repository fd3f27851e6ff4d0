package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/congo-pay/rent_wallet/internal/ledger"
)

func TestAddress_RoundTrip(t *testing.T) {
	addr, priv, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	parsed, err := ParseAddress(" " + addr.String() + " ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != addr {
		t.Fatalf("expected %s, got %s", addr, parsed)
	}

	decoded, err := DecodePrivateKey(EncodePrivateKey(priv))
	if err != nil {
		t.Fatalf("decode private key: %v", err)
	}
	if !decoded.Equal(priv) {
		t.Fatalf("private key did not round trip")
	}

	for _, bad := range []string{"", "admin", "AAAA"} {
		if _, err := ParseAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("expected invalid address for %q, got %v", bad, err)
		}
	}
}

func TestCallerAuthenticator(t *testing.T) {
	var a CallerAuthenticator
	ctx := context.Background()

	if err := a.RequireAuth(ctx, "admin"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without caller, got %v", err)
	}
	if err := a.RequireAuth(WithCaller(ctx, "someone"), "admin"); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for other caller, got %v", err)
	}
	if err := a.RequireAuth(WithCaller(ctx, "admin"), "admin"); err != nil {
		t.Fatalf("expected admin to pass, got %v", err)
	}
}

func TestReplayGuard_RejectsReuse(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	guard := NewReplayGuard(cache, "rent_wallet")
	call := Call{Caller: "admin", TokenID: "jti-1", ExpiresAt: time.Now().Add(time.Minute)}
	ctx := context.Background()

	if err := guard.Spend(ctx, call); err != nil {
		t.Fatalf("first spend: %v", err)
	}
	if err := guard.Spend(ctx, call); !errors.Is(err, ErrReplayedToken) {
		t.Fatalf("expected replayed token, got %v", err)
	}
	if ttl := mr.TTL("calltoken:v1:rent_wallet:jti-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if err := guard.Spend(ctx, call); err != nil {
		t.Fatalf("spend after expiry: %v", err)
	}
}

func TestReplayGuard_NoCache(t *testing.T) {
	guard := NewReplayGuard(nil, "rent_wallet")
	call := Call{TokenID: "jti"}
	for i := 0; i < 2; i++ {
		if err := guard.Spend(context.Background(), call); err != nil {
			t.Fatalf("spend %d: %v", i, err)
		}
	}
}

func TestDeployKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	key := NewDeployKey(string(hash))
	if err := key.Check("s3cret"); err != nil {
		t.Fatalf("expected key to match: %v", err)
	}
	if err := key.Check("wrong"); !errors.Is(err, ErrDeployKeyRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if err := NewDeployKey("").Check("s3cret"); !errors.Is(err, ErrDeployKeyRejected) {
		t.Fatalf("expected rejection without hash, got %v", err)
	}

	generated, err := HashDeployKey("another")
	if err != nil {
		t.Fatalf("hash deploy key: %v", err)
	}
	if err := NewDeployKey(generated).Check("another"); err != nil {
		t.Fatalf("generated hash should verify: %v", err)
	}
}
