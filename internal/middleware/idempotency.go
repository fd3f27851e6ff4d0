package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	idempotencyPrefix    = "idempotency:v1:"
	maxIdempotencyKeyLen = 128
	idempotencyTimeout   = 2 * time.Second
)

// idempotentRecord is what Redis holds for one key. A record with Status 0
// marks a request that is still running.
type idempotentRecord struct {
	Fingerprint string `json:"fingerprint"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// PrincipalFunc names the authenticated caller of a request, or fails with
// the error to return to the client.
type PrincipalFunc func(c *fiber.Ctx) (string, error)

type idempotencyCache struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Idempotency makes unsafe requests retry-safe. The first successful
// response for a (scope, route, Idempotency-Key) is stored in Redis and
// replayed with Idempotent-Replayed: true; a failed request releases the key.
// Reusing a key with a different body, or from a different principal, is a
// conflict. When principal is set it runs before anything is read from Redis,
// so stored responses are only replayed to the caller that produced them.
// Without Redis it only checks the header.
func Idempotency(cache *redis.Client, scope string, ttl time.Duration, logger *slog.Logger, principal PrincipalFunc) fiber.Handler {
	store := idempotencyCache{cache: cache, ttl: ttl, logger: logger}
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		switch {
		case key == "":
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		case len(key) > maxIdempotencyKeyLen:
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key header too long")
		}
		if cache == nil {
			return c.Next()
		}

		var who string
		if principal != nil {
			p, err := principal(c)
			if err != nil {
				return err
			}
			who = p
		}

		cacheKey := idempotencyPrefix + scope + ":" + c.Method() + ":" + c.Path() + ":" + key
		fingerprint := requestFingerprint(who, c.Body())

		prior, reserved, err := store.reserve(cacheKey, fingerprint)
		if err != nil {
			store.logger.Error("idempotency reservation failed", slog.String("key", key), slog.Any("error", err))
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
		}
		if !reserved {
			return replay(c, prior, fingerprint)
		}

		if err := c.Next(); err != nil {
			store.release(cacheKey)
			return err
		}

		rec := idempotentRecord{
			Fingerprint: fingerprint,
			Status:      c.Response().StatusCode(),
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		}
		if err := store.save(cacheKey, rec); err != nil {
			// The call already committed; a retry will run it again.
			store.logger.Error("persist idempotent response", slog.String("key", key), slog.Any("error", err))
			store.release(cacheKey)
		}
		return nil
	}
}

func requestFingerprint(principal string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(principal))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func replay(c *fiber.Ctx, prior idempotentRecord, fingerprint string) error {
	if prior.Fingerprint != fingerprint {
		return fiber.NewError(fiber.StatusConflict, "Idempotency-Key reused with a different request")
	}
	if prior.Status == 0 {
		return fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")
	}
	if prior.ContentType != "" {
		c.Set(fiber.HeaderContentType, prior.ContentType)
	}
	c.Set(replayedHeader, "true")
	return c.Status(prior.Status).Send(prior.Body)
}

// reserve claims cacheKey with a pending record. When the key is taken it
// returns the stored record instead.
func (s idempotencyCache) reserve(cacheKey, fingerprint string) (idempotentRecord, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()

	pending, err := json.Marshal(idempotentRecord{Fingerprint: fingerprint})
	if err != nil {
		return idempotentRecord{}, false, err
	}
	ok, err := s.cache.SetNX(ctx, cacheKey, pending, s.ttl).Result()
	if err != nil {
		return idempotentRecord{}, false, err
	}
	if ok {
		return idempotentRecord{}, true, nil
	}

	raw, err := s.cache.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		// Released between SETNX and GET; report as in flight.
		return idempotentRecord{Fingerprint: fingerprint}, false, nil
	}
	if err != nil {
		return idempotentRecord{}, false, err
	}
	var rec idempotentRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return idempotentRecord{}, false, err
	}
	return rec, false, nil
}

func (s idempotencyCache) save(cacheKey string, rec idempotentRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, cacheKey, payload, s.ttl).Err()
}

func (s idempotencyCache) release(cacheKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), idempotencyTimeout)
	defer cancel()
	if err := s.cache.Del(ctx, cacheKey).Err(); err != nil {
		s.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}
