package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/genesisplatform/auth-api/internal/config"
	"github.com/redis/go-redis/v9"
)

const (
	blacklistKeyPrefix    = "blacklist:jti:"
	invalidationKeyPrefix = "invalidation:user:"
)

// Client is the optional Redis layer. Its only correctness-adjacent job is
// the access-token blacklist used by logout; refresh-token revocation in
// Postgres stays authoritative, so every caller tolerates this being nil or
// down.
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// New connects to Redis. Returns (nil, nil) when no address is configured,
// which disables the layer.
func New(cfg *config.RedisConfig, logger *slog.Logger) (*Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", cfg.Addr))
	return &Client{rdb: rdb, logger: logger}, nil
}

// NewFromClient wraps an existing client. Tests use this with miniredis.
func NewFromClient(rdb *redis.Client, logger *slog.Logger) *Client {
	return &Client{rdb: rdb, logger: logger}
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// BlacklistToken marks an access token's jti revoked for its remaining TTL.
// After the TTL the token has expired on its own and the key is pointless.
func (c *Client) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		return nil
	}
	return c.rdb.Set(ctx, blacklistKeyPrefix+jti, "1", ttl).Err()
}

// IsBlacklisted reports whether a jti was revoked before its natural expiry.
func (c *Client) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	if c == nil {
		return false, nil
	}

	_, err := c.rdb.Get(ctx, blacklistKeyPrefix+jti).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// InvalidateUserTokens stamps a cutoff for the user's outstanding access
// tokens: anything issued at or before now is rejected by the middleware.
// The stamp is backdated one second so tokens signed in the same second as
// the password change stay valid despite second-granularity iat claims. The
// key lives for one access-token TTL; after that every affected token has
// expired on its own.
func (c *Client) InvalidateUserTokens(ctx context.Context, userID string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Second).Unix()
	return c.rdb.Set(ctx, invalidationKeyPrefix+userID, strconv.FormatInt(cutoff, 10), ttl).Err()
}

// TokensInvalidatedAt returns the user's invalidation cutoff, if one is set.
func (c *Client) TokensInvalidatedAt(ctx context.Context, userID string) (time.Time, bool, error) {
	if c == nil {
		return time.Time{}, false, nil
	}

	val, err := c.rdb.Get(ctx, invalidationKeyPrefix+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}

	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("malformed invalidation stamp: %w", err)
	}
	return time.Unix(unix, 0), true, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}
