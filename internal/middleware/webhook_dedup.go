package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CallbackDeduper remembers callback deliveries that were already handled.
type CallbackDeduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type redisCallbackDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisCallbackDeduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.client.Exists(ctx, d.prefix+":"+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *redisCallbackDeduper) Mark(ctx context.Context, key string) error {
	return d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Err()
}

type memoryCallbackDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	nextGC time.Time
}

func newMemoryCallbackDeduper(ttl time.Duration) *memoryCallbackDeduper {
	now := time.Now()
	return &memoryCallbackDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		nextGC: now.Add(ttl),
	}
}

func (d *memoryCallbackDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.seen[key]
	return ok && exp.After(time.Now()), nil
}

func (d *memoryCallbackDeduper) Mark(_ context.Context, key string) error {
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}
	return nil
}

// NewCallbackDeduper builds a Redis deduper and falls back to in-memory on failure.
func NewCallbackDeduper(client *redis.Client, ttl time.Duration) (CallbackDeduper, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if client == nil {
		return newMemoryCallbackDeduper(ttl), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return newMemoryCallbackDeduper(ttl), err
	}

	return &redisCallbackDeduper{
		client: client,
		prefix: "payment:callback",
		ttl:    ttl,
	}, nil
}

// CallbackDedup short-circuits provider retries of a POST callback whose
// identical body was already handled successfully for the same driver.
// Deliveries are only remembered after a 2xx so failed ones can be retried.
func CallbackDedup(deduper CallbackDeduper, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if deduper == nil || req.Method != http.MethodPost || req.Body == nil {
				return next(c)
			}

			rawBody, err := io.ReadAll(req.Body)
			if err != nil {
				return next(c)
			}
			req.Body = io.NopCloser(bytes.NewBuffer(rawBody))
			if len(rawBody) == 0 {
				return next(c)
			}

			sum := sha256.Sum256(rawBody)
			key := strings.ToLower(c.Param("driver")) + ":" + hex.EncodeToString(sum[:])

			isDuplicate, err := deduper.Seen(req.Context(), key)
			if err != nil {
				logger.Warn("callback dedup lookup failed", zap.Error(err))
				return next(c)
			}
			if isDuplicate {
				logger.Info("duplicate callback dropped", zap.String("driver", c.Param("driver")))
				return c.JSON(http.StatusOK, map[string]interface{}{
					"success": true,
					"message": "Already processed",
				})
			}

			if err := next(c); err != nil {
				return err
			}
			if status := c.Response().Status; status >= 200 && status < 300 {
				if err := deduper.Mark(req.Context(), key); err != nil {
					logger.Warn("callback dedup mark failed", zap.Error(err))
				}
			}
			return nil
		}
	}
}
