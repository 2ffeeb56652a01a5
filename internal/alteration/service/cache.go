package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const calcCacheTTL = 24 * time.Hour

// calcCache memoizes calculator results by (rows checksum, range). The
// calculator is pure, so a hit is always safe; a nil client disables caching.
type calcCache struct {
	client *redis.Client
}

func newCalcCache(client *redis.Client) *calcCache {
	return &calcCache{client: client}
}

func cacheKey(checksum string, start, end time.Time) string {
	return fmt.Sprintf("benefit:recovery:%s:%s:%s",
		checksum, start.Format("2006-01-02"), end.Format("2006-01-02"))
}

func (c *calcCache) get(ctx context.Context, checksum string, start, end time.Time) (decimal.Decimal, bool) {
	if c.client == nil {
		return decimal.Zero, false
	}
	raw, err := c.client.Get(ctx, cacheKey(checksum, start, end)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return amount, true
}

func (c *calcCache) set(ctx context.Context, checksum string, start, end time.Time, amount decimal.Decimal) {
	if c.client == nil {
		return
	}
	_ = c.client.Set(ctx, cacheKey(checksum, start, end), amount.String(), calcCacheTTL).Err()
}
