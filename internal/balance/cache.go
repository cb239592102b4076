// Package balance is a time-bounded read-through cache over the credit
// token's on-chain balances.
package balance

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pixelmint/orchestrator/internal/oerr"
)

const cacheKeyPrefix = "balance:account:"

// Reader performs the authoritative on-chain balance read.
type Reader interface {
	TokenBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// Cache maps an account address to its last-known credit balance. Entries
// expire after the TTL; expiry in redis makes a stale value simply absent.
// Values are only ever written from authoritative reads, never from a local
// guess of a post-transaction balance.
type Cache struct {
	rdb    *redis.Client
	reader Reader
	ttl    time.Duration
	group  singleflight.Group
	log    *zap.Logger
}

func NewCache(rdb *redis.Client, reader Reader, ttl time.Duration, log *zap.Logger) *Cache {
	return &Cache{rdb: rdb, reader: reader, ttl: ttl, log: log}
}

// Read returns the cached balance if a live entry exists, otherwise reads
// from chain and refreshes the entry. Concurrent misses for the same
// address are collapsed into a single chain read.
func (c *Cache) Read(ctx context.Context, account common.Address) (units *big.Int, cached bool, err error) {
	key := cacheKey(account)

	if raw, err := c.rdb.Get(ctx, key).Result(); err == nil {
		if v, ok := new(big.Int).SetString(raw, 10); ok {
			return v, true, nil
		}
		// Unparseable entry: drop it and fall through to a fresh read.
		c.rdb.Del(ctx, key) //nolint:errcheck
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		bal, err := c.reader.TokenBalance(ctx, account)
		if err != nil {
			return nil, err
		}
		if err := c.rdb.Set(ctx, key, bal.String(), c.ttl).Err(); err != nil {
			c.log.Warn("cache balance entry", zap.String("account", account.Hex()), zap.Error(err))
		}
		return bal, nil
	})
	if err != nil {
		return nil, false, err
	}

	bal, ok := v.(*big.Int)
	if !ok {
		return nil, false, oerr.New(oerr.CodeRPCTransient, "unexpected balance type")
	}
	return new(big.Int).Set(bal), false, nil
}

// Invalidate drops the entry so the next Read is authoritative. Used after
// settlement rather than writing a computed post-transaction value, which
// would drift from fee deductions and concurrent transfers.
func (c *Cache) Invalidate(ctx context.Context, account common.Address) {
	if err := c.rdb.Del(ctx, cacheKey(account)).Err(); err != nil {
		c.log.Warn("invalidate balance entry", zap.String("account", account.Hex()), zap.Error(err))
	}
}

func cacheKey(account common.Address) string {
	return cacheKeyPrefix + strings.ToLower(account.Hex())
}
