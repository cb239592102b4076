// Package sponsor tracks the shared gas-funding pool and the set of
// accounts authorized for sponsored execution.
package sponsor

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/config"
	"github.com/pixelmint/orchestrator/internal/oerr"
)

const sponsoredKeyPrefix = "sponsor:account:"

// Chain is the paymaster surface the manager needs.
type Chain interface {
	PoolBalance(ctx context.Context) (*big.Int, error)
	TopUp(ctx context.Context, amount *big.Int) (common.Hash, error)
	IsSponsored(ctx context.Context, account common.Address) (bool, error)
	AddSponsored(ctx context.Context, account common.Address) (common.Hash, error)
}

// Manager keeps the paymaster pool above a safety margin and registers
// accounts for sponsorship. Sponsorship is best-effort: an underfunded pool
// logs and proceeds, letting the chain reject the call if it must.
type Manager struct {
	chain  Chain
	rdb    *redis.Client
	topUp  *big.Int
	margin *big.Int
	log    *zap.Logger
}

func NewManager(chain Chain, rdb *redis.Client, cfg config.SponsorConfig, log *zap.Logger) (*Manager, error) {
	topUp, ok := new(big.Int).SetString(cfg.TopUpWei, 10)
	if !ok {
		return nil, oerr.Newf(oerr.CodeConfiguration, "invalid SPONSOR_TOPUP_WEI: %q", cfg.TopUpWei)
	}
	margin, ok := new(big.Int).SetString(cfg.SafetyMarginWei, 10)
	if !ok {
		return nil, oerr.Newf(oerr.CodeConfiguration, "invalid SPONSOR_SAFETY_MARGIN_WEI: %q", cfg.SafetyMarginWei)
	}
	return &Manager{chain: chain, rdb: rdb, topUp: topUp, margin: margin, log: log}, nil
}

// EnsureFunded checks the pool against estimatedCost plus the safety margin
// and tops up once if short. If the pool is still short after the top-up it
// logs and returns nil: a later on-chain revert is the accepted failure mode
// under sustained underfunding.
func (m *Manager) EnsureFunded(ctx context.Context, estimatedCost *big.Int) error {
	needed := new(big.Int).Add(estimatedCost, m.margin)

	balance, err := m.chain.PoolBalance(ctx)
	if err != nil {
		return err
	}
	if balance.Cmp(needed) >= 0 {
		return nil
	}

	m.log.Info("gas pool below margin, topping up",
		zap.String("balance", balance.String()),
		zap.String("needed", needed.String()),
		zap.String("topup", m.topUp.String()),
	)
	txHash, err := m.chain.TopUp(ctx, m.topUp)
	if err != nil {
		m.log.Warn("gas pool top-up failed, proceeding anyway", zap.Error(err))
		return nil
	}

	balance, err = m.chain.PoolBalance(ctx)
	if err != nil {
		return err
	}
	if balance.Cmp(needed) < 0 {
		m.log.Warn("gas pool still under margin after top-up",
			zap.String("balance", balance.String()),
			zap.String("needed", needed.String()),
			zap.String("tx", txHash.Hex()),
		)
	}
	return nil
}

// RegisterSponsored marks an account as sponsored with the paymaster.
// Idempotent: an already-sponsored account is a no-op. A redis flag avoids
// re-reading the chain on every call; sponsorship is never revoked, so the
// flag has no TTL.
func (m *Manager) RegisterSponsored(ctx context.Context, account common.Address) error {
	key := sponsoredKey(account)
	if cached, err := m.rdb.Get(ctx, key).Result(); err == nil && cached == "1" {
		return nil
	}

	sponsored, err := m.chain.IsSponsored(ctx, account)
	if err != nil {
		return err
	}
	if !sponsored {
		txHash, err := m.chain.AddSponsored(ctx, account)
		if err != nil {
			return err
		}
		m.log.Info("account registered for sponsorship",
			zap.String("account", account.Hex()),
			zap.String("tx", txHash.Hex()),
		)
	}

	if err := m.rdb.Set(ctx, key, "1", 0).Err(); err != nil {
		m.log.Warn("cache sponsorship flag", zap.String("account", account.Hex()), zap.Error(err))
	}
	return nil
}

func sponsoredKey(account common.Address) string {
	return sponsoredKeyPrefix + strings.ToLower(account.Hex())
}
