package account

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/oerr"
)

// Chain is the subset of the chain client the registry needs.
// Narrowed here so registry tests can run against a mock.
type Chain interface {
	CodeAt(ctx context.Context, addr common.Address) ([]byte, error)
	DeployAccount(ctx context.Context, owner common.Address, salt [32]byte) (common.Hash, error)
	AccountOwner(ctx context.Context, account common.Address) (common.Address, error)
}

// Sponsorship registers deployed accounts for sponsored execution.
type Sponsorship interface {
	RegisterSponsored(ctx context.Context, account common.Address) error
}

// Registry implements get-or-create for smart accounts. The on-chain code
// presence is the source of truth for existence; the registry never records
// deployment state of its own.
type Registry struct {
	deriver *Deriver
	chainID *big.Int
	chain   Chain
	sponsor Sponsorship
	log     *zap.Logger
}

func NewRegistry(deriver *Deriver, chainID *big.Int, chain Chain, sponsor Sponsorship, log *zap.Logger) *Registry {
	return &Registry{deriver: deriver, chainID: chainID, chain: chain, sponsor: sponsor, log: log}
}

// Result reports the account address and whether this call deployed it.
type Result struct {
	Address common.Address
	Created bool
}

// Predict derives the account address and reports whether code exists there.
// Read-only: never triggers a deployment.
func (r *Registry) Predict(ctx context.Context, owner common.Address) (common.Address, bool, error) {
	if owner == (common.Address{}) {
		return common.Address{}, false, oerr.Validation("zero owner key")
	}
	addr := r.deriver.Derive(owner, Salt(r.chainID, owner))
	code, err := r.chain.CodeAt(ctx, addr)
	if err != nil {
		return common.Address{}, false, err
	}
	return addr, len(code) > 0, nil
}

// GetOrCreate returns the owner's smart account, deploying it through the
// factory if no code exists at the derived address yet. Idempotent: repeated
// calls for the same owner converge on the same address and never deploy
// twice.
func (r *Registry) GetOrCreate(ctx context.Context, owner common.Address) (Result, error) {
	if owner == (common.Address{}) {
		return Result{}, oerr.Validation("zero owner key")
	}

	salt := Salt(r.chainID, owner)
	addr := r.deriver.Derive(owner, salt)

	code, err := r.chain.CodeAt(ctx, addr)
	if err != nil {
		return Result{}, err
	}

	created := false
	if len(code) == 0 {
		txHash, err := r.chain.DeployAccount(ctx, owner, salt)
		if err != nil {
			return Result{}, err
		}
		r.log.Info("smart account deployed",
			zap.String("owner", owner.Hex()),
			zap.String("account", addr.Hex()),
			zap.String("tx", txHash.Hex()),
		)

		code, err = r.chain.CodeAt(ctx, addr)
		if err != nil {
			return Result{}, err
		}
		if len(code) == 0 {
			return Result{}, oerr.Newf(oerr.CodeDeploymentFailed,
				"no code at %s after factory deploy", addr.Hex())
		}
		created = true
	}

	// The deployed contract's recorded owner must match the requested owner;
	// a mismatch means the local bytecode hash has drifted from the deployed
	// artifact and every derived address is wrong.
	onchainOwner, err := r.chain.AccountOwner(ctx, addr)
	if err != nil {
		return Result{}, err
	}
	if onchainOwner != owner {
		return Result{}, oerr.Newf(oerr.CodeOwnershipMismatch,
			"account %s is owned by %s, expected %s", addr.Hex(), onchainOwner.Hex(), owner.Hex())
	}

	if err := r.sponsor.RegisterSponsored(ctx, addr); err != nil {
		return Result{}, err
	}

	return Result{Address: addr, Created: created}, nil
}
