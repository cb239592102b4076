// Package minting turns vote-approved proposals into minted NFTs through
// the artist's smart account.
package minting

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/account"
	"github.com/pixelmint/orchestrator/internal/chain"
	"github.com/pixelmint/orchestrator/internal/oerr"
	"github.com/pixelmint/orchestrator/internal/store"
)

// mintGasLimit bounds the sponsorship cost estimate for one execute-wrapped
// mint. Deliberately generous; the pool margin absorbs the slack.
const mintGasLimit = 500_000

// inFlightTTL caps how long a redis in-flight marker can block re-submission
// if the holding process dies mid-mint.
const inFlightTTL = 5 * time.Minute

// alreadyMintedReason is the NFT contract's revert string for a duplicate
// proposal mint. Terminal: a second submission is a caller bug, not a
// transient fault.
const alreadyMintedReason = "Already minted"

// Chain is the on-chain surface the orchestrator needs.
type Chain interface {
	NFTAddress() common.Address
	ExecuteAsAccount(ctx context.Context, acct, target common.Address, data []byte) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
	MintedTokenID(receipt *types.Receipt) *big.Int
	ProposalTokenID(ctx context.Context, proposalID *big.Int) (*big.Int, error)
	EstimateSponsoredCost(ctx context.Context, gasLimit uint64) (*big.Int, error)
}

// Registry resolves the artist's smart account.
type Registry interface {
	GetOrCreate(ctx context.Context, owner common.Address) (account.Result, error)
}

// Sponsorship keeps the gas pool funded ahead of a sponsored call.
type Sponsorship interface {
	EnsureFunded(ctx context.Context, estimatedCost *big.Int) error
}

// Store is the proposal read model and mint-outcome sink.
type Store interface {
	ProposalForMint(ctx context.Context, proposalID int64) (*store.Proposal, error)
	MintedTokenFor(ctx context.Context, proposalID int64) (*store.MintedToken, error)
	RecordMintSubmission(ctx context.Context, proposalID int64, txHash string) error
	RecordMintedToken(ctx context.Context, proposalID int64, tokenID, txHash string) error
}

// Result is a successful mint outcome.
type Result struct {
	TokenID *big.Int
	TxHash  common.Hash
}

// Orchestrator runs the vote-gated minting pipeline.
type Orchestrator struct {
	chain         Chain
	registry      Registry
	sponsor       Sponsorship
	store         Store
	rdb           *redis.Client
	voteThreshold int64
	log           *zap.Logger
}

func NewOrchestrator(
	ch Chain,
	registry Registry,
	sponsor Sponsorship,
	st Store,
	rdb *redis.Client,
	voteThreshold int64,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		chain:         ch,
		registry:      registry,
		sponsor:       sponsor,
		store:         st,
		rdb:           rdb,
		voteThreshold: voteThreshold,
		log:           log,
	}
}

// Mint mints the NFT for an approved proposal through the artist's smart
// account. At most one successful mint exists per proposal; a repeat call
// surfaces the terminal "Already minted" condition.
func (o *Orchestrator) Mint(ctx context.Context, proposalID int64) (Result, error) {
	// Known outcome: don't resubmit what the contract will reject anyway.
	if existing, err := o.store.MintedTokenFor(ctx, proposalID); err == nil {
		o.log.Info("mint requested for already-minted proposal",
			zap.Int64("proposal", proposalID),
			zap.String("token", existing.TokenID),
		)
		return Result{}, oerr.Revert(alreadyMintedReason, nil)
	} else if !errors.Is(err, store.ErrNotFound) {
		return Result{}, oerr.Wrap(oerr.CodeRPCTransient, "load mint outcome", err)
	}

	prop, err := o.store.ProposalForMint(ctx, proposalID)
	if errors.Is(err, store.ErrNotFound) {
		return Result{}, oerr.Newf(oerr.CodeNotFound, "proposal %d not found", proposalID)
	}
	if err != nil {
		return Result{}, oerr.Wrap(oerr.CodeRPCTransient, "load proposal", err)
	}

	// Caller preconditions re-validated defensively; these map to on-chain
	// revert reasons and must read as user-facing validation, not generic
	// failures.
	artist := common.HexToAddress(prop.ArtistAddress)
	if artist == (common.Address{}) {
		return Result{}, oerr.Validation("Invalid artist")
	}
	if prop.TokenURI == "" {
		return Result{}, oerr.Validation("Empty URI")
	}
	if prop.VoteCount < o.voteThreshold {
		return Result{}, oerr.Newf(oerr.CodeValidation,
			"vote threshold not met: %d of %d", prop.VoteCount, o.voteThreshold)
	}

	// Single-process duplicate guard. The contract is the real authority;
	// this only stops one instance from racing itself.
	lockKey := fmt.Sprintf("mint:proposal:%d", proposalID)
	locked, err := o.rdb.SetNX(ctx, lockKey, "1", inFlightTTL).Result()
	if err != nil {
		return Result{}, oerr.Wrap(oerr.CodeRPCTransient, "mint in-flight marker", err)
	}
	if !locked {
		return Result{}, oerr.Newf(oerr.CodeValidation, "mint already in progress for proposal %d", proposalID)
	}

	result, err := o.submit(ctx, proposalID, artist, prop.TokenURI)
	if err != nil {
		// A timeout leaves the outcome unknown; keep the marker so the
		// reconciler, not a blind resubmission, settles it. Cleanup runs on
		// a detached context: the request context may already be canceled,
		// and a failed Del would block the proposal for the full TTL.
		if !oerr.Is(err, oerr.CodeSubmissionTimeout) {
			delCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			o.rdb.Del(delCtx, lockKey) //nolint:errcheck
		}
		return Result{}, err
	}
	return result, nil
}

func (o *Orchestrator) submit(ctx context.Context, proposalID int64, artist common.Address, tokenURI string) (Result, error) {
	acct, err := o.registry.GetOrCreate(ctx, artist)
	if err != nil {
		return Result{}, err
	}

	estimate, err := o.chain.EstimateSponsoredCost(ctx, mintGasLimit)
	if err != nil {
		return Result{}, err
	}
	if err := o.sponsor.EnsureFunded(ctx, estimate); err != nil {
		return Result{}, err
	}

	mintData, err := chain.PackMintTo(artist, tokenURI, big.NewInt(proposalID))
	if err != nil {
		return Result{}, oerr.Wrap(oerr.CodeConfiguration, "encode mint call", err)
	}

	tx, err := o.chain.ExecuteAsAccount(ctx, acct.Address, o.chain.NFTAddress(), mintData)
	if err != nil {
		return Result{}, err
	}

	if err := o.store.RecordMintSubmission(ctx, proposalID, tx.Hash().Hex()); err != nil {
		o.log.Error("record mint submission", zap.Int64("proposal", proposalID), zap.Error(err))
	}

	receipt, err := o.chain.WaitMined(ctx, tx)
	if err != nil {
		if oerr.Is(err, oerr.CodeContractRevert) && oerr.ReasonOf(err) == alreadyMintedReason {
			// Another path minted first. Reconcile the recorded outcome from
			// the chain instead of failing opaquely.
			o.reconcileExisting(ctx, proposalID, tx.Hash())
		}
		return Result{}, err
	}

	tokenID := o.chain.MintedTokenID(receipt)
	if tokenID == nil {
		// Receipt without a mint Transfer log: fall back to the contract's
		// own proposal→token record.
		tokenID, err = o.chain.ProposalTokenID(ctx, big.NewInt(proposalID))
		if err != nil {
			return Result{}, err
		}
		if tokenID.Sign() == 0 {
			return Result{}, oerr.Revert("mint succeeded but no token recorded", nil)
		}
	}

	if err := o.store.RecordMintedToken(ctx, proposalID, tokenID.String(), tx.Hash().Hex()); err != nil {
		// On-chain success is authoritative; the reconciler re-derives the
		// row from the receipt on the next pass.
		o.log.Error("record minted token", zap.Int64("proposal", proposalID), zap.Error(err))
	}

	o.log.Info("proposal minted",
		zap.Int64("proposal", proposalID),
		zap.String("artist", artist.Hex()),
		zap.String("token", tokenID.String()),
		zap.String("tx", tx.Hash().Hex()),
	)
	return Result{TokenID: tokenID, TxHash: tx.Hash()}, nil
}

func (o *Orchestrator) reconcileExisting(ctx context.Context, proposalID int64, txHash common.Hash) {
	tokenID, err := o.chain.ProposalTokenID(ctx, big.NewInt(proposalID))
	if err != nil || tokenID.Sign() == 0 {
		return
	}
	if err := o.store.RecordMintedToken(ctx, proposalID, tokenID.String(), txHash.Hex()); err != nil {
		o.log.Error("reconcile minted token", zap.Int64("proposal", proposalID), zap.Error(err))
	}
}
