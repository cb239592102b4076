package minting

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/store"
)

const (
	reconcileInterval = time.Minute
	reconcileMinAge   = time.Minute
	reconcileBatch    = 50
)

// ReconcilerChain is the receipt-replay surface of the chain client.
type ReconcilerChain interface {
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	MintedTokenID(receipt *types.Receipt) *big.Int
	ProposalTokenID(ctx context.Context, proposalID *big.Int) (*big.Int, error)
}

// ReconcilerStore is the submission backlog the reconciler drains.
type ReconcilerStore interface {
	UnreconciledSubmissions(ctx context.Context, minAge time.Duration, limit int) ([]store.MintSubmission, error)
	RecordMintedToken(ctx context.Context, proposalID int64, tokenID, txHash string) error
	DropSubmission(ctx context.Context, proposalID int64, txHash string) error
}

// RunReconciler replays mint submissions whose outcome never made it into
// the store: a crash between on-chain success and the off-chain record
// write, or a submission that timed out with its outcome unknown. Chain
// truth wins; the store row is re-derived from the receipt.
func RunReconciler(ctx context.Context, ch ReconcilerChain, st ReconcilerStore, log *zap.Logger) {
	ticker := time.NewTicker(reconcileInterval)
	defer ticker.Stop()

	log.Info("mint reconciler started", zap.Duration("interval", reconcileInterval))

	for {
		select {
		case <-ctx.Done():
			log.Info("mint reconciler stopped")
			return
		case <-ticker.C:
			reconcileOnce(ctx, ch, st, log)
		}
	}
}

func reconcileOnce(ctx context.Context, ch ReconcilerChain, st ReconcilerStore, log *zap.Logger) {
	subs, err := st.UnreconciledSubmissions(ctx, reconcileMinAge, reconcileBatch)
	if err != nil {
		log.Error("reconciler: load submissions", zap.Error(err))
		return
	}

	for _, sub := range subs {
		receipt, err := ch.Receipt(ctx, common.HexToHash(sub.TxHash))
		if err != nil {
			log.Error("reconciler: fetch receipt",
				zap.Int64("proposal", sub.ProposalID),
				zap.String("tx", sub.TxHash),
				zap.Error(err),
			)
			continue
		}
		if receipt == nil {
			continue // still pending, check again next pass
		}

		if receipt.Status == types.ReceiptStatusFailed {
			// Reverted on chain: the proposal was never minted by this tx.
			if err := st.DropSubmission(ctx, sub.ProposalID, sub.TxHash); err != nil {
				log.Error("reconciler: drop failed submission",
					zap.Int64("proposal", sub.ProposalID), zap.Error(err))
			}
			continue
		}

		tokenID := ch.MintedTokenID(receipt)
		if tokenID == nil {
			tokenID, err = ch.ProposalTokenID(ctx, big.NewInt(sub.ProposalID))
			if err != nil || tokenID.Sign() == 0 {
				log.Warn("reconciler: included tx yielded no token",
					zap.Int64("proposal", sub.ProposalID),
					zap.String("tx", sub.TxHash),
				)
				continue
			}
		}

		if err := st.RecordMintedToken(ctx, sub.ProposalID, tokenID.String(), sub.TxHash); err != nil {
			log.Error("reconciler: record minted token",
				zap.Int64("proposal", sub.ProposalID), zap.Error(err))
			continue
		}
		log.Info("reconciled mint outcome",
			zap.Int64("proposal", sub.ProposalID),
			zap.String("token", tokenID.String()),
			zap.String("tx", sub.TxHash),
		)
	}
}
