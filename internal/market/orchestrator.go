// Package market implements the marketplace operations: list, cancel, and
// buy, settled in the credit token.
package market

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/chain"
	"github.com/pixelmint/orchestrator/internal/oerr"
	"github.com/pixelmint/orchestrator/internal/signer"
	"github.com/pixelmint/orchestrator/internal/store"
)

// Chain is the marketplace surface of the chain client.
type Chain interface {
	Listing(ctx context.Context, tokenID *big.Int) (chain.Listing, error)
	MarketFeeBps(ctx context.Context) (*big.Int, error)
	MarketAddress() common.Address
	TokenOwner(ctx context.Context, tokenID *big.Int) (common.Address, error)
	TokenAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	MarketList(ctx context.Context, key *ecdsa.PrivateKey, tokenID, price *big.Int) (*types.Transaction, error)
	MarketCancel(ctx context.Context, key *ecdsa.PrivateKey, tokenID *big.Int) (*types.Transaction, error)
	MarketBuy(ctx context.Context, key *ecdsa.PrivateKey, tokenID *big.Int) (*types.Transaction, error)
	SendRawTransaction(ctx context.Context, rawTx []byte) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Resolver turns credentials into signers.
type Resolver interface {
	Resolve(cred signer.Credential) (*signer.Resolved, error)
}

// Cache is the balance cache reconciled after settlement.
type Cache interface {
	Invalidate(ctx context.Context, account common.Address)
}

// PriceSource supplies the fallback price when a listing omits one.
type PriceSource interface {
	ProposalByTokenID(ctx context.Context, tokenID string) (*store.Proposal, error)
}

// Result is a settled marketplace operation.
type Result struct {
	TxHash common.Hash
}

// Orchestrator submits marketplace calls with the signer matching how the
// user authenticated: password-derived keys are signed and submitted here,
// externally-signed transactions are broadcast unchanged.
type Orchestrator struct {
	chain    Chain
	resolver Resolver
	cache    Cache
	prices   PriceSource
	log      *zap.Logger
}

func NewOrchestrator(ch Chain, resolver Resolver, cache Cache, prices PriceSource, log *zap.Logger) *Orchestrator {
	return &Orchestrator{chain: ch, resolver: resolver, cache: cache, prices: prices, log: log}
}

// List puts a token up for sale. Price is a decimal string in the token's
// smallest unit; empty falls back to the price recorded at proposal time.
// The marketplace contract must already be approved for the token; a
// missing approval surfaces as the contract's own "not approved" reason.
func (o *Orchestrator) List(ctx context.Context, tokenID *big.Int, priceUnits string, cred signer.Credential) (Result, error) {
	resolved, err := o.resolver.Resolve(cred)
	if err != nil {
		return Result{}, err
	}

	// Known-outcome check: at most one active listing per token.
	existing, err := o.chain.Listing(ctx, tokenID)
	if err != nil {
		return Result{}, err
	}
	if existing.Active {
		return Result{}, oerr.Revert("already listed", nil)
	}
	owner, err := o.chain.TokenOwner(ctx, tokenID)
	if err != nil {
		return Result{}, err
	}
	if owner != resolved.Address {
		return Result{}, oerr.Revert("not owner", nil)
	}

	if !resolved.Derived() {
		return o.broadcast(ctx, resolved, "list", tokenID)
	}

	price, err := o.normalizePrice(ctx, tokenID, priceUnits)
	if err != nil {
		return Result{}, err
	}

	tx, err := o.chain.MarketList(ctx, resolved.Key, tokenID, price)
	if err != nil {
		return Result{}, err
	}
	if _, err := o.chain.WaitMined(ctx, tx); err != nil {
		return Result{}, err
	}

	o.log.Info("token listed",
		zap.String("token", tokenID.String()),
		zap.String("seller", resolved.Address.Hex()),
		zap.String("price", price.String()),
		zap.String("tx", tx.Hash().Hex()),
	)
	return Result{TxHash: tx.Hash()}, nil
}

// Cancel ends an active listing. Only the recorded seller may cancel; the
// contract's "not seller" rejection propagates verbatim.
func (o *Orchestrator) Cancel(ctx context.Context, tokenID *big.Int, cred signer.Credential) (Result, error) {
	resolved, err := o.resolver.Resolve(cred)
	if err != nil {
		return Result{}, err
	}

	existing, err := o.chain.Listing(ctx, tokenID)
	if err != nil {
		return Result{}, err
	}
	if !existing.Active {
		return Result{}, oerr.Revert("not listed", nil)
	}
	if existing.Seller != resolved.Address {
		return Result{}, oerr.Revert("not seller", nil)
	}

	if !resolved.Derived() {
		return o.broadcast(ctx, resolved, "cancel", tokenID)
	}

	tx, err := o.chain.MarketCancel(ctx, resolved.Key, tokenID)
	if err != nil {
		return Result{}, err
	}
	if _, err := o.chain.WaitMined(ctx, tx); err != nil {
		return Result{}, err
	}

	o.log.Info("listing canceled",
		zap.String("token", tokenID.String()),
		zap.String("seller", resolved.Address.Hex()),
		zap.String("tx", tx.Hash().Hex()),
	)
	return Result{TxHash: tx.Hash()}, nil
}

// Buy purchases an actively listed token. Ownership transfer and the
// fee/payout split are contract-enforced; this layer only records the
// transaction hash and drops the stale balance entries afterwards.
func (o *Orchestrator) Buy(ctx context.Context, tokenID *big.Int, cred signer.Credential) (Result, error) {
	resolved, err := o.resolver.Resolve(cred)
	if err != nil {
		return Result{}, err
	}

	existing, err := o.chain.Listing(ctx, tokenID)
	if err != nil {
		return Result{}, err
	}
	if !existing.Active {
		return Result{}, oerr.Revert("not listed", nil)
	}
	allowance, err := o.chain.TokenAllowance(ctx, resolved.Address, o.chain.MarketAddress())
	if err != nil {
		return Result{}, err
	}
	if allowance.Cmp(existing.Price) < 0 {
		return Result{}, oerr.Revert("insufficient allowance", nil)
	}

	var result Result
	if resolved.Derived() {
		tx, err := o.chain.MarketBuy(ctx, resolved.Key, tokenID)
		if err != nil {
			return Result{}, err
		}
		if _, err := o.chain.WaitMined(ctx, tx); err != nil {
			return Result{}, err
		}
		result = Result{TxHash: tx.Hash()}
	} else {
		result, err = o.broadcast(ctx, resolved, "buy", tokenID)
		if err != nil {
			return Result{}, err
		}
	}

	// Both sides' cached balances are stale now. Never write a locally
	// computed post-sale balance; the next read is authoritative.
	o.cache.Invalidate(ctx, resolved.Address)
	o.cache.Invalidate(ctx, existing.Seller)

	o.log.Info("token bought",
		zap.String("token", tokenID.String()),
		zap.String("buyer", resolved.Address.Hex()),
		zap.String("seller", existing.Seller.Hex()),
		zap.String("tx", result.TxHash.Hex()),
	)
	return result, nil
}

// ListingDetail is a listing joined with the marketplace fee, so a buyer
// can compute the fee/payout split before committing.
type ListingDetail struct {
	chain.Listing
	FeeBps *big.Int
}

// GetListing reads the authoritative on-chain listing for a token together
// with the current marketplace fee.
func (o *Orchestrator) GetListing(ctx context.Context, tokenID *big.Int) (ListingDetail, error) {
	listing, err := o.chain.Listing(ctx, tokenID)
	if err != nil {
		return ListingDetail{}, err
	}
	fee, err := o.chain.MarketFeeBps(ctx)
	if err != nil {
		return ListingDetail{}, err
	}
	return ListingDetail{Listing: listing, FeeBps: fee}, nil
}

// broadcast forwards an externally-signed transaction unchanged and waits
// for inclusion.
func (o *Orchestrator) broadcast(ctx context.Context, resolved *signer.Resolved, op string, tokenID *big.Int) (Result, error) {
	tx, err := o.chain.SendRawTransaction(ctx, resolved.RawTx)
	if err != nil {
		return Result{}, err
	}
	if _, err := o.chain.WaitMined(ctx, tx); err != nil {
		return Result{}, err
	}
	o.log.Info("external transaction settled",
		zap.String("op", op),
		zap.String("token", tokenID.String()),
		zap.String("sender", resolved.Address.Hex()),
		zap.String("tx", tx.Hash().Hex()),
	)
	return Result{TxHash: tx.Hash()}, nil
}

// normalizePrice parses a strictly-positive integer price in smallest token
// units, falling back to the proposal's initial price when empty.
func (o *Orchestrator) normalizePrice(ctx context.Context, tokenID *big.Int, priceUnits string) (*big.Int, error) {
	priceUnits = strings.TrimSpace(priceUnits)
	if priceUnits == "" {
		prop, err := o.prices.ProposalByTokenID(ctx, tokenID.String())
		if errors.Is(err, store.ErrNotFound) {
			return nil, oerr.Validation("no price given and no proposal price on record")
		}
		if err != nil {
			return nil, oerr.Wrap(oerr.CodeRPCTransient, "load proposal price", err)
		}
		priceUnits = prop.InitialPriceUnits
	}

	price, ok := new(big.Int).SetString(priceUnits, 10)
	if !ok {
		return nil, oerr.Newf(oerr.CodeValidation, "invalid price: %q", priceUnits)
	}
	if price.Sign() <= 0 {
		return nil, oerr.Newf(oerr.CodeValidation, "price must be positive: %s", price.String())
	}
	return price, nil
}

// NormalizeAddress parses and checksums a user-supplied address string.
func NormalizeAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, oerr.Newf(oerr.CodeAddressResolution, "invalid address: %q", s)
	}
	return common.HexToAddress(s), nil
}
