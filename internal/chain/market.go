package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MarketAddress returns the marketplace contract address, the spender side
// of the credit-token allowance a buyer must grant.
func (c *Client) MarketAddress() common.Address { return c.Market.Address() }

// Listing reads the marketplace's record for a token.
func (c *Client) Listing(ctx context.Context, tokenID *big.Int) (Listing, error) {
	var listing Listing
	err := c.retry.Do(ctx, func() error {
		var err error
		listing, err = c.Market.GetListing(&bind.CallOpts{Context: ctx}, tokenID)
		return err
	})
	if err != nil {
		return Listing{}, WrapSubmitErr(err)
	}
	return listing, nil
}

// MarketFeeBps reads the marketplace fee in basis points.
func (c *Client) MarketFeeBps(ctx context.Context) (*big.Int, error) {
	var bps *big.Int
	err := c.retry.Do(ctx, func() error {
		var err error
		bps, err = c.Market.FeeBps(&bind.CallOpts{Context: ctx})
		return err
	})
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return bps, nil
}

// MarketList submits a list call signed by the given user key.
func (c *Client) MarketList(ctx context.Context, key *ecdsa.PrivateKey, tokenID, price *big.Int) (*types.Transaction, error) {
	opts, err := c.TransactorFor(ctx, key)
	if err != nil {
		return nil, err
	}
	tx, err := c.Market.List(opts, tokenID, price)
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return tx, nil
}

// MarketCancel submits a cancel call signed by the given user key.
func (c *Client) MarketCancel(ctx context.Context, key *ecdsa.PrivateKey, tokenID *big.Int) (*types.Transaction, error) {
	opts, err := c.TransactorFor(ctx, key)
	if err != nil {
		return nil, err
	}
	tx, err := c.Market.Cancel(opts, tokenID)
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return tx, nil
}

// MarketBuy submits a buy call signed by the given user key.
func (c *Client) MarketBuy(ctx context.Context, key *ecdsa.PrivateKey, tokenID *big.Int) (*types.Transaction, error) {
	opts, err := c.TransactorFor(ctx, key)
	if err != nil {
		return nil, err
	}
	tx, err := c.Market.Buy(opts, tokenID)
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return tx, nil
}
