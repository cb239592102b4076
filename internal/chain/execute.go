package chain

import (
	"context"
	"errors"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExecuteAsAccount wraps calldata in the smart account's execute envelope
// and submits it from the relayer. The platform pays gas regardless of how
// the account's owner authenticated.
func (c *Client) ExecuteAsAccount(ctx context.Context, account, target common.Address, data []byte) (*types.Transaction, error) {
	return c.SubmitRelayed(ctx, nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return NewAccount(account, c.eth).Execute(opts, target, big.NewInt(0), data)
	})
}

// NFTAddress returns the pixel-art NFT contract address.
func (c *Client) NFTAddress() common.Address { return c.NFT.Address() }

// MintedTokenID extracts the freshly minted tokenId from a receipt.
func (c *Client) MintedTokenID(receipt *types.Receipt) *big.Int {
	return c.NFT.TokenIDFromReceipt(receipt)
}

// TokenOwner reads the NFT's recorded owner of a token.
func (c *Client) TokenOwner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	var owner common.Address
	err := c.retry.Do(ctx, func() error {
		var err error
		owner, err = c.NFT.OwnerOf(&bind.CallOpts{Context: ctx}, tokenID)
		return err
	})
	if err != nil {
		return common.Address{}, WrapSubmitErr(err)
	}
	return owner, nil
}

// ProposalTokenID reads the tokenId minted for a proposal; zero means the
// proposal has not been minted.
func (c *Client) ProposalTokenID(ctx context.Context, proposalID *big.Int) (*big.Int, error) {
	var tokenID *big.Int
	err := c.retry.Do(ctx, func() error {
		var err error
		tokenID, err = c.NFT.MintedProposal(&bind.CallOpts{Context: ctx}, proposalID)
		return err
	})
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return tokenID, nil
}

// Receipt fetches the receipt for a transaction hash, or (nil, nil) if the
// transaction is not yet included.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return receipt, nil
}

// EstimateSponsoredCost approximates the native cost of a sponsored call at
// the current gas price.
func (c *Client) EstimateSponsoredCost(ctx context.Context, gasLimit uint64) (*big.Int, error) {
	var price *big.Int
	err := c.retry.Do(ctx, func() error {
		var err error
		price, err = c.eth.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return new(big.Int).Mul(price, new(big.Int).SetUint64(gasLimit)), nil
}
