package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PoolBalance reads the paymaster's current gas deposit.
func (c *Client) PoolBalance(ctx context.Context) (*big.Int, error) {
	var bal *big.Int
	err := c.retry.Do(ctx, func() error {
		var err error
		bal, err = c.Paymaster.GetDeposit(&bind.CallOpts{Context: ctx})
		return err
	})
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return bal, nil
}

// TopUp deposits amount (wei) from the relayer into the paymaster pool and
// waits for inclusion.
func (c *Client) TopUp(ctx context.Context, amount *big.Int) (common.Hash, error) {
	tx, err := c.SubmitRelayed(ctx, amount, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.Paymaster.Deposit(opts)
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := c.WaitMined(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// IsSponsored reads the paymaster's sponsorship flag for an account.
func (c *Client) IsSponsored(ctx context.Context, account common.Address) (bool, error) {
	var sponsored bool
	err := c.retry.Do(ctx, func() error {
		var err error
		sponsored, err = c.Paymaster.IsSponsored(&bind.CallOpts{Context: ctx}, account)
		return err
	})
	if err != nil {
		return false, WrapSubmitErr(err)
	}
	return sponsored, nil
}

// AddSponsored registers an account with the paymaster and waits for
// inclusion.
func (c *Client) AddSponsored(ctx context.Context, account common.Address) (common.Hash, error) {
	tx, err := c.SubmitRelayed(ctx, nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.Paymaster.AddSponsoredAccount(opts, account)
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := c.WaitMined(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}
