package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// TokenBalance reads the credit-token balance of an account.
func (c *Client) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := c.retry.Do(ctx, func() error {
		var err error
		bal, err = c.Token.BalanceOf(&bind.CallOpts{Context: ctx}, account)
		return err
	})
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return bal, nil
}

// TokenAllowance reads how much the spender may move on the owner's behalf.
func (c *Client) TokenAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	var allowance *big.Int
	err := c.retry.Do(ctx, func() error {
		var err error
		allowance, err = c.Token.Allowance(&bind.CallOpts{Context: ctx}, owner, spender)
		return err
	})
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return allowance, nil
}
