package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// DeployAccount submits the factory's createAccount call from the relayer
// and waits for inclusion. The factory is a no-op if the account already
// exists, so a racing duplicate submission cannot deploy twice.
func (c *Client) DeployAccount(ctx context.Context, owner common.Address, salt [32]byte) (common.Hash, error) {
	tx, err := c.SubmitRelayed(ctx, nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.Factory.CreateAccount(opts, owner, salt)
	})
	if err != nil {
		return common.Hash{}, err
	}
	if _, err := c.WaitMined(ctx, tx); err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// AccountOwner reads the recorded owner of a deployed smart account.
func (c *Client) AccountOwner(ctx context.Context, account common.Address) (common.Address, error) {
	var owner common.Address
	err := c.retry.Do(ctx, func() error {
		var err error
		owner, err = NewAccount(account, c.eth).Owner(&bind.CallOpts{Context: ctx})
		return err
	})
	if err != nil {
		return common.Address{}, WrapSubmitErr(err)
	}
	return owner, nil
}
