// Package chain holds the constructed chain context: one RPC client, the
// relayer key that pays gas for sponsored calls, and typed bindings for every
// platform contract. Components receive it at construction time; there is no
// package-level contract state.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pixelmint/orchestrator/internal/config"
	"github.com/pixelmint/orchestrator/internal/oerr"
)

// Client wraps go-ethereum and the platform contract bindings.
type Client struct {
	eth        *ethclient.Client
	chainID    *big.Int
	relayerKey *ecdsa.PrivateKey
	relayer    common.Address

	Factory    *Factory
	EntryPoint common.Address
	NFT        *NFT
	Token      *Token
	Market     *Market
	Paymaster  *Paymaster

	retry Retry

	// Serializes relayer submissions so each nonce is assigned and accepted
	// before the next one is read.
	nonceMu sync.Mutex
}

func NewClient(cfg *config.Config) (*Client, error) {
	eth, err := ethclient.Dial(cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	relayerKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.Chain.RelayerPrivateKey, "0x"))
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeConfiguration, "parse relayer private key", err)
	}

	c := &Client{
		eth:        eth,
		chainID:    big.NewInt(cfg.Chain.ChainID),
		relayerKey: relayerKey,
		relayer:    crypto.PubkeyToAddress(relayerKey.PublicKey),
		Factory:    NewFactory(common.HexToAddress(cfg.Chain.FactoryAddress), eth),
		EntryPoint: common.HexToAddress(cfg.Chain.EntryPointAddress),
		NFT:        NewNFT(common.HexToAddress(cfg.Chain.NFTAddress), eth),
		Token:      NewToken(common.HexToAddress(cfg.Chain.TokenAddress), eth),
		Market:     NewMarket(common.HexToAddress(cfg.Chain.MarketAddress), eth),
		Paymaster:  NewPaymaster(common.HexToAddress(cfg.Chain.PaymasterAddress), eth),
		retry:      RetryFromConfig(cfg.Retry),
	}
	return c, nil
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// RelayerAddress returns the platform relayer address.
func (c *Client) RelayerAddress() common.Address { return c.relayer }

// Eth exposes the raw RPC client for reads go-ethereum bindings don't cover.
func (c *Client) Eth() *ethclient.Client { return c.eth }

// Retry returns the bounded-retry policy for idempotent reads.
func (c *Client) Retry() Retry { return c.retry }

// CodeAt reads deployed code at addr, with retry (idempotent read).
func (c *Client) CodeAt(ctx context.Context, addr common.Address) ([]byte, error) {
	var code []byte
	err := c.retry.Do(ctx, func() error {
		var err error
		code, err = c.eth.CodeAt(ctx, addr, nil)
		return err
	})
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeRPCTransient, "getCode", err)
	}
	return code, nil
}

// TransactorFor builds submission opts for an arbitrary key (derived-key
// signer path). Nonce handling is left to the binding's pending-nonce read;
// user keys submit at most one transaction per request.
func (c *Client) TransactorFor(ctx context.Context, key *ecdsa.PrivateKey) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(key, c.chainID)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeConfiguration, "build transactor", err)
	}
	opts.Context = ctx
	return opts, nil
}

// SubmitRelayed runs fn with relayer-signed opts under the nonce lock, so
// concurrent sponsored submissions cannot collide on a nonce. The lock is
// released once the transaction is accepted by the node; waiting for
// inclusion happens outside it.
func (c *Client) SubmitRelayed(ctx context.Context, value *big.Int, fn func(*bind.TransactOpts) (*types.Transaction, error)) (*types.Transaction, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	opts, err := bind.NewKeyedTransactorWithChainID(c.relayerKey, c.chainID)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeConfiguration, "build relayer transactor", err)
	}
	opts.Context = ctx
	if value != nil {
		opts.Value = value
	}

	nonce, err := c.eth.PendingNonceAt(ctx, c.relayer)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeRPCTransient, "pending nonce", err)
	}
	opts.Nonce = new(big.Int).SetUint64(nonce)

	tx, err := fn(opts)
	if err != nil {
		return nil, WrapSubmitErr(err)
	}
	return tx, nil
}

// WaitMined blocks until the transaction is included and checks the receipt
// status. A context timeout maps to SUBMISSION_TIMEOUT: the transaction may
// still land later, so callers must reconcile by re-reading state rather
// than resubmitting.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, oerr.Wrap(oerr.CodeSubmissionTimeout, "outcome unknown: "+tx.Hash().Hex(), err)
		}
		return nil, oerr.Wrap(oerr.CodeRPCTransient, "wait mined", err)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return nil, oerr.Revert("tx reverted: "+tx.Hash().Hex(), nil)
	}
	return receipt, nil
}

// SendRawTransaction broadcasts an externally-signed transaction unchanged.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (*types.Transaction, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return nil, oerr.Wrap(oerr.CodeValidation, "malformed raw transaction", err)
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return nil, WrapSubmitErr(err)
	}
	return tx, nil
}

// WrapSubmitErr classifies a submission error: contract reverts keep their
// reason verbatim, everything else is transient.
func WrapSubmitErr(err error) error {
	if reason, ok := revertReason(err); ok {
		return oerr.Revert(reason, err)
	}
	return oerr.Wrap(oerr.CodeRPCTransient, "submit transaction", err)
}

// revertReason extracts the revert string the node reports on eth_call /
// eth_estimateGas failures ("execution reverted: <reason>").
func revertReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	const marker = "execution reverted"
	msg := err.Error()
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "", false
	}
	reason := strings.TrimPrefix(msg[idx+len(marker):], ":")
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "execution reverted"
	}
	return reason, true
}
