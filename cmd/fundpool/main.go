// cmd/fundpool inspects the paymaster gas pool and optionally
// deposits into it from the relayer key.
//
// Usage:
//
//	go run ./cmd/fundpool/ --rpc <url> --chain-id <id> --paymaster <addr> \
//	  [--key <hex> --deposit <wei>]
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const paymasterABI = `[
	{"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"},
	{"type":"function","name":"getDeposit","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

func main() {
	rpcURL := flag.String("rpc", "", "EVM RPC endpoint")
	chainID := flag.Int64("chain-id", 0, "chain ID")
	paymaster := flag.String("paymaster", "", "paymaster address")
	keyHex := flag.String("key", "", "relayer private key (hex), required for --deposit")
	deposit := flag.String("deposit", "", "amount to deposit (wei)")
	flag.Parse()

	if *rpcURL == "" || *paymaster == "" || *chainID == 0 {
		fmt.Fprintln(os.Stderr, "error: --rpc, --chain-id, and --paymaster are required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial rpc: %v\n", err)
		os.Exit(1)
	}

	parsed, err := abi.JSON(strings.NewReader(paymasterABI))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse abi: %v\n", err)
		os.Exit(1)
	}
	bound := bind.NewBoundContract(common.HexToAddress(*paymaster), parsed, eth, eth, eth)

	var out []any
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getDeposit"); err != nil {
		fmt.Fprintf(os.Stderr, "getDeposit: %v\n", err)
		os.Exit(1)
	}
	balance := *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	fmt.Printf("Pool balance : %s wei\n", balance)

	if *deposit == "" {
		return
	}
	if *keyHex == "" {
		fmt.Fprintln(os.Stderr, "error: --key is required for --deposit")
		os.Exit(1)
	}

	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(*keyHex, "0x"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse key: %v\n", err)
		os.Exit(1)
	}
	amount := new(big.Int)
	if _, ok := amount.SetString(*deposit, 10); !ok {
		fmt.Fprintf(os.Stderr, "invalid deposit amount: %s\n", *deposit)
		os.Exit(1)
	}

	auth, err := bind.NewKeyedTransactorWithChainID(privKey, big.NewInt(*chainID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "transactor: %v\n", err)
		os.Exit(1)
	}
	auth.Context = ctx
	auth.Value = amount

	tx, err := bound.Transact(auth, "deposit")
	if err != nil {
		fmt.Fprintf(os.Stderr, "deposit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Tx hash      : %s\n", tx.Hash().Hex())

	receipt, err := bind.WaitMined(ctx, eth, tx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wait mined: %v\n", err)
		os.Exit(1)
	}
	if receipt.Status == 0 {
		fmt.Fprintln(os.Stderr, "deposit tx reverted")
		os.Exit(1)
	}

	out = out[:0]
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "getDeposit"); err != nil {
		fmt.Fprintf(os.Stderr, "getDeposit: %v\n", err)
		os.Exit(1)
	}
	balance = *abi.ConvertType(out[0], new(*big.Int)).(**big.Int)
	fmt.Printf("New balance  : %s wei\n", balance)
}
