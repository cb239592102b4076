// cmd/predict predicts a smart-account address for an owner key
// and checks whether code exists there, without triggering a deployment.
//
// Usage:
//
//	go run ./cmd/predict/ --rpc <url> --chain-id <id> --factory <addr> \
//	  --entrypoint <addr> --bytecode-file <path> --owner <addr>
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/pixelmint/orchestrator/internal/account"
)

func main() {
	rpcURL := flag.String("rpc", "", "EVM RPC endpoint")
	chainID := flag.Int64("chain-id", 0, "chain ID")
	factory := flag.String("factory", "", "SmartAccountFactory address")
	entryPoint := flag.String("entrypoint", "", "EntryPoint address")
	bytecodeFile := flag.String("bytecode-file", "", "file holding the account creation bytecode (hex)")
	owner := flag.String("owner", "", "owner key address")
	flag.Parse()

	for name, val := range map[string]string{
		"--rpc": *rpcURL, "--factory": *factory, "--entrypoint": *entryPoint,
		"--bytecode-file": *bytecodeFile, "--owner": *owner,
	} {
		if val == "" {
			fmt.Fprintf(os.Stderr, "error: %s is required\n", name)
			os.Exit(1)
		}
	}
	if *chainID == 0 {
		fmt.Fprintln(os.Stderr, "error: --chain-id is required")
		os.Exit(1)
	}
	if !common.IsHexAddress(*owner) {
		fmt.Fprintf(os.Stderr, "invalid owner address: %s\n", *owner)
		os.Exit(1)
	}

	raw, err := os.ReadFile(*bytecodeFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read bytecode file: %v\n", err)
		os.Exit(1)
	}

	deriver, err := account.NewDeriver(
		common.HexToAddress(*factory),
		common.HexToAddress(*entryPoint),
		strings.TrimSpace(string(raw)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "deriver: %v\n", err)
		os.Exit(1)
	}

	ownerAddr := common.HexToAddress(*owner)
	salt := account.Salt(big.NewInt(*chainID), ownerAddr)
	predicted := deriver.Derive(ownerAddr, salt)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	eth, err := ethclient.DialContext(ctx, *rpcURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial rpc: %v\n", err)
		os.Exit(1)
	}
	code, err := eth.CodeAt(ctx, predicted, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "getCode: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Owner    : %s\n", ownerAddr.Hex())
	fmt.Printf("Salt     : 0x%x\n", salt)
	fmt.Printf("Account  : %s\n", predicted.Hex())
	fmt.Printf("Deployed : %t\n", len(code) > 0)
}
