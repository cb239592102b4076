// Package account derives smart-account addresses and orchestrates lazy
// deployment through the factory.
package account

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pixelmint/orchestrator/internal/oerr"
)

// saltNamespace prefixes every owner-derived salt so account salts cannot
// collide with salts minted by other parts of the platform.
const saltNamespace = "pixelmint_user_"

// Deriver reproduces the factory's CREATE2 address computation off-chain.
// It must stay byte-identical to the contract: address = last 20 bytes of
// keccak256(0xff ++ factory ++ salt ++ keccak256(initCode)), where initCode
// is the account creation bytecode followed by the ABI-encoded constructor
// arguments (owner, entryPoint).
type Deriver struct {
	factory      common.Address
	entryPoint   common.Address
	creationCode []byte
}

// NewDeriver parses the account creation bytecode from the build artifact
// hex. An empty or malformed bytecode is a configuration error: every
// address derived from it would silently match nothing on chain.
func NewDeriver(factory, entryPoint common.Address, creationCodeHex string) (*Deriver, error) {
	code, err := hex.DecodeString(strings.TrimPrefix(creationCodeHex, "0x"))
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeConfiguration, "decode account creation bytecode", err)
	}
	if len(code) == 0 {
		return nil, oerr.New(oerr.CodeConfiguration, "account creation bytecode is empty")
	}
	return &Deriver{factory: factory, entryPoint: entryPoint, creationCode: code}, nil
}

// Derive computes the deterministic account address for (owner, salt).
// Pure: no I/O, same inputs always yield the same address.
func (d *Deriver) Derive(owner common.Address, salt [32]byte) common.Address {
	initCode := make([]byte, 0, len(d.creationCode)+64)
	initCode = append(initCode, d.creationCode...)
	// abi.encode(address owner, address entryPoint): two left-padded words
	var word [32]byte
	copy(word[12:], owner.Bytes())
	initCode = append(initCode, word[:]...)
	copy(word[12:], d.entryPoint.Bytes())
	initCode = append(initCode, word[:]...)

	return crypto.CreateAddress2(d.factory, salt, crypto.Keccak256(initCode))
}

// Salt computes the stable, namespace-prefixed salt for an owner key.
// The chain ID is folded in so the same owner on a different network gets a
// different salt.
func Salt(chainID *big.Int, owner common.Address) [32]byte {
	preimage := fmt.Sprintf("%s%s_%s", saltNamespace, chainID.String(), strings.ToLower(owner.Hex()))
	return crypto.Keccak256Hash([]byte(preimage))
}
