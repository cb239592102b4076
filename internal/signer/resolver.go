// Package signer resolves the two authentication paths the platform
// supports into something the orchestrators can submit with: a derived
// private key for password-authenticated users, or a pre-signed raw
// transaction for users bringing their own wallet.
package signer

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/pixelmint/orchestrator/internal/oerr"
)

// keyPrefix pins derived keys to this application; the same identifier and
// passphrase used elsewhere produce an unrelated key.
const keyPrefix = "pixelmint/wallet/v1:"

// Credential is a tagged variant: exactly one concrete type per call.
type Credential interface {
	isCredential()
}

// DerivedKeyAuth derives a deterministic signing key from a stable user
// identifier and passphrase. The passphrase is the only secret; the same
// inputs always recover the same wallet.
type DerivedKeyAuth struct {
	UserID     string
	Passphrase string
}

func (DerivedKeyAuth) isCredential() {}

// ExternalSignatureAuth carries a transaction the user already signed
// out-of-band. The resolver never re-derives or re-signs it.
type ExternalSignatureAuth struct {
	RawTx []byte
}

func (ExternalSignatureAuth) isCredential() {}

// Resolved is the output of Resolve. Exactly one of Key or RawTx is set.
type Resolved struct {
	Address common.Address
	Key     *ecdsa.PrivateKey
	RawTx   []byte
}

// Derived reports whether this resolution carries a platform-managed key.
func (r *Resolved) Derived() bool { return r.Key != nil }

// Resolver turns credentials into signers. ChainID is needed to recover the
// sender of an externally-signed transaction.
type Resolver struct {
	chainID *big.Int
}

func NewResolver(chainID *big.Int) *Resolver {
	return &Resolver{chainID: chainID}
}

// Resolve validates and resolves a credential. Malformed or missing
// material fails with INVALID_CREDENTIAL before anything touches the chain.
func (r *Resolver) Resolve(cred Credential) (*Resolved, error) {
	switch c := cred.(type) {
	case DerivedKeyAuth:
		return r.resolveDerived(c)
	case *DerivedKeyAuth:
		return r.resolveDerived(*c)
	case ExternalSignatureAuth:
		return r.resolveExternal(c)
	case *ExternalSignatureAuth:
		return r.resolveExternal(*c)
	case nil:
		return nil, oerr.New(oerr.CodeInvalidCredential, "missing credential")
	default:
		return nil, oerr.New(oerr.CodeInvalidCredential, "unknown credential type")
	}
}

func (r *Resolver) resolveDerived(c DerivedKeyAuth) (*Resolved, error) {
	if c.UserID == "" || c.Passphrase == "" {
		return nil, oerr.New(oerr.CodeInvalidCredential, "user id and passphrase required")
	}
	key, err := DeriveKey(c.UserID, c.Passphrase)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Key:     key,
	}, nil
}

func (r *Resolver) resolveExternal(c ExternalSignatureAuth) (*Resolved, error) {
	if len(c.RawTx) == 0 {
		return nil, oerr.New(oerr.CodeInvalidCredential, "empty signed transaction")
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(c.RawTx); err != nil {
		return nil, oerr.Wrap(oerr.CodeInvalidCredential, "malformed signed transaction", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(r.chainID), tx)
	if err != nil {
		return nil, oerr.Wrap(oerr.CodeInvalidCredential, "recover transaction sender", err)
	}
	return &Resolved{
		Address: sender,
		RawTx:   c.RawTx,
	}, nil
}

// DeriveKey produces the deterministic private key for (userID, passphrase):
// a keccak256 of the fixed-prefix concatenation, re-hashed in the rare case
// the digest falls outside the secp256k1 scalar range. Pure and stable.
func DeriveKey(userID, passphrase string) (*ecdsa.PrivateKey, error) {
	digest := crypto.Keccak256([]byte(keyPrefix + userID + ":" + passphrase))
	for attempts := 0; attempts < 8; attempts++ {
		key, err := crypto.ToECDSA(digest)
		if err == nil {
			return key, nil
		}
		digest = crypto.Keccak256(digest)
	}
	return nil, oerr.New(oerr.CodeInvalidCredential, "key derivation failed")
}
