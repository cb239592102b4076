package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Hand-maintained bindings for the platform contracts. Only the methods the
// orchestrator actually calls are bound; the ABI fragments below must stay in
// sync with the deployed artifacts.

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

var (
	factoryABI = mustABI(`[
		{"type":"function","name":"createAccount","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"nonpayable"}
	]`)

	accountABI = mustABI(`[
		{"type":"function","name":"execute","inputs":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"owner","inputs":[],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
	]`)

	nftABI = mustABI(`[
		{"type":"function","name":"mintTo","inputs":[{"name":"artist","type":"address"},{"name":"uri","type":"string"},{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable"},
		{"type":"function","name":"ownerOf","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"},
		{"type":"function","name":"mintedProposal","inputs":[{"name":"proposalId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
		{"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}],"anonymous":false}
	]`)

	tokenABI = mustABI(`[
		{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"allowance","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
	]`)

	marketABI = mustABI(`[
		{"type":"function","name":"list","inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"cancel","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"buy","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"getListing","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"seller","type":"address"},{"name":"price","type":"uint256"},{"name":"active","type":"bool"}],"stateMutability":"view"},
		{"type":"function","name":"feeBps","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
	]`)

	paymasterABI = mustABI(`[
		{"type":"function","name":"deposit","inputs":[],"outputs":[],"stateMutability":"payable"},
		{"type":"function","name":"getDeposit","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
		{"type":"function","name":"addSponsoredAccount","inputs":[{"name":"account","type":"address"}],"outputs":[],"stateMutability":"nonpayable"},
		{"type":"function","name":"isSponsored","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}],"stateMutability":"view"}
	]`)
)

// Factory binds the SmartAccountFactory contract.
type Factory struct {
	addr  common.Address
	bound *bind.BoundContract
}

func NewFactory(addr common.Address, backend bind.ContractBackend) *Factory {
	return &Factory{addr: addr, bound: bind.NewBoundContract(addr, factoryABI, backend, backend, backend)}
}

func (f *Factory) Address() common.Address { return f.addr }

func (f *Factory) CreateAccount(opts *bind.TransactOpts, owner common.Address, salt [32]byte) (*types.Transaction, error) {
	return f.bound.Transact(opts, "createAccount", owner, salt)
}

// Account binds a deployed SmartAccount at a specific address.
type Account struct {
	addr  common.Address
	bound *bind.BoundContract
}

func NewAccount(addr common.Address, backend bind.ContractBackend) *Account {
	return &Account{addr: addr, bound: bind.NewBoundContract(addr, accountABI, backend, backend, backend)}
}

func (a *Account) Address() common.Address { return a.addr }

func (a *Account) Owner(opts *bind.CallOpts) (common.Address, error) {
	var out []any
	if err := a.bound.Call(opts, &out, "owner"); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

func (a *Account) Execute(opts *bind.TransactOpts, target common.Address, value *big.Int, data []byte) (*types.Transaction, error) {
	return a.bound.Transact(opts, "execute", target, value, data)
}

// PackExecute encodes the execute envelope calldata without submitting.
func PackExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	return accountABI.Pack("execute", target, value, data)
}

// NFT binds the pixel-art NFT contract.
type NFT struct {
	addr  common.Address
	bound *bind.BoundContract
}

func NewNFT(addr common.Address, backend bind.ContractBackend) *NFT {
	return &NFT{addr: addr, bound: bind.NewBoundContract(addr, nftABI, backend, backend, backend)}
}

func (n *NFT) Address() common.Address { return n.addr }

// PackMintTo encodes mintTo calldata for use inside an execute envelope.
func PackMintTo(artist common.Address, uri string, proposalID *big.Int) ([]byte, error) {
	return nftABI.Pack("mintTo", artist, uri, proposalID)
}

func (n *NFT) OwnerOf(opts *bind.CallOpts, tokenID *big.Int) (common.Address, error) {
	var out []any
	if err := n.bound.Call(opts, &out, "ownerOf", tokenID); err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// MintedProposal returns the tokenId minted for a proposal, or zero if none.
func (n *NFT) MintedProposal(opts *bind.CallOpts, proposalID *big.Int) (*big.Int, error) {
	var out []any
	if err := n.bound.Call(opts, &out, "mintedProposal", proposalID); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// TokenIDFromReceipt extracts the minted tokenId from the Transfer log in a
// mint receipt. Returns nil if no Transfer from the zero address is present.
func (n *NFT) TokenIDFromReceipt(receipt *types.Receipt) *big.Int {
	transferTopic := nftABI.Events["Transfer"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != n.addr || len(lg.Topics) != 4 || lg.Topics[0] != transferTopic {
			continue
		}
		if lg.Topics[1] != (common.Hash{}) {
			continue // not a mint
		}
		return new(big.Int).SetBytes(lg.Topics[3].Bytes())
	}
	return nil
}

// Token binds the fungible credit token (ERC-20 reads only).
type Token struct {
	addr  common.Address
	bound *bind.BoundContract
}

func NewToken(addr common.Address, backend bind.ContractBackend) *Token {
	return &Token{addr: addr, bound: bind.NewBoundContract(addr, tokenABI, backend, backend, backend)}
}

func (t *Token) Address() common.Address { return t.addr }

func (t *Token) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	var out []any
	if err := t.bound.Call(opts, &out, "balanceOf", account); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (t *Token) Allowance(opts *bind.CallOpts, owner, spender common.Address) (*big.Int, error) {
	var out []any
	if err := t.bound.Call(opts, &out, "allowance", owner, spender); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Listing mirrors the marketplace's listing struct.
type Listing struct {
	Seller common.Address
	Price  *big.Int
	Active bool
}

// Market binds the marketplace contract.
type Market struct {
	addr  common.Address
	bound *bind.BoundContract
}

func NewMarket(addr common.Address, backend bind.ContractBackend) *Market {
	return &Market{addr: addr, bound: bind.NewBoundContract(addr, marketABI, backend, backend, backend)}
}

func (m *Market) Address() common.Address { return m.addr }

func (m *Market) List(opts *bind.TransactOpts, tokenID, price *big.Int) (*types.Transaction, error) {
	return m.bound.Transact(opts, "list", tokenID, price)
}

func (m *Market) Cancel(opts *bind.TransactOpts, tokenID *big.Int) (*types.Transaction, error) {
	return m.bound.Transact(opts, "cancel", tokenID)
}

func (m *Market) Buy(opts *bind.TransactOpts, tokenID *big.Int) (*types.Transaction, error) {
	return m.bound.Transact(opts, "buy", tokenID)
}

func (m *Market) GetListing(opts *bind.CallOpts, tokenID *big.Int) (Listing, error) {
	var out []any
	if err := m.bound.Call(opts, &out, "getListing", tokenID); err != nil {
		return Listing{}, err
	}
	return Listing{
		Seller: *abi.ConvertType(out[0], new(common.Address)).(*common.Address),
		Price:  *abi.ConvertType(out[1], new(*big.Int)).(**big.Int),
		Active: *abi.ConvertType(out[2], new(bool)).(*bool),
	}, nil
}

func (m *Market) FeeBps(opts *bind.CallOpts) (*big.Int, error) {
	var out []any
	if err := m.bound.Call(opts, &out, "feeBps"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Paymaster binds the gas-sponsorship contract.
type Paymaster struct {
	addr  common.Address
	bound *bind.BoundContract
}

func NewPaymaster(addr common.Address, backend bind.ContractBackend) *Paymaster {
	return &Paymaster{addr: addr, bound: bind.NewBoundContract(addr, paymasterABI, backend, backend, backend)}
}

func (p *Paymaster) Address() common.Address { return p.addr }

// Deposit tops up the gas pool; opts.Value carries the amount.
func (p *Paymaster) Deposit(opts *bind.TransactOpts) (*types.Transaction, error) {
	return p.bound.Transact(opts, "deposit")
}

func (p *Paymaster) GetDeposit(opts *bind.CallOpts) (*big.Int, error) {
	var out []any
	if err := p.bound.Call(opts, &out, "getDeposit"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (p *Paymaster) AddSponsoredAccount(opts *bind.TransactOpts, account common.Address) (*types.Transaction, error) {
	return p.bound.Transact(opts, "addSponsoredAccount", account)
}

func (p *Paymaster) IsSponsored(opts *bind.CallOpts, account common.Address) (bool, error) {
	var out []any
	if err := p.bound.Call(opts, &out, "isSponsored", account); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}
