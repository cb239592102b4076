package market

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/chain"
	"github.com/pixelmint/orchestrator/internal/oerr"
	"github.com/pixelmint/orchestrator/internal/signer"
	"github.com/pixelmint/orchestrator/internal/store"
)

var testMarket = common.HexToAddress("0x8000000000000000000000000000000000000008")

type mockChain struct {
	listings  map[string]chain.Listing
	owners    map[string]common.Address
	allowance map[common.Address]*big.Int
	feeBps    *big.Int
	// txSeller is recorded as the listing's seller when MarketList settles.
	txSeller common.Address

	listCalls   int
	cancelCalls int
	buyCalls    int
	broadcasts  int
	lastPrice   *big.Int
	lastRaw     []byte
}

func (m *mockChain) Listing(ctx context.Context, tokenID *big.Int) (chain.Listing, error) {
	return m.listings[tokenID.String()], nil
}

func (m *mockChain) MarketFeeBps(ctx context.Context) (*big.Int, error) {
	if m.feeBps == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(m.feeBps), nil
}

func (m *mockChain) MarketAddress() common.Address { return testMarket }

func (m *mockChain) TokenOwner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	return m.owners[tokenID.String()], nil
}

func (m *mockChain) TokenAllowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	if a, ok := m.allowance[owner]; ok {
		return new(big.Int).Set(a), nil
	}
	return big.NewInt(0), nil
}

func (m *mockChain) newTx(nonce uint64) *types.Transaction {
	return types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &testMarket,
		Gas:      100_000,
		GasPrice: big.NewInt(1),
	})
}

func (m *mockChain) MarketList(ctx context.Context, key *ecdsa.PrivateKey, tokenID, price *big.Int) (*types.Transaction, error) {
	m.listCalls++
	m.lastPrice = new(big.Int).Set(price)
	m.listings[tokenID.String()] = chain.Listing{Seller: m.txSeller, Price: new(big.Int).Set(price), Active: true}
	return m.newTx(1), nil
}

func (m *mockChain) MarketCancel(ctx context.Context, key *ecdsa.PrivateKey, tokenID *big.Int) (*types.Transaction, error) {
	m.cancelCalls++
	if l, ok := m.listings[tokenID.String()]; ok {
		l.Active = false
		m.listings[tokenID.String()] = l
	}
	return m.newTx(2), nil
}

func (m *mockChain) MarketBuy(ctx context.Context, key *ecdsa.PrivateKey, tokenID *big.Int) (*types.Transaction, error) {
	m.buyCalls++
	return m.newTx(3), nil
}

func (m *mockChain) SendRawTransaction(ctx context.Context, rawTx []byte) (*types.Transaction, error) {
	m.broadcasts++
	m.lastRaw = rawTx
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return nil, oerr.Wrap(oerr.CodeValidation, "decode raw transaction", err)
	}
	return tx, nil
}

func (m *mockChain) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: tx.Hash()}, nil
}

type mockCache struct {
	invalidated []common.Address
}

func (m *mockCache) Invalidate(ctx context.Context, account common.Address) {
	m.invalidated = append(m.invalidated, account)
}

type mockPrices struct {
	proposals map[string]*store.Proposal
}

func (m *mockPrices) ProposalByTokenID(ctx context.Context, tokenID string) (*store.Proposal, error) {
	p, ok := m.proposals[tokenID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func derivedCred() signer.Credential {
	return signer.DerivedKeyAuth{UserID: "seller-1", Passphrase: "swordfish"}
}

func derivedAddress(t *testing.T) common.Address {
	t.Helper()
	key, err := signer.DeriveKey("seller-1", "swordfish")
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}

func newFixture(t *testing.T, ch *mockChain) (*Orchestrator, *mockCache, *mockPrices) {
	t.Helper()
	cache := &mockCache{}
	prices := &mockPrices{proposals: map[string]*store.Proposal{}}
	orch := NewOrchestrator(ch, signer.NewResolver(big.NewInt(31337)), cache, prices, zap.NewNop())
	return orch, cache, prices
}

func TestList_DerivedSigner(t *testing.T) {
	ch := &mockChain{
		listings: map[string]chain.Listing{},
		owners:   map[string]common.Address{"42": derivedAddress(t)},
	}
	orch, _, _ := newFixture(t, ch)

	res, err := orch.List(context.Background(), big.NewInt(42), "1500", derivedCred())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if res.TxHash == (common.Hash{}) {
		t.Error("empty tx hash")
	}
	if ch.listCalls != 1 {
		t.Errorf("listCalls: got %d want 1", ch.listCalls)
	}
	if ch.lastPrice.Cmp(big.NewInt(1500)) != 0 {
		t.Errorf("price: got %s want 1500", ch.lastPrice)
	}
}

func TestList_AlreadyListed(t *testing.T) {
	ch := &mockChain{listings: map[string]chain.Listing{
		"42": {Seller: derivedAddress(t), Price: big.NewInt(100), Active: true},
	}}
	orch, _, _ := newFixture(t, ch)

	_, err := orch.List(context.Background(), big.NewInt(42), "1500", derivedCred())
	if !oerr.Is(err, oerr.CodeContractRevert) {
		t.Fatalf("expected CONTRACT_REVERT, got %v", err)
	}
	if oerr.ReasonOf(err) != "already listed" {
		t.Errorf("reason: got %q want %q", oerr.ReasonOf(err), "already listed")
	}
	if ch.listCalls != 0 {
		t.Error("duplicate listing reached the chain")
	}
}

func TestList_FallsBackToProposalPrice(t *testing.T) {
	ch := &mockChain{
		listings: map[string]chain.Listing{},
		owners:   map[string]common.Address{"42": derivedAddress(t)},
	}
	orch, _, prices := newFixture(t, ch)
	prices.proposals["42"] = &store.Proposal{ID: 7, InitialPriceUnits: "2500"}

	if _, err := orch.List(context.Background(), big.NewInt(42), "", derivedCred()); err != nil {
		t.Fatalf("List: %v", err)
	}
	if ch.lastPrice.Cmp(big.NewInt(2500)) != 0 {
		t.Errorf("price: got %s want proposal price 2500", ch.lastPrice)
	}
}

func TestList_PriceValidation(t *testing.T) {
	cases := []struct {
		name  string
		price string
	}{
		{"not a number", "one hundred"},
		{"zero", "0"},
		{"negative", "-5"},
		{"empty with no proposal", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := &mockChain{
				listings: map[string]chain.Listing{},
				owners:   map[string]common.Address{"42": derivedAddress(t)},
			}
			orch, _, _ := newFixture(t, ch)

			_, err := orch.List(context.Background(), big.NewInt(42), tc.price, derivedCred())
			if !oerr.Is(err, oerr.CodeValidation) {
				t.Errorf("expected VALIDATION, got %v", err)
			}
		})
	}
}

func TestList_NotOwner(t *testing.T) {
	other := common.HexToAddress("0x9000000000000000000000000000000000000009")
	ch := &mockChain{
		listings: map[string]chain.Listing{},
		owners:   map[string]common.Address{"42": other},
	}
	orch, _, _ := newFixture(t, ch)

	_, err := orch.List(context.Background(), big.NewInt(42), "1500", derivedCred())
	if !oerr.Is(err, oerr.CodeContractRevert) {
		t.Fatalf("expected CONTRACT_REVERT, got %v", err)
	}
	if oerr.ReasonOf(err) != "not owner" {
		t.Errorf("reason: got %q want %q", oerr.ReasonOf(err), "not owner")
	}
	if ch.listCalls != 0 {
		t.Error("foreign listing reached the chain")
	}
}

func TestCancelThenRelist(t *testing.T) {
	seller := derivedAddress(t)
	ch := &mockChain{
		listings: map[string]chain.Listing{},
		owners:   map[string]common.Address{"42": seller},
		txSeller: seller,
	}
	orch, _, _ := newFixture(t, ch)
	ctx := context.Background()

	if _, err := orch.List(ctx, big.NewInt(42), "1500", derivedCred()); err != nil {
		t.Fatalf("first List: %v", err)
	}
	if _, err := orch.Cancel(ctx, big.NewInt(42), derivedCred()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	// The slot is free again: the same seller may relist.
	if _, err := orch.List(ctx, big.NewInt(42), "2000", derivedCred()); err != nil {
		t.Fatalf("relist after cancel: %v", err)
	}
	if ch.listCalls != 2 || ch.cancelCalls != 1 {
		t.Errorf("calls: list=%d cancel=%d, want 2 and 1", ch.listCalls, ch.cancelCalls)
	}
	if got := ch.listings["42"]; !got.Active || got.Price.Cmp(big.NewInt(2000)) != 0 {
		t.Errorf("relisted state: %+v", got)
	}
}

func TestCancel_SellerOnly(t *testing.T) {
	other := common.HexToAddress("0x9000000000000000000000000000000000000009")
	ch := &mockChain{listings: map[string]chain.Listing{
		"42": {Seller: other, Price: big.NewInt(100), Active: true},
	}}
	orch, _, _ := newFixture(t, ch)

	_, err := orch.Cancel(context.Background(), big.NewInt(42), derivedCred())
	if !oerr.Is(err, oerr.CodeContractRevert) {
		t.Fatalf("expected CONTRACT_REVERT, got %v", err)
	}
	if oerr.ReasonOf(err) != "not seller" {
		t.Errorf("reason: got %q want %q", oerr.ReasonOf(err), "not seller")
	}
	if ch.cancelCalls != 0 {
		t.Error("foreign cancel reached the chain")
	}
}

func TestCancel_Succeeds(t *testing.T) {
	ch := &mockChain{listings: map[string]chain.Listing{
		"42": {Seller: derivedAddress(t), Price: big.NewInt(100), Active: true},
	}}
	orch, _, _ := newFixture(t, ch)

	if _, err := orch.Cancel(context.Background(), big.NewInt(42), derivedCred()); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if ch.cancelCalls != 1 {
		t.Errorf("cancelCalls: got %d want 1", ch.cancelCalls)
	}
}

func TestCancel_NotListed(t *testing.T) {
	ch := &mockChain{listings: map[string]chain.Listing{}}
	orch, _, _ := newFixture(t, ch)

	_, err := orch.Cancel(context.Background(), big.NewInt(42), derivedCred())
	if !oerr.Is(err, oerr.CodeContractRevert) || oerr.ReasonOf(err) != "not listed" {
		t.Errorf("expected not-listed revert, got %v", err)
	}
}

func TestBuy_InvalidatesBothBalances(t *testing.T) {
	seller := common.HexToAddress("0xa00000000000000000000000000000000000000a")
	ch := &mockChain{
		listings: map[string]chain.Listing{
			"42": {Seller: seller, Price: big.NewInt(100), Active: true},
		},
		allowance: map[common.Address]*big.Int{derivedAddress(t): big.NewInt(100)},
	}
	orch, cache, _ := newFixture(t, ch)

	if _, err := orch.Buy(context.Background(), big.NewInt(42), derivedCred()); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if ch.buyCalls != 1 {
		t.Errorf("buyCalls: got %d want 1", ch.buyCalls)
	}
	if len(cache.invalidated) != 2 {
		t.Fatalf("invalidated %d entries, want buyer and seller", len(cache.invalidated))
	}
	if cache.invalidated[0] != derivedAddress(t) || cache.invalidated[1] != seller {
		t.Errorf("invalidated %v, want [buyer seller]", cache.invalidated)
	}
}

func TestBuy_ExternalSignature(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &testMarket,
		Gas:      100_000,
		GasPrice: big.NewInt(1),
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(31337)), key)
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal tx: %v", err)
	}

	seller := common.HexToAddress("0xb00000000000000000000000000000000000000b")
	ch := &mockChain{
		listings: map[string]chain.Listing{
			"42": {Seller: seller, Price: big.NewInt(100), Active: true},
		},
		allowance: map[common.Address]*big.Int{crypto.PubkeyToAddress(key.PublicKey): big.NewInt(100)},
	}
	orch, cache, _ := newFixture(t, ch)

	res, err := orch.Buy(context.Background(), big.NewInt(42), signer.ExternalSignatureAuth{RawTx: raw})
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if ch.broadcasts != 1 {
		t.Errorf("broadcasts: got %d want 1", ch.broadcasts)
	}
	if ch.buyCalls != 0 {
		t.Error("external path signed with a platform key")
	}
	if string(ch.lastRaw) != string(raw) {
		t.Error("raw transaction altered before broadcast")
	}
	if res.TxHash != signed.Hash() {
		t.Errorf("tx hash: got %s want %s", res.TxHash.Hex(), signed.Hash().Hex())
	}
	if len(cache.invalidated) != 2 {
		t.Errorf("invalidated %d entries, want 2", len(cache.invalidated))
	}
}

func TestBuy_InsufficientAllowance(t *testing.T) {
	seller := common.HexToAddress("0xa00000000000000000000000000000000000000a")
	ch := &mockChain{
		listings: map[string]chain.Listing{
			"42": {Seller: seller, Price: big.NewInt(100), Active: true},
		},
		allowance: map[common.Address]*big.Int{derivedAddress(t): big.NewInt(99)},
	}
	orch, cache, _ := newFixture(t, ch)

	_, err := orch.Buy(context.Background(), big.NewInt(42), derivedCred())
	if !oerr.Is(err, oerr.CodeContractRevert) {
		t.Fatalf("expected CONTRACT_REVERT, got %v", err)
	}
	if oerr.ReasonOf(err) != "insufficient allowance" {
		t.Errorf("reason: got %q want %q", oerr.ReasonOf(err), "insufficient allowance")
	}
	if ch.buyCalls != 0 {
		t.Error("underfunded buy reached the chain")
	}
	if len(cache.invalidated) != 0 {
		t.Error("balances invalidated for a purchase that never settled")
	}
}

func TestGetListing_IncludesFee(t *testing.T) {
	seller := common.HexToAddress("0xa00000000000000000000000000000000000000a")
	ch := &mockChain{
		listings: map[string]chain.Listing{
			"42": {Seller: seller, Price: big.NewInt(1500), Active: true},
		},
		feeBps: big.NewInt(250),
	}
	orch, _, _ := newFixture(t, ch)

	detail, err := orch.GetListing(context.Background(), big.NewInt(42))
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if detail.Seller != seller || !detail.Active {
		t.Errorf("listing: %+v", detail.Listing)
	}
	if detail.FeeBps.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("fee bps: got %s want 250", detail.FeeBps)
	}
}

func TestNormalizeAddress(t *testing.T) {
	if _, err := NormalizeAddress("not-an-address"); !oerr.Is(err, oerr.CodeAddressResolution) {
		t.Errorf("expected ADDRESS_RESOLUTION, got %v", err)
	}
	got, err := NormalizeAddress("  0xA00000000000000000000000000000000000000a ")
	if err != nil {
		t.Fatalf("NormalizeAddress: %v", err)
	}
	want := common.HexToAddress("0xa00000000000000000000000000000000000000a")
	if got != want {
		t.Errorf("got %s want %s", got.Hex(), want.Hex())
	}
}
