package account

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/oerr"
)

// mockChain simulates code presence and factory deployment. primed holds
// the derived address a deploy should materialize code at, since the mock
// does not re-derive addresses itself.
type mockChain struct {
	code         map[common.Address][]byte
	owners       map[common.Address]common.Address
	primed       map[common.Address]bool
	deploys      int
	deployErr    error
	deployNoOp   bool // deploy succeeds but writes no code
	pendingOwner common.Address
}

func newMockChain() *mockChain {
	return &mockChain{
		code:   make(map[common.Address][]byte),
		owners: make(map[common.Address]common.Address),
	}
}

func (m *mockChain) CodeAt(_ context.Context, addr common.Address) ([]byte, error) {
	return m.code[addr], nil
}

func (m *mockChain) DeployAccount(_ context.Context, owner common.Address, _ [32]byte) (common.Hash, error) {
	m.deploys++
	if m.deployErr != nil {
		return common.Hash{}, m.deployErr
	}
	if !m.deployNoOp {
		for addr := range m.primed {
			m.code[addr] = []byte{0x60}
			recorded := owner
			if m.pendingOwner != (common.Address{}) {
				recorded = m.pendingOwner
			}
			m.owners[addr] = recorded
		}
	}
	return common.HexToHash("0x01"), nil
}

func (m *mockChain) AccountOwner(_ context.Context, account common.Address) (common.Address, error) {
	owner, ok := m.owners[account]
	if !ok {
		return common.Address{}, errors.New("no account")
	}
	return owner, nil
}

type mockSponsor struct {
	registered []common.Address
	err        error
}

func (m *mockSponsor) RegisterSponsored(_ context.Context, account common.Address) error {
	if m.err != nil {
		return m.err
	}
	m.registered = append(m.registered, account)
	return nil
}

func newTestRegistry(t *testing.T, ch *mockChain, sp *mockSponsor) (*Registry, common.Address) {
	t.Helper()
	d := newTestDeriver(t)
	chainID := big.NewInt(31337)
	r := NewRegistry(d, chainID, ch, sp, zap.NewNop())

	// Pre-compute the address GetOrCreate will target so the mock can
	// materialize code there on deploy.
	addr := d.Derive(testOwner, Salt(chainID, testOwner))
	ch.primed = map[common.Address]bool{addr: true}
	return r, addr
}

func TestGetOrCreate_DeploysOnce(t *testing.T) {
	ch := newMockChain()
	sp := &mockSponsor{}
	r, want := newTestRegistry(t, ch, sp)
	ctx := context.Background()

	res1, err := r.GetOrCreate(ctx, testOwner)
	if err != nil {
		t.Fatalf("first GetOrCreate: %v", err)
	}
	if !res1.Created {
		t.Error("first call should report created=true")
	}
	if res1.Address != want {
		t.Errorf("address: got %s want %s", res1.Address.Hex(), want.Hex())
	}

	res2, err := r.GetOrCreate(ctx, testOwner)
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if res2.Created {
		t.Error("second call should report created=false")
	}
	if res2.Address != res1.Address {
		t.Errorf("addresses diverged: %s vs %s", res1.Address.Hex(), res2.Address.Hex())
	}
	if ch.deploys != 1 {
		t.Errorf("deploy count: got %d want 1", ch.deploys)
	}
}

func TestGetOrCreate_RegistersSponsorship(t *testing.T) {
	ch := newMockChain()
	sp := &mockSponsor{}
	r, want := newTestRegistry(t, ch, sp)

	if _, err := r.GetOrCreate(context.Background(), testOwner); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(sp.registered) != 1 || sp.registered[0] != want {
		t.Errorf("sponsorship registration: got %v want [%s]", sp.registered, want.Hex())
	}
}

func TestGetOrCreate_DeploymentFailed(t *testing.T) {
	ch := newMockChain()
	ch.deployNoOp = true
	r, _ := newTestRegistry(t, ch, &mockSponsor{})

	_, err := r.GetOrCreate(context.Background(), testOwner)
	if !oerr.Is(err, oerr.CodeDeploymentFailed) {
		t.Errorf("expected DEPLOYMENT_FAILED, got %v", err)
	}
}

func TestGetOrCreate_OwnershipMismatch(t *testing.T) {
	ch := newMockChain()
	ch.pendingOwner = common.HexToAddress("0xDEAD000000000000000000000000000000000001")
	r, _ := newTestRegistry(t, ch, &mockSponsor{})

	_, err := r.GetOrCreate(context.Background(), testOwner)
	if !oerr.Is(err, oerr.CodeOwnershipMismatch) {
		t.Errorf("expected OWNERSHIP_MISMATCH, got %v", err)
	}
}

func TestGetOrCreate_ZeroOwner(t *testing.T) {
	r, _ := newTestRegistry(t, newMockChain(), &mockSponsor{})

	_, err := r.GetOrCreate(context.Background(), common.Address{})
	if !oerr.Is(err, oerr.CodeValidation) {
		t.Errorf("expected VALIDATION, got %v", err)
	}
}

func TestPredict_NeverDeploys(t *testing.T) {
	ch := newMockChain()
	r, want := newTestRegistry(t, ch, &mockSponsor{})
	ctx := context.Background()

	addr, deployed, err := r.Predict(ctx, testOwner)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if addr != want {
		t.Errorf("address: got %s want %s", addr.Hex(), want.Hex())
	}
	if deployed {
		t.Error("deployed=true before any deployment")
	}
	if ch.deploys != 0 {
		t.Errorf("Predict triggered %d deploys", ch.deploys)
	}

	if _, err := r.GetOrCreate(ctx, testOwner); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	_, deployed, err = r.Predict(ctx, testOwner)
	if err != nil {
		t.Fatalf("Predict after deploy: %v", err)
	}
	if !deployed {
		t.Error("deployed=false after deployment")
	}
}
