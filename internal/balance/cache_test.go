package balance

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pixelmint/orchestrator/internal/oerr"
)

type mockReader struct {
	balances map[common.Address]*big.Int
	err      error

	reads atomic.Int64
	gate  chan struct{} // when set, reads block until the channel closes
}

func (m *mockReader) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	m.reads.Add(1)
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	bal, ok := m.balances[account]
	if !ok {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(bal), nil
}

var testAccount = common.HexToAddress("0x4000000000000000000000000000000000000004")

func newTestCache(t *testing.T, reader Reader, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(rdb, reader, ttl, zap.NewNop()), mr
}

func TestRead_MissThenHit(t *testing.T) {
	reader := &mockReader{balances: map[common.Address]*big.Int{testAccount: big.NewInt(2500)}}
	c, _ := newTestCache(t, reader, 30*time.Second)

	units, cached, err := c.Read(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cached {
		t.Error("first read reported a cache hit")
	}
	if units.Cmp(big.NewInt(2500)) != 0 {
		t.Errorf("units: got %s want 2500", units)
	}

	units, cached, err = c.Read(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !cached {
		t.Error("second read went to chain")
	}
	if units.Cmp(big.NewInt(2500)) != 0 {
		t.Errorf("units: got %s want 2500", units)
	}
	if got := reader.reads.Load(); got != 1 {
		t.Errorf("chain reads: got %d want 1", got)
	}
}

func TestRead_TTLExpiry(t *testing.T) {
	reader := &mockReader{balances: map[common.Address]*big.Int{testAccount: big.NewInt(100)}}
	c, mr := newTestCache(t, reader, 30*time.Second)

	if _, _, err := c.Read(context.Background(), testAccount); err != nil {
		t.Fatalf("Read: %v", err)
	}

	// Balance changes on chain while the entry is live: reads stay cached.
	reader.balances[testAccount] = big.NewInt(999)
	units, cached, _ := c.Read(context.Background(), testAccount)
	if !cached || units.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("within TTL: cached=%v units=%s, want cached stale value 100", cached, units)
	}

	mr.FastForward(31 * time.Second)

	units, cached, err := c.Read(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cached {
		t.Error("read after expiry reported a cache hit")
	}
	if units.Cmp(big.NewInt(999)) != 0 {
		t.Errorf("units after expiry: got %s want 999", units)
	}
}

func TestRead_CollapsesConcurrentMisses(t *testing.T) {
	reader := &mockReader{
		balances: map[common.Address]*big.Int{testAccount: big.NewInt(7)},
		gate:     make(chan struct{}),
	}
	c, _ := newTestCache(t, reader, time.Minute)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Read(context.Background(), testAccount)
			errs <- err
		}()
	}

	// Give the goroutines time to pile onto the in-flight read.
	time.Sleep(50 * time.Millisecond)
	close(reader.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
	}
	if got := reader.reads.Load(); got != 1 {
		t.Errorf("chain reads: got %d want 1", got)
	}
}

func TestRead_ReaderError(t *testing.T) {
	reader := &mockReader{err: oerr.New(oerr.CodeRPCTransient, "node down")}
	c, _ := newTestCache(t, reader, time.Minute)

	if _, _, err := c.Read(context.Background(), testAccount); !oerr.Is(err, oerr.CodeRPCTransient) {
		t.Errorf("expected RPC_TRANSIENT, got %v", err)
	}
}

func TestInvalidate_ForcesFreshRead(t *testing.T) {
	reader := &mockReader{balances: map[common.Address]*big.Int{testAccount: big.NewInt(500)}}
	c, _ := newTestCache(t, reader, time.Minute)

	if _, _, err := c.Read(context.Background(), testAccount); err != nil {
		t.Fatalf("Read: %v", err)
	}

	reader.balances[testAccount] = big.NewInt(350)
	c.Invalidate(context.Background(), testAccount)

	units, cached, err := c.Read(context.Background(), testAccount)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if cached {
		t.Error("read after invalidation reported a cache hit")
	}
	if units.Cmp(big.NewInt(350)) != 0 {
		t.Errorf("units after invalidation: got %s want 350", units)
	}
}
