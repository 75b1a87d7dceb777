package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/creasty/defaults"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

var (
	signer       = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	registryAddr = common.HexToAddress("0x0000000000000000000000000000000000001000")
)

type fakeSub struct {
	ch     chan<- types.Log
	query  ethereum.FilterQuery
	fail   chan error
	closed chan struct{}
}

// fakeChain answers contract calls from static tables and captures log subscriptions.
type fakeChain struct {
	mu      sync.Mutex
	ids     map[common.Address]string
	idErr   map[common.Address]error
	lookup  map[string]common.Address
	pages   map[string][10]common.Address
	subs    map[common.Address]*fakeSub
	history map[common.Address][]types.Log
	queries []ethereum.FilterQuery
	calls   int
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		ids:     make(map[common.Address]string),
		idErr:   make(map[common.Address]error),
		lookup:  make(map[string]common.Address),
		pages:   make(map[string][10]common.Address),
		subs:    make(map[common.Address]*fakeSub),
		history: make(map[common.Address][]types.Log),
	}
}

func (f *fakeChain) Call(
	_ context.Context,
	_, to common.Address,
	_ *abi.ABI,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	switch method {
	case contracts.MethodID:
		if err := f.idErr[to]; err != nil {
			return nil, err
		}
		id, ok := f.ids[to]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return []interface{}{id}, nil
	case contracts.MethodInitializeParty, contracts.MethodInitializeProduct:
		return []interface{}{f.lookup[method+":"+args[0].(string)]}, nil
	case contracts.MethodGetPartyAddressList, contracts.MethodGetProductAddressList:
		page := args[0].(*big.Int).Int64()
		return []interface{}{f.pages[fmt.Sprintf("%s:%d", method, page)]}, nil
	}
	return nil, fmt.Errorf("unexpected method %s", method)
}

func (f *fakeChain) SubscribeLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := &fakeSub{ch: ch, query: q, fail: make(chan error, 1), closed: make(chan struct{})}
	f.subs[q.Addresses[0]] = s
	f.queries = append(f.queries, q)
	// historical logs are queued before the subscription is handed back
	for _, lg := range f.history[q.Addresses[0]] {
		ch <- lg
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case <-quit:
			close(s.closed)
			return nil
		case err := <-s.fail:
			return err
		}
	}), nil
}

func (f *fakeChain) addItem(kind contracts.Kind, page int, slot int, id string, addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[addr] = id
	method := listMethods[kind]
	key := fmt.Sprintf("%s:%d", method, page)
	p := f.pages[key]
	p[slot] = addr
	f.pages[key] = p
}

// deployItem makes an item resolvable through the registry without listing it.
func (f *fakeChain) deployItem(kind contracts.Kind, id string, addr common.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids[addr] = id
	method := contracts.MethodInitializeProduct
	if kind == contracts.KindParty {
		method = contracts.MethodInitializeParty
	}
	f.lookup[method+":"+id] = addr
}

// backfill queues logs that every new subscription at addr receives first.
func (f *fakeChain) backfill(addr common.Address, logs ...types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[addr] = append(f.history[addr], logs...)
}

func (f *fakeChain) sub(t *testing.T, addr common.Address) *fakeSub {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.subs[addr] != nil
	}, time.Second, 5*time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[addr]
}

func (f *fakeChain) push(t *testing.T, addr common.Address, lg types.Log) {
	t.Helper()
	f.sub(t, addr).ch <- lg
}

func (f *fakeChain) subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func (f *fakeChain) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func itemAddress(n int) common.Address {
	return common.BigToAddress(big.NewInt(int64(0x2000 + n)))
}

func descriptor(t *testing.T, kind contracts.Kind) *contracts.Descriptor {
	t.Helper()
	catalog, err := contracts.NewCatalog(contracts.Options{})
	require.NoError(t, err)
	d, err := catalog.Descriptor(kind)
	require.NoError(t, err)
	return d
}

func eventLog(t *testing.T, kind contracts.Kind, addr common.Address, name string, block uint64, index uint, args ...interface{}) types.Log {
	t.Helper()
	ev := descriptor(t, kind).ABI.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return types.Log{
		Address:     addr,
		Topics:      []common.Hash{ev.ID},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BigToHash(big.NewInt(int64(block*1000) + int64(index))),
	}
}

type recorded struct {
	mu     sync.Mutex
	events []*ledger.Event
}

func (r *recorded) recorder() *MockRecorder {
	return &MockRecorder{RecordFunc: func(_ context.Context, _ contracts.Kind, ev *ledger.Event) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, ev)
		return nil
	}}
}

func (r *recorded) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))
	cfg.Account.Address = signer.Hex()
	cfg.Sync.ResubscribeMin = 5 * time.Millisecond
	cfg.Sync.ResubscribeMax = 20 * time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, client LedgerClient, withRegistry bool, opts ...Option) (*Engine, *registry.Index) {
	t.Helper()
	return newTestEngineWithConfig(t, testConfig(t), client, withRegistry, opts...)
}

func newTestEngineWithConfig(t *testing.T, cfg *config.Config, client LedgerClient, withRegistry bool, opts ...Option) (*Engine, *registry.Index) {
	t.Helper()
	copts := contracts.Options{}
	if withRegistry {
		copts.RegistryAddress = registryAddr.Hex()
	}
	catalog, err := contracts.NewCatalog(copts)
	require.NoError(t, err)

	index := registry.NewIndex()
	e := NewEngine(cfg, catalog, client, index, zap.NewNop(), opts...)
	t.Cleanup(e.Stop)
	return e, index
}
