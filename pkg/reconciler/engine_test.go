package reconciler

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/notify"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

func TestInitialize_LoadsNonEmptyItems(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))
	chain.addItem(contracts.KindParty, 1, 3, "globex", itemAddress(2))
	chain.addItem(contracts.KindParty, 1, 7, "initech", itemAddress(3))
	chain.addItem(contracts.KindProduct, 1, 0, "widget", itemAddress(10))

	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	assert.True(t, e.IsReady())
	assert.Equal(t, 3, index.Len(contracts.KindParty))
	assert.Equal(t, 1, index.Len(contracts.KindProduct))

	h, ok := index.Get(contracts.KindParty, "globex")
	require.True(t, ok)
	assert.Equal(t, itemAddress(2), h.Address)

	h, ok = index.Get(contracts.KindProduct, "widget")
	require.True(t, ok)
	assert.Equal(t, itemAddress(10), h.Address)

	// registry + 3 parties + 1 product
	assert.Equal(t, 5, chain.subscriptions())

	st := e.Status()
	assert.Equal(t, Status{Ready: true, RegistryAddress: registryAddr.Hex(), Parties: 3, Products: 1}, st)
}

func TestInitialize_FollowsFullPages(t *testing.T) {
	chain := newFakeChain()
	for i := 0; i < 10; i++ {
		chain.addItem(contracts.KindProduct, 1, i, "p1-"+string(rune('a'+i)), itemAddress(100+i))
	}
	chain.addItem(contracts.KindProduct, 2, 0, "p2-a", itemAddress(200))

	cfg := testConfig(t)
	cfg.Sync.MaxPages = 3
	e, index := newTestEngineWithConfig(t, cfg, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	assert.Equal(t, 11, index.Len(contracts.KindProduct))
}

func TestInitialize_SinglePageByDefault(t *testing.T) {
	chain := newFakeChain()
	for i := 0; i < 10; i++ {
		chain.addItem(contracts.KindProduct, 1, i, "p1-"+string(rune('a'+i)), itemAddress(100+i))
	}
	chain.addItem(contracts.KindProduct, 2, 0, "p2-a", itemAddress(200))

	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	assert.Equal(t, 10, index.Len(contracts.KindProduct))
}

func TestInitialize_NoRegistry(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, false)

	err := e.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrRegistryNotDeployed))
	assert.False(t, e.IsReady())
	assert.False(t, index.HasRegistry())
	assert.Equal(t, 0, chain.subscriptions())
	assert.Equal(t, Status{}, e.Status())
}

func TestInitialize_RegistrySubscribeFailure(t *testing.T) {
	client := &MockLedgerClient{
		SubscribeLogsFunc: func(context.Context, ethereum.FilterQuery, chan<- types.Log) (ethereum.Subscription, error) {
			return nil, errors.New("connection refused")
		},
	}
	e, index := newTestEngine(t, client, true)

	err := e.Initialize(context.Background())
	require.Error(t, err)
	assert.False(t, e.IsReady())
	assert.False(t, index.HasRegistry())
}

func TestInitialize_ItemFailureDoesNotAbort(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))
	chain.addItem(contracts.KindParty, 1, 1, "broken", itemAddress(2))
	chain.addItem(contracts.KindParty, 1, 2, "globex", itemAddress(3))
	chain.idErr[itemAddress(2)] = errors.New("execution reverted")

	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	assert.True(t, e.IsReady())
	assert.Equal(t, 2, index.Len(contracts.KindParty))
	_, ok := index.Get(contracts.KindParty, "broken")
	assert.False(t, ok)
}

func TestInitialize_Idempotent(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))

	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))
	calls := chain.callCount()

	require.NoError(t, e.Initialize(context.Background()))
	assert.Equal(t, calls, chain.callCount())
	assert.Equal(t, 1, index.Len(contracts.KindParty))
}

func TestStart_InitializesWhenConfigured(t *testing.T) {
	chain := newFakeChain()
	e, _ := newTestEngine(t, chain, true)
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.IsReady())

	// Start does not fail on a missing registry.
	cfg := testConfig(t)
	other, _ := newTestEngineWithConfig(t, cfg, newFakeChain(), false)
	require.NoError(t, other.Start(context.Background()))
	assert.False(t, other.IsReady())

	cfg = testConfig(t)
	cfg.Sync.InitializeOnStart = false
	lazy, _ := newTestEngineWithConfig(t, cfg, newFakeChain(), true)
	require.NoError(t, lazy.Start(context.Background()))
	assert.False(t, lazy.IsReady())
}

func TestLoad_EmptyAddressSkipped(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, true)

	h, err := e.Load(context.Background(), contracts.KindProduct, common.Address{})
	require.ErrorIs(t, err, registry.ErrEmptyAddress)
	assert.Nil(t, h)
	assert.Equal(t, 0, index.Len(contracts.KindProduct))
	assert.Equal(t, 0, chain.subscriptions())
	assert.Equal(t, 0, chain.callCount())
}

func TestLoad_UnknownKind(t *testing.T) {
	chain := newFakeChain()
	e, _ := newTestEngine(t, chain, true)

	_, err := e.Load(context.Background(), contracts.Kind(42), itemAddress(1))
	require.ErrorIs(t, err, contracts.ErrUnknownKind)
	assert.Equal(t, 0, chain.subscriptions())
}

func TestLoad_SubscribesToKindEvents(t *testing.T) {
	chain := newFakeChain()
	chain.ids[itemAddress(1)] = "widget"

	cfg := testConfig(t)
	cfg.Ledger.FromBlock = 42
	e, _ := newTestEngineWithConfig(t, cfg, chain, true)

	h, err := e.Load(context.Background(), contracts.KindProduct, itemAddress(1))
	require.NoError(t, err)
	t.Cleanup(h.Close)

	assert.Equal(t, "widget", h.ID)
	assert.Equal(t, contracts.KindProduct, h.Kind)

	q := chain.sub(t, itemAddress(1)).query
	assert.Equal(t, []common.Address{itemAddress(1)}, q.Addresses)
	assert.Equal(t, big.NewInt(42), q.FromBlock)
	require.Len(t, q.Topics, 1)
	assert.ElementsMatch(t, descriptor(t, contracts.KindProduct).Topics(), q.Topics[0])
}

func TestProductAddedEvent_InsertsItem(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	chain.deployItem(contracts.KindProduct, "X", itemAddress(7))

	_, ok := index.Get(contracts.KindProduct, "X")
	require.False(t, ok)

	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 10, 0, "X"))

	require.Eventually(t, func() bool {
		_, ok := index.Get(contracts.KindProduct, "X")
		return ok
	}, time.Second, 5*time.Millisecond)

	h, _ := index.Get(contracts.KindProduct, "X")
	assert.Equal(t, itemAddress(7), h.Address)
}

func TestPartyAddedEvent_InsertsItem(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	chain.deployItem(contracts.KindParty, "acme", itemAddress(3))
	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventPartyAdded, 10, 0, "acme"))

	require.Eventually(t, func() bool {
		_, ok := index.Get(contracts.KindParty, "acme")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestProductAddedEvent_IndexedUnderEventID(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	// the registry resolves "X" to a contract whose id() reports "Y"
	chain.deployItem(contracts.KindProduct, "Y", itemAddress(7))
	chain.mu.Lock()
	chain.lookup[contracts.MethodInitializeProduct+":X"] = itemAddress(7)
	chain.mu.Unlock()

	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 10, 0, "X"))

	require.Eventually(t, func() bool {
		_, ok := index.Get(contracts.KindProduct, "X")
		return ok
	}, time.Second, 5*time.Millisecond)

	h, _ := index.Get(contracts.KindProduct, "X")
	assert.Equal(t, "X", h.ID)
	assert.Equal(t, itemAddress(7), h.Address)
	_, ok := index.Get(contracts.KindProduct, "Y")
	assert.False(t, ok)
}

func TestProductAddedEvent_ReplayIsIdempotent(t *testing.T) {
	chain := newFakeChain()
	var rec recorded
	e, index := newTestEngine(t, chain, true, WithJournal(rec.recorder()))
	require.NoError(t, e.Initialize(context.Background()))

	chain.deployItem(contracts.KindProduct, "X", itemAddress(7))
	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 10, 0, "X"))
	require.Eventually(t, func() bool {
		_, ok := index.Get(contracts.KindProduct, "X")
		return ok
	}, time.Second, 5*time.Millisecond)
	first, _ := index.Get(contracts.KindProduct, "X")
	subs := chain.subscriptions()

	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 11, 0, "X"))
	// Events of one contract are handled in order, so this one marks the replay as done.
	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventPermissionDenied, 12, 0, signer))
	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, index.Len(contracts.KindProduct))
	second, _ := index.Get(contracts.KindProduct, "X")
	assert.Same(t, first, second)
	assert.Equal(t, subs, chain.subscriptions())
}

func TestListener_SkipsUndecodableLogs(t *testing.T) {
	chain := newFakeChain()
	var rec recorded
	e, index := newTestEngine(t, chain, true, WithJournal(rec.recorder()))
	require.NoError(t, e.Initialize(context.Background()))

	// a party event delivered on the registry stream does not match the registry ABI
	chain.push(t, registryAddr, eventLog(t, contracts.KindParty, registryAddr, contracts.EventNotification, 5, 0, "tag", "X", "a@b"))
	chain.push(t, registryAddr, types.Log{Address: registryAddr, BlockNumber: 5, Index: 1})

	chain.deployItem(contracts.KindProduct, "X", itemAddress(7))
	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 6, 0, "X"))

	require.Eventually(t, func() bool {
		_, ok := index.Get(contracts.KindProduct, "X")
		return ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, rec.count())
}

func TestListener_HandlerFailureKeepsStream(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	// "ghost" resolves to the empty address
	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 5, 0, "ghost"))

	chain.deployItem(contracts.KindProduct, "X", itemAddress(7))
	chain.push(t, registryAddr, eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventProductAdded, 6, 0, "X"))

	require.Eventually(t, func() bool {
		_, ok := index.Get(contracts.KindProduct, "X")
		return ok
	}, time.Second, 5*time.Millisecond)
	_, ok := index.Get(contracts.KindProduct, "ghost")
	assert.False(t, ok)
}

func TestListener_ResubscribesFromLastBlock(t *testing.T) {
	chain := newFakeChain()
	var rec recorded
	e, _ := newTestEngine(t, chain, true, WithJournal(rec.recorder()))
	require.NoError(t, e.Initialize(context.Background()))

	denied := func(block uint64, index uint) types.Log {
		return eventLog(t, contracts.KindRegistry, registryAddr, contracts.EventPermissionDenied, block, index, signer)
	}

	chain.push(t, registryAddr, denied(20, 3))
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)

	before := chain.subscriptions()
	first := chain.sub(t, registryAddr)
	first.fail <- errors.New("connection reset")

	require.Eventually(t, func() bool { return chain.subscriptions() == before+1 }, time.Second, 5*time.Millisecond)
	second := chain.sub(t, registryAddr)
	require.NotSame(t, first, second)
	assert.Equal(t, big.NewInt(20), second.query.FromBlock)

	// backfill overlap is dropped
	second.ch <- denied(20, 3)
	second.ch <- denied(20, 4)
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	second.ch <- denied(21, 0)
	require.Eventually(t, func() bool { return rec.count() == 3 }, time.Second, 5*time.Millisecond)
}

func TestPartyNotification_DeliveredToSink(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))

	got := make(chan notify.Notification, 1)
	sink := &MockSink{NotifyFunc: func(_ context.Context, n notify.Notification) error {
		got <- n
		return nil
	}}
	decryptor := &MockDecryptor{DecryptContactFunc: func(partyID, value string) (string, error) {
		assert.Equal(t, "acme", partyID)
		return "ops@acme.test", nil
	}}

	e, _ := newTestEngine(t, chain, true, WithNotifier(sink), WithContactDecryptor(decryptor))
	require.NoError(t, e.Initialize(context.Background()))

	chain.push(t, itemAddress(1),
		eventLog(t, contracts.KindParty, itemAddress(1), contracts.EventNotification, 30, 0, "QUANTITY_EXCEEDED", "widget", "enc:v1:abc"))

	select {
	case n := <-got:
		assert.Equal(t, notify.Notification{
			PartyID:     "acme",
			Destination: "ops@acme.test",
			ProductID:   "widget",
			EventTag:    "QUANTITY_EXCEEDED",
		}, n)
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestPartyNotification_SinkFailureKeepsStream(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))

	got := make(chan notify.Notification, 2)
	sink := &MockSink{NotifyFunc: func(_ context.Context, n notify.Notification) error {
		got <- n
		return errors.New("smtp down")
	}}

	e, _ := newTestEngine(t, chain, true, WithNotifier(sink))
	require.NoError(t, e.Initialize(context.Background()))

	for i := uint(0); i < 2; i++ {
		chain.push(t, itemAddress(1),
			eventLog(t, contracts.KindParty, itemAddress(1), contracts.EventNotification, 30, i, "tag", "widget", "ops@acme.test"))
	}
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(time.Second):
			t.Fatal("notification not attempted")
		}
	}
}

func TestMaterialize_LosingHandleDeliversNothing(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))

	notified := make(chan notify.Notification, 4)
	sink := &MockSink{NotifyFunc: func(_ context.Context, n notify.Notification) error {
		notified <- n
		return nil
	}}
	e, index := newTestEngine(t, chain, true, WithNotifier(sink))
	require.NoError(t, e.Initialize(context.Background()))
	first, ok := index.Get(contracts.KindParty, "acme")
	require.True(t, ok)

	// a second contract claiming the same id, with history waiting on subscribe
	chain.mu.Lock()
	chain.ids[itemAddress(2)] = "acme"
	chain.mu.Unlock()
	chain.backfill(itemAddress(2),
		eventLog(t, contracts.KindParty, itemAddress(2), contracts.EventNotification, 5, 0, "tag", "widget", "ops@acme.test"))

	_, err := e.materialize(context.Background(), contracts.KindParty, itemAddress(2), "")
	require.ErrorIs(t, err, registry.ErrDuplicateID)

	select {
	case <-chain.sub(t, itemAddress(2)).closed:
	case <-time.After(time.Second):
		t.Fatal("subscription of rejected handle not closed")
	}
	select {
	case n := <-notified:
		t.Fatalf("rejected handle delivered %+v", n)
	case <-time.After(50 * time.Millisecond):
	}

	current, _ := index.Get(contracts.KindParty, "acme")
	assert.Same(t, first, current)
}

func TestMaterialize_DeliversHistoryAfterInsert(t *testing.T) {
	chain := newFakeChain()
	notified := make(chan notify.Notification, 1)
	sink := &MockSink{NotifyFunc: func(_ context.Context, n notify.Notification) error {
		notified <- n
		return nil
	}}
	e, _ := newTestEngine(t, chain, true, WithNotifier(sink))
	require.NoError(t, e.Initialize(context.Background()))

	chain.deployItem(contracts.KindParty, "acme", itemAddress(2))
	chain.backfill(itemAddress(2),
		eventLog(t, contracts.KindParty, itemAddress(2), contracts.EventNotification, 5, 0, "tag", "widget", "ops@acme.test"))

	h, err := e.materialize(context.Background(), contracts.KindParty, itemAddress(2), "acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", h.ID)

	select {
	case n := <-notified:
		assert.Equal(t, "acme", n.PartyID)
		assert.Equal(t, "widget", n.ProductID)
	case <-time.After(time.Second):
		t.Fatal("history not delivered after insert")
	}
}

func TestProductEvents_ObservabilityOnly(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindProduct, 1, 0, "widget", itemAddress(10))

	var rec recorded
	e, index := newTestEngine(t, chain, true, WithJournal(rec.recorder()))
	require.NoError(t, e.Initialize(context.Background()))

	chain.push(t, itemAddress(10), eventLog(t, contracts.KindProduct, itemAddress(10), contracts.EventDataAdded, 40, 0, "42kg", big.NewInt(1700000000)))
	chain.push(t, itemAddress(10), eventLog(t, contracts.KindProduct, itemAddress(10), contracts.EventQuantityLimitExceeded, 40, 1,
		"widget", big.NewInt(100), big.NewInt(3_600_000_000)))

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, index.Len(contracts.KindProduct))
	assert.Equal(t, 0, index.Len(contracts.KindParty))
}

func TestInstallRegistry(t *testing.T) {
	chain := newFakeChain()
	e, index := newTestEngine(t, chain, false)
	require.Error(t, e.Initialize(context.Background()))

	deployed := common.HexToAddress("0x0000000000000000000000000000000000009999")
	require.NoError(t, e.InstallRegistry(context.Background(), deployed))

	assert.True(t, e.IsReady())
	h, ok := index.Registry()
	require.True(t, ok)
	assert.Equal(t, deployed, h.Address)
	chain.sub(t, deployed)
}

func TestStop_ClosesSubscriptions(t *testing.T) {
	chain := newFakeChain()
	chain.addItem(contracts.KindParty, 1, 0, "acme", itemAddress(1))

	e, _ := newTestEngine(t, chain, true)
	require.NoError(t, e.Initialize(context.Background()))

	reg := chain.sub(t, registryAddr)
	party := chain.sub(t, itemAddress(1))
	e.Stop()

	for _, s := range []*fakeSub{reg, party} {
		select {
		case <-s.closed:
		case <-time.After(time.Second):
			t.Fatal("subscription not closed")
		}
	}
}

func TestAddressList(t *testing.T) {
	var page [10]common.Address
	page[1] = itemAddress(1)

	got, err := addressList(page)
	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, itemAddress(1), got[1])

	got, err = addressList([]common.Address{itemAddress(2)})
	require.NoError(t, err)
	assert.Equal(t, []common.Address{itemAddress(2)}, got)

	_, err = addressList("nope")
	require.Error(t, err)

	_, err = addressList([2]string{"a", "b"})
	require.Error(t, err)
}
