package reconciler

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/notify"
)

// MockLedgerClient is a mock implementation of LedgerClient
type MockLedgerClient struct {
	CallFunc          func(ctx context.Context, from, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	SubscribeLogsFunc func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

func (m *MockLedgerClient) Call(
	ctx context.Context,
	from, to common.Address,
	contract *abi.ABI,
	method string,
	args ...interface{},
) ([]interface{}, error) {
	if m.CallFunc != nil {
		return m.CallFunc(ctx, from, to, contract, method, args...)
	}
	return nil, nil
}

func (m *MockLedgerClient) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if m.SubscribeLogsFunc != nil {
		return m.SubscribeLogsFunc(ctx, q, ch)
	}
	return nil, nil
}

// MockSink is a mock implementation of notify.Sink
type MockSink struct {
	NotifyFunc func(ctx context.Context, n notify.Notification) error
}

func (m *MockSink) Notify(ctx context.Context, n notify.Notification) error {
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

// MockDecryptor is a mock implementation of ContactDecryptor
type MockDecryptor struct {
	DecryptContactFunc func(partyID, value string) (string, error)
}

func (m *MockDecryptor) DecryptContact(partyID, value string) (string, error) {
	if m.DecryptContactFunc != nil {
		return m.DecryptContactFunc(partyID, value)
	}
	return value, nil
}

// MockRecorder is a mock implementation of EventRecorder
type MockRecorder struct {
	RecordFunc func(ctx context.Context, kind contracts.Kind, ev *ledger.Event) error
}

func (m *MockRecorder) Record(ctx context.Context, kind contracts.Kind, ev *ledger.Event) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, kind, ev)
	}
	return nil
}
