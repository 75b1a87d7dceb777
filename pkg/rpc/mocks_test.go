package rpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/registry-middleware/pkg/dispatcher"
	"github.com/chainsafe/registry-middleware/pkg/journal"
	"github.com/chainsafe/registry-middleware/pkg/reconciler"
)

type MockDispatcher struct {
	AddPartyFunc       func(ctx context.Context, id, contactInfo string) (common.Hash, error)
	AddProductFunc     func(ctx context.Context, label string) (common.Hash, error)
	AddDataFunc        func(ctx context.Context, label, data string, timestamp *big.Int) (common.Hash, error)
	AddAssociationFunc func(ctx context.Context, partyID, productID string) (common.Hash, error)
	GetDataFunc        func(ctx context.Context, label string) (string, error)
	GetEventListFunc   func(ctx context.Context, label string) ([]string, error)
}

func (m *MockDispatcher) AddParty(ctx context.Context, id, contactInfo string) (common.Hash, error) {
	if m.AddPartyFunc != nil {
		return m.AddPartyFunc(ctx, id, contactInfo)
	}
	return common.Hash{}, nil
}

func (m *MockDispatcher) AddProduct(ctx context.Context, label string) (common.Hash, error) {
	if m.AddProductFunc != nil {
		return m.AddProductFunc(ctx, label)
	}
	return common.Hash{}, nil
}

func (m *MockDispatcher) AddData(ctx context.Context, label, data string, timestamp *big.Int) (common.Hash, error) {
	if m.AddDataFunc != nil {
		return m.AddDataFunc(ctx, label, data, timestamp)
	}
	return common.Hash{}, nil
}

func (m *MockDispatcher) AddPartyAssociationToProduct(ctx context.Context, partyID, productID string) (common.Hash, error) {
	if m.AddAssociationFunc != nil {
		return m.AddAssociationFunc(ctx, partyID, productID)
	}
	return common.Hash{}, nil
}

func (m *MockDispatcher) GetData(ctx context.Context, label string) (string, error) {
	if m.GetDataFunc != nil {
		return m.GetDataFunc(ctx, label)
	}
	return "", nil
}

func (m *MockDispatcher) GetProductPublishedEventList(ctx context.Context, label string) ([]string, error) {
	if m.GetEventListFunc != nil {
		return m.GetEventListFunc(ctx, label)
	}
	return nil, nil
}

type MockEngine struct {
	InitializeFunc func(ctx context.Context) error
	StatusFunc     func() reconciler.Status
}

func (m *MockEngine) Initialize(ctx context.Context) error {
	if m.InitializeFunc != nil {
		return m.InitializeFunc(ctx)
	}
	return nil
}

func (m *MockEngine) Status() reconciler.Status {
	if m.StatusFunc != nil {
		return m.StatusFunc()
	}
	return reconciler.Status{}
}

type MockDeployer struct {
	DeployFunc func(ctx context.Context) (uint64, <-chan dispatcher.DeployResult, error)
}

func (m *MockDeployer) Deploy(ctx context.Context) (uint64, <-chan dispatcher.DeployResult, error) {
	return m.DeployFunc(ctx)
}

type MockJournal struct {
	ListFunc func(ctx context.Context, address string, limit int) ([]*journal.Entry, error)
}

func (m *MockJournal) List(ctx context.Context, address string, limit int) ([]*journal.Entry, error) {
	return m.ListFunc(ctx, address, limit)
}
