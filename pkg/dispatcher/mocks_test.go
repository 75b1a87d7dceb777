package dispatcher

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsafe/registry-middleware/pkg/ledger"
)

// MockLedgerClient is a mock implementation of LedgerClient and DeployClient
type MockLedgerClient struct {
	UnlockAccountFunc   func(ctx context.Context, account common.Address, passphrase string, duration time.Duration) (bool, error)
	CallFunc            func(ctx context.Context, from, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	SendTransactionFunc func(ctx context.Context, opts ledger.TransactOpts, to common.Address, contract *abi.ABI, method string, args ...interface{}) (common.Hash, error)
	FilterLogsFunc      func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	EstimateGasFunc     func(ctx context.Context, from common.Address, code []byte) (uint64, error)
	DeployContractFunc  func(ctx context.Context, opts ledger.TransactOpts, code []byte) (common.Hash, error)
	WaitDeployedFunc    func(ctx context.Context, txHash common.Hash) (common.Address, error)
}

func (m *MockLedgerClient) UnlockAccount(ctx context.Context, account common.Address, passphrase string, duration time.Duration) (bool, error) {
	if m.UnlockAccountFunc != nil {
		return m.UnlockAccountFunc(ctx, account, passphrase, duration)
	}
	return true, nil
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

func (m *MockLedgerClient) SendTransaction(
	ctx context.Context,
	opts ledger.TransactOpts,
	to common.Address,
	contract *abi.ABI,
	method string,
	args ...interface{},
) (common.Hash, error) {
	if m.SendTransactionFunc != nil {
		return m.SendTransactionFunc(ctx, opts, to, contract, method, args...)
	}
	return common.Hash{}, nil
}

func (m *MockLedgerClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, q)
	}
	return nil, nil
}

func (m *MockLedgerClient) EstimateGas(ctx context.Context, from common.Address, code []byte) (uint64, error) {
	if m.EstimateGasFunc != nil {
		return m.EstimateGasFunc(ctx, from, code)
	}
	return 0, nil
}

func (m *MockLedgerClient) DeployContract(ctx context.Context, opts ledger.TransactOpts, code []byte) (common.Hash, error) {
	if m.DeployContractFunc != nil {
		return m.DeployContractFunc(ctx, opts, code)
	}
	return common.Hash{}, nil
}

func (m *MockLedgerClient) WaitDeployed(ctx context.Context, txHash common.Hash) (common.Address, error) {
	if m.WaitDeployedFunc != nil {
		return m.WaitDeployedFunc(ctx, txHash)
	}
	return common.Address{}, nil
}

// MockInstaller is a mock implementation of RegistryInstaller
type MockInstaller struct {
	InstallRegistryFunc func(ctx context.Context, addr common.Address) error
}

func (m *MockInstaller) InstallRegistry(ctx context.Context, addr common.Address) error {
	if m.InstallRegistryFunc != nil {
		return m.InstallRegistryFunc(ctx, addr)
	}
	return nil
}

// MockEncryptor is a mock implementation of ContactEncryptor
type MockEncryptor struct {
	EncryptContactFunc func(partyID, contact string) (string, error)
}

func (m *MockEncryptor) EncryptContact(partyID, contact string) (string, error) {
	if m.EncryptContactFunc != nil {
		return m.EncryptContactFunc(partyID, contact)
	}
	return contact, nil
}
