package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	apperrors "github.com/chainsafe/registry-middleware/pkg/app/errors"
	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

var (
	// ErrRegistryBytecodeMissing is returned when no registry creation code is configured.
	ErrRegistryBytecodeMissing = errors.New("registry bytecode not configured")
	// ErrRegistryAlreadyDeployed is returned when a registry is already loaded.
	ErrRegistryAlreadyDeployed = errors.New("registry already deployed")
)

// DeployClient is the subset of the ledger adapter used for contract creation.
type DeployClient interface {
	Unlocker
	EstimateGas(ctx context.Context, from common.Address, code []byte) (uint64, error)
	DeployContract(ctx context.Context, opts ledger.TransactOpts, code []byte) (common.Hash, error)
	WaitDeployed(ctx context.Context, txHash common.Hash) (common.Address, error)
}

// RegistryInstaller attaches listeners to a deployed registry and indexes it.
type RegistryInstaller interface {
	InstallRegistry(ctx context.Context, addr common.Address) error
}

// DeployResult is delivered once a registry deployment completes or fails.
type DeployResult struct {
	Address common.Address
	TxHash  common.Hash
	Err     error
}

// Deployer creates the registry contract.
type Deployer struct {
	client     DeployClient
	catalog    *contracts.Catalog
	index      *registry.Index
	installer  RegistryInstaller
	account    SigningAccount
	multiplier uint64
	timeout    time.Duration
	logger     *zap.Logger

	wg       sync.WaitGroup
	quit     chan struct{}
	stopOnce sync.Once
}

// NewDeployer creates a new Deployer
func NewDeployer(
	cfg *config.Config,
	client DeployClient,
	catalog *contracts.Catalog,
	index *registry.Index,
	installer RegistryInstaller,
	account SigningAccount,
	logger *zap.Logger,
) *Deployer {
	return &Deployer{
		client:     client,
		catalog:    catalog,
		index:      index,
		installer:  installer,
		account:    account,
		multiplier: cfg.Dispatch.DeployGasMultiplier,
		timeout:    cfg.Ledger.DeployTimeout,
		logger:     logger,
		quit:       make(chan struct{}),
	}
}

// Deploy estimates gas for the registry bytecode and submits the creation
// transaction at multiplier times the estimate. It returns the estimate and a
// channel that receives exactly one result once the contract is mined and installed.
func (d *Deployer) Deploy(ctx context.Context) (uint64, <-chan DeployResult, error) {
	if d.index.HasRegistry() {
		return 0, nil, apperrors.ConflictError(ErrRegistryAlreadyDeployed, "registry already deployed")
	}

	desc, err := d.catalog.Descriptor(contracts.KindRegistry)
	if err != nil {
		return 0, nil, err
	}
	if len(desc.Bytecode) == 0 {
		return 0, nil, apperrors.BadRequestError(ErrRegistryBytecodeMissing, "registry bytecode not configured")
	}

	if err := d.account.Unlock(ctx, d.client); err != nil {
		return 0, nil, registry.LedgerCallError(err)
	}

	estimate, err := d.client.EstimateGas(ctx, d.account.Address, desc.Bytecode)
	if err != nil {
		return 0, nil, registry.LedgerCallError(err)
	}
	metrics.DeployGasEstimate.Observe(float64(estimate))

	gas := estimate * d.multiplier
	txHash, err := d.client.DeployContract(ctx, ledger.TransactOpts{From: d.account.Address, Gas: gas}, desc.Bytecode)
	if err != nil {
		return 0, nil, registry.LedgerCallError(err)
	}

	d.logger.Info("Registry deployment submitted",
		zap.Uint64("estimate", estimate),
		zap.Uint64("gas", gas),
		zap.Stringer("tx_hash", txHash))

	results := make(chan DeployResult, 1)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer close(results)
		results <- d.complete(context.WithoutCancel(ctx), txHash)
	}()

	return estimate, results, nil
}

func (d *Deployer) complete(ctx context.Context, txHash common.Hash) DeployResult {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	go func() {
		select {
		case <-d.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	res := DeployResult{TxHash: txHash}
	addr, err := d.client.WaitDeployed(ctx, txHash)
	if err != nil {
		res.Err = fmt.Errorf("failed to wait for registry deployment: %w", err)
		d.logger.Error("Registry deployment failed", zap.Stringer("tx_hash", txHash), zap.Error(err))
		return res
	}
	res.Address = addr

	if err := d.installer.InstallRegistry(ctx, addr); err != nil {
		res.Err = err
		d.logger.Error("Failed to install deployed registry", zap.Stringer("address", addr), zap.Error(err))
		return res
	}

	d.logger.Info("Registry deployed", zap.Stringer("address", addr), zap.Stringer("tx_hash", txHash))
	return res
}

// Stop abandons pending deployments. Their results carry context.Canceled;
// the creation transaction itself may still be mined.
func (d *Deployer) Stop() {
	d.stopOnce.Do(func() { close(d.quit) })
}

// Wait blocks until every pending deployment has completed or been abandoned.
func (d *Deployer) Wait() {
	d.wg.Wait()
}
