package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/tracing"
)

// Deployer creates the registry contract and waits until it is mined.
type Deployer struct {
	cfg *config.Config
}

// NewDeployer initializes a new deploy runner.
func NewDeployer(cfg *config.Config) *Deployer {
	return &Deployer{cfg: cfg}
}

// Run submits the registry creation transaction and blocks until the contract
// is installed or the deploy timeout elapses.
func (d *Deployer) Run() error {
	if d.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := d.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	c, err := newCore(ctx, cfg, tracing.Noop().Tracer(), nil, logger)
	if err != nil {
		return err
	}
	defer c.close()

	if d, err := c.catalog.Descriptor(contracts.KindRegistry); err == nil && !c.catalog.IsEmpty(d.Address) {
		return fmt.Errorf("registry already configured at %s", d.Address.Hex())
	}

	estimate, results, err := c.deployer.Deploy(ctx)
	if err != nil {
		return fmt.Errorf("deploy registry: %w", err)
	}
	logger.Info("Registry creation submitted", zap.Uint64("gas_estimate", estimate))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res, ok := <-results:
		if !ok {
			return fmt.Errorf("deployment finished without a result")
		}
		if res.Err != nil {
			return fmt.Errorf("registry deployment (tx %s): %w", res.TxHash.Hex(), res.Err)
		}
		logger.Info("Registry deployed",
			zap.String("address", res.Address.Hex()),
			zap.String("tx_hash", res.TxHash.Hex()))
		fmt.Println(res.Address.Hex())
		return nil
	}
}
