package server

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/dispatcher"
	"github.com/chainsafe/registry-middleware/pkg/journal"
	"github.com/chainsafe/registry-middleware/pkg/keys"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/notify"
	"github.com/chainsafe/registry-middleware/pkg/reconciler"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

// core holds the components shared by every entrypoint.
type core struct {
	client     *ledger.Client
	catalog    *contracts.Catalog
	index      *registry.Index
	engine     *reconciler.Engine
	dispatcher *dispatcher.Dispatcher
	deployer   *dispatcher.Deployer
}

func newCore(
	ctx context.Context,
	cfg *config.Config,
	tracer trace.Tracer,
	store *journal.Store,
	logger *zap.Logger,
) (*core, error) {
	catalog, err := contracts.NewCatalog(contracts.Options{
		ConstantsFile:   cfg.Contracts.ConstantsFile,
		EmptyAddress:    cfg.Contracts.EmptyAddress,
		RegistryAddress: cfg.Contracts.RegistryAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("load contract catalog: %w", err)
	}

	cipher, err := contactCipher(&cfg.Security)
	if err != nil {
		return nil, err
	}

	client, err := ledger.NewClient(ctx, &cfg.Ledger, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize ledger client: %w", err)
	}

	index := registry.NewIndex()
	account := dispatcher.NewSigningAccount(cfg.Account)

	engineOpts := []reconciler.Option{reconciler.WithNotifier(notifier(&cfg.Notification, logger))}
	dispatchOpts := []dispatcher.Option{dispatcher.WithTracer(tracer)}
	if cipher != nil {
		engineOpts = append(engineOpts, reconciler.WithContactDecryptor(cipher))
		dispatchOpts = append(dispatchOpts, dispatcher.WithContactEncryptor(cipher))
	}
	if store != nil {
		engineOpts = append(engineOpts, reconciler.WithJournal(store))
	}

	engine := reconciler.NewEngine(cfg, catalog, client, index, logger, engineOpts...)

	return &core{
		client:     client,
		catalog:    catalog,
		index:      index,
		engine:     engine,
		dispatcher: dispatcher.New(cfg, client, index, account, logger, dispatchOpts...),
		deployer:   dispatcher.NewDeployer(cfg, client, catalog, index, engine, account, logger),
	}, nil
}

// close stops background work before releasing the ledger connection.
func (c *core) close() {
	c.deployer.Stop()
	c.deployer.Wait()
	c.engine.Stop()
	c.client.Close()
}

func notifier(cfg *config.NotificationConfig, logger *zap.Logger) notify.Sink {
	if !cfg.Enabled {
		return notify.NewLogSink(logger)
	}
	logger.Info("Email notifications enabled",
		zap.String("smtp_host", cfg.SMTPHost),
		zap.Float64("rate_per_hour", cfg.RatePerHour))
	return notify.NewRateLimited(notify.NewSMTPSink(cfg), cfg.RatePerHour, cfg.Burst)
}

func contactCipher(cfg *config.SecurityConfig) (*keys.ContactCipher, error) {
	if !cfg.EncryptContacts {
		return nil, nil
	}

	encoded := os.Getenv(cfg.MasterKeyEnv)
	if encoded == "" {
		return nil, fmt.Errorf(
			"contact master key not set: env=%s (hint: registry-server keys generate)",
			cfg.MasterKeyEnv,
		)
	}

	masterKey, err := keys.MasterKeyFromBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid contact master key: %w", err)
	}
	return keys.NewContactCipher(masterKey)
}
