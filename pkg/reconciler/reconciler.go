// Package reconciler keeps the registry index consistent with the ledger. It
// loads contract handles, bootstraps the index from the registry's address
// lists and applies contract events as they are observed.
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/notify"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

// LedgerClient is the subset of the ledger adapter the engine reads from.
type LedgerClient interface {
	Call(ctx context.Context, from, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ContactDecryptor reverses contact encryption applied when a party was added.
type ContactDecryptor interface {
	DecryptContact(partyID, value string) (string, error)
}

// EventRecorder persists observed events for auditing.
type EventRecorder interface {
	Record(ctx context.Context, kind contracts.Kind, ev *ledger.Event) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the sink party notifications are delivered to.
func WithNotifier(sink notify.Sink) Option {
	return func(e *Engine) { e.notifier = sink }
}

// WithContactDecryptor enables decryption of notification contact info.
func WithContactDecryptor(d ContactDecryptor) Option {
	return func(e *Engine) { e.decryptor = d }
}

// WithJournal records every handled event.
func WithJournal(r EventRecorder) Option {
	return func(e *Engine) { e.journal = r }
}

// Status is a snapshot of the synchronization state.
type Status struct {
	Ready           bool   `json:"ready"`
	RegistryAddress string `json:"registryAddress,omitempty"`
	Parties         int    `json:"parties"`
	Products        int    `json:"products"`
}

// Engine owns contract loading, bootstrap synchronization and event listeners.
type Engine struct {
	config  *config.Config
	catalog *contracts.Catalog
	ledger  LedgerClient
	index   *registry.Index
	logger  *zap.Logger

	notifier  notify.Sink
	decryptor ContactDecryptor
	journal   EventRecorder

	from     common.Address
	handlers map[contracts.Kind]map[string]eventHandler

	// ctx bounds every listener; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	initMu sync.Mutex
	ready  atomic.Bool
}

// NewEngine creates a new reconciliation engine
func NewEngine(
	cfg *config.Config,
	catalog *contracts.Catalog,
	client LedgerClient,
	index *registry.Index,
	logger *zap.Logger,
	opts ...Option,
) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:  cfg,
		catalog: catalog,
		ledger:  client,
		index:   index,
		logger:  logger,
		from:    common.HexToAddress(cfg.Account.Address),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.notifier == nil {
		e.notifier = notify.NewLogSink(logger)
	}
	e.handlers = e.handlerTable()
	return e
}

// Start synchronizes the index when configured to do so. A registry that cannot
// be loaded leaves the engine serving in the not-deployed state.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("Starting reconciliation engine")
	if !e.config.Sync.InitializeOnStart {
		return nil
	}
	if err := e.Initialize(ctx); err != nil {
		e.logger.Error("Registry synchronization failed, serving without registry", zap.Error(err))
	}
	return nil
}

// Stop tears down every listener and waits for in-flight handlers.
func (e *Engine) Stop() {
	e.logger.Info("Stopping reconciliation engine")
	e.cancel()
	e.index.Close()
	e.wg.Wait()
	e.logger.Info("Reconciliation engine stopped")
}

// IsReady reports whether the registry is loaded and its items enumerated.
func (e *Engine) IsReady() bool {
	return e.ready.Load()
}

// Status returns the current synchronization state.
func (e *Engine) Status() Status {
	s := Status{
		Ready:    e.IsReady(),
		Parties:  e.index.Len(contracts.KindParty),
		Products: e.index.Len(contracts.KindProduct),
	}
	if h, ok := e.index.Registry(); ok {
		s.RegistryAddress = h.Address.Hex()
	}
	return s
}

// InstallRegistry loads a freshly deployed registry and marks the engine ready.
func (e *Engine) InstallRegistry(ctx context.Context, addr common.Address) error {
	if _, err := e.materialize(ctx, contracts.KindRegistry, addr, ""); err != nil {
		return fmt.Errorf("failed to install registry %s: %w", addr.Hex(), err)
	}
	e.logger.Info("Registry installed", zap.Stringer("address", addr))
	return e.Initialize(ctx)
}
