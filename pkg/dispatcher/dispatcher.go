// Package dispatcher submits mutating transactions and read calls against the
// contracts held in the registry index.
package dispatcher

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	"github.com/chainsafe/registry-middleware/pkg/config"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

// LedgerClient is the subset of the ledger adapter used for commands and queries.
type LedgerClient interface {
	Unlocker
	Call(ctx context.Context, from, to common.Address, contract *abi.ABI, method string, args ...interface{}) ([]interface{}, error)
	SendTransaction(
		ctx context.Context,
		opts ledger.TransactOpts,
		to common.Address,
		contract *abi.ABI,
		method string,
		args ...interface{},
	) (common.Hash, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// ContactEncryptor protects party contact info before it is written on-chain.
type ContactEncryptor interface {
	EncryptContact(partyID, contact string) (string, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithContactEncryptor encrypts contact info passed to AddParty.
func WithContactEncryptor(enc ContactEncryptor) Option {
	return func(d *Dispatcher) { d.encryptor = enc }
}

// WithTracer records a span per operation.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// Dispatcher routes commands to contract handles and submits them from the signing account.
type Dispatcher struct {
	ledger  LedgerClient
	index   *registry.Index
	account SigningAccount
	logger  *zap.Logger

	gasLimit    uint64
	historyFrom uint64
	serialize   bool

	// submitMu spans unlock and send so submissions from the shared account
	// reach the node one at a time.
	submitMu sync.Mutex

	encryptor ContactEncryptor
	tracer    trace.Tracer
}

// New creates a new Dispatcher
func New(
	cfg *config.Config,
	client LedgerClient,
	index *registry.Index,
	account SigningAccount,
	logger *zap.Logger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		ledger:      client,
		index:       index,
		account:     account,
		logger:      logger,
		gasLimit:    cfg.Dispatch.GasLimit,
		historyFrom: cfg.Sync.HistoryFromBlock,
		serialize:   cfg.Dispatch.SerializeSubmissions,
		tracer:      noop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AddParty registers a party on the registry contract.
func (d *Dispatcher) AddParty(ctx context.Context, id, contactInfo string) (common.Hash, error) {
	ctx, span := d.start(ctx, "AddParty", attribute.String("party.id", id))
	defer span.End()

	reg, ok := d.index.Registry()
	if !ok {
		return common.Hash{}, d.fail(span, registry.RegistryNotDeployedError())
	}

	if d.encryptor != nil {
		enc, err := d.encryptor.EncryptContact(id, contactInfo)
		if err != nil {
			return common.Hash{}, d.fail(span, fmt.Errorf("failed to encrypt contact info: %w", err))
		}
		contactInfo = enc
	}

	hash, err := d.submit(ctx, reg, contracts.MethodAddParty, id, contactInfo)
	return hash, d.fail(span, err)
}

// AddProduct registers a product on the registry contract.
func (d *Dispatcher) AddProduct(ctx context.Context, label string) (common.Hash, error) {
	ctx, span := d.start(ctx, "AddProduct", attribute.String("product.id", label))
	defer span.End()

	reg, ok := d.index.Registry()
	if !ok {
		return common.Hash{}, d.fail(span, registry.RegistryNotDeployedError())
	}

	hash, err := d.submit(ctx, reg, contracts.MethodAddProduct, label)
	return hash, d.fail(span, err)
}

// AddData publishes a data point on a product contract.
func (d *Dispatcher) AddData(ctx context.Context, label, data string, timestamp *big.Int) (common.Hash, error) {
	ctx, span := d.start(ctx, "AddData", attribute.String("product.id", label))
	defer span.End()

	h, err := d.product(label)
	if err != nil {
		return common.Hash{}, d.fail(span, err)
	}

	hash, err := d.submit(ctx, h, contracts.MethodAddData, data, timestamp)
	return hash, d.fail(span, err)
}

// AddPartyAssociationToProduct associates a party with a product on the product contract.
func (d *Dispatcher) AddPartyAssociationToProduct(ctx context.Context, partyID, productID string) (common.Hash, error) {
	ctx, span := d.start(ctx, "AddPartyAssociationToProduct",
		attribute.String("party.id", partyID),
		attribute.String("product.id", productID))
	defer span.End()

	h, err := d.product(productID)
	if err != nil {
		return common.Hash{}, d.fail(span, err)
	}

	hash, err := d.submit(ctx, h, contracts.MethodAddPartyAssociation, partyID)
	return hash, d.fail(span, err)
}

// GetData reads the latest data published on a product.
func (d *Dispatcher) GetData(ctx context.Context, label string) (string, error) {
	ctx, span := d.start(ctx, "GetData", attribute.String("product.id", label))
	defer span.End()
	defer d.observe("GetData", time.Now())

	h, err := d.product(label)
	if err != nil {
		return "", d.fail(span, err)
	}

	out, err := d.ledger.Call(ctx, d.account.Address, h.Address, h.ABI, contracts.MethodGetData)
	if err != nil {
		return "", d.fail(span, registry.LedgerCallError(err))
	}
	if len(out) == 0 {
		return "", d.fail(span, registry.LedgerCallError(fmt.Errorf("empty %s result", contracts.MethodGetData)))
	}
	value, ok := out[0].(string)
	if !ok {
		return "", d.fail(span, registry.LedgerCallError(fmt.Errorf("unexpected %s result %T", contracts.MethodGetData, out[0])))
	}
	return value, nil
}

// GetProductPublishedEventList fetches the product's historical logs and returns
// their event names in log order. Logs that cannot be decoded are skipped.
func (d *Dispatcher) GetProductPublishedEventList(ctx context.Context, label string) ([]string, error) {
	ctx, span := d.start(ctx, "GetProductPublishedEventList", attribute.String("product.id", label))
	defer span.End()
	defer d.observe("GetProductPublishedEventList", time.Now())

	h, err := d.product(label)
	if err != nil {
		return nil, d.fail(span, err)
	}

	logs, err := d.ledger.FilterLogs(ctx, ledger.HistoryQuery(h.Address, d.historyFrom))
	if err != nil {
		return nil, d.fail(span, registry.LedgerCallError(err))
	}

	events, err := ledger.DecodeLogs(h.ABI, logs)
	if err != nil {
		d.logger.Warn("Skipped undecodable product logs",
			zap.String("product_id", label),
			zap.Error(err))
	}

	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Name)
	}
	span.SetAttributes(attribute.Int("events", len(names)))
	return names, nil
}

func (d *Dispatcher) product(label string) (*registry.Handle, error) {
	h, ok := d.index.Get(contracts.KindProduct, label)
	if !ok {
		return nil, registry.NotFoundError(contracts.KindProduct, label)
	}
	return h, nil
}

// submit unlocks the signing account and sends method to the handle's contract
// with the fixed gas allowance. It returns once the node accepts the transaction.
func (d *Dispatcher) submit(ctx context.Context, h *registry.Handle, method string, args ...interface{}) (common.Hash, error) {
	defer d.observe(method, time.Now())

	if d.serialize {
		d.submitMu.Lock()
		defer d.submitMu.Unlock()
	}

	if err := d.account.Unlock(ctx, d.ledger); err != nil {
		metrics.TransactionsSent.WithLabelValues(method, "unlock_failed").Inc()
		return common.Hash{}, registry.LedgerCallError(err)
	}

	hash, err := d.ledger.SendTransaction(ctx,
		ledger.TransactOpts{From: d.account.Address, Gas: d.gasLimit},
		h.Address, h.ABI, method, args...)
	if err != nil {
		metrics.TransactionsSent.WithLabelValues(method, "failed").Inc()
		return common.Hash{}, registry.LedgerCallError(err)
	}

	metrics.TransactionsSent.WithLabelValues(method, "submitted").Inc()
	d.logger.Info("Transaction submitted",
		zap.String("method", method),
		zap.Stringer("contract", h.Address),
		zap.Stringer("tx_hash", hash))
	return hash, nil
}

func (d *Dispatcher) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "dispatcher."+op, trace.WithAttributes(attrs...))
}

// fail marks the span as failed and returns err unchanged.
func (d *Dispatcher) fail(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (d *Dispatcher) observe(op string, start time.Time) {
	metrics.DispatchDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
