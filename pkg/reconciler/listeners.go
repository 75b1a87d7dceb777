package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
)

// listener consumes the log stream of one contract. Logs of a single contract
// are handled sequentially in delivery order.
type listener struct {
	engine   *Engine
	kind     contracts.Kind
	id       string
	address  common.Address
	contract *abi.ABI
	query    ethereum.FilterQuery
	logger   *zap.Logger

	delivered bool
	lastBlock uint64
	lastIndex uint
}

// listen subscribes to the kind's event set at addr and starts the consuming
// goroutine. Logs are held in the subscription until start is called; stop
// tears the listener down whether or not it was started.
func (e *Engine) listen(
	ctx context.Context,
	kind contracts.Kind,
	id string,
	addr common.Address,
	d *contracts.Descriptor,
) (stop func(), start func(), err error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{d.Topics()},
	}
	if e.config.Ledger.FromBlock > 0 {
		q.FromBlock = new(big.Int).SetUint64(e.config.Ledger.FromBlock)
	}

	logs := make(chan types.Log, 64)
	sub, err := e.ledger.SubscribeLogs(ctx, q, logs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to subscribe to %s %s: %w", kind, addr.Hex(), err)
	}

	l := &listener{
		engine:   e,
		kind:     kind,
		id:       id,
		address:  addr,
		contract: d.ABI,
		query:    q,
		logger: e.logger.With(
			zap.Stringer("kind", kind),
			zap.Stringer("address", addr)),
	}

	lctx, cancel := context.WithCancel(e.ctx)
	ready := make(chan struct{})
	var once sync.Once
	e.wg.Add(1)
	go l.run(lctx, sub, logs, ready)
	return cancel, func() { once.Do(func() { close(ready) }) }, nil
}

func (l *listener) run(ctx context.Context, sub ethereum.Subscription, logs chan types.Log, ready <-chan struct{}) {
	defer l.engine.wg.Done()
	defer func() { sub.Unsubscribe() }()

	select {
	case <-ready:
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case lg := <-logs:
			l.deliver(ctx, lg)
		case err := <-sub.Err():
			if ctx.Err() != nil {
				return
			}
			metrics.ErrorsTotal.WithLabelValues("reconciler", "subscription").Inc()
			l.logger.Warn("Log subscription failed, resubscribing", zap.Error(err))

			next, rerr := l.resubscribe(ctx, logs)
			if rerr != nil {
				return
			}
			sub = next
		}
	}
}

// resubscribe reopens the subscription from the last delivered block with
// exponential backoff until it succeeds or ctx is cancelled.
func (l *listener) resubscribe(ctx context.Context, logs chan types.Log) (ethereum.Subscription, error) {
	q := l.query
	if l.delivered {
		q.FromBlock = new(big.Int).SetUint64(l.lastBlock)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.engine.config.Sync.ResubscribeMin
	b.MaxInterval = l.engine.config.Sync.ResubscribeMax
	b.MaxElapsedTime = 0

	var sub ethereum.Subscription
	err := backoff.RetryNotify(func() error {
		var err error
		sub, err = l.engine.ledger.SubscribeLogs(ctx, q, logs)
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		l.logger.Warn("Resubscribe failed", zap.Duration("retry_in", wait), zap.Error(err))
	})
	if err != nil {
		return nil, err
	}
	l.logger.Info("Log subscription restored", zap.Bool("resumed", l.delivered), zap.Uint64("last_block", l.lastBlock))
	return sub, nil
}

// seen reports whether lg is at or before the last delivered log.
func (l *listener) seen(lg types.Log) bool {
	if !l.delivered {
		return false
	}
	if lg.BlockNumber != l.lastBlock {
		return lg.BlockNumber < l.lastBlock
	}
	return lg.Index <= l.lastIndex
}

// deliver decodes and dispatches one log. Handler failures and panics are
// contained so the stream keeps flowing.
func (l *listener) deliver(ctx context.Context, lg types.Log) {
	if lg.Removed || l.seen(lg) {
		return
	}
	l.delivered = true
	l.lastBlock = lg.BlockNumber
	l.lastIndex = lg.Index

	defer func() {
		if r := recover(); r != nil {
			metrics.ErrorsTotal.WithLabelValues("reconciler", "handler_panic").Inc()
			l.logger.Error("Event handler panicked", zap.Any("panic", r), zap.Stringer("tx", lg.TxHash))
		}
	}()

	ev, err := ledger.DecodeLog(l.contract, lg)
	if err != nil {
		l.decodeFailed(lg, err)
		return
	}

	handle, ok := l.engine.handlers[l.kind][ev.Name]
	if !ok {
		l.decodeFailed(lg, fmt.Errorf("%w: %s", ledger.ErrUnknownEvent, ev.Name))
		return
	}

	metrics.EventsObserved.WithLabelValues(l.kind.String(), ev.Name).Inc()
	metrics.LastObservedBlock.WithLabelValues(l.kind.String()).Set(float64(ev.BlockNumber))
	l.engine.record(ctx, l.kind, ev)

	if err := handle(ctx, l, ev); err != nil {
		metrics.ErrorsTotal.WithLabelValues("reconciler", "handler").Inc()
		l.logger.Warn("Event handler failed",
			zap.String("event", ev.Name),
			zap.Uint64("block", ev.BlockNumber),
			zap.Error(err))
	}
}

func (l *listener) decodeFailed(lg types.Log, err error) {
	if errors.Is(err, ledger.ErrUnknownEvent) {
		metrics.ErrorsTotal.WithLabelValues("reconciler", "abi_mismatch").Inc()
		l.logger.Error("Unrecognized event, contract ABI mismatch",
			zap.Stringer("tx", lg.TxHash),
			zap.Uint64("block", lg.BlockNumber),
			zap.Error(err))
		return
	}
	metrics.ErrorsTotal.WithLabelValues("reconciler", "decode").Inc()
	l.logger.Warn("Failed to decode log",
		zap.Stringer("tx", lg.TxHash),
		zap.Uint64("block", lg.BlockNumber),
		zap.Error(err))
}

func (e *Engine) record(ctx context.Context, kind contracts.Kind, ev *ledger.Event) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, kind, ev); err != nil {
		e.logger.Warn("Failed to journal event", zap.String("event", ev.Name), zap.Error(err))
	}
}
