package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	"github.com/chainsafe/registry-middleware/pkg/notify"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

type eventHandler func(ctx context.Context, l *listener, ev *ledger.Event) error

func (e *Engine) handlerTable() map[contracts.Kind]map[string]eventHandler {
	return map[contracts.Kind]map[string]eventHandler{
		contracts.KindRegistry: {
			contracts.EventProductAdded:     e.onItemAdded(contracts.KindProduct, "productId", contracts.MethodInitializeProduct),
			contracts.EventPartyAdded:       e.onItemAdded(contracts.KindParty, "partyId", contracts.MethodInitializeParty),
			contracts.EventPermissionDenied: e.onRejected,
			contracts.EventProductIDExists:  e.onRejected,
		},
		contracts.KindParty: {
			contracts.EventNotification:     e.onNotification,
			contracts.EventPermissionDenied: e.onRejected,
		},
		contracts.KindProduct: {
			contracts.EventDataAdded:             e.onDataAdded,
			contracts.EventQuantityLimitExceeded: e.onQuantityLimitExceeded,
		},
	}
}

// onItemAdded resolves the new item's address through the registry and indexes it.
func (e *Engine) onItemAdded(kind contracts.Kind, idArg, method string) eventHandler {
	return func(ctx context.Context, l *listener, ev *ledger.Event) error {
		id := ev.String(idArg)
		if id == "" {
			return fmt.Errorf("%s without %s", ev.Name, idArg)
		}
		if _, ok := e.index.Get(kind, id); ok {
			metrics.DuplicateIDs.WithLabelValues(kind.String()).Inc()
			l.logger.Info("Item already indexed", zap.String("id", id), zap.Stringer("item_kind", kind))
			return nil
		}

		out, err := e.ledger.Call(ctx, e.from, l.address, l.contract, method, id)
		if err != nil {
			return fmt.Errorf("failed to resolve %s %q: %w", kind, id, err)
		}
		if len(out) == 0 {
			return fmt.Errorf("empty %s result for %q", method, id)
		}
		addr, ok := out[0].(common.Address)
		if !ok {
			return fmt.Errorf("unexpected %s result %T", method, out[0])
		}

		h, err := e.materialize(ctx, kind, addr, id)
		switch {
		case errors.Is(err, registry.ErrDuplicateID):
			l.logger.Info("Item already indexed", zap.String("id", id), zap.Stringer("item_kind", kind))
			return nil
		case errors.Is(err, registry.ErrEmptyAddress):
			l.logger.Warn("Registry returned no address for item", zap.String("id", id), zap.Stringer("item_kind", kind))
			return nil
		case err != nil:
			return err
		}

		l.logger.Info("Item added",
			zap.Stringer("item_kind", kind),
			zap.String("id", h.ID),
			zap.Stringer("item_address", h.Address))
		return nil
	}
}

// onRejected logs a mutation the contract refused; the submitter sees it in the receipt.
func (e *Engine) onRejected(_ context.Context, l *listener, ev *ledger.Event) error {
	fields := []zap.Field{zap.String("event", ev.Name), zap.Stringer("tx", ev.TxHash)}
	if sender, ok := ev.Args["sender"].(common.Address); ok {
		fields = append(fields, zap.Stringer("sender", sender))
	}
	if id := ev.String("productId"); id != "" {
		fields = append(fields, zap.String("product_id", id))
	}
	l.logger.Warn("Contract rejected transaction", fields...)
	return nil
}

// onNotification hands the notification to the sink without waiting for delivery.
func (e *Engine) onNotification(_ context.Context, l *listener, ev *ledger.Event) error {
	contact := ev.String("contactInfo")
	if e.decryptor != nil {
		plain, err := e.decryptor.DecryptContact(l.id, contact)
		if err != nil {
			metrics.NotificationsTotal.WithLabelValues("undecryptable").Inc()
			return fmt.Errorf("failed to decrypt contact of party %q: %w", l.id, err)
		}
		contact = plain
	}

	n := notify.Notification{
		PartyID:     l.id,
		Destination: contact,
		ProductID:   ev.String("productId"),
		EventTag:    ev.String("_event"),
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.notifier.Notify(e.ctx, n); err != nil {
			metrics.NotificationsTotal.WithLabelValues("failed").Inc()
			l.logger.Warn("Notification not delivered",
				zap.String("product_id", n.ProductID),
				zap.String("event_tag", n.EventTag),
				zap.Error(err))
			return
		}
		metrics.NotificationsTotal.WithLabelValues("sent").Inc()
	}()
	return nil
}

func (e *Engine) onDataAdded(_ context.Context, l *listener, ev *ledger.Event) error {
	fields := []zap.Field{zap.String("product_id", l.id), zap.String("data", ev.String("data"))}
	if ts, ok := ev.Args["timestamp"].(*big.Int); ok {
		fields = append(fields, zap.Stringer("timestamp", ts))
	}
	l.logger.Info("Product data added", fields...)
	return nil
}

// onQuantityLimitExceeded is observability only; the party notification is the
// authoritative trigger.
func (e *Engine) onQuantityLimitExceeded(_ context.Context, l *listener, ev *ledger.Event) error {
	fields := []zap.Field{zap.String("product_id", ev.String("id"))}
	if limit, ok := ev.Args["quantityLimit"].(*big.Int); ok {
		fields = append(fields, zap.Stringer("quantity_limit", limit))
	}
	if interval, ok := ev.Args["quantityLimitTimeInterval"].(*big.Int); ok {
		// microseconds on-chain
		fields = append(fields, zap.String("interval_seconds", decimal.NewFromBigInt(interval, -6).String()))
	}
	l.logger.Info("Product quantity limit exceeded", fields...)
	return nil
}
