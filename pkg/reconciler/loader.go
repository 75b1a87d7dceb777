package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

// Load binds a contract at addr to the kind's ABI and attaches the kind's event
// listener before returning. Party and product ids are read from the contract.
// The empty-address sentinel yields registry.ErrEmptyAddress and no handle.
func (e *Engine) Load(ctx context.Context, kind contracts.Kind, addr common.Address) (*registry.Handle, error) {
	h, start, err := e.load(ctx, kind, addr, "")
	if err != nil {
		return nil, err
	}
	start()
	return h, nil
}

// load is Load with delivery held back until start is called. A non-empty
// eventID names the item in place of the id the contract reports.
func (e *Engine) load(ctx context.Context, kind contracts.Kind, addr common.Address, eventID string) (*registry.Handle, func(), error) {
	if !kind.Valid() {
		return nil, nil, contracts.ErrUnknownKind
	}
	if e.catalog.IsEmpty(addr) {
		return nil, nil, registry.ErrEmptyAddress
	}

	d, err := e.catalog.Descriptor(kind)
	if err != nil {
		return nil, nil, err
	}

	var id string
	if kind != contracts.KindRegistry {
		id, err = e.readID(ctx, d.ABI, addr)
		if err != nil {
			return nil, nil, err
		}
		if eventID != "" && eventID != id {
			e.logger.Warn("Item id differs from event id",
				zap.Stringer("kind", kind),
				zap.String("event_id", eventID),
				zap.String("contract_id", id),
				zap.Stringer("address", addr))
			id = eventID
		}
	}

	stop, start, err := e.listen(ctx, kind, id, addr, d)
	if err != nil {
		return nil, nil, err
	}

	e.logger.Debug("Contract loaded",
		zap.Stringer("kind", kind),
		zap.String("id", id),
		zap.Stringer("address", addr))
	return registry.NewHandle(kind, id, addr, d.ABI, stop), start, nil
}

func (e *Engine) readID(ctx context.Context, contract *abi.ABI, addr common.Address) (string, error) {
	out, err := e.ledger.Call(ctx, e.from, addr, contract, contracts.MethodID)
	if err != nil {
		return "", fmt.Errorf("failed to read id of %s: %w", addr.Hex(), err)
	}
	if len(out) == 0 {
		return "", fmt.Errorf("empty id result from %s", addr.Hex())
	}
	id, ok := out[0].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("unexpected id %v from %s", out[0], addr.Hex())
	}
	return id, nil
}

// materialize loads a contract and inserts it into the index under knownID,
// or under the contract's own id when knownID is empty. An already indexed
// knownID is rejected without touching the ledger. Events reach handlers only
// once the insert succeeds; a handle that loses the insert race is closed
// without delivering any.
func (e *Engine) materialize(ctx context.Context, kind contracts.Kind, addr common.Address, knownID string) (*registry.Handle, error) {
	if knownID != "" {
		if _, ok := e.index.Get(kind, knownID); ok {
			metrics.DuplicateIDs.WithLabelValues(kind.String()).Inc()
			return nil, registry.DuplicateIDError(kind, knownID)
		}
	}

	h, start, err := e.load(ctx, kind, addr, knownID)
	if err != nil {
		return nil, err
	}

	if err := e.index.Insert(kind, h.ID, h); err != nil {
		h.Close()
		if errors.Is(err, registry.ErrDuplicateID) {
			metrics.DuplicateIDs.WithLabelValues(kind.String()).Inc()
		}
		return nil, err
	}
	start()

	metrics.IndexEntries.WithLabelValues(kind.String()).Set(float64(e.index.Len(kind)))
	return h, nil
}
