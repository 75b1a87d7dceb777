package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/registry-middleware/internal/metrics"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/registry"
)

var listMethods = map[contracts.Kind]string{
	contracts.KindParty:   contracts.MethodGetPartyAddressList,
	contracts.KindProduct: contracts.MethodGetProductAddressList,
}

// Initialize loads the registry and every party and product it lists. It is
// idempotent: once the engine is ready further calls return immediately.
// Individual item failures are logged and skipped.
func (e *Engine) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.ready.Load() {
		return nil
	}

	if err := e.ensureRegistry(ctx); err != nil {
		metrics.ErrorsTotal.WithLabelValues("reconciler", "bootstrap").Inc()
		return err
	}

	for _, kind := range []contracts.Kind{contracts.KindParty, contracts.KindProduct} {
		if err := e.enumerate(ctx, kind); err != nil {
			e.logger.Error("Enumeration failed", zap.Stringer("kind", kind), zap.Error(err))
		}
	}

	e.ready.Store(true)
	e.logger.Info("Registry synchronized",
		zap.Int("parties", e.index.Len(contracts.KindParty)),
		zap.Int("products", e.index.Len(contracts.KindProduct)))
	return nil
}

func (e *Engine) ensureRegistry(ctx context.Context) error {
	if e.index.HasRegistry() {
		return nil
	}

	d, err := e.catalog.Descriptor(contracts.KindRegistry)
	if err != nil {
		return err
	}
	if e.catalog.IsEmpty(d.Address) {
		return registry.RegistryNotDeployedError()
	}

	if _, err := e.materialize(ctx, contracts.KindRegistry, d.Address, ""); err != nil {
		return fmt.Errorf("failed to load registry %s: %w", d.Address.Hex(), err)
	}
	e.logger.Info("Registry loaded", zap.Stringer("address", d.Address))
	return nil
}

// enumerate walks the registry's fixed-size address pages starting at page 1.
// A page containing an empty slot is the last one.
func (e *Engine) enumerate(ctx context.Context, kind contracts.Kind) error {
	reg, ok := e.index.Registry()
	if !ok {
		return registry.RegistryNotDeployedError()
	}
	method := listMethods[kind]

	for page := 1; page <= e.config.Sync.MaxPages; page++ {
		out, err := e.ledger.Call(ctx, e.from, reg.Address, reg.ABI, method, big.NewInt(int64(page)))
		if err != nil {
			return fmt.Errorf("failed to call %s(%d): %w", method, page, err)
		}
		if len(out) == 0 {
			return fmt.Errorf("empty %s result", method)
		}
		addrs, err := addressList(out[0])
		if err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}

		full := len(addrs) > 0
		for _, addr := range addrs {
			if e.catalog.IsEmpty(addr) {
				full = false
				continue
			}
			e.loadItem(ctx, kind, addr)
		}
		if !full {
			return nil
		}
	}
	return nil
}

func (e *Engine) loadItem(ctx context.Context, kind contracts.Kind, addr common.Address) {
	h, err := e.materialize(ctx, kind, addr, "")
	switch {
	case errors.Is(err, registry.ErrEmptyAddress):
	case err != nil:
		metrics.ErrorsTotal.WithLabelValues("reconciler", "load").Inc()
		e.logger.Warn("Failed to load item",
			zap.Stringer("kind", kind),
			zap.Stringer("address", addr),
			zap.Error(err))
	default:
		e.logger.Debug("Item loaded", zap.Stringer("kind", kind), zap.String("id", h.ID))
	}
}

// addressList accepts the decoded address page, a fixed-size array or a slice.
func addressList(v interface{}) ([]common.Address, error) {
	if s, ok := v.([]common.Address); ok {
		return s, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array && rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("unexpected address list type %T", v)
	}
	out := make([]common.Address, rv.Len())
	for i := range out {
		addr, ok := rv.Index(i).Interface().(common.Address)
		if !ok {
			return nil, fmt.Errorf("unexpected address list element type %T", rv.Index(i).Interface())
		}
		out[i] = addr
	}
	return out, nil
}
