package registry

import (
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/registry-middleware/pkg/contracts"
)

// Handle is a loaded contract instance together with its live event subscription.
type Handle struct {
	Kind    contracts.Kind
	ID      string
	Address common.Address
	ABI     *abi.ABI

	closeOnce sync.Once
	stop      func()
}

// NewHandle creates a handle; stop tears down the handle's subscription and may be nil.
func NewHandle(kind contracts.Kind, id string, addr common.Address, contract *abi.ABI, stop func()) *Handle {
	return &Handle{
		Kind:    kind,
		ID:      id,
		Address: addr,
		ABI:     contract,
		stop:    stop,
	}
}

// Close stops the handle's subscription. It is safe to call more than once.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		if h.stop != nil {
			h.stop()
		}
	})
}
