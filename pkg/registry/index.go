// Package registry holds the in-memory index of loaded contract handles: the
// singleton registry plus parties and products keyed by their on-chain id.
package registry

import (
	"sort"
	"sync"

	gocache "github.com/patrickmn/go-cache"

	"github.com/chainsafe/registry-middleware/pkg/contracts"
)

// Index maps ids to contract handles. The first handle inserted for an id stays
// authoritative for the lifetime of the index; entries are never removed.
type Index struct {
	mu       sync.RWMutex
	registry *Handle

	// go-cache Add is an atomic insert-if-absent under the cache's own lock.
	parties  *gocache.Cache
	products *gocache.Cache
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		parties:  gocache.New(gocache.NoExpiration, 0),
		products: gocache.New(gocache.NoExpiration, 0),
	}
}

func (x *Index) items(kind contracts.Kind) (*gocache.Cache, error) {
	switch kind {
	case contracts.KindParty:
		return x.parties, nil
	case contracts.KindProduct:
		return x.products, nil
	default:
		return nil, contracts.ErrUnknownKind
	}
}

// Insert adds a handle under kind and id. An id that is already present keeps its
// existing handle and Insert reports a DuplicateID error.
func (x *Index) Insert(kind contracts.Kind, id string, h *Handle) error {
	if kind == contracts.KindRegistry {
		x.mu.Lock()
		defer x.mu.Unlock()
		if x.registry != nil {
			return DuplicateIDError(kind, id)
		}
		x.registry = h
		return nil
	}

	c, err := x.items(kind)
	if err != nil {
		return err
	}
	if err := c.Add(id, h, gocache.NoExpiration); err != nil {
		return DuplicateIDError(kind, id)
	}
	return nil
}

// Get returns the handle indexed under kind and id.
func (x *Index) Get(kind contracts.Kind, id string) (*Handle, bool) {
	if kind == contracts.KindRegistry {
		return x.Registry()
	}

	c, err := x.items(kind)
	if err != nil {
		return nil, false
	}
	v, ok := c.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Registry returns the singleton registry handle.
func (x *Index) Registry() (*Handle, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.registry, x.registry != nil
}

// HasRegistry reports whether a registry contract is loaded.
func (x *Index) HasRegistry() bool {
	_, ok := x.Registry()
	return ok
}

// Len returns the number of handles of a kind.
func (x *Index) Len(kind contracts.Kind) int {
	if kind == contracts.KindRegistry {
		if x.HasRegistry() {
			return 1
		}
		return 0
	}
	c, err := x.items(kind)
	if err != nil {
		return 0
	}
	return c.ItemCount()
}

// Handles returns the handles of a kind sorted by id.
func (x *Index) Handles(kind contracts.Kind) []*Handle {
	if kind == contracts.KindRegistry {
		if h, ok := x.Registry(); ok {
			return []*Handle{h}
		}
		return nil
	}

	c, err := x.items(kind)
	if err != nil {
		return nil
	}
	items := c.Items()
	out := make([]*Handle, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*Handle))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close stops every indexed handle's subscription.
func (x *Index) Close() {
	for _, kind := range contracts.Kinds {
		for _, h := range x.Handles(kind) {
			h.Close()
		}
	}
}
