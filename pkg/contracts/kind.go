// Package contracts describes the three contract kinds managed by the registry
// middleware: their ABIs, creation bytecode, deployed addresses and event sets.
package contracts

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownKind is returned when a contract kind is not one of Registry, Party or Product.
var ErrUnknownKind = errors.New("unknown contract kind")

// Kind is the closed set of contract kinds.
type Kind int

const (
	KindRegistry Kind = iota + 1
	KindParty
	KindProduct
)

// Kinds lists every valid kind in bootstrap order.
var Kinds = []Kind{KindRegistry, KindParty, KindProduct}

func (k Kind) String() string {
	switch k {
	case KindRegistry:
		return "registry"
	case KindParty:
		return "party"
	case KindProduct:
		return "product"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	return k == KindRegistry || k == KindParty || k == KindProduct
}

// ParseKind converts a configuration key into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "registry":
		return KindRegistry, nil
	case "party":
		return KindParty, nil
	case "product":
		return KindProduct, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Event names emitted by the contracts.
const (
	EventProductAdded          = "productAddedEvent"
	EventPartyAdded            = "partyAddedEvent"
	EventPermissionDenied      = "errorPermissionDeniedEvent"
	EventProductIDExists       = "errorProductIdExistsEvent"
	EventNotification          = "notificationEvent"
	EventDataAdded             = "dataAddedEvent"
	EventQuantityLimitExceeded = "quantityLimitExceededEvent"
)

// Method names invoked by the middleware.
const (
	MethodID                    = "id"
	MethodAddParty              = "addParty"
	MethodAddProduct            = "addProduct"
	MethodInitializeParty       = "initializeParty"
	MethodInitializeProduct     = "initializeProduct"
	MethodGetPartyAddressList   = "getPartyAddressList"
	MethodGetProductAddressList = "getProductAddressList"
	MethodAddData               = "addData"
	MethodAddPartyAssociation   = "addPartyAssociation"
	MethodGetData               = "getData"
)

var eventSets = map[Kind][]string{
	KindRegistry: {EventProductAdded, EventPartyAdded, EventPermissionDenied, EventProductIDExists},
	KindParty:    {EventNotification, EventPermissionDenied},
	KindProduct:  {EventDataAdded, EventQuantityLimitExceeded},
}

// Events returns the closed event set subscribed to for a kind.
func Events(k Kind) []string {
	return append([]string(nil), eventSets[k]...)
}
