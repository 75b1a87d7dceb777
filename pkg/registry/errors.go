package registry

import (
	"errors"
	"fmt"

	apperrors "github.com/chainsafe/registry-middleware/pkg/app/errors"
	"github.com/chainsafe/registry-middleware/pkg/contracts"
)

var (
	// ErrNotFound is returned when an id has no handle in the index.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateID is returned when an id already has a handle in the index.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrRegistryNotDeployed is returned while no registry contract is loaded.
	ErrRegistryNotDeployed = errors.New("registry not deployed")
	// ErrEmptyAddress marks an unfilled address slot; callers skip it.
	ErrEmptyAddress = errors.New("empty address")
)

// NotFoundError reports a party or product missing from the index.
func NotFoundError(kind contracts.Kind, id string) error {
	return apperrors.ResourceNotFoundError(
		fmt.Errorf("%w: %s %q", ErrNotFound, kind, id),
		fmt.Sprintf("%s %q not found", kind, id),
	)
}

// DuplicateIDError reports an id that is already indexed.
func DuplicateIDError(kind contracts.Kind, id string) error {
	return apperrors.ConflictError(
		fmt.Errorf("%w: %s %q", ErrDuplicateID, kind, id),
		fmt.Sprintf("%s %q already indexed", kind, id),
	)
}

// RegistryNotDeployedError reports that no registry contract is loaded.
func RegistryNotDeployedError() error {
	return apperrors.LockedError(ErrRegistryNotDeployed, "registry not deployed")
}

// LedgerCallError wraps a ledger adapter failure without altering it.
func LedgerCallError(err error) error {
	return apperrors.DependencyFailureError(err, err.Error())
}
