package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsafe/registry-middleware/pkg/config"
)

// ErrUnlockRejected is returned when the node refuses to unlock the signing account.
var ErrUnlockRejected = errors.New("account unlock rejected")

// Unlocker unlocks a node-held account.
type Unlocker interface {
	UnlockAccount(ctx context.Context, account common.Address, passphrase string, duration time.Duration) (bool, error)
}

// SigningAccount is the fueling account every mutating transaction is sent from.
type SigningAccount struct {
	Address        common.Address
	Passphrase     string
	UnlockDuration time.Duration
}

// NewSigningAccount builds the signing account from configuration.
func NewSigningAccount(cfg config.AccountConfig) SigningAccount {
	return SigningAccount{
		Address:        common.HexToAddress(cfg.Address),
		Passphrase:     cfg.Passphrase,
		UnlockDuration: cfg.UnlockDuration,
	}
}

// Unlock unlocks the account for its configured duration. Repeated calls are harmless.
func (a SigningAccount) Unlock(ctx context.Context, u Unlocker) error {
	ok, err := u.UnlockAccount(ctx, a.Address, a.Passphrase, a.UnlockDuration)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnlockRejected, a.Address.Hex())
	}
	return nil
}
