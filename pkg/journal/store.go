// Package journal persists every contract event the reconciler handles.
// The journal is an audit trail; ledger state stays authoritative.
package journal

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/chainsafe/registry-middleware/pkg/contracts"
	"github.com/chainsafe/registry-middleware/pkg/ledger"
	mghelper "github.com/chainsafe/registry-middleware/pkg/pgutil/migrations"
)

const (
	// DefaultLimit is used by List when no positive limit is given.
	DefaultLimit = 100
	// MaxLimit caps the number of entries List returns.
	MaxLimit = 1000
)

// Entry is a journaled event.
type Entry struct {
	ID              string                 `json:"id"`
	Kind            string                 `json:"kind"`
	ContractAddress string                 `json:"contractAddress"`
	EventName       string                 `json:"eventName"`
	Args            map[string]interface{} `json:"args"`
	BlockNumber     uint64                 `json:"blockNumber"`
	LogIndex        uint                   `json:"logIndex"`
	TxHash          string                 `json:"txHash"`
	ObservedAt      time.Time              `json:"observedAt"`
}

// Store is the postgres journal.
type Store struct {
	db *bun.DB
}

// NewStore creates a new journal store
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// CreateSchema creates the journal table and its indexes.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	if err := mghelper.CreateSchema(ctx, db, &EventDao{}); err != nil {
		return err
	}
	if err := mghelper.CreateModelIndexes(ctx, db, &EventDao{}, "contract_address", "event_name"); err != nil {
		return err
	}
	return mghelper.CreateModelUniqueIndex(ctx, db, &EventDao{}, "tx_hash", "log_index")
}

// DropSchema drops the journal indexes and table.
func DropSchema(ctx context.Context, db bun.IDB) error {
	if err := mghelper.DropModelIndexes(ctx, db, &EventDao{}, "contract_address", "event_name", "tx_hash_log_index"); err != nil {
		return err
	}
	return mghelper.DropTables(ctx, db, &EventDao{})
}

// Record stores an event. Replayed logs are ignored.
func (s *Store) Record(ctx context.Context, kind contracts.Kind, ev *ledger.Event) error {
	dao := &EventDao{
		ID:              uuid.New(),
		Kind:            kind.String(),
		ContractAddress: strings.ToLower(ev.Address.Hex()),
		EventName:       ev.Name,
		Args:            normalizeArgs(ev.Args),
		BlockNumber:     int64(ev.BlockNumber),
		LogIndex:        int(ev.LogIndex),
		TxHash:          ev.TxHash.Hex(),
	}

	_, err := s.db.NewInsert().
		Model(dao).
		On("CONFLICT (tx_hash, log_index) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// List returns the newest entries first, optionally restricted to one contract address.
func (s *Store) List(ctx context.Context, address string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	var daos []EventDao
	query := s.db.NewSelect().
		Model(&daos).
		OrderExpr("block_number DESC, log_index DESC").
		Limit(limit)
	if address != "" {
		query = query.Where("contract_address = ?", strings.ToLower(address))
	}

	if err := query.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	entries := make([]*Entry, 0, len(daos))
	for i := range daos {
		entries = append(entries, fromDao(&daos[i]))
	}
	return entries, nil
}

func fromDao(d *EventDao) *Entry {
	return &Entry{
		ID:              d.ID.String(),
		Kind:            d.Kind,
		ContractAddress: d.ContractAddress,
		EventName:       d.EventName,
		Args:            d.Args,
		BlockNumber:     uint64(d.BlockNumber),
		LogIndex:        uint(d.LogIndex),
		TxHash:          d.TxHash,
		ObservedAt:      d.ObservedAt,
	}
}

// normalizeArgs renders ABI values as strings so they survive the jsonb round trip.
func normalizeArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case *big.Int:
			out[k] = val.String()
		case common.Address:
			out[k] = val.Hex()
		case common.Hash:
			out[k] = val.Hex()
		case []byte:
			out[k] = common.Bytes2Hex(val)
		default:
			out[k] = v
		}
	}
	return out
}
