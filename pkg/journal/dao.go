package journal

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventDao is a data access object that maps directly to the 'registry_events' table in PostgreSQL.
type EventDao struct {
	bun.BaseModel   `bun:"table:registry_events"`
	ID              uuid.UUID              `json:"id" bun:",pk,type:uuid"`
	Kind            string                 `json:"kind" bun:",notnull,type:VARCHAR(16)"`
	ContractAddress string                 `json:"contract_address" bun:",notnull,type:VARCHAR(42)"`
	EventName       string                 `json:"event_name" bun:",notnull,type:VARCHAR(64)"`
	Args            map[string]interface{} `json:"args" bun:",type:jsonb"`
	BlockNumber     int64                  `json:"block_number" bun:",notnull"`
	LogIndex        int                    `json:"log_index" bun:",notnull"`
	TxHash          string                 `json:"tx_hash" bun:",notnull,type:VARCHAR(66)"`
	ObservedAt      time.Time              `json:"observed_at" bun:",nullzero,notnull,default:current_timestamp"`
}
