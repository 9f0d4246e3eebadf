package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChangeChain groups the ordered stages recorded for one root instance.
type ChangeChain struct {
	ID         uuid.UUID
	ClassID    string
	Label      string
	CreatedAt  time.Time
	StageCount int
}

// StoredStage is one persisted stage payload of a chain. Ordinal 0 is the
// base snapshot.
type StoredStage struct {
	ChainID   uuid.UUID
	Ordinal   int
	ChangeID  uint64
	Payload   json.RawMessage
	CreatedAt time.Time
}
