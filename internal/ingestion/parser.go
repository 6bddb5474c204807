package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"pointledger/internal/ledger"
)

// ActivityEvent is the wire form of one reward-earning action published
// on the activity subjects.
type ActivityEvent struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Points      int64  `json:"points"`
	Items       int64  `json:"items"`
	ActivityID  string `json:"activity_id"`
	TimestampUs int64  `json:"timestamp_us"`
}

// Activity is a validated, decoded event ready to apply.
type Activity struct {
	AccountID   uuid.UUID
	DisplayName string
	Delta       ledger.Counters
	ActivityID  string
}

// ParseActivity decodes and validates a raw activity payload. Rejections
// are permanent; redelivering a malformed or negative-delta event cannot
// make it valid.
func ParseActivity(data []byte) (Activity, error) {
	var ev ActivityEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return Activity{}, fmt.Errorf("decode activity: %w", err)
	}

	accountID, err := uuid.Parse(ev.AccountID)
	if err != nil {
		return Activity{}, fmt.Errorf("invalid account_id %q: %w", ev.AccountID, err)
	}
	if accountID == uuid.Nil {
		return Activity{}, fmt.Errorf("account_id is the nil uuid")
	}
	if ev.Points < 0 || ev.Items < 0 {
		return Activity{}, fmt.Errorf("negative delta points=%d items=%d", ev.Points, ev.Items)
	}
	if ev.Points == 0 && ev.Items == 0 {
		return Activity{}, fmt.Errorf("empty delta")
	}

	return Activity{
		AccountID:   accountID,
		DisplayName: ev.DisplayName,
		Delta:       ledger.Counters{Points: ev.Points, Items: ev.Items},
		ActivityID:  ev.ActivityID,
	}, nil
}
