package ingestion

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/testutil"
)

// ============================================================
// Parsing and validation
// ============================================================

func TestParseActivityValid(t *testing.T) {
	data := []byte(`{
		"account_id": "11111111-1111-1111-1111-111111111111",
		"display_name": "Alice Anders",
		"points": 25,
		"items": 1,
		"activity_id": "act-42",
		"timestamp_us": 1759900000000000
	}`)

	a, err := ParseActivity(data)
	if err != nil {
		t.Fatalf("ParseActivity: %v", err)
	}
	if a.AccountID.String() != "11111111-1111-1111-1111-111111111111" {
		t.Errorf("account = %s", a.AccountID)
	}
	if a.Delta.Points != 25 || a.Delta.Items != 1 {
		t.Errorf("delta = %+v, want {25 1}", a.Delta)
	}
	if a.DisplayName != "Alice Anders" {
		t.Errorf("display name = %q", a.DisplayName)
	}
}

func TestParseActivityRejections(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"account_id": `},
		{"bad uuid", `{"account_id": "not-a-uuid", "points": 1}`},
		{"nil uuid", `{"account_id": "00000000-0000-0000-0000-000000000000", "points": 1}`},
		{"negative points", `{"account_id": "11111111-1111-1111-1111-111111111111", "points": -5}`},
		{"negative items", `{"account_id": "11111111-1111-1111-1111-111111111111", "points": 1, "items": -1}`},
		{"empty delta", `{"account_id": "11111111-1111-1111-1111-111111111111", "points": 0, "items": 0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseActivity([]byte(tt.data)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ============================================================
// Processing
// ============================================================

func TestProcessorAcksAppliedEvent(t *testing.T) {
	counters := testutil.NewMemCounterStore()
	events := make(chan RawEvent, 1)
	p := NewProcessor(counters, events, nil, zerolog.Nop())

	acked := false
	p.handle(context.Background(), RawEvent{
		Subject: "points.activity.web",
		Data:    []byte(`{"account_id": "11111111-1111-1111-1111-111111111111", "points": 10, "items": 2}`),
		AckFunc: func() { acked = true },
		NakFunc: func() { t.Fatal("nak on success") },
	})
	if !acked {
		t.Fatal("applied event was not acked")
	}

	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	acct, err := counters.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Counters.Points != 10 || acct.Counters.Items != 2 {
		t.Errorf("counters = %+v, want {10 2}", acct.Counters)
	}
}

func TestProcessorAcksMalformedEvent(t *testing.T) {
	counters := testutil.NewMemCounterStore()
	events := make(chan RawEvent, 1)
	p := NewProcessor(counters, events, nil, zerolog.Nop())

	// A malformed event must be acked, not nak'd: redelivery cannot fix it.
	acked := false
	p.handle(context.Background(), RawEvent{
		Subject: "points.activity.web",
		Data:    []byte(`not json`),
		AckFunc: func() { acked = true },
		NakFunc: func() { t.Fatal("nak on permanent reject") },
	})
	if !acked {
		t.Fatal("malformed event was not acked")
	}
}

type unavailableStore struct{}

func (unavailableStore) Increment(ctx context.Context, accountID uuid.UUID, displayName string, delta ledger.Counters) (ledger.Counters, error) {
	return ledger.Counters{}, ledger.StoreUnavailable("increment", context.DeadlineExceeded)
}

func TestProcessorNaksOnStoreUnavailable(t *testing.T) {
	events := make(chan RawEvent, 1)
	p := NewProcessor(unavailableStore{}, events, nil, zerolog.Nop())

	naked := false
	p.handle(context.Background(), RawEvent{
		Subject: "points.activity.web",
		Data:    []byte(`{"account_id": "11111111-1111-1111-1111-111111111111", "points": 10}`),
		AckFunc: func() { t.Fatal("ack on transient failure") },
		NakFunc: func() { naked = true },
	})
	if !naked {
		t.Fatal("transient failure was not nak'd")
	}
}
