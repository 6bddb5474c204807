package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pointledger/internal/ledger"
	"pointledger/internal/observability"
)

// Incrementer is the counter store operation the processor applies.
type Incrementer interface {
	Increment(ctx context.Context, accountID uuid.UUID, displayName string, delta ledger.Counters) (ledger.Counters, error)
}

// Processor drains the event channel and applies activity deltas.
type Processor struct {
	counters Incrementer
	events   <-chan RawEvent
	metrics  *observability.Metrics
	log      zerolog.Logger
}

func NewProcessor(counters Incrementer, events <-chan RawEvent, metrics *observability.Metrics, log zerolog.Logger) *Processor {
	return &Processor{counters: counters, events: events, metrics: metrics, log: log}
}

// Run processes events until the context is canceled. Malformed events
// are acked and dropped; store failures are nak'd for redelivery.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("event processor stopped")
			return
		case raw := <-p.events:
			p.handle(ctx, raw)
		}
	}
}

func (p *Processor) handle(ctx context.Context, raw RawEvent) {
	activity, err := ParseActivity(raw.Data)
	if err != nil {
		p.reject("invalid", raw.Subject, err)
		raw.AckFunc()
		return
	}

	start := time.Now()
	_, err = p.counters.Increment(ctx, activity.AccountID, activity.DisplayName, activity.Delta)
	if err != nil {
		if errors.Is(err, ledger.ErrStoreUnavailable) {
			// Transient; leave the message for redelivery.
			p.reject("store_unavailable", raw.Subject, err)
			raw.NakFunc()
			return
		}
		p.reject("store_error", raw.Subject, err)
		raw.AckFunc()
		return
	}

	if p.metrics != nil {
		p.metrics.IncrementsApplied.WithLabelValues("nats").Inc()
		p.metrics.IncrementDuration.Observe(time.Since(start).Seconds())
	}
	p.log.Debug().
		Stringer("account_id", activity.AccountID).
		Str("activity_id", activity.ActivityID).
		Int64("points", activity.Delta.Points).
		Int64("items", activity.Delta.Items).
		Msg("increment applied")
	raw.AckFunc()
}

func (p *Processor) reject(reason, subject string, err error) {
	if p.metrics != nil {
		p.metrics.IncrementsRejected.WithLabelValues(reason).Inc()
	}
	p.log.Warn().
		Str("subject", subject).
		Str("reason", reason).
		Err(err).
		Msg("activity event rejected")
}
