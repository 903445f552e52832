package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"pointledger/internal/journal"
	"pointledger/internal/model"
)

const journalQueueGroup = "journal_group"

// Processor records ledger events in the journal. Redelivered events are
// stored once because the journal is keyed by event id.
type Processor struct {
	journal journal.Store
	log     zerolog.Logger
}

func NewProcessor(j journal.Store, log zerolog.Logger) *Processor {
	return &Processor{journal: j, log: log.With().Str("component", "worker").Logger()}
}

func (p *Processor) Handle(ctx context.Context, data []byte) error {
	var event model.LedgerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("decode ledger event: %w", err)
	}
	if err := p.journal.Record(ctx, event); err != nil {
		return fmt.Errorf("record event %s: %w", event.ID, err)
	}
	p.log.Debug().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("user_id", event.UserID).
		Msg("ledger event journaled")
	return nil
}

// TransactionWorker listens on the ledger events subject and writes each
// event to the journal.
type TransactionWorker struct {
	processor *Processor
	natsConn  *nats.Conn
}

func NewTransactionWorker(p *Processor, nc *nats.Conn) *TransactionWorker {
	return &TransactionWorker{processor: p, natsConn: nc}
}

// Run subscribes and blocks until ctx is cancelled.
func (w *TransactionWorker) Run(ctx context.Context) error {
	// Each event goes to one member of the queue group.
	sub, err := w.natsConn.QueueSubscribe(model.TopicTransactions, journalQueueGroup, func(m *nats.Msg) {
		if err := w.processor.Handle(ctx, m.Data); err != nil {
			w.processor.log.Error().Err(err).Msg("failed to journal ledger event")
		}
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	w.processor.log.Info().Str("subject", model.TopicTransactions).Msg("transaction worker is running")

	<-ctx.Done()

	w.processor.log.Info().Msg("worker received shutdown signal, draining subscription")
	return sub.Drain()
}

func (w *TransactionWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop is a no-op; shutdown happens through ctx.
func (w *TransactionWorker) Stop(ctx context.Context) error {
	return nil
}
