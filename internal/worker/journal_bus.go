package worker

import (
	"context"
	"errors"

	"pointledger/internal/model"
	"pointledger/internal/repository"
)

// JournalBus records ledger events in the journal as they are published, then
// forwards them to next. Bootstrap uses it when no worker consumes the bus.
type JournalBus struct {
	processor *Processor
	next      repository.MessageBus
}

var _ repository.MessageBus = (*JournalBus)(nil)

func NewJournalBus(p *Processor, next repository.MessageBus) *JournalBus {
	return &JournalBus{processor: p, next: next}
}

func (b *JournalBus) Publish(topic string, data []byte) error {
	var errs []error
	if topic == model.TopicTransactions {
		errs = append(errs, b.processor.Handle(context.Background(), data))
	}
	if b.next != nil {
		errs = append(errs, b.next.Publish(topic, data))
	}
	return errors.Join(errs...)
}
