package nats

import (
	"fmt"

	"github.com/nats-io/nats.go"

	"pointledger/internal/repository"
)

// Bus publishes ledger events with the topic as the NATS subject. The journal
// worker consumes them through its queue group.
type Bus struct {
	nc *nats.Conn
}

var _ repository.MessageBus = (*Bus)(nil)

func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

func (b *Bus) Publish(topic string, data []byte) error {
	if err := b.nc.Publish(topic, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", topic, err)
	}
	return nil
}
