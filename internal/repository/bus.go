package repository

import "github.com/rs/zerolog"

type MessageBus interface {
	Publish(topic string, data []byte) error
}

// LogBus is used when no bus provider is configured: events are only logged.
type LogBus struct {
	log zerolog.Logger
}

func NewLogBus(log zerolog.Logger) *LogBus {
	return &LogBus{log: log}
}

func (b *LogBus) Publish(topic string, data []byte) error {
	b.log.Debug().Str("topic", topic).RawJSON("payload", data).Msg("event not forwarded, no bus configured")
	return nil
}
