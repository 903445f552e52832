package infrastructure

import (
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

func connectNats(url string, log zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("pointledger"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}
