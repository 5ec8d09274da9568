package infra

import (
	"time"

	"github.com/fairdraw/keno-engine/pkg/common/logger"
	"github.com/nats-io/nats.go"
)

// GetNATSConnection dials the NATS server the ledger instructions and public
// round events are published to. Reconnects are retried forever; the draw
// path never blocks on messaging availability.
func GetNATSConnection(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1), // retry forever
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed!")
		}),
		nats.ErrorHandler(NatsErrHandler),
	}

	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url, opts...)
}

func NatsErrHandler(nc *nats.Conn, sub *nats.Subscription, natsErr error) {
	logger.Error("NATS Error", "err", natsErr)
	if natsErr == nats.ErrSlowConsumer {
		pendingMsgs, _, err := sub.Pending()
		if err != nil {
			logger.Error("Error getting pending messages", "err", err)
			return
		}

		logger.Error("Falling behind with pending messages on subject", "pending", pendingMsgs, "subject", sub.Subject)
	}
}
