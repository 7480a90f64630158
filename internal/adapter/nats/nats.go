// Package nats carries user-facing message traffic over NATS JetStream:
// inbound objectives and approval answers on steward.inbox.<user>, and
// outbound notifications on steward.notify.<user>.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName    = "STEWARD"
	inboxPrefix   = "steward.inbox."
	notifyPrefix  = "steward.notify."
	inboxSubject  = inboxPrefix + ">"
	notifySubject = notifyPrefix + ">"
)

// InboxHandler receives one inbound user message.
type InboxHandler func(userID, text string)

// Conn wraps a NATS connection with the steward stream ensured.
type Conn struct {
	nc  *nats.Conn
	js  jetstream.JetStream
	log *slog.Logger
}

// Connect establishes a connection and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string, log *slog.Logger) (*Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{inboxSubject, notifySubject},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Conn{nc: nc, js: js, log: log}, nil
}

// SubscribeInbox consumes inbound user messages. The user ID is the
// subject suffix after steward.inbox.; messages on deeper subjects keep
// the full suffix so routing mistakes stay visible in logs.
func (c *Conn) SubscribeInbox(ctx context.Context, handler InboxHandler) (func(), error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       "steward-intake",
		FilterSubject: inboxSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		userID := strings.TrimPrefix(msg.Subject(), inboxPrefix)
		text := strings.TrimSpace(string(msg.Data()))
		if userID == "" || text == "" {
			c.log.Warn("dropping empty inbox message", "subject", msg.Subject())
		} else {
			handler(userID, text)
		}
		if ackErr := msg.Ack(); ackErr != nil {
			c.log.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

// Close shuts down the NATS connection.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}
