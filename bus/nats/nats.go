// Package nats implements overture.Bus over a NATS connection. Turn events
// publish to overture.events.<project-id>; frontends subscribe per project.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nvoss/overture"
)

const subjectPrefix = "overture.events."

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Bus implements overture.Bus backed by a NATS connection.
type Bus struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the connection and publish diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// Connect dials a NATS server with reconnection handling and returns a Bus.
func Connect(url string, opts ...Option) (*Bus, error) {
	b := &Bus{logger: nopLogger}
	for _, o := range opts {
		o(b)
	}

	conn, err := nats.Connect(url,
		nats.Name("overture"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			b.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect: %w", err)
	}
	b.conn = conn
	return b, nil
}

var _ overture.Bus = (*Bus)(nil)

// Publish broadcasts one turn event under the project's subject.
func (b *Bus) Publish(projectID string, ev overture.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	if err := b.conn.Publish(subjectPrefix+projectID, data); err != nil {
		return fmt.Errorf("nats: publish: %w", err)
	}
	return nil
}

// Subscribe delivers a project's events to handler until the returned
// subscription is unsubscribed.
func (b *Bus) Subscribe(projectID string, handler func(overture.Event)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subjectPrefix+projectID, func(msg *nats.Msg) {
		var ev overture.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("nats: drop malformed event", "error", err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("nats: subscribe: %w", err)
	}
	return sub, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}
