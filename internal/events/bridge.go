package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/tendant/simple-stars/pkg/notify"
)

const publishTimeout = 5 * time.Second

// Publisher is the publishing side of an AMQP channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Bridge shares change signals between instances. Signals published on the
// local bus go to a fanout exchange; signals from other instances are
// re-published locally with their origin kept, so caches can tell them apart.
type Bridge struct {
	bus      *notify.Bus
	exchange string
	pub      Publisher
	conn     *amqp.Connection
	ch       *amqp.Channel
	logger   *slog.Logger
}

// DialBridge connects to the broker and declares the exchange.
func DialBridge(url, exchange string, bus *notify.Bus, logger *slog.Logger) (*Bridge, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	b := newBridge(bus, ch, exchange, logger)
	b.conn = conn
	b.ch = ch
	return b, nil
}

func newBridge(bus *notify.Bus, pub Publisher, exchange string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{bus: bus, exchange: exchange, pub: pub, logger: logger}
}

// Run forwards signals in both directions until ctx is cancelled or the
// broker connection is lost.
func (b *Bridge) Run(ctx context.Context) error {
	if b.ch == nil {
		return errors.New("bridge is not connected")
	}
	q, err := b.ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, "", b.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	deliveries, err := b.ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	local := b.bus.Stream(b.localOnly)
	defer local.Close()

	b.logger.Info("signal bridge started", "exchange", b.exchange, "queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-local.C:
			if !ok {
				return nil
			}
			b.forward(ctx, sig)
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			b.receive(d.Body)
		}
	}
}

// Close closes the broker connection.
func (b *Bridge) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

func (b *Bridge) localOnly(s notify.Signal) bool {
	return s.Origin == b.bus.Origin()
}

func (b *Bridge) forward(ctx context.Context, sig notify.Signal) {
	body, err := json.Marshal(sig)
	if err != nil {
		b.logger.Error("failed to encode signal", "error", err)
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = b.pub.PublishWithContext(pubCtx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		// Peers miss one re-fetch hint; their next signal catches them up.
		b.logger.Warn("failed to publish signal", "error", err, "kind", sig.Kind)
	}
}

func (b *Bridge) receive(body []byte) {
	var sig notify.Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		b.logger.Warn("dropping malformed signal", "error", err)
		return
	}
	if sig.Origin == "" || sig.Origin == b.bus.Origin() {
		return
	}
	b.bus.Publish(sig)
}
