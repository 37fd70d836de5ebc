package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"house_hunter/internal/domain"
)

// ErrNotConfirmed is returned when the broker nacks a published event.
var ErrNotConfirmed = errors.New("event not confirmed by broker")

// RabbitMQ publishes listing changes to a topic exchange, one routing key per
// action ("listings.create", "listings.update"). The channel runs in confirm
// mode, so Publish returns only after the broker has taken the event.
// Publish is safe for concurrent use.
type RabbitMQ struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	prefix   string
	logger   *slog.Logger
}

type Config struct {
	URL      string
	Exchange string
	// RoutingKey prefixes the per-action routing keys.
	RoutingKey string
	// QueueName, when set, declares a durable queue bound to every action.
	// Leave it empty when consumers declare their own bindings.
	QueueName string
}

// RoutingKey is the key an event with the given action is published under.
func RoutingKey(prefix string, action domain.Action) string {
	return prefix + "." + string(action)
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := declareTopology(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey+".*",
	)

	return &RabbitMQ{
		conn:     conn,
		channel:  ch,
		exchange: cfg.Exchange,
		prefix:   cfg.RoutingKey,
		logger:   logger.With("component", "publisher"),
	}, nil
}

func declareTopology(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	if cfg.QueueName == "" {
		return nil
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}
	if err := ch.QueueBind(q.Name, cfg.RoutingKey+".*", cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

// ListingMessage is the wire form of a listing change.
type ListingMessage struct {
	Action    domain.Action          `json:"action"` // "create" or "update"
	RunID     string                 `json:"run_id"`
	Changed   []string               `json:"changed,omitempty"`
	Listing   domain.EnrichedListing `json:"listing"`
	Timestamp time.Time              `json:"timestamp"`
}

func (r *RabbitMQ) Publish(ctx context.Context, event *domain.ListingEvent) error {
	now := time.Now().UTC()
	body, err := json.Marshal(ListingMessage{
		Action:    event.Action,
		RunID:     event.RunID,
		Changed:   event.Changed,
		Listing:   event.Listing,
		Timestamp: now,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	key := RoutingKey(r.prefix, event.Action)

	r.mu.Lock()
	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, r.exchange, key, false, false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    event.RunID + ":" + event.Listing.ID,
			Type:         string(event.Action),
			Body:         body,
			Timestamp:    now,
		},
	)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}

	if !confirm.Wait() {
		return fmt.Errorf("publish %s: %w", key, ErrNotConfirmed)
	}

	r.logger.Debug("published listing",
		"listing_id", event.Listing.ID,
		"routing_key", key,
	)
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
