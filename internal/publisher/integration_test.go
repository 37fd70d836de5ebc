//go:build integration

package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
	"github.com/testcontainers/testcontainers-go/wait"

	"house_hunter/internal/domain"
)

type RabbitMQIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *rabbitmq.RabbitMQContainer
	amqpURL   string
	logger    *slog.Logger
}

func (s *RabbitMQIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	container, err := rabbitmq.Run(s.ctx,
		"rabbitmq:3.13-management-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("Server startup complete").
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	amqpURL, err := container.AmqpURL(s.ctx)
	s.Require().NoError(err)
	s.amqpURL = amqpURL
}

func (s *RabbitMQIntegrationSuite) TearDownSuite() {
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func TestRabbitMQIntegrationSuite(t *testing.T) {
	suite.Run(t, new(RabbitMQIntegrationSuite))
}

func (s *RabbitMQIntegrationSuite) TestPublisher_Connection() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange",
		RoutingKey: "test-routing-key",
		QueueName:  "test-queue",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.NoError(err)
	s.NotNil(pub)

	err = pub.Close()
	s.NoError(err)
}

func rondeelEvent(action domain.Action, changed ...string) *domain.ListingEvent {
	zip := "3831 KC"
	score := 0.12
	return &domain.ListingEvent{
		RunID:   "run-1",
		Action:  action,
		Changed: changed,
		Listing: domain.EnrichedListing{
			Listing: domain.Listing{
				ID:            "43669755",
				URL:           "https://www.funda.nl/koop/leusden/huis-43669755-rondeel-79/",
				Price:         350000,
				StreetAddress: "Rondeel 79",
				City:          "Leusden",
			},
			ZipCode:     &zip,
			TravelTimes: domain.TravelTimes{"office_s": "38 mins", "office_v": "1 hour 5 mins"},
			LifeScore:   &score,
		},
	}
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishCreate() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-create",
		RoutingKey: "test-routing-key-create",
		QueueName:  "test-queue-create",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, rondeelEvent(domain.ActionCreate))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received ListingMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.ActionCreate, received.Action)
	s.Equal("43669755", received.Listing.ID)
	s.Equal(int64(350000), received.Listing.Price)
	s.Empty(received.Changed)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_PublishUpdate() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-update",
		RoutingKey: "test-routing-key-update",
		QueueName:  "test-queue-update",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, rondeelEvent(domain.ActionUpdate, "price", "travel_times"))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var received ListingMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)
	s.Equal(domain.ActionUpdate, received.Action)
	s.Equal([]string{"price", "travel_times"}, received.Changed)
	s.Equal("update", msg.Type)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessageFormat() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-format",
		RoutingKey: "test-routing-key-format",
		QueueName:  "test-queue-format",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, rondeelEvent(domain.ActionCreate))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal("application/json", msg.ContentType)
	s.Equal("run-1:43669755", msg.MessageId)

	var received ListingMessage
	err = json.Unmarshal(msg.Body, &received)
	s.NoError(err)

	s.Equal("run-1", received.RunID)
	s.Equal("https://www.funda.nl/koop/leusden/huis-43669755-rondeel-79/", received.Listing.URL)
	s.Equal("Rondeel 79", received.Listing.StreetAddress)
	s.Equal("Leusden", received.Listing.City)
	s.Require().NotNil(received.Listing.ZipCode)
	s.Equal("3831 KC", *received.Listing.ZipCode)
	s.Require().NotNil(received.Listing.LifeScore)
	s.InDelta(0.12, *received.Listing.LifeScore, 1e-9)
	s.Len(received.Listing.TravelTimes, 2)
	s.False(received.Timestamp.IsZero())
}

func (s *RabbitMQIntegrationSuite) TestPublisher_UnresolvedFieldsOmitted() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-unresolved",
		RoutingKey: "test-routing-key-unresolved",
		QueueName:  "test-queue-unresolved",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	event := rondeelEvent(domain.ActionCreate)
	event.Listing.ZipCode = nil
	event.Listing.LifeScore = nil
	event.Listing.TravelTimes = nil

	s.NoError(pub.Publish(s.ctx, event))

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	var raw struct {
		Listing map[string]any `json:"listing"`
	}
	s.Require().NoError(json.Unmarshal(msg.Body, &raw))
	s.NotContains(raw.Listing, "zip_code")
	s.NotContains(raw.Listing, "life_score")
	s.NotContains(raw.Listing, "travel_times")
}

func (s *RabbitMQIntegrationSuite) TestPublisher_MessagePersistence() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-persist",
		RoutingKey: "test-routing-key-persist",
		QueueName:  "test-queue-persist",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	err = pub.Publish(s.ctx, rondeelEvent(domain.ActionCreate))
	s.NoError(err)

	msg := s.consumeMessage(cfg)
	s.Require().NotNil(msg)

	s.Equal(uint8(amqp.Persistent), msg.DeliveryMode)
}

func (s *RabbitMQIntegrationSuite) TestPublisher_RoutesByAction() {
	cfg := Config{
		URL:        s.amqpURL,
		Exchange:   "test-exchange-routing",
		RoutingKey: "listings",
	}

	pub, err := NewRabbitMQ(cfg, s.logger)
	s.Require().NoError(err)
	defer pub.Close()

	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()
	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	s.Require().NoError(err)
	s.Require().NoError(ch.QueueBind(q.Name, "listings.update", cfg.Exchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	s.Require().NoError(err)

	s.NoError(pub.Publish(s.ctx, rondeelEvent(domain.ActionCreate)))
	s.NoError(pub.Publish(s.ctx, rondeelEvent(domain.ActionUpdate, "price")))

	select {
	case msg := <-msgs:
		s.Equal("listings.update", msg.RoutingKey)
		s.Equal("update", msg.Type)
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
	}

	select {
	case msg := <-msgs:
		s.Failf("unexpected message", "routing key %s", msg.RoutingKey)
	case <-time.After(500 * time.Millisecond):
	}
}

func (s *RabbitMQIntegrationSuite) consumeMessage(cfg Config) *amqp.Delivery {
	conn, err := amqp.Dial(s.amqpURL)
	s.Require().NoError(err)
	defer conn.Close()

	ch, err := conn.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	msgs, err := ch.Consume(cfg.QueueName, "", true, false, false, false, nil)
	s.Require().NoError(err)

	select {
	case msg := <-msgs:
		return &msg
	case <-time.After(5 * time.Second):
		s.Fail("Timeout waiting for message")
		return nil
	}
}