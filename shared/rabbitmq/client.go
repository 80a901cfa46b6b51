package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	ErrNotConnected = errors.New("not connected to RabbitMQ")
	ErrNacked       = errors.New("message was nacked by the broker")
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	VHost          string
	ExchangeName   string
	ExchangeType   string
	QueueName      string
	RoutingKey     string
	RetryAttempts  int
	RetryInterval  time.Duration
	Heartbeat      time.Duration
	ConfirmTimeout time.Duration
}

// URL renders the AMQP URL for the configured broker.
func (c *Config) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s", c.User, c.Password, c.Host, c.Port, c.VHost)
}

// Publisher publishes persistent messages on a confirm-mode channel and
// waits for the broker ack before returning.
type Publisher struct {
	config *Config
	logger *slog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewPublisher dials the broker and declares the exchange topology.
func NewPublisher(config *Config, logger *slog.Logger) (*Publisher, error) {
	p := &Publisher{config: config, logger: logger}

	if err := p.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ publisher: %w", err)
	}
	return p, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (p *Publisher) connect() error {
	var (
		conn *amqp.Connection
		err  error
	)

	attempts := max(p.config.RetryAttempts, 1)
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, err = amqp.DialConfig(p.config.URL(), amqp.Config{
			Heartbeat: p.config.Heartbeat,
			Locale:    "en_US",
		})
		if err == nil {
			break
		}

		p.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)
		if attempt < attempts {
			time.Sleep(p.config.RetryInterval)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := setup(channel, p.config); err != nil {
		channel.Close()
		conn.Close()
		return err
	}

	if err := channel.Confirm(false); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.conn = conn
	p.channel = channel

	p.logger.Info("RabbitMQ publisher initialized",
		slog.String("exchange", p.config.ExchangeName),
		slog.String("routing_key", p.config.RoutingKey),
	)
	return nil
}

// setup declares exchange, queue, and bindings
func setup(ch *amqp.Channel, cfg *Config) error {
	if err := ch.ExchangeDeclare(cfg.ExchangeName, cfg.ExchangeType, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if cfg.QueueName == "" {
		return nil
	}

	if _, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(cfg.QueueName, cfg.RoutingKey, cfg.ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Publish sends body and blocks until the broker confirms it. messageID is
// set on the message so downstream consumers can deduplicate redeliveries.
func (p *Publisher) Publish(ctx context.Context, messageID string, headers amqp.Table, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil || p.channel.IsClosed() {
		return ErrNotConnected
	}

	if p.config.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ConfirmTimeout)
		defer cancel()
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		p.config.ExchangeName,
		p.config.RoutingKey,
		true,  // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Headers:      headers,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to wait for publish confirm: %w", err)
	}
	if !acked {
		return ErrNacked
	}

	p.logger.Debug("Message published to RabbitMQ",
		slog.String("message_id", messageID),
		slog.Int("body_size", len(body)),
	)
	return nil
}

// IsConnected returns the connection status
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil && !p.conn.IsClosed()
}

// Close closes the RabbitMQ connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}

	p.logger.Info("RabbitMQ connection closed")
	return nil
}
