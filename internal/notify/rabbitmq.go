package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// RabbitMQOptions configures the RabbitMQ publisher
type RabbitMQOptions struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
	Logger        *slog.Logger
}

const maxDialDelay = 60 * time.Second

// RabbitMQPublisher publishes envelopes to a topic exchange with publisher confirms
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp091.Connection
	opts     RabbitMQOptions
	exchange string
	log      *slog.Logger
}

// NewRabbitMQPublisher dials the broker and declares the exchange
func NewRabbitMQPublisher(ctx context.Context, opts RabbitMQOptions) (*RabbitMQPublisher, error) {
	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(opts.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	return &RabbitMQPublisher{
		conn:     conn,
		opts:     opts,
		exchange: opts.Exchange,
		log:      opts.Logger,
	}, nil
}

// dialWithRetry connects with exponential backoff and respects ctx cancellation
func dialWithRetry(ctx context.Context, opts RabbitMQOptions) (*amqp091.Connection, error) {
	attempts := max(opts.RetryAttempts, 1)
	var lastErr error

	for i := 1; i <= attempts; i++ {
		conn, err := amqp091.Dial(opts.URL)
		if err == nil {
			if i > 1 {
				opts.Logger.Info("rabbitmq connected", slog.Int("attempt", i))
			}
			return conn, nil
		}
		lastErr = err

		sleep := opts.Delay << (i - 1)
		if sleep > maxDialDelay || sleep <= 0 {
			sleep = maxDialDelay
		}
		opts.Logger.Warn("rabbitmq dial failed",
			slog.Int("attempt", i),
			slog.Duration("sleep", sleep),
			slog.Any("error", err),
		)

		if i == attempts {
			break
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("rabbitmq dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("connecting to rabbitmq after %d attempts: %w", attempts, lastErr)
}

// connection returns a live connection, redialing once if the broker dropped it
func (p *RabbitMQPublisher) connection(ctx context.Context) (*amqp091.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	opts := p.opts
	opts.RetryAttempts = 1
	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}
	p.conn = conn
	return conn, nil
}

// Publish sends the envelope and waits for the broker confirm
func (p *RabbitMQPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	conn, err := p.connection(ctx)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enabling confirms: %w", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, p.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     env.Meta.ID,
			CorrelationId: env.Meta.CorrelationID,
			Type:          env.Meta.Type,
			Timestamp:     env.Meta.Time,
			AppId:         env.Meta.Producer,
			Body:          body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing %s: %w", key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", env.Meta.ID)
	}

	p.log.Debug("published", slog.String("key", key), slog.String("exchange", p.exchange))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Close()
}
