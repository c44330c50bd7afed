package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// commandKeyPrefix is the routing-key namespace devices subscribe to
const commandKeyPrefix = "telemetry.command."

// CommandPublisher publishes operator-triggered commands to devices over
// the pub/sub channel. The ingest path never publishes.
type CommandPublisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewCommandPublisher creates a new command publisher
func NewCommandPublisher(conn *Connection, exchange string, logger *zap.Logger) (*CommandPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &CommandPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends one command to one device
func (p *CommandPublisher) Publish(ctx context.Context, deviceID string, command map[string]interface{}) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return fmt.Errorf("device identity is required")
	}

	body, err := json.Marshal(command)
	if err != nil {
		return fmt.Errorf("failed to marshal command: %w", err)
	}

	routingKey := commandKeyPrefix + deviceID
	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish command: %w", err)
	}

	p.logger.Info("published device command",
		zap.String("routing_key", routingKey),
		zap.String("device_id", deviceID),
	)

	return nil
}

// Close closes the publisher channel
func (p *CommandPublisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
