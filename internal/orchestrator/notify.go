package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Notification kinds.
const (
	NotifyPhaseChanged     = "phase_changed"
	NotifyCartridgeStarted = "cartridge_started"
	NotifyEliminated       = "player_eliminated"
	NotifyGameOver         = "game_over"
)

// Notification is something worth pushing to players who are not looking.
// Delivery is somebody else's job.
type Notification struct {
	Kind      string    `json:"kind"`
	SessionID string    `json:"sessionId"`
	Day       int       `json:"day"`
	Phase     string    `json:"phase"`
	Players   []string  `json:"players,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Notify(_ context.Context, note Notification) error {
	log := n.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"session": note.SessionID,
		"kind":    note.Kind,
		"day":     note.Day,
		"phase":   note.Phase,
	}).Info(note.Message)
	return nil
}

// ExchangeNotifications is the fanout exchange notifications are published to.
const ExchangeNotifications = "castaway_notifications"

// AMQPNotifier publishes notifications to a RabbitMQ fanout exchange.
type AMQPNotifier struct {
	ch  *amqp091.Channel
	log logrus.FieldLogger
}

// NewAMQPNotifier opens a channel on conn and declares the exchange.
func NewAMQPNotifier(conn *amqp091.Connection, log logrus.FieldLogger) (*AMQPNotifier, error) {
	if conn == nil {
		return nil, errors.New("rabbitmq connection is nil")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		ExchangeNotifications, // name
		"fanout",              // type
		true,                  // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", ExchangeNotifications, err)
	}

	log.WithField("exchange", ExchangeNotifications).Info("notification exchange declared")

	return &AMQPNotifier{ch: ch, log: log}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	err = n.ch.PublishWithContext(ctx,
		ExchangeNotifications, // exchange
		"",                    // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   note.At,
		},
	)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	n.log.WithFields(logrus.Fields{
		"session": note.SessionID,
		"kind":    note.Kind,
	}).Debug("notification published")
	return nil
}

func (n *AMQPNotifier) Close() error {
	if n.ch != nil {
		return n.ch.Close()
	}
	return nil
}
