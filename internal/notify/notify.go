// Package notify publishes booking lifecycle events to the notification collaborator.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/movewan/merryhere-sub000/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	RoutingKeyReserved  = "booking.reserved"
	RoutingKeyCancelled = "booking.cancelled"

	exchangeKind       = "topic"
	contentTypeJSON    = "application/json"
	defaultExchange    = "merryhere.events"
	defaultPublishWait = 5 * time.Second
)

// BookingEvent is the JSON body of every published message.
type BookingEvent struct {
	Event         string `json:"event"`
	BookingID     string `json:"booking_id"`
	AccountID     string `json:"account_id"`
	RoomID        string `json:"room_id"`
	Day           string `json:"day"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Title         string `json:"title"`
	Axis          string `json:"axis"`
	PointsCharged int64  `json:"points_charged"`
	Status        string `json:"status"`
	OccurredAt    int64  `json:"occurred_at"`
}

// NewBookingEvent flattens a booking into an event body.
func NewBookingEvent(routingKey string, record booking.Booking, occurredUnixUTC int64) BookingEvent {
	return BookingEvent{
		Event:         routingKey,
		BookingID:     record.ID().String(),
		AccountID:     record.AccountID().String(),
		RoomID:        record.RoomID().String(),
		Day:           record.Day().String(),
		Start:         record.Slot().Start().String(),
		End:           record.Slot().End().String(),
		Title:         record.Title(),
		Axis:          record.Axis().String(),
		PointsCharged: record.PointsCharged().Int64(),
		Status:        record.Status().String(),
		OccurredAt:    occurredUnixUTC,
	}
}

// Publisher delivers one event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event BookingEvent) error
	Close() error
}

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes JSON events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

// DialAMQP connects to RabbitMQ and declares a durable topic exchange.
func DialAMQP(url string, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (publisher *AMQPPublisher) Publish(ctx context.Context, routingKey string, event BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	err = publisher.channel.PublishWithContext(ctx, publisher.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    event.BookingID + ":" + event.Event,
		Timestamp:    time.Unix(event.OccurredAt, 0).UTC(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", routingKey, err)
	}
	return nil
}

func (publisher *AMQPPublisher) Close() error {
	if publisher.channel != nil {
		_ = publisher.channel.Close()
	}
	if publisher.conn != nil {
		return publisher.conn.Close()
	}
	return nil
}

// LogPublisher writes events to zap instead of a broker. It is used when no AMQP URL is
// configured.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a LogPublisher; a nil logger falls back to zap.NewNop.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

func (publisher *LogPublisher) Publish(ctx context.Context, routingKey string, event BookingEvent) error {
	publisher.logger.Info("booking event",
		zap.String("routing_key", routingKey),
		zap.String("booking_id", event.BookingID),
		zap.String("account_id", event.AccountID),
		zap.String("room_id", event.RoomID),
		zap.String("day", event.Day),
		zap.String("start", event.Start),
		zap.String("end", event.End),
	)
	return nil
}

func (publisher *LogPublisher) Close() error {
	return nil
}

// Notifier sends booking events without ever failing the caller. Publish errors are logged.
type Notifier struct {
	publisher Publisher
	logger    *zap.Logger
	nowFn     func() int64
	timeout   time.Duration
}

// NewNotifier wires a publisher with a logger for delivery failures.
func NewNotifier(publisher Publisher, logger *zap.Logger, now func() int64) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = NewLogPublisher(logger)
	}
	if now == nil {
		now = func() int64 { return time.Now().UTC().Unix() }
	}
	return &Notifier{publisher: publisher, logger: logger, nowFn: now, timeout: defaultPublishWait}
}

// BookingReserved announces a confirmed reservation.
func (notifier *Notifier) BookingReserved(ctx context.Context, record booking.Booking) {
	notifier.send(ctx, RoutingKeyReserved, record)
}

// BookingCancelled announces a cancellation.
func (notifier *Notifier) BookingCancelled(ctx context.Context, record booking.Booking) {
	notifier.send(ctx, RoutingKeyCancelled, record)
}

func (notifier *Notifier) send(ctx context.Context, routingKey string, record booking.Booking) {
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifier.timeout)
	defer cancel()
	event := NewBookingEvent(routingKey, record, notifier.nowFn())
	if err := notifier.publisher.Publish(publishCtx, routingKey, event); err != nil {
		notifier.logger.Warn("booking event not delivered",
			zap.String("routing_key", routingKey),
			zap.String("booking_id", event.BookingID),
			zap.Error(err),
		)
	}
}

// Close releases the underlying publisher.
func (notifier *Notifier) Close() error {
	return notifier.publisher.Close()
}
