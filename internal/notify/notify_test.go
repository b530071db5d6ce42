package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/movewan/merryhere-sub000/pkg/booking"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordedPublishing struct {
	exchange string
	key      string
	message  amqp.Publishing
}

type fakeChannel struct {
	published []recordedPublishing
	err       error
	closed    bool
}

func (channel *fakeChannel) PublishWithContext(ctx context.Context, exchange string, key string, mandatory bool, immediate bool, msg amqp.Publishing) error {
	if channel.err != nil {
		return channel.err
	}
	channel.published = append(channel.published, recordedPublishing{exchange: exchange, key: key, message: msg})
	return nil
}

func (channel *fakeChannel) Close() error {
	channel.closed = true
	return nil
}

func mustBooking(test *testing.T) booking.Booking {
	test.Helper()
	bookingID, err := booking.NewBookingID("booking-1")
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	roomID, err := booking.NewRoomID("A")
	if err != nil {
		test.Fatalf("room id: %v", err)
	}
	accountID, err := booking.NewAccountID("member-1")
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	day, err := booking.ParseDay("2025-03-10")
	if err != nil {
		test.Fatalf("day: %v", err)
	}
	start, err := booking.ParseTimeOfDay("10:00")
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	end, err := booking.ParseTimeOfDay("11:00")
	if err != nil {
		test.Fatalf("end: %v", err)
	}
	slot, err := booking.NewSlot(start, end)
	if err != nil {
		test.Fatalf("slot: %v", err)
	}
	record, err := booking.NewBooking(booking.BookingFields{
		ID:             bookingID,
		RoomID:         roomID,
		AccountID:      accountID,
		Day:            day,
		Slot:           slot,
		Status:         booking.BookingStatusConfirmed,
		Axis:           booking.AxisPersonal,
		PointsCharged:  4,
		Title:          "weekly sync",
		CreatedUnixUTC: 1740787200,
	})
	if err != nil {
		test.Fatalf("booking: %v", err)
	}
	return record
}

func fixedNow() int64 {
	return 1740787200
}

func TestAMQPPublisherPublishesJSON(test *testing.T) {
	test.Parallel()
	channel := &fakeChannel{}
	publisher := &AMQPPublisher{channel: channel, exchange: "merryhere.events"}
	notifier := NewNotifier(publisher, zap.NewNop(), fixedNow)

	notifier.BookingReserved(context.Background(), mustBooking(test))

	if len(channel.published) != 1 {
		test.Fatalf("expected one message, got %d", len(channel.published))
	}
	published := channel.published[0]
	if published.exchange != "merryhere.events" || published.key != RoutingKeyReserved {
		test.Fatalf("unexpected destination %s/%s", published.exchange, published.key)
	}
	if published.message.ContentType != contentTypeJSON {
		test.Fatalf("unexpected content type %q", published.message.ContentType)
	}
	var event BookingEvent
	if err := json.Unmarshal(published.message.Body, &event); err != nil {
		test.Fatalf("decode body: %v", err)
	}
	if event.BookingID != "booking-1" || event.Start != "10:00" || event.End != "11:00" || event.PointsCharged != 4 {
		test.Fatalf("unexpected event %+v", event)
	}
	if event.OccurredAt != fixedNow() {
		test.Fatalf("expected occurred_at %d, got %d", fixedNow(), event.OccurredAt)
	}

	if err := notifier.Close(); err != nil {
		test.Fatalf("close: %v", err)
	}
	if !channel.closed {
		test.Fatalf("expected channel closed")
	}
}

func TestNotifierLogsDeliveryFailures(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	channel := &fakeChannel{err: errors.New("broker gone")}
	publisher := &AMQPPublisher{channel: channel, exchange: "merryhere.events"}
	notifier := NewNotifier(publisher, zap.New(core), fixedNow)

	notifier.BookingCancelled(context.Background(), mustBooking(test))

	entries := logs.All()
	if len(entries) != 1 {
		test.Fatalf("expected one warning, got %d", len(entries))
	}
	if entries[0].ContextMap()["routing_key"] != RoutingKeyCancelled {
		test.Fatalf("unexpected routing key %v", entries[0].ContextMap()["routing_key"])
	}
}

func TestNotifierDefaultsToLogPublisher(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	notifier := NewNotifier(nil, zap.New(core), fixedNow)

	notifier.BookingReserved(context.Background(), mustBooking(test))

	entries := logs.FilterMessage("booking event").All()
	if len(entries) != 1 {
		test.Fatalf("expected one booking event log, got %d", len(entries))
	}
	if entries[0].ContextMap()["booking_id"] != "booking-1" {
		test.Fatalf("unexpected booking id %v", entries[0].ContextMap()["booking_id"])
	}
}
