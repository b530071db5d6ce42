package booking

import (
	"context"
	"errors"
	"testing"
)

func seedBooking(test *testing.T, store *stubStore, id string, room Room, day string, start string, end string, status BookingStatus) Booking {
	test.Helper()
	fields := BookingFields{
		ID:            mustBookingID(test, id),
		RoomID:        room.ID(),
		AccountID:     mustAccountID(test, "owner"),
		Day:           mustDay(test, day),
		Slot:          mustSlot(test, start, end),
		Status:        status,
		Axis:          AxisPersonal,
		PointsCharged: 2,
		Title:         "seeded " + id,
	}
	if status == BookingStatusCancelled {
		fields.CancelledUnixUTC = 1
	}
	booking, err := NewBooking(fields)
	if err != nil {
		test.Fatalf("booking: %v", err)
	}
	if err := store.InsertBooking(context.Background(), booking); err != nil {
		test.Fatalf("insert booking: %v", err)
	}
	return booking
}

func TestBookingsOnOrdersConfirmedByStart(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	room := mustRoom(test, "A", 2)
	seedBooking(test, store, "late", room, "2025-03-04", "15:00", "16:00", BookingStatusConfirmed)
	seedBooking(test, store, "gone", room, "2025-03-04", "09:00", "10:00", BookingStatusCancelled)
	seedBooking(test, store, "early", room, "2025-03-04", "08:00", "09:00", BookingStatusConfirmed)
	seedBooking(test, store, "other-day", room, "2025-03-05", "07:00", "08:00", BookingStatusConfirmed)

	bookings, err := BookingsOn(context.Background(), store, room.ID(), mustDay(test, "2025-03-04"))
	if err != nil {
		test.Fatalf("bookings on: %v", err)
	}
	if len(bookings) != 2 {
		test.Fatalf("expected 2 confirmed bookings, got %d", len(bookings))
	}
	if bookings[0].ID().String() != "early" || bookings[1].ID().String() != "late" {
		test.Fatalf("unexpected order: %s, %s", bookings[0].ID(), bookings[1].ID())
	}
}

func TestIsAvailable(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	room := mustRoom(test, "A", 2)
	day := mustDay(test, "2025-03-04")
	seedBooking(test, store, "taken", room, "2025-03-04", "09:00", "10:00", BookingStatusConfirmed)
	seedBooking(test, store, "released", room, "2025-03-04", "11:00", "12:00", BookingStatusCancelled)

	cases := []struct {
		name string
		slot Slot
		want bool
	}{
		{name: "overlapping", slot: mustSlot(test, "09:30", "10:30"), want: false},
		{name: "touching end", slot: mustSlot(test, "10:00", "10:30"), want: true},
		{name: "touching start", slot: mustSlot(test, "08:00", "09:00"), want: true},
		{name: "cancelled interval", slot: mustSlot(test, "11:00", "12:00"), want: true},
	}
	for _, tc := range cases {
		available, err := IsAvailable(context.Background(), store, room.ID(), day, tc.slot)
		if err != nil {
			test.Fatalf("%s: %v", tc.name, err)
		}
		if available != tc.want {
			test.Fatalf("%s: expected %v, got %v", tc.name, tc.want, available)
		}
	}
}

func TestIsAvailablePropagatesReaderError(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.listBookingsErr = errors.New("disk gone")
	_, err := IsAvailable(context.Background(), store, mustRoomID(test, "A"), mustDay(test, "2025-03-04"), mustSlot(test, "09:00", "10:00"))
	if err == nil || err.Error() != "disk gone" {
		test.Fatalf("expected reader error, got %v", err)
	}
}
