package booking

import (
	"context"
	"sort"
)

// BookingsOn returns the confirmed bookings of a room on a day ordered by start time.
func BookingsOn(ctx context.Context, reader SlotReader, roomID RoomID, day Day) ([]Booking, error) {
	bookings, err := reader.ListBookingsOn(ctx, roomID, day, BookingStatusConfirmed)
	if err != nil {
		return nil, err
	}
	confirmed := make([]Booking, 0, len(bookings))
	for _, booking := range bookings {
		if booking.Status() == BookingStatusConfirmed {
			confirmed = append(confirmed, booking)
		}
	}
	sort.SliceStable(confirmed, func(left, right int) bool {
		return confirmed[left].Slot().Start() < confirmed[right].Slot().Start()
	})
	return confirmed, nil
}

// IsAvailable reports whether no confirmed booking on the room and day overlaps slot.
func IsAvailable(ctx context.Context, reader SlotReader, roomID RoomID, day Day, slot Slot) (bool, error) {
	_, found, err := firstConflict(ctx, reader, roomID, day, slot)
	if err != nil {
		return false, err
	}
	return !found, nil
}

func firstConflict(ctx context.Context, reader SlotReader, roomID RoomID, day Day, slot Slot) (Booking, bool, error) {
	bookings, err := BookingsOn(ctx, reader, roomID, day)
	if err != nil {
		return Booking{}, false, err
	}
	for _, booking := range bookings {
		if booking.Slot().Overlaps(slot) {
			return booking, true, nil
		}
	}
	return Booking{}, false, nil
}
