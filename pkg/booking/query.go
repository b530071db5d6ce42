package booking

import (
	"context"
	"fmt"
)

// Query is the read-only facade used by UI collaborators. Its answers are snapshots;
// a slot that looks free here is only confirmed by Manager.Reserve.
type Query struct {
	store Store
}

// NewQuery wires a Query over store.
func NewQuery(store Store) (*Query, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &Query{store: store}, nil
}

// ListAvailableRooms returns the active rooms.
func (query *Query) ListAvailableRooms(ctx context.Context) ([]Room, error) {
	rooms, err := query.store.ListRooms(ctx)
	if err != nil {
		return nil, asStorageFailure(err)
	}
	active := make([]Room, 0, len(rooms))
	for _, room := range rooms {
		if room.Active() {
			active = append(active, room)
		}
	}
	return active, nil
}

// ListRooms returns every room, active or not, for administrators.
func (query *Query) ListRooms(ctx context.Context) ([]Room, error) {
	rooms, err := query.store.ListRooms(ctx)
	if err != nil {
		return nil, asStorageFailure(err)
	}
	return rooms, nil
}

// Room returns one room.
func (query *Query) Room(ctx context.Context, roomID RoomID) (Room, error) {
	room, err := query.store.GetRoom(ctx, roomID)
	if err != nil {
		return Room{}, asStorageFailure(err)
	}
	return room, nil
}

// Occupancy returns the confirmed bookings of a room on a day ordered by start.
func (query *Query) Occupancy(ctx context.Context, roomID RoomID, day Day) ([]Booking, error) {
	if roomID.String() == "" {
		return nil, ErrInvalidRoomID
	}
	if day.IsZero() {
		return nil, ErrInvalidDay
	}
	if _, err := query.store.GetRoom(ctx, roomID); err != nil {
		return nil, asStorageFailure(err)
	}
	bookings, err := BookingsOn(ctx, query.store, roomID, day)
	if err != nil {
		return nil, asStorageFailure(err)
	}
	return bookings, nil
}

// IsAvailable is the advisory availability check for a slot.
func (query *Query) IsAvailable(ctx context.Context, roomID RoomID, day Day, slot Slot) (bool, error) {
	available, err := IsAvailable(ctx, query.store, roomID, day, slot)
	if err != nil {
		return false, asStorageFailure(err)
	}
	return available, nil
}

// Quote prices a slot on a room without reserving it.
func (query *Query) Quote(ctx context.Context, roomID RoomID, slot Slot) (PositivePoints, error) {
	room, err := query.store.GetRoom(ctx, roomID)
	if err != nil {
		return 0, asStorageFailure(err)
	}
	return RequiredPoints(room, slot)
}

// MyBookings lists an account's bookings, newest day first.
func (query *Query) MyBookings(ctx context.Context, accountID AccountID, filter BookingFilter) ([]Booking, error) {
	if accountID.String() == "" {
		return nil, ErrInvalidAccountID
	}
	if filter.Status != "" {
		if _, err := ParseBookingStatus(filter.Status.String()); err != nil {
			return nil, err
		}
	}
	filter.Limit = normalizeLimit(filter.Limit)
	bookings, err := query.store.ListAccountBookings(ctx, accountID, filter)
	if err != nil {
		return nil, asStorageFailure(err)
	}
	return bookings, nil
}

// MyTransactions lists an account's ledger history, newest first.
func (query *Query) MyTransactions(ctx context.Context, accountID AccountID, filter TransactionFilter) ([]Transaction, error) {
	if accountID.String() == "" {
		return nil, ErrInvalidAccountID
	}
	if filter.Axis != "" {
		if _, err := ParseAxis(filter.Axis.String()); err != nil {
			return nil, err
		}
	}
	filter.Limit = normalizeLimit(filter.Limit)
	transactions, err := query.store.ListTransactions(ctx, accountID, filter)
	if err != nil {
		return nil, asStorageFailure(err)
	}
	return transactions, nil
}

// Balance returns the current counters of an account. Unknown accounts have zero balances.
func (query *Query) Balance(ctx context.Context, accountID AccountID) (Balance, error) {
	if accountID.String() == "" {
		return Balance{}, ErrInvalidAccountID
	}
	balance, err := query.store.GetBalance(ctx, accountID)
	if err != nil {
		return Balance{}, asStorageFailure(err)
	}
	return balance, nil
}

// Booking returns one booking visible to its owner.
func (query *Query) Booking(ctx context.Context, bookingID BookingID, accountID AccountID) (Booking, error) {
	booking, err := query.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, asStorageFailure(err)
	}
	if booking.AccountID() != accountID {
		return Booking{}, ErrUnknownBooking
	}
	return booking, nil
}

// FindReservation resolves an earlier reservation by its idempotency key. Callers that timed
// out on Reserve use it to learn whether the booking committed.
func (query *Query) FindReservation(ctx context.Context, accountID AccountID, key IdempotencyKey) (Booking, bool, error) {
	if accountID.String() == "" {
		return Booking{}, false, ErrInvalidAccountID
	}
	if key.String() == "" {
		return Booking{}, false, ErrInvalidIdempotencyKey
	}
	booking, found, err := query.store.FindBookingByIdempotencyKey(ctx, accountID, key)
	if err != nil {
		return Booking{}, false, asStorageFailure(err)
	}
	return booking, found, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
