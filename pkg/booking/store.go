package booking

import "context"

// BookingFilter narrows an account's booking listing.
type BookingFilter struct {
	FromDay Day
	Status  BookingStatus
	Limit   int
}

// TransactionFilter narrows an account's ledger history.
type TransactionFilter struct {
	BeforeUnixUTC int64
	Axis          Axis
	Limit         int
}

// SlotReader lists bookings of one room on one day.
type SlotReader interface {
	ListBookingsOn(ctx context.Context, roomID RoomID, day Day, status BookingStatus) ([]Booking, error)
}

// Store is the persistence contract used by Manager and Query.
// Mutating methods are only called on the store handed to a WithTx callback.
type Store interface {
	SlotReader
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	LockSlot(ctx context.Context, roomID RoomID, day Day) error
	GetRoom(ctx context.Context, roomID RoomID) (Room, error)
	ListRooms(ctx context.Context) ([]Room, error)
	SaveRoom(ctx context.Context, room Room) error
	InsertBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	FindBookingByIdempotencyKey(ctx context.Context, accountID AccountID, key IdempotencyKey) (Booking, bool, error)
	MarkBookingCancelled(ctx context.Context, bookingID BookingID, cancelledUnixUTC int64) error
	ListAccountBookings(ctx context.Context, accountID AccountID, filter BookingFilter) ([]Booking, error)
	LockBalance(ctx context.Context, accountID AccountID) (Balance, error)
	GetBalance(ctx context.Context, accountID AccountID) (Balance, error)
	UpdateBalance(ctx context.Context, accountID AccountID, axis Axis, from Points, to Points) error
	InsertTransaction(ctx context.Context, transaction Transaction) error
	ListTransactions(ctx context.Context, accountID AccountID, filter TransactionFilter) ([]Transaction, error)
}
