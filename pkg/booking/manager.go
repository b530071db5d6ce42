package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReserveRequest is the input of Manager.Reserve.
type ReserveRequest struct {
	AccountID      AccountID
	RoomID         RoomID
	Day            Day
	Slot           Slot
	Title          string
	Description    string
	Axis           Axis
	IdempotencyKey *IdempotencyKey
	Metadata       MetadataJSON
}

func (request ReserveRequest) validate() error {
	if request.AccountID.String() == "" {
		return ErrInvalidAccountID
	}
	if request.RoomID.String() == "" {
		return ErrInvalidRoomID
	}
	if request.Day.IsZero() {
		return ErrInvalidDay
	}
	if request.Slot.Start() >= request.Slot.End() {
		return ErrInvalidSlot
	}
	if strings.TrimSpace(request.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTitle)
	}
	if _, err := ParseAxis(request.Axis.String()); err != nil {
		return err
	}
	return nil
}

// matches reports whether an earlier booking answers the same reservation request.
func (request ReserveRequest) matches(booking Booking) bool {
	return booking.AccountID() == request.AccountID &&
		booking.RoomID() == request.RoomID &&
		booking.Day() == request.Day &&
		booking.Slot() == request.Slot &&
		booking.Axis() == request.Axis
}

// Manager is the sole writer of bookings and balances. Reserve and Cancel run inside a
// critical section keyed by (room, day) that spans the availability check, the balance
// check and every write.
type Manager struct {
	store     Store
	nowFn     func() int64
	location  *time.Location
	newID     func() string
	logger    OperationLogger
	slotLocks *keyedMutex
}

// WithLocation sets the zone used to decide whether a booking starts in the past.
func WithLocation(location *time.Location) ManagerOption {
	return func(manager *Manager) {
		if location != nil {
			manager.location = location
		}
	}
}

// WithIDGenerator replaces the uuid generator used for bookings and transactions.
func WithIDGenerator(newID func() string) ManagerOption {
	return func(manager *Manager) {
		if newID != nil {
			manager.newID = newID
		}
	}
}

// NewManager wires a Manager.
func NewManager(store Store, now func() int64, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	location, err := time.LoadLocation(defaultLocationName)
	if err != nil {
		location = time.UTC
	}
	manager := &Manager{
		store:     store,
		nowFn:     now,
		location:  location,
		newID:     uuid.NewString,
		slotLocks: newKeyedMutex(),
	}
	for _, option := range options {
		if option != nil {
			option(manager)
		}
	}
	return manager, nil
}

// Location returns the zone used for the past-booking policy.
func (manager *Manager) Location() *time.Location {
	return manager.location
}

// ReserveResult is the outcome of ReserveWithResult. Replayed is set when the idempotency key
// matched an earlier booking and nothing was written.
type ReserveResult struct {
	Booking  Booking
	Replayed bool
}

// Reserve atomically books a slot and debits its price from the chosen axis.
func (manager *Manager) Reserve(ctx context.Context, request ReserveRequest) (Booking, error) {
	result, err := manager.ReserveWithResult(ctx, request)
	return result.Booking, err
}

// ReserveWithResult is Reserve that also reports whether the request was an idempotent replay.
func (manager *Manager) ReserveWithResult(ctx context.Context, request ReserveRequest) (ReserveResult, error) {
	result, operationError := manager.reserve(ctx, request)
	entry := OperationLog{
		Operation: operationReserve,
		AccountID: request.AccountID,
		RoomID:    request.RoomID,
		BookingID: result.Booking.ID(),
		Day:       request.Day,
		Slot:      request.Slot,
		Axis:      request.Axis,
		Points:    result.Booking.PointsCharged().ToPoints(),
		Error:     operationError,
	}
	if result.Replayed {
		entry.Status = operationStatusReplayed
		entry.Points = 0
	}
	manager.logOperation(ctx, entry)
	return result, operationError
}

func (manager *Manager) reserve(ctx context.Context, request ReserveRequest) (ReserveResult, error) {
	if err := request.validate(); err != nil {
		return ReserveResult{}, err
	}
	// A committed booking answers its retries even after the room closed or the slot started.
	if request.IdempotencyKey != nil {
		previous, found, err := manager.replay(ctx, manager.store, request)
		if err != nil || found {
			return ReserveResult{Booking: previous, Replayed: found}, asStorageFailure(err)
		}
	}
	room, err := manager.store.GetRoom(ctx, request.RoomID)
	if err != nil {
		return ReserveResult{}, asStorageFailure(err)
	}
	if !room.Active() {
		return ReserveResult{}, ErrRoomInactive
	}
	nowUnixUTC := manager.nowFn()
	if request.Day.At(request.Slot.Start(), manager.location).Unix() < nowUnixUTC {
		return ReserveResult{}, ErrBookingInPast
	}
	required, err := RequiredPoints(room, request.Slot)
	if err != nil {
		return ReserveResult{}, err
	}
	bookingID, err := NewBookingID(manager.newID())
	if err != nil {
		return ReserveResult{}, err
	}
	candidate, err := NewBooking(BookingFields{
		ID:             bookingID,
		RoomID:         request.RoomID,
		AccountID:      request.AccountID,
		Day:            request.Day,
		Slot:           request.Slot,
		Status:         BookingStatusConfirmed,
		Axis:           request.Axis,
		PointsCharged:  required,
		Title:          request.Title,
		Description:    request.Description,
		IdempotencyKey: request.IdempotencyKey,
		CreatedUnixUTC: nowUnixUTC,
	})
	if err != nil {
		return ReserveResult{}, err
	}

	unlock, err := manager.slotLocks.Lock(ctx, slotKey(request.RoomID, request.Day))
	if err != nil {
		return ReserveResult{}, asStorageFailure(err)
	}
	defer unlock()

	var result ReserveResult
	err = manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockSlot(ctx, request.RoomID, request.Day); err != nil {
			return err
		}
		if request.IdempotencyKey != nil {
			previous, found, err := manager.replay(ctx, transactionStore, request)
			if err != nil {
				return err
			}
			if found {
				result = ReserveResult{Booking: previous, Replayed: true}
				return nil
			}
		}
		conflict, overlapping, err := firstConflict(ctx, transactionStore, request.RoomID, request.Day, request.Slot)
		if err != nil {
			return err
		}
		if overlapping {
			return fmt.Errorf("%w: %s overlaps booking %s (%s)", ErrSlotConflict, request.Slot, conflict.ID(), conflict.Slot())
		}
		balance, err := transactionStore.LockBalance(ctx, request.AccountID)
		if err != nil {
			return err
		}
		if balance.On(request.Axis) < required.ToPoints() {
			return fmt.Errorf("%w: %s balance %d, required %d", ErrInsufficientPoints, request.Axis, balance.On(request.Axis), required)
		}
		if err := transactionStore.InsertBooking(ctx, candidate); err != nil {
			return err
		}
		reference := candidate.ID()
		if _, err := manager.ledger().apply(ctx, transactionStore, posting{
			accountID:   request.AccountID,
			axis:        request.Axis,
			delta:       required.Debit(),
			kind:        TransactionSpent,
			bookingID:   &reference,
			description: reservationDescription(room, candidate),
			metadata:    request.Metadata,
		}); err != nil {
			return err
		}
		result = ReserveResult{Booking: candidate}
		return nil
	})
	if err != nil {
		return ReserveResult{}, asStorageFailure(err)
	}
	return result, nil
}

// replay looks up the booking an idempotency key already produced. A key reused for a
// different request is rejected.
func (manager *Manager) replay(ctx context.Context, reader Store, request ReserveRequest) (Booking, bool, error) {
	previous, found, err := reader.FindBookingByIdempotencyKey(ctx, request.AccountID, *request.IdempotencyKey)
	if err != nil || !found {
		return Booking{}, false, err
	}
	if !request.matches(previous) {
		return Booking{}, false, ErrIdempotencyKeyReused
	}
	return previous, true, nil
}

// Cancel releases a confirmed booking owned by accountID and refunds the charged points.
func (manager *Manager) Cancel(ctx context.Context, bookingID BookingID, accountID AccountID) (Booking, error) {
	booking, operationError := manager.cancel(ctx, bookingID, accountID)
	manager.logOperation(ctx, OperationLog{
		Operation: operationCancel,
		AccountID: accountID,
		RoomID:    booking.RoomID(),
		BookingID: bookingID,
		Day:       booking.Day(),
		Slot:      booking.Slot(),
		Axis:      booking.Axis(),
		Points:    booking.PointsCharged().ToPoints(),
		Error:     operationError,
	})
	return booking, operationError
}

func (manager *Manager) cancel(ctx context.Context, bookingID BookingID, accountID AccountID) (Booking, error) {
	if bookingID.String() == "" {
		return Booking{}, ErrInvalidBookingID
	}
	if accountID.String() == "" {
		return Booking{}, ErrInvalidAccountID
	}
	existing, err := manager.store.GetBooking(ctx, bookingID)
	if err != nil {
		return Booking{}, asStorageFailure(err)
	}
	if err := cancellable(existing, accountID); err != nil {
		return existing, err
	}

	unlock, err := manager.slotLocks.Lock(ctx, slotKey(existing.RoomID(), existing.Day()))
	if err != nil {
		return existing, asStorageFailure(err)
	}
	defer unlock()

	var cancelled Booking
	err = manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.LockSlot(ctx, existing.RoomID(), existing.Day()); err != nil {
			return err
		}
		current, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := cancellable(current, accountID); err != nil {
			return err
		}
		nowUnixUTC := manager.nowFn()
		if err := transactionStore.MarkBookingCancelled(ctx, bookingID, nowUnixUTC); err != nil {
			return err
		}
		reference := current.ID()
		if _, err := manager.ledger().apply(ctx, transactionStore, posting{
			accountID:   current.AccountID(),
			axis:        current.Axis(),
			delta:       current.PointsCharged().Credit(),
			kind:        TransactionRefunded,
			bookingID:   &reference,
			description: "refund: " + current.Title(),
		}); err != nil {
			return err
		}
		cancelled = current.withCancellation(nowUnixUTC)
		return nil
	})
	if err != nil {
		return existing, asStorageFailure(err)
	}
	return cancelled, nil
}

// AdjustBalance sets one axis of an account to target, recording the difference as an
// Adjusted transaction. It is the administrative path; bookings are not involved.
func (manager *Manager) AdjustBalance(ctx context.Context, accountID AccountID, axis Axis, target Points, description string) (Transaction, error) {
	transaction, operationError := manager.adjustBalance(ctx, accountID, axis, target, description)
	manager.logOperation(ctx, OperationLog{
		Operation: operationAdjust,
		AccountID: accountID,
		Axis:      axis,
		Points:    target,
		Error:     operationError,
	})
	return transaction, operationError
}

func (manager *Manager) adjustBalance(ctx context.Context, accountID AccountID, axis Axis, target Points, description string) (Transaction, error) {
	if accountID.String() == "" {
		return Transaction{}, ErrInvalidAccountID
	}
	if _, err := ParseAxis(axis.String()); err != nil {
		return Transaction{}, err
	}
	if target < 0 {
		return Transaction{}, ErrInvalidPoints
	}
	if strings.TrimSpace(description) == "" {
		description = "administrative adjustment"
	}
	var transaction Transaction
	err := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		balance, err := transactionStore.LockBalance(ctx, accountID)
		if err != nil {
			return err
		}
		delta, err := NewPointsDelta(target.Int64() - balance.On(axis).Int64())
		if err != nil {
			return ErrNoAdjustment
		}
		transaction, err = manager.ledger().apply(ctx, transactionStore, posting{
			accountID:   accountID,
			axis:        axis,
			delta:       delta,
			kind:        TransactionAdjusted,
			description: description,
		})
		return err
	})
	if err != nil {
		return Transaction{}, asStorageFailure(err)
	}
	return transaction, nil
}

// PutRoom creates or replaces a room definition. Existing bookings keep the price they were
// charged; the new settings apply to later reservations only.
func (manager *Manager) PutRoom(ctx context.Context, room Room) error {
	if room.ID().String() == "" {
		return ErrInvalidRoom
	}
	err := manager.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		return transactionStore.SaveRoom(ctx, room)
	})
	err = asStorageFailure(err)
	manager.logOperation(ctx, OperationLog{
		Operation: operationPutRoom,
		RoomID:    room.ID(),
		Error:     err,
	})
	return err
}

func (manager *Manager) ledger() pointsLedger {
	return pointsLedger{nowFn: manager.nowFn, newID: manager.newID}
}

func (manager *Manager) logOperation(ctx context.Context, entry OperationLog) {
	if manager.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	manager.logger.LogOperation(ctx, entry)
}

func cancellable(booking Booking, accountID AccountID) error {
	if booking.AccountID() != accountID {
		return ErrNotBookingOwner
	}
	if booking.Status() != BookingStatusConfirmed {
		return ErrBookingAlreadyCancelled
	}
	return nil
}

func reservationDescription(room Room, booking Booking) string {
	return fmt.Sprintf("%s %s %s: %s", room.Name(), booking.Day(), booking.Slot(), booking.Title())
}
