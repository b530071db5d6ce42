package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newScenario(test *testing.T, startingPersonal Points) (*stubStore, *Manager, Room, AccountID) {
	test.Helper()
	store := newStubStore(test)
	room := mustRoom(test, "A", 2)
	store.rooms[room.ID()] = room
	member := mustAccountID(test, "member-1")
	store.seedBalance(member, Balance{Personal: startingPersonal, Team: 20})
	return store, mustNewManager(test, store), room, member
}

func assertLedgerMatchesBalance(test *testing.T, store *stubStore, accountID AccountID, startingPersonal int64) {
	test.Helper()
	balance := store.balances[accountID]
	if got := startingPersonal + store.ledgerSum(accountID, AxisPersonal); got != balance.Personal.Int64() {
		test.Fatalf("personal balance %d does not match ledger %d", balance.Personal, got)
	}
}

// TestReserveCancelWalkthrough runs the reference sequence: reserve, conflict, touching
// reserve, cancel with refund, insufficient points, double cancel.
func TestReserveCancelWalkthrough(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 10)
	ctx := context.Background()

	first, err := manager.Reserve(ctx, reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
	if err != nil {
		test.Fatalf("reserve 09:00-10:00: %v", err)
	}
	if first.PointsCharged() != 4 || first.Status() != BookingStatusConfirmed {
		test.Fatalf("unexpected booking: charged %d status %s", first.PointsCharged(), first.Status())
	}
	if store.balances[member].Personal != 6 {
		test.Fatalf("expected balance 6, got %d", store.balances[member].Personal)
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected one transaction, got %d", len(store.transactions))
	}
	spent := store.transactions[0]
	reference, ok := spent.BookingID()
	if spent.Kind() != TransactionSpent || spent.Amount() != 4 || spent.BalanceAfter() != 6 || !ok || reference != first.ID() {
		test.Fatalf("unexpected spent transaction: %+v", spent)
	}

	_, err = manager.Reserve(ctx, reserveRequest(test, member, room, "2025-03-04", "09:30", "10:30"))
	if !errors.Is(err, ErrSlotConflict) {
		test.Fatalf("expected ErrSlotConflict, got %v", err)
	}
	if !Retryable(err) {
		test.Fatalf("slot conflict must be retryable")
	}

	third, err := manager.Reserve(ctx, reserveRequest(test, member, room, "2025-03-04", "10:00", "10:30"))
	if err != nil {
		test.Fatalf("reserve touching slot: %v", err)
	}
	if third.PointsCharged() != 2 || store.balances[member].Personal != 4 {
		test.Fatalf("expected charge 2 and balance 4, got %d and %d", third.PointsCharged(), store.balances[member].Personal)
	}

	cancelled, err := manager.Cancel(ctx, first.ID(), member)
	if err != nil {
		test.Fatalf("cancel: %v", err)
	}
	if cancelled.Status() != BookingStatusCancelled || cancelled.CancelledUnixUTC() != testClock() {
		test.Fatalf("unexpected cancelled booking: %s at %d", cancelled.Status(), cancelled.CancelledUnixUTC())
	}
	if store.balances[member].Personal != 8 {
		test.Fatalf("expected balance 8 after refund, got %d", store.balances[member].Personal)
	}
	refund := store.transactions[len(store.transactions)-1]
	refundReference, _ := refund.BookingID()
	if refund.Kind() != TransactionRefunded || refund.Amount() != 4 || refundReference != first.ID() {
		test.Fatalf("unexpected refund transaction: %+v", refund)
	}

	_, err = manager.Cancel(ctx, first.ID(), member)
	if !errors.Is(err, ErrNotCancellable) {
		test.Fatalf("expected ErrNotCancellable on second cancel, got %v", err)
	}
	if got := len(store.transactions); got != 3 {
		test.Fatalf("expected no double refund, got %d transactions", got)
	}
	assertLedgerMatchesBalance(test, store, member, 10)
}

func TestReserveInsufficientPointsLeavesNoTrace(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 1)

	_, err := manager.Reserve(context.Background(), reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
	if !errors.Is(err, ErrInsufficientPoints) {
		test.Fatalf("expected ErrInsufficientPoints, got %v", err)
	}
	if Retryable(err) {
		test.Fatalf("insufficient points must not be retryable")
	}
	if len(store.bookings) != 0 || len(store.transactions) != 0 {
		test.Fatalf("expected no booking and no transaction, got %d and %d", len(store.bookings), len(store.transactions))
	}
	if store.balances[member].Personal != 1 {
		test.Fatalf("balance changed to %d", store.balances[member].Personal)
	}
}

func TestReserveDebitsChosenAxis(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 0)
	request := reserveRequest(test, member, room, "2025-03-04", "09:00", "11:00")
	request.Axis = AxisTeam

	booking, err := manager.Reserve(context.Background(), request)
	if err != nil {
		test.Fatalf("reserve on team axis: %v", err)
	}
	if booking.Axis() != AxisTeam {
		test.Fatalf("expected team axis, got %s", booking.Axis())
	}
	if balance := store.balances[member]; balance.Team != 12 || balance.Personal != 0 {
		test.Fatalf("unexpected balance after team debit: %+v", balance)
	}
}

func TestReserveValidation(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 100)
	inactive, err := NewRoom(RoomFields{
		ID:                 mustRoomID(test, "closed"),
		Name:               "Closed",
		Capacity:           2,
		PointsPer30Min:     1,
		MinDurationMinutes: 30,
		MaxDurationMinutes: 60,
	})
	if err != nil {
		test.Fatalf("room: %v", err)
	}
	store.rooms[inactive.ID()] = inactive

	cases := []struct {
		name    string
		mutate  func(*ReserveRequest)
		wantErr error
	}{
		{name: "blank title", mutate: func(request *ReserveRequest) { request.Title = "  " }, wantErr: ErrInvalidTitle},
		{name: "zero slot", mutate: func(request *ReserveRequest) { request.Slot = Slot{} }, wantErr: ErrInvalidSlot},
		{name: "missing day", mutate: func(request *ReserveRequest) { request.Day = Day{} }, wantErr: ErrInvalidDay},
		{name: "bad axis", mutate: func(request *ReserveRequest) { request.Axis = Axis("company") }, wantErr: ErrInvalidAxis},
		{name: "odd duration", mutate: func(request *ReserveRequest) { request.Slot = mustSlot(test, "09:00", "09:20") }, wantErr: ErrInvalidDuration},
		{name: "past day", mutate: func(request *ReserveRequest) { request.Day = mustDay(test, "2025-02-28") }, wantErr: ErrBookingInPast},
		{name: "inactive room", mutate: func(request *ReserveRequest) { request.RoomID = inactive.ID() }, wantErr: ErrRoomInactive},
		{name: "unknown room", mutate: func(request *ReserveRequest) { request.RoomID = mustRoomID(test, "nowhere") }, wantErr: ErrUnknownRoom},
	}
	for _, tc := range cases {
		request := reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00")
		tc.mutate(&request)
		_, err := manager.Reserve(context.Background(), request)
		if !errors.Is(err, tc.wantErr) {
			test.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
		if Classify(err) != KindValidation {
			test.Fatalf("%s: expected validation kind, got %s", tc.name, Classify(err))
		}
	}
	if len(store.bookings) != 0 || len(store.transactions) != 0 || store.slotLocks != 0 {
		test.Fatalf("validation failures must not touch the store")
	}
}

func TestReserveSameDayBeforeNowIsPast(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	room := mustRoom(test, "A", 1)
	store.rooms[room.ID()] = room
	member := mustAccountID(test, "member")
	store.seedBalance(member, Balance{Personal: 10})
	noon := testClock() + 12*60*60
	manager, err := NewManager(store, func() int64 { return noon }, WithLocation(seoul()))
	if err != nil {
		test.Fatalf("manager: %v", err)
	}
	if _, err := manager.Reserve(context.Background(), reserveRequest(test, member, room, "2025-03-01", "11:30", "12:00")); !errors.Is(err, ErrBookingInPast) {
		test.Fatalf("expected ErrBookingInPast, got %v", err)
	}
	if _, err := manager.Reserve(context.Background(), reserveRequest(test, member, room, "2025-03-01", "12:00", "12:30")); err != nil {
		test.Fatalf("expected booking starting now to succeed, got %v", err)
	}
}

func TestReserveIdempotencyKeyReplaysBooking(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 10)
	key := mustIdempotencyKey(test, "click-1")
	request := reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00")
	request.IdempotencyKey = &key

	first, err := manager.Reserve(context.Background(), request)
	if err != nil {
		test.Fatalf("first reserve: %v", err)
	}
	again, err := manager.ReserveWithResult(context.Background(), request)
	if err != nil {
		test.Fatalf("replayed reserve: %v", err)
	}
	if !again.Replayed || again.Booking.ID() != first.ID() {
		test.Fatalf("expected replay of %s, got %+v", first.ID(), again)
	}
	if len(store.transactions) != 1 || store.balances[member].Personal != 6 {
		test.Fatalf("replay must not charge twice: %d transactions, balance %d", len(store.transactions), store.balances[member].Personal)
	}

	different := reserveRequest(test, member, room, "2025-03-04", "11:00", "12:00")
	different.IdempotencyKey = &key
	if _, err := manager.Reserve(context.Background(), different); !errors.Is(err, ErrIdempotencyKeyReused) {
		test.Fatalf("expected ErrIdempotencyKeyReused, got %v", err)
	}

	other := mustAccountID(test, "member-2")
	store.seedBalance(other, Balance{Personal: 10})
	foreign := reserveRequest(test, other, room, "2025-03-04", "11:00", "12:00")
	foreign.IdempotencyKey = &key
	if _, err := manager.Reserve(context.Background(), foreign); err != nil {
		test.Fatalf("keys are scoped per account: %v", err)
	}
}

func TestReserveReplaysAfterSlotStarted(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 10)
	logger := &recorderLogger{}
	key := mustIdempotencyKey(test, "click-timeout")
	request := reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00")
	request.IdempotencyKey = &key

	first, err := manager.ReserveWithResult(context.Background(), request)
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	if first.Replayed {
		test.Fatalf("first reservation must not be a replay")
	}

	// The retry arrives after the slot began and the room was closed.
	closed, err := NewRoom(RoomFields{
		ID:                 room.ID(),
		Name:               room.Name(),
		Capacity:           room.Capacity(),
		PointsPer30Min:     room.PointsPer30Min(),
		MinDurationMinutes: room.MinDurationMinutes(),
		MaxDurationMinutes: room.MaxDurationMinutes(),
		Active:             false,
	})
	if err != nil {
		test.Fatalf("room: %v", err)
	}
	store.rooms[room.ID()] = closed
	later := func() int64 {
		return time.Date(2025, time.March, 4, 9, 30, 0, 0, seoul()).Unix()
	}
	retrying, err := NewManager(store, later, WithLocation(seoul()), WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("manager: %v", err)
	}

	replayed, err := retrying.ReserveWithResult(context.Background(), request)
	if err != nil {
		test.Fatalf("retry: %v", err)
	}
	if !replayed.Replayed || replayed.Booking.ID() != first.Booking.ID() {
		test.Fatalf("expected replay of %s, got %+v", first.Booking.ID(), replayed)
	}
	if len(store.transactions) != 1 || store.balances[member].Personal != 6 {
		test.Fatalf("replay must not charge: %d transactions, balance %d", len(store.transactions), store.balances[member].Personal)
	}
	if len(logger.entries) != 1 || logger.entries[0].Status != operationStatusReplayed || logger.entries[0].Points != 0 {
		test.Fatalf("unexpected replay log: %+v", logger.entries)
	}

	fresh := mustIdempotencyKey(test, "click-late")
	request.IdempotencyKey = &fresh
	if _, err := retrying.Reserve(context.Background(), request); !errors.Is(err, ErrRoomInactive) {
		test.Fatalf("expected ErrRoomInactive for a new key, got %v", err)
	}
	store.rooms[room.ID()] = room
	request.Slot = mustSlot(test, "09:00", "09:30")
	if _, err := retrying.Reserve(context.Background(), request); !errors.Is(err, ErrBookingInPast) {
		test.Fatalf("expected ErrBookingInPast for a new key, got %v", err)
	}
}

func TestReserveRollsBackWhenLedgerWriteFails(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name   string
		inject func(*stubStore)
	}{
		{name: "transaction insert", inject: func(store *stubStore) { store.insertTransactionErr = errors.New("crash after booking insert") }},
		{name: "balance update", inject: func(store *stubStore) { store.updateBalanceErr = errors.New("crash during debit") }},
		{name: "booking insert", inject: func(store *stubStore) { store.insertBookingErr = errors.New("crash before debit") }},
	}
	for _, tc := range cases {
		tc := tc
		test.Run(tc.name, func(test *testing.T) {
			test.Parallel()
			store, manager, room, member := newScenario(test, 10)
			tc.inject(store)

			_, err := manager.Reserve(context.Background(), reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
			if !errors.Is(err, ErrStorageFailure) {
				test.Fatalf("expected ErrStorageFailure, got %v", err)
			}
			if !Retryable(err) {
				test.Fatalf("storage failures must be retryable")
			}
			if len(store.bookings) != 0 || len(store.transactions) != 0 {
				test.Fatalf("expected pre-operation state, got %d bookings and %d transactions", len(store.bookings), len(store.transactions))
			}
			if store.balances[member].Personal != 10 {
				test.Fatalf("expected balance 10, got %d", store.balances[member].Personal)
			}
		})
	}
}

func TestCancelRollsBackWhenRefundFails(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 10)
	booking, err := manager.Reserve(context.Background(), reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	store.insertTransactionErr = errors.New("crash after status change")

	_, err = manager.Cancel(context.Background(), booking.ID(), member)
	if !errors.Is(err, ErrStorageFailure) {
		test.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if store.bookings[booking.ID()].Status() != BookingStatusConfirmed {
		test.Fatalf("booking must stay confirmed after failed cancel")
	}
	if store.balances[member].Personal != 6 || len(store.transactions) != 1 {
		test.Fatalf("refund must not be applied: balance %d, %d transactions", store.balances[member].Personal, len(store.transactions))
	}

	store.insertTransactionErr = nil
	if _, err := manager.Cancel(context.Background(), booking.ID(), member); err != nil {
		test.Fatalf("retry cancel: %v", err)
	}
	assertLedgerMatchesBalance(test, store, member, 10)
}

func TestCancelRejectsOtherAccount(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 10)
	booking, err := manager.Reserve(context.Background(), reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
	if err != nil {
		test.Fatalf("reserve: %v", err)
	}
	_, err = manager.Cancel(context.Background(), booking.ID(), mustAccountID(test, "intruder"))
	if !errors.Is(err, ErrNotBookingOwner) || Classify(err) != KindNotCancellable {
		test.Fatalf("expected ErrNotBookingOwner, got %v", err)
	}
	if store.bookings[booking.ID()].Status() != BookingStatusConfirmed {
		test.Fatalf("booking must stay confirmed")
	}
	if _, err := manager.Cancel(context.Background(), mustBookingID(test, "missing"), member); !errors.Is(err, ErrUnknownBooking) {
		test.Fatalf("expected ErrUnknownBooking, got %v", err)
	}
}

// raceReservations starts every request at once and counts winners; every loser must see a
// slot conflict.
func raceReservations(test *testing.T, managers []*Manager, request ReserveRequest) int {
	test.Helper()
	results := make(chan error, len(managers))
	var start sync.WaitGroup
	start.Add(1)
	for _, contender := range managers {
		go func() {
			start.Wait()
			_, err := contender.Reserve(context.Background(), request)
			results <- err
		}()
	}
	start.Done()

	succeeded := 0
	for range managers {
		err := <-results
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSlotConflict):
		default:
			test.Fatalf("unexpected error: %v", err)
		}
	}
	return succeeded
}

func TestConcurrentReserveExactlyOneWins(test *testing.T) {
	test.Parallel()
	store, manager, room, member := newScenario(test, 100)
	store.skipSlotLocks = true
	store.conflictReadPause = 2 * time.Millisecond
	const contenders = 16
	managers := make([]*Manager, contenders)
	for index := range managers {
		managers[index] = manager
	}

	succeeded := raceReservations(test, managers, reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
	if succeeded != 1 {
		test.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	if store.confirmedCount() != 1 || store.balances[member].Personal != 96 {
		test.Fatalf("expected one booking and balance 96, got %d and %d", store.confirmedCount(), store.balances[member].Personal)
	}
	assertLedgerMatchesBalance(test, store, member, 100)
}

func TestConcurrentReserveAcrossManagersUsesSlotLock(test *testing.T) {
	test.Parallel()
	store, _, room, member := newScenario(test, 100)
	store.conflictReadPause = 2 * time.Millisecond
	const contenders = 8
	// Separate managers share only the store, like separate processes.
	ids := &sequenceIDs{}
	managers := make([]*Manager, contenders)
	for index := range managers {
		managers[index] = mustNewManager(test, store, WithIDGenerator(ids.newID))
	}

	succeeded := raceReservations(test, managers, reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00"))
	if succeeded != 1 {
		test.Fatalf("expected exactly one winner, got %d", succeeded)
	}
	if store.confirmedCount() != 1 || store.balances[member].Personal != 96 {
		test.Fatalf("expected one booking and balance 96, got %d and %d", store.confirmedCount(), store.balances[member].Personal)
	}
}

func TestConcurrentReserveAcrossRoomsNeverOverdraws(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	member := mustAccountID(test, "member")
	store.seedBalance(member, Balance{Personal: 10})
	var rooms []Room
	for _, raw := range []string{"A", "B", "C", "D", "E"} {
		room := mustRoom(test, raw, 2)
		store.rooms[room.ID()] = room
		rooms = append(rooms, room)
	}
	manager := mustNewManager(test, store)

	var group sync.WaitGroup
	for _, room := range rooms {
		request := reserveRequest(test, member, room, "2025-03-04", "09:00", "10:00")
		group.Add(1)
		go func() {
			defer group.Done()
			_, _ = manager.Reserve(context.Background(), request)
		}()
	}
	group.Wait()

	if store.confirmedCount() != 2 {
		test.Fatalf("expected two affordable bookings, got %d", store.confirmedCount())
	}
	if store.balances[member].Personal != 2 {
		test.Fatalf("expected balance 2, got %d", store.balances[member].Personal)
	}
	assertLedgerMatchesBalance(test, store, member, 10)
}

func TestAdjustBalance(test *testing.T) {
	test.Parallel()
	store, manager, _, member := newScenario(test, 10)

	down, err := manager.AdjustBalance(context.Background(), member, AxisPersonal, 3, "")
	if err != nil {
		test.Fatalf("adjust down: %v", err)
	}
	if down.Kind() != TransactionAdjusted || down.Delta() != -7 || down.BalanceAfter() != 3 {
		test.Fatalf("unexpected adjustment: %+v", down)
	}
	if down.Description() != "administrative adjustment" {
		test.Fatalf("expected default description, got %q", down.Description())
	}
	up, err := manager.AdjustBalance(context.Background(), member, AxisTeam, 50, "quarterly grant")
	if err != nil {
		test.Fatalf("adjust up: %v", err)
	}
	if up.Delta() != 30 || store.balances[member].Team != 50 {
		test.Fatalf("unexpected team adjustment: delta %d balance %d", up.Delta(), store.balances[member].Team)
	}
	if _, err := manager.AdjustBalance(context.Background(), member, AxisTeam, 50, ""); !errors.Is(err, ErrNoAdjustment) {
		test.Fatalf("expected ErrNoAdjustment, got %v", err)
	}
	if _, err := manager.AdjustBalance(context.Background(), member, AxisTeam, -1, ""); !errors.Is(err, ErrInvalidPoints) {
		test.Fatalf("expected ErrInvalidPoints, got %v", err)
	}
	assertLedgerMatchesBalance(test, store, member, 10)
}

func TestPutRoomReplacesDefinition(test *testing.T) {
	test.Parallel()
	store, manager, room, _ := newScenario(test, 0)
	repriced, err := NewRoom(RoomFields{
		ID:                 room.ID(),
		Name:               "Room A (renovated)",
		Capacity:           8,
		PointsPer30Min:     3,
		MinDurationMinutes: 30,
		MaxDurationMinutes: 120,
		Active:             true,
	})
	if err != nil {
		test.Fatalf("room: %v", err)
	}
	if err := manager.PutRoom(context.Background(), repriced); err != nil {
		test.Fatalf("put room: %v", err)
	}
	if store.rooms[room.ID()].PointsPer30Min() != 3 {
		test.Fatalf("expected new price to be stored")
	}
	if err := manager.PutRoom(context.Background(), Room{}); !errors.Is(err, ErrInvalidRoom) {
		test.Fatalf("expected ErrInvalidRoom, got %v", err)
	}
}

func TestNewManagerRejectsMissingDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewManager(nil, testClock); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	if _, err := NewManager(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	manager, err := NewManager(newStubStore(test), testClock)
	if err != nil {
		test.Fatalf("manager: %v", err)
	}
	if manager.Location() == nil {
		test.Fatalf("expected default location")
	}
}
