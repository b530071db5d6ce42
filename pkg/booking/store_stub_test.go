package booking

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"
)

// stubStore is an in-memory Store. Data access is guarded per call, so transactions from
// different goroutines interleave the way they do on a database. LockSlot and LockBalance take
// row locks held until the transaction ends, and a failed transaction replays its undo log.
// Rooms are seeded up front and read without the mutex.
type stubStore struct {
	mu           sync.Mutex
	rooms        map[RoomID]Room
	bookings     map[BookingID]Booking
	bookingOrder []BookingID
	balances     map[AccountID]Balance
	transactions []Transaction
	slotLocks    int

	rowLocksMu sync.Mutex
	rowLocks   map[string]*sync.Mutex

	// skipSlotLocks turns LockSlot into a no-op so only the Manager's own mutex orders
	// reservations.
	skipSlotLocks bool
	// conflictReadPause runs after a slot's bookings are read, widening the window between the
	// conflict check and the booking insert.
	conflictReadPause time.Duration

	getRoomErr           error
	insertBookingErr     error
	insertTransactionErr error
	updateBalanceErr     error
	markCancelledErr     error
	listBookingsErr      error
	withTxErr            error
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		rooms:    make(map[RoomID]Room),
		bookings: make(map[BookingID]Booking),
		balances: make(map[AccountID]Balance),
		rowLocks: make(map[string]*sync.Mutex),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if store.withTxErr != nil {
		return store.withTxErr
	}
	transaction := &stubTx{stubStore: store, held: make(map[string]*sync.Mutex)}
	defer transaction.releaseLocks()
	if err := fn(ctx, transaction); err != nil {
		transaction.rollback()
		return err
	}
	return nil
}

func (store *stubStore) rowLock(key string) *sync.Mutex {
	store.rowLocksMu.Lock()
	defer store.rowLocksMu.Unlock()
	lock, ok := store.rowLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		store.rowLocks[key] = lock
	}
	return lock
}

func (store *stubStore) LockSlot(ctx context.Context, roomID RoomID, day Day) error {
	store.mu.Lock()
	store.slotLocks++
	store.mu.Unlock()
	return nil
}

func (store *stubStore) GetRoom(ctx context.Context, roomID RoomID) (Room, error) {
	if store.getRoomErr != nil {
		return Room{}, store.getRoomErr
	}
	room, ok := store.rooms[roomID]
	if !ok {
		return Room{}, ErrUnknownRoom
	}
	return room, nil
}

func (store *stubStore) ListRooms(ctx context.Context) ([]Room, error) {
	rooms := make([]Room, 0, len(store.rooms))
	for _, room := range store.rooms {
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(left, right int) bool {
		return rooms[left].ID().String() < rooms[right].ID().String()
	})
	return rooms, nil
}

func (store *stubStore) SaveRoom(ctx context.Context, room Room) error {
	store.rooms[room.ID()] = room
	return nil
}

func (store *stubStore) InsertBooking(ctx context.Context, booking Booking) error {
	if store.insertBookingErr != nil {
		return store.insertBookingErr
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if key, ok := booking.IdempotencyKey(); ok {
		if _, found := store.findByIdempotencyKey(booking.AccountID(), key); found {
			return ErrDuplicateKey
		}
	}
	store.bookings[booking.ID()] = booking
	store.bookingOrder = append(store.bookingOrder, booking.ID())
	return nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, ok := store.bookings[bookingID]
	if !ok {
		return Booking{}, ErrUnknownBooking
	}
	return booking, nil
}

func (store *stubStore) FindBookingByIdempotencyKey(ctx context.Context, accountID AccountID, key IdempotencyKey) (Booking, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, found := store.findByIdempotencyKey(accountID, key)
	return booking, found, nil
}

func (store *stubStore) findByIdempotencyKey(accountID AccountID, key IdempotencyKey) (Booking, bool) {
	for _, bookingID := range store.bookingOrder {
		booking := store.bookings[bookingID]
		stored, ok := booking.IdempotencyKey()
		if ok && stored == key && booking.AccountID() == accountID {
			return booking, true
		}
	}
	return Booking{}, false
}

func (store *stubStore) MarkBookingCancelled(ctx context.Context, bookingID BookingID, cancelledUnixUTC int64) error {
	if store.markCancelledErr != nil {
		return store.markCancelledErr
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	booking, ok := store.bookings[bookingID]
	if !ok {
		return ErrUnknownBooking
	}
	if booking.Status() != BookingStatusConfirmed {
		return ErrBookingAlreadyCancelled
	}
	store.bookings[bookingID] = booking.withCancellation(cancelledUnixUTC)
	return nil
}

func (store *stubStore) ListBookingsOn(ctx context.Context, roomID RoomID, day Day, status BookingStatus) ([]Booking, error) {
	if store.listBookingsErr != nil {
		return nil, store.listBookingsErr
	}
	store.mu.Lock()
	var bookings []Booking
	for _, bookingID := range store.bookingOrder {
		booking := store.bookings[bookingID]
		if booking.RoomID() == roomID && booking.Day() == day && (status == "" || booking.Status() == status) {
			bookings = append(bookings, booking)
		}
	}
	store.mu.Unlock()
	if store.conflictReadPause > 0 {
		time.Sleep(store.conflictReadPause)
	}
	return bookings, nil
}

func (store *stubStore) ListAccountBookings(ctx context.Context, accountID AccountID, filter BookingFilter) ([]Booking, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var bookings []Booking
	for index := len(store.bookingOrder) - 1; index >= 0; index-- {
		booking := store.bookings[store.bookingOrder[index]]
		if booking.AccountID() != accountID {
			continue
		}
		if filter.Status != "" && booking.Status() != filter.Status {
			continue
		}
		if !filter.FromDay.IsZero() && booking.Day().String() < filter.FromDay.String() {
			continue
		}
		bookings = append(bookings, booking)
		if len(bookings) == filter.Limit {
			break
		}
	}
	return bookings, nil
}

func (store *stubStore) LockBalance(ctx context.Context, accountID AccountID) (Balance, error) {
	return store.GetBalance(ctx, accountID)
}

func (store *stubStore) GetBalance(ctx context.Context, accountID AccountID) (Balance, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.balances[accountID], nil
}

func (store *stubStore) UpdateBalance(ctx context.Context, accountID AccountID, axis Axis, from Points, to Points) error {
	if store.updateBalanceErr != nil {
		return store.updateBalanceErr
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	balance := store.balances[accountID]
	if balance.On(axis) != from {
		return ErrBalanceChanged
	}
	store.balances[accountID] = balance.With(axis, to)
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) error {
	if store.insertTransactionErr != nil {
		return store.insertTransactionErr
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) ListTransactions(ctx context.Context, accountID AccountID, filter TransactionFilter) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var transactions []Transaction
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if transaction.AccountID() != accountID {
			continue
		}
		if filter.Axis != "" && transaction.Axis() != filter.Axis {
			continue
		}
		if filter.BeforeUnixUTC > 0 && transaction.CreatedUnixUTC() >= filter.BeforeUnixUTC {
			continue
		}
		transactions = append(transactions, transaction)
		if len(transactions) == filter.Limit {
			break
		}
	}
	return transactions, nil
}

// stubTx is the Store handed to WithTx callbacks. Writes record an undo step; row locks are
// re-entrant within one transaction.
type stubTx struct {
	*stubStore
	held map[string]*sync.Mutex
	undo []func()
}

func (transaction *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, transaction)
}

func (transaction *stubTx) acquire(key string) {
	if _, ok := transaction.held[key]; ok {
		return
	}
	lock := transaction.rowLock(key)
	lock.Lock()
	transaction.held[key] = lock
}

func (transaction *stubTx) releaseLocks() {
	for key, lock := range transaction.held {
		lock.Unlock()
		delete(transaction.held, key)
	}
}

func (transaction *stubTx) rollback() {
	transaction.mu.Lock()
	defer transaction.mu.Unlock()
	for index := len(transaction.undo) - 1; index >= 0; index-- {
		transaction.undo[index]()
	}
}

func (transaction *stubTx) LockSlot(ctx context.Context, roomID RoomID, day Day) error {
	if err := transaction.stubStore.LockSlot(ctx, roomID, day); err != nil {
		return err
	}
	if !transaction.skipSlotLocks {
		transaction.acquire("slot:" + slotKey(roomID, day))
	}
	return nil
}

func (transaction *stubTx) LockBalance(ctx context.Context, accountID AccountID) (Balance, error) {
	transaction.acquire("balance:" + accountID.String())
	return transaction.stubStore.LockBalance(ctx, accountID)
}

func (transaction *stubTx) InsertBooking(ctx context.Context, booking Booking) error {
	if err := transaction.stubStore.InsertBooking(ctx, booking); err != nil {
		return err
	}
	store := transaction.stubStore
	transaction.undo = append(transaction.undo, func() {
		delete(store.bookings, booking.ID())
		for index, bookingID := range store.bookingOrder {
			if bookingID == booking.ID() {
				store.bookingOrder = append(store.bookingOrder[:index], store.bookingOrder[index+1:]...)
				break
			}
		}
	})
	return nil
}

func (transaction *stubTx) MarkBookingCancelled(ctx context.Context, bookingID BookingID, cancelledUnixUTC int64) error {
	previous, err := transaction.stubStore.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if err := transaction.stubStore.MarkBookingCancelled(ctx, bookingID, cancelledUnixUTC); err != nil {
		return err
	}
	store := transaction.stubStore
	transaction.undo = append(transaction.undo, func() {
		store.bookings[bookingID] = previous
	})
	return nil
}

func (transaction *stubTx) UpdateBalance(ctx context.Context, accountID AccountID, axis Axis, from Points, to Points) error {
	if err := transaction.stubStore.UpdateBalance(ctx, accountID, axis, from, to); err != nil {
		return err
	}
	store := transaction.stubStore
	transaction.undo = append(transaction.undo, func() {
		store.balances[accountID] = store.balances[accountID].With(axis, from)
	})
	return nil
}

func (transaction *stubTx) InsertTransaction(ctx context.Context, entry Transaction) error {
	if err := transaction.stubStore.InsertTransaction(ctx, entry); err != nil {
		return err
	}
	store := transaction.stubStore
	transaction.undo = append(transaction.undo, func() {
		for index, existing := range store.transactions {
			if existing.ID() == entry.ID() {
				store.transactions = append(store.transactions[:index], store.transactions[index+1:]...)
				break
			}
		}
	})
	return nil
}

func (store *stubStore) seedBalance(accountID AccountID, balance Balance) {
	store.balances[accountID] = balance
}

func (store *stubStore) confirmedCount() int {
	count := 0
	for _, booking := range store.bookings {
		if booking.Status() == BookingStatusConfirmed {
			count++
		}
	}
	return count
}

// ledgerSum recomputes a balance from the transaction log.
func (store *stubStore) ledgerSum(accountID AccountID, axis Axis) int64 {
	var total int64
	for _, transaction := range store.transactions {
		if transaction.AccountID() == accountID && transaction.Axis() == axis {
			total += transaction.Delta().Int64()
		}
	}
	return total
}

// testClock is fixed at 2025-03-01 00:00 Asia/Seoul so bookings on later days are in the future.
func testClock() int64 {
	return time.Date(2025, time.March, 1, 0, 0, 0, 0, seoul()).Unix()
}

func seoul() *time.Location {
	location, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return location
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (ids *sequenceIDs) newID() string {
	ids.mu.Lock()
	defer ids.mu.Unlock()
	ids.next++
	return "id-" + strconv.Itoa(ids.next)
}

func mustNewManager(test *testing.T, store Store, options ...ManagerOption) *Manager {
	test.Helper()
	ids := &sequenceIDs{}
	defaults := []ManagerOption{WithLocation(seoul()), WithIDGenerator(ids.newID)}
	manager, err := NewManager(store, testClock, append(defaults, options...)...)
	if err != nil {
		test.Fatalf("new manager: %v", err)
	}
	return manager
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustRoomID(test *testing.T, raw string) RoomID {
	test.Helper()
	value, err := NewRoomID(raw)
	if err != nil {
		test.Fatalf("room id: %v", err)
	}
	return value
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	value, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return value
}

func mustIdempotencyKey(test *testing.T, raw string) IdempotencyKey {
	test.Helper()
	value, err := NewIdempotencyKey(raw)
	if err != nil {
		test.Fatalf("idempotency key: %v", err)
	}
	return value
}

func mustDay(test *testing.T, raw string) Day {
	test.Helper()
	value, err := ParseDay(raw)
	if err != nil {
		test.Fatalf("day: %v", err)
	}
	return value
}

func mustSlot(test *testing.T, start string, end string) Slot {
	test.Helper()
	startTime, err := ParseTimeOfDay(start)
	if err != nil {
		test.Fatalf("start: %v", err)
	}
	endTime, err := ParseTimeOfDay(end)
	if err != nil {
		test.Fatalf("end: %v", err)
	}
	slot, err := NewSlot(startTime, endTime)
	if err != nil {
		test.Fatalf("slot: %v", err)
	}
	return slot
}

func mustPositivePoints(test *testing.T, raw int64) PositivePoints {
	test.Helper()
	value, err := NewPositivePoints(raw)
	if err != nil {
		test.Fatalf("points: %v", err)
	}
	return value
}

func mustRoom(test *testing.T, raw string, pricePer30Min int64) Room {
	test.Helper()
	room, err := NewRoom(RoomFields{
		ID:                 mustRoomID(test, raw),
		Name:               "Room " + raw,
		Capacity:           6,
		PointsPer30Min:     mustPositivePoints(test, pricePer30Min),
		MinDurationMinutes: 30,
		MaxDurationMinutes: 240,
		Active:             true,
	})
	if err != nil {
		test.Fatalf("room: %v", err)
	}
	return room
}

func reserveRequest(test *testing.T, accountID AccountID, room Room, day string, start string, end string) ReserveRequest {
	test.Helper()
	return ReserveRequest{
		AccountID: accountID,
		RoomID:    room.ID(),
		Day:       mustDay(test, day),
		Slot:      mustSlot(test, start, end),
		Title:     "weekly sync",
		Axis:      AxisPersonal,
	}
}
