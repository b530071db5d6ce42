package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintBookingIdempotency = "idx_bookings_account_idempotency"
	defaultMetadataJSON          = "{}"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	sqliteConstraintUniqueCode   = 2067
	errorOperationStore          = "store"
	errorSubjectRoom             = "room"
	errorSubjectBooking          = "booking"
	errorSubjectBalance          = "balance"
	errorSubjectTransaction      = "transaction"
	errorSubjectSlot             = "slot"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeLookup              = "lookup"
	errorCodeSave                = "save"
	errorCodeUpdate              = "update"
	errorCodeUpdateStatus        = "update_status"
)

// Store implements booking.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// LockSlot takes the row lock for (room, day), creating the row on first use.
func (store *Store) LockSlot(ctx context.Context, roomID booking.RoomID, day booking.Day) error {
	row := SlotLock{RoomID: roomID.String(), Day: day.String(), LockedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeLock, err)
	}
	var locked SlotLock
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("room_id = ? AND day = ?", roomID.String(), day.String()).
		Take(&locked).Error
	if err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeLock, err)
	}
	return nil
}

func (store *Store) GetRoom(ctx context.Context, roomID booking.RoomID) (booking.Room, error) {
	var model Room
	err := store.db.WithContext(ctx).Where("room_id = ?", roomID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Room{}, wrapStoreError(errorSubjectRoom, errorCodeGet, booking.ErrUnknownRoom)
		}
		return booking.Room{}, wrapStoreError(errorSubjectRoom, errorCodeGet, err)
	}
	room, err := mapRoom(model)
	if err != nil {
		return booking.Room{}, wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
	}
	return room, nil
}

func (store *Store) ListRooms(ctx context.Context) ([]booking.Room, error) {
	var rows []Room
	if err := store.db.WithContext(ctx).Order("room_id ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRoom, errorCodeList, err)
	}
	rooms := make([]booking.Room, 0, len(rows))
	for _, row := range rows {
		room, err := mapRoom(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
		}
		rooms = append(rooms, room)
	}
	return rooms, nil
}

func (store *Store) SaveRoom(ctx context.Context, room booking.Room) error {
	now := time.Now().UTC()
	model := Room{
		RoomID:             room.ID().String(),
		Name:               room.Name(),
		Capacity:           room.Capacity(),
		PointsPer30Min:     room.PointsPer30Min().Int64(),
		MinDurationMinutes: room.MinDurationMinutes(),
		MaxDurationMinutes: room.MaxDurationMinutes(),
		Active:             room.Active(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "room_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "capacity", "points_per_30_min", "min_duration_minutes", "max_duration_minutes", "active", "updated_at",
			}),
		}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeSave, err)
	}
	return nil
}

func (store *Store) InsertBooking(ctx context.Context, record booking.Booking) error {
	var idempotencyKey *string
	if key, ok := record.IdempotencyKey(); ok {
		value := key.String()
		idempotencyKey = &value
	}
	model := Booking{
		BookingID:      record.ID().String(),
		RoomID:         record.RoomID().String(),
		AccountID:      record.AccountID().String(),
		Day:            record.Day().String(),
		StartMinute:    record.Slot().Start().Minutes(),
		EndMinute:      record.Slot().End().Minutes(),
		Status:         record.Status().String(),
		Axis:           record.Axis().String(),
		PointsCharged:  record.PointsCharged().Int64(),
		Title:          record.Title(),
		Description:    record.Description(),
		IdempotencyKey: idempotencyKey,
		CreatedAt:      unixToTime(record.CreatedUnixUTC()),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintBookingIdempotency) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrDuplicateKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).Where("booking_id = ?", bookingID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	record, err := mapBooking(model)
	if err != nil {
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) FindBookingByIdempotencyKey(ctx context.Context, accountID booking.AccountID, key booking.IdempotencyKey) (booking.Booking, bool, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND idempotency_key = ?", accountID.String(), key.String()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return booking.Booking{}, false, wrapStoreError(errorSubjectBooking, errorCodeLookup, err)
	}
	if len(rows) == 0 {
		return booking.Booking{}, false, nil
	}
	record, err := mapBooking(rows[0])
	if err != nil {
		return booking.Booking{}, false, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return record, true, nil
}

func (store *Store) MarkBookingCancelled(ctx context.Context, bookingID booking.BookingID, cancelledUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND status = ?", bookingID.String(), booking.BookingStatusConfirmed.String()).
		Updates(map[string]interface{}{
			"status":       booking.BookingStatusCancelled.String(),
			"cancelled_at": unixToTime(cancelledUnixUTC),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingAlreadyCancelled)
	}
	return nil
}

func (store *Store) ListBookingsOn(ctx context.Context, roomID booking.RoomID, day booking.Day, status booking.BookingStatus) ([]booking.Booking, error) {
	query := store.db.WithContext(ctx).
		Where("room_id = ? AND day = ?", roomID.String(), day.String())
	if status != "" {
		query = query.Where("status = ?", status.String())
	}
	var rows []Booking
	if err := query.Order("start_minute ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

func (store *Store) ListAccountBookings(ctx context.Context, accountID booking.AccountID, filter booking.BookingFilter) ([]booking.Booking, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID.String())
	if !filter.FromDay.IsZero() {
		query = query.Where("day >= ?", filter.FromDay.String())
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []Booking
	err := query.
		Order("day DESC").
		Order("start_minute DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return mapBookings(rows)
}

// LockBalance returns the account balance with its row locked, creating a zero row first.
func (store *Store) LockBalance(ctx context.Context, accountID booking.AccountID) (booking.Balance, error) {
	row := AccountBalance{AccountID: accountID.String(), UpdatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeLock, err)
	}
	var model AccountBalance
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID.String()).
		Take(&model).Error
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeLock, err)
	}
	return mapBalance(model)
}

func (store *Store) GetBalance(ctx context.Context, accountID booking.AccountID) (booking.Balance, error) {
	var rows []AccountBalance
	err := store.db.WithContext(ctx).Where("account_id = ?", accountID.String()).Limit(1).Find(&rows).Error
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return booking.Balance{}, nil
	}
	return mapBalance(rows[0])
}

// UpdateBalance moves one axis from one value to another, failing when the stored value is
// no longer from.
func (store *Store) UpdateBalance(ctx context.Context, accountID booking.AccountID, axis booking.Axis, from booking.Points, to booking.Points) error {
	column := balanceColumn(axis)
	result := store.db.WithContext(ctx).
		Model(&AccountBalance{}).
		Where("account_id = ?", accountID.String()).
		Where(column+" = ?", from.Int64()).
		Updates(map[string]interface{}{
			column:       to.Int64(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, booking.ErrBalanceChanged)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction booking.Transaction) error {
	var bookingID *string
	if reference, ok := transaction.BookingID(); ok {
		value := reference.String()
		bookingID = &value
	}
	model := PointTransaction{
		TransactionID: transaction.ID().String(),
		AccountID:     transaction.AccountID().String(),
		Kind:          transaction.Kind().String(),
		Axis:          transaction.Axis().String(),
		Delta:         transaction.Delta().Int64(),
		BalanceAfter:  transaction.BalanceAfter().Int64(),
		BookingID:     bookingID,
		Description:   transaction.Description(),
		Metadata:      datatypesJSON(transaction.Metadata().String()),
		CreatedAt:     unixToTime(transaction.CreatedUnixUTC()),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID booking.AccountID, filter booking.TransactionFilter) ([]booking.Transaction, error) {
	query := store.db.WithContext(ctx).Where("account_id = ?", accountID.String())
	if filter.BeforeUnixUTC != 0 {
		query = query.Where("created_at < ?", unixToTime(filter.BeforeUnixUTC))
	}
	if filter.Axis != "" {
		query = query.Where("axis = ?", filter.Axis.String())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var rows []PointTransaction
	err := query.
		Order("created_at DESC").
		Order("seq DESC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]booking.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func balanceColumn(axis booking.Axis) string {
	if axis == booking.AxisTeam {
		return "team_points"
	}
	return "personal_points"
}

func mapRoom(row Room) (booking.Room, error) {
	roomID, err := booking.NewRoomID(row.RoomID)
	if err != nil {
		return booking.Room{}, err
	}
	price, err := booking.NewPositivePoints(row.PointsPer30Min)
	if err != nil {
		return booking.Room{}, err
	}
	return booking.NewRoom(booking.RoomFields{
		ID:                 roomID,
		Name:               row.Name,
		Capacity:           row.Capacity,
		PointsPer30Min:     price,
		MinDurationMinutes: row.MinDurationMinutes,
		MaxDurationMinutes: row.MaxDurationMinutes,
		Active:             row.Active,
	})
}

func mapBookings(rows []Booking) ([]booking.Booking, error) {
	bookings := make([]booking.Booking, 0, len(rows))
	for _, row := range rows {
		record, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, record)
	}
	return bookings, nil
}

func mapBooking(row Booking) (booking.Booking, error) {
	bookingID, err := booking.NewBookingID(row.BookingID)
	if err != nil {
		return booking.Booking{}, err
	}
	roomID, err := booking.NewRoomID(row.RoomID)
	if err != nil {
		return booking.Booking{}, err
	}
	accountID, err := booking.NewAccountID(row.AccountID)
	if err != nil {
		return booking.Booking{}, err
	}
	day, err := booking.ParseDay(row.Day)
	if err != nil {
		return booking.Booking{}, err
	}
	start, err := booking.NewTimeOfDay(row.StartMinute)
	if err != nil {
		return booking.Booking{}, err
	}
	end, err := booking.NewTimeOfDay(row.EndMinute)
	if err != nil {
		return booking.Booking{}, err
	}
	slot, err := booking.NewSlot(start, end)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(row.Status)
	if err != nil {
		return booking.Booking{}, err
	}
	axis, err := booking.ParseAxis(row.Axis)
	if err != nil {
		return booking.Booking{}, err
	}
	charged, err := booking.NewPositivePoints(row.PointsCharged)
	if err != nil {
		return booking.Booking{}, err
	}
	var idempotencyKey *booking.IdempotencyKey
	if row.IdempotencyKey != nil {
		key, err := booking.NewIdempotencyKey(*row.IdempotencyKey)
		if err != nil {
			return booking.Booking{}, err
		}
		idempotencyKey = &key
	}
	return booking.NewBooking(booking.BookingFields{
		ID:               bookingID,
		RoomID:           roomID,
		AccountID:        accountID,
		Day:              day,
		Slot:             slot,
		Status:           status,
		Axis:             axis,
		PointsCharged:    charged,
		Title:            row.Title,
		Description:      row.Description,
		IdempotencyKey:   idempotencyKey,
		CreatedUnixUTC:   row.CreatedAt.Unix(),
		CancelledUnixUTC: timeOrZero(row.CancelledAt),
	})
}

func mapBalance(row AccountBalance) (booking.Balance, error) {
	personal, err := booking.NewPoints(row.PersonalPoints)
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	team, err := booking.NewPoints(row.TeamPoints)
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return booking.Balance{Personal: personal, Team: team}, nil
}

func mapTransaction(row PointTransaction) (booking.Transaction, error) {
	transactionID, err := booking.NewTransactionID(row.TransactionID)
	if err != nil {
		return booking.Transaction{}, err
	}
	accountID, err := booking.NewAccountID(row.AccountID)
	if err != nil {
		return booking.Transaction{}, err
	}
	kind, err := booking.ParseTransactionKind(row.Kind)
	if err != nil {
		return booking.Transaction{}, err
	}
	axis, err := booking.ParseAxis(row.Axis)
	if err != nil {
		return booking.Transaction{}, err
	}
	delta, err := booking.NewPointsDelta(row.Delta)
	if err != nil {
		return booking.Transaction{}, err
	}
	balanceAfter, err := booking.NewPoints(row.BalanceAfter)
	if err != nil {
		return booking.Transaction{}, err
	}
	var bookingID *booking.BookingID
	if row.BookingID != nil {
		reference, err := booking.NewBookingID(*row.BookingID)
		if err != nil {
			return booking.Transaction{}, err
		}
		bookingID = &reference
	}
	metadata, err := booking.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return booking.Transaction{}, err
	}
	return booking.NewTransaction(booking.TransactionFields{
		ID:             transactionID,
		AccountID:      accountID,
		Kind:           kind,
		Axis:           axis,
		Delta:          delta,
		BalanceAfter:   balanceAfter,
		BookingID:      bookingID,
		Description:    row.Description,
		Metadata:       metadata,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	})
}

func unixToTime(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		columns, known := sqliteUniqueColumns[constraint]
		if !known {
			return false
		}
		code := sqliteErr.Code()
		if code != sqliteConstraintUniqueCode && code != sqliteConstraintCode {
			return false
		}
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed: "+columns)
	}
	return false
}

// sqliteUniqueColumns maps a unique index to the column list SQLite reports when it is violated;
// SQLite names columns rather than the index in its error text.
var sqliteUniqueColumns = map[string]string{
	constraintBookingIdempotency: "bookings.account_id, bookings.idempotency_key",
}

var _ booking.Store = (*Store)(nil)
