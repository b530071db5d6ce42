package pgstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/movewan/merryhere-sub000/pkg/booking"
)

const (
	constraintBookingIdempotency = "idx_bookings_account_idempotency"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectRoom             = "room"
	errorSubjectBooking          = "booking"
	errorSubjectBalance          = "balance"
	errorSubjectSchema           = "schema"
	errorSubjectSlot             = "slot"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeDuplicate           = "duplicate"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeLookup              = "lookup"
	errorCodeMigrate             = "migrate"
	errorCodeSave                = "save"
	errorCodeUpdate              = "update"
	errorCodeUpdateStatus        = "update_status"

	sqlLockSlot = `select pg_advisory_xact_lock(hashtextextended($1::text || '@' || $2::text, 0))`

	sqlSelectRoom = `
		select room_id, name, capacity, points_per_30_min, min_duration_minutes, max_duration_minutes, active
		from rooms
		where room_id = $1
	`

	sqlListRooms = `
		select room_id, name, capacity, points_per_30_min, min_duration_minutes, max_duration_minutes, active
		from rooms
		order by room_id
	`

	sqlUpsertRoom = `
		insert into rooms(room_id, name, capacity, points_per_30_min, min_duration_minutes, max_duration_minutes, active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, now(), now())
		on conflict (room_id) do update set
			name = excluded.name,
			capacity = excluded.capacity,
			points_per_30_min = excluded.points_per_30_min,
			min_duration_minutes = excluded.min_duration_minutes,
			max_duration_minutes = excluded.max_duration_minutes,
			active = excluded.active,
			updated_at = now()
	`

	sqlInsertBooking = `
		insert into bookings(
			booking_id, room_id, account_id, day, start_minute, end_minute, status, axis,
			points_charged, title, description, idempotency_key, created_at
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, nullif($12, ''), to_timestamp($13::bigint))
	`

	sqlBookingColumns = `
		booking_id, room_id, account_id, day, start_minute, end_minute, status, axis, points_charged,
		title, description, coalesce(idempotency_key, ''),
		extract(epoch from created_at)::bigint,
		coalesce(extract(epoch from cancelled_at)::bigint, 0)
	`

	sqlSelectBooking = `select ` + sqlBookingColumns + ` from bookings where booking_id = $1`

	sqlSelectBookingByKey = `select ` + sqlBookingColumns + ` from bookings where account_id = $1 and idempotency_key = $2`

	sqlListBookingsOn = `
		select ` + sqlBookingColumns + ` from bookings
		where room_id = $1 and day = $2 and ($3 = '' or status = $3)
		order by start_minute
	`

	sqlListAccountBookings = `
		select ` + sqlBookingColumns + ` from bookings
		where account_id = $1 and ($2 = '' or day >= $2) and ($3 = '' or status = $3)
		order by day desc, start_minute desc
		limit nullif($4::bigint, 0)
	`

	sqlCancelBooking = `
		update bookings
		set status = 'cancelled', cancelled_at = to_timestamp($2::bigint)
		where booking_id = $1 and status = 'confirmed'
	`

	sqlEnsureBalance = `
		insert into account_balances(account_id) values ($1)
		on conflict (account_id) do nothing
	`

	sqlLockBalance = `
		select personal_points, team_points from account_balances
		where account_id = $1
		for update
	`

	sqlSelectBalance = `
		select personal_points, team_points from account_balances
		where account_id = $1
	`

	sqlUpdatePersonalBalance = `
		update account_balances set personal_points = $3, updated_at = now()
		where account_id = $1 and personal_points = $2
	`

	sqlUpdateTeamBalance = `
		update account_balances set team_points = $3, updated_at = now()
		where account_id = $1 and team_points = $2
	`

	sqlInsertTransaction = `
		insert into point_transactions(
			transaction_id, account_id, kind, axis, delta, balance_after, booking_id, description, metadata, created_at
		)
		values ($1, $2, $3, $4, $5, $6, nullif($7, ''), $8, coalesce(nullif($9, ''), '{}')::jsonb, to_timestamp($10::bigint))
	`

	sqlListTransactions = `
		select
			transaction_id, account_id, kind, axis, delta, balance_after,
			coalesce(booking_id, ''), description, metadata::text,
			extract(epoch from created_at)::bigint
		from point_transactions
		where account_id = $1
			and ($2::bigint = 0 or created_at < to_timestamp($2::bigint))
			and ($3 = '' or axis = $3)
		order by created_at desc, seq desc
		limit nullif($4::bigint, 0)
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements booking.Store using a pgx connection pool. A Store returned to a WithTx
// callback runs every statement on that transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore booking.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{pool: store.pool, db: tx, inTx: true}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// LockSlot takes a transaction-scoped advisory lock for (room, day).
func (store *Store) LockSlot(ctx context.Context, roomID booking.RoomID, day booking.Day) error {
	if _, err := store.db.Exec(ctx, sqlLockSlot, roomID.String(), day.String()); err != nil {
		return wrapStoreError(errorSubjectSlot, errorCodeLock, err)
	}
	return nil
}

func (store *Store) GetRoom(ctx context.Context, roomID booking.RoomID) (booking.Room, error) {
	room, err := scanRoom(store.db.QueryRow(ctx, sqlSelectRoom, roomID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Room{}, wrapStoreError(errorSubjectRoom, errorCodeGet, booking.ErrUnknownRoom)
		}
		return booking.Room{}, wrapStoreError(errorSubjectRoom, errorCodeGet, err)
	}
	return room, nil
}

func (store *Store) ListRooms(ctx context.Context) ([]booking.Room, error) {
	rows, err := store.db.Query(ctx, sqlListRooms)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRoom, errorCodeList, err)
	}
	defer rows.Close()
	rooms := make([]booking.Room, 0, 16)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRoom, errorCodeInvalid, err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRoom, errorCodeList, err)
	}
	return rooms, nil
}

func (store *Store) SaveRoom(ctx context.Context, room booking.Room) error {
	_, err := store.db.Exec(ctx, sqlUpsertRoom,
		room.ID().String(),
		room.Name(),
		room.Capacity(),
		room.PointsPer30Min().Int64(),
		room.MinDurationMinutes(),
		room.MaxDurationMinutes(),
		room.Active(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectRoom, errorCodeSave, err)
	}
	return nil
}

func (store *Store) InsertBooking(ctx context.Context, record booking.Booking) error {
	idempotencyKey := ""
	if key, ok := record.IdempotencyKey(); ok {
		idempotencyKey = key.String()
	}
	_, err := store.db.Exec(ctx, sqlInsertBooking,
		record.ID().String(),
		record.RoomID().String(),
		record.AccountID().String(),
		record.Day().String(),
		record.Slot().Start().Minutes(),
		record.Slot().End().Minutes(),
		record.Status().String(),
		record.Axis().String(),
		record.PointsCharged().Int64(),
		record.Title(),
		record.Description(),
		idempotencyKey,
		record.CreatedUnixUTC(),
	)
	if isUniqueViolation(err, constraintBookingIdempotency) {
		return wrapStoreError(errorSubjectBooking, errorCodeDuplicate, booking.ErrDuplicateKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID booking.BookingID) (booking.Booking, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlSelectBooking, bookingID.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, booking.ErrUnknownBooking)
		}
		return booking.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return record, nil
}

func (store *Store) FindBookingByIdempotencyKey(ctx context.Context, accountID booking.AccountID, key booking.IdempotencyKey) (booking.Booking, bool, error) {
	record, err := scanBooking(store.db.QueryRow(ctx, sqlSelectBookingByKey, accountID.String(), key.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Booking{}, false, nil
		}
		return booking.Booking{}, false, wrapStoreError(errorSubjectBooking, errorCodeLookup, err)
	}
	return record, true, nil
}

func (store *Store) MarkBookingCancelled(ctx context.Context, bookingID booking.BookingID, cancelledUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlCancelBooking, bookingID.String(), cancelledUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdateStatus, booking.ErrBookingAlreadyCancelled)
	}
	return nil
}

func (store *Store) ListBookingsOn(ctx context.Context, roomID booking.RoomID, day booking.Day, status booking.BookingStatus) ([]booking.Booking, error) {
	rows, err := store.db.Query(ctx, sqlListBookingsOn, roomID.String(), day.String(), status.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return collectBookings(rows)
}

func (store *Store) ListAccountBookings(ctx context.Context, accountID booking.AccountID, filter booking.BookingFilter) ([]booking.Booking, error) {
	rows, err := store.db.Query(ctx, sqlListAccountBookings, accountID.String(), filter.FromDay.String(), filter.Status.String(), filter.Limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return collectBookings(rows)
}

func (store *Store) LockBalance(ctx context.Context, accountID booking.AccountID) (booking.Balance, error) {
	if _, err := store.db.Exec(ctx, sqlEnsureBalance, accountID.String()); err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeLock, err)
	}
	var personal, team int64
	if err := store.db.QueryRow(ctx, sqlLockBalance, accountID.String()).Scan(&personal, &team); err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeLock, err)
	}
	return newBalance(personal, team)
}

func (store *Store) GetBalance(ctx context.Context, accountID booking.AccountID) (booking.Balance, error) {
	var personal, team int64
	err := store.db.QueryRow(ctx, sqlSelectBalance, accountID.String()).Scan(&personal, &team)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return booking.Balance{}, nil
		}
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	return newBalance(personal, team)
}

func (store *Store) UpdateBalance(ctx context.Context, accountID booking.AccountID, axis booking.Axis, from booking.Points, to booking.Points) error {
	statement := sqlUpdatePersonalBalance
	if axis == booking.AxisTeam {
		statement = sqlUpdateTeamBalance
	}
	tag, err := store.db.Exec(ctx, statement, accountID.String(), from.Int64(), to.Int64())
	if err != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBalance, errorCodeUpdate, booking.ErrBalanceChanged)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction booking.Transaction) error {
	bookingID := ""
	if reference, ok := transaction.BookingID(); ok {
		bookingID = reference.String()
	}
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.ID().String(),
		transaction.AccountID().String(),
		transaction.Kind().String(),
		transaction.Axis().String(),
		transaction.Delta().Int64(),
		transaction.BalanceAfter().Int64(),
		bookingID,
		transaction.Description(),
		transaction.Metadata().String(),
		transaction.CreatedUnixUTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID booking.AccountID, filter booking.TransactionFilter) ([]booking.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, accountID.String(), filter.BeforeUnixUTC, filter.Axis.String(), filter.Limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]booking.Transaction, 0, 32)
	for rows.Next() {
		var (
			transactionIDValue string
			accountIDValue     string
			kindValue          string
			axisValue          string
			deltaValue         int64
			balanceAfterValue  int64
			bookingIDValue     string
			description        string
			metadataValue      string
			createdAtUnixUTC   int64
		)
		if err := rows.Scan(
			&transactionIDValue,
			&accountIDValue,
			&kindValue,
			&axisValue,
			&deltaValue,
			&balanceAfterValue,
			&bookingIDValue,
			&description,
			&metadataValue,
			&createdAtUnixUTC,
		); err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transaction, err := buildTransaction(transactionIDValue, accountIDValue, kindValue, axisValue, deltaValue, balanceAfterValue, bookingIDValue, description, metadataValue, createdAtUnixUTC)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func scanRoom(row pgx.Row) (booking.Room, error) {
	var (
		roomIDValue        string
		name               string
		capacity           int
		pointsPer30Min     int64
		minDurationMinutes int
		maxDurationMinutes int
		active             bool
	)
	if err := row.Scan(&roomIDValue, &name, &capacity, &pointsPer30Min, &minDurationMinutes, &maxDurationMinutes, &active); err != nil {
		return booking.Room{}, err
	}
	roomID, err := booking.NewRoomID(roomIDValue)
	if err != nil {
		return booking.Room{}, err
	}
	price, err := booking.NewPositivePoints(pointsPer30Min)
	if err != nil {
		return booking.Room{}, err
	}
	return booking.NewRoom(booking.RoomFields{
		ID:                 roomID,
		Name:               name,
		Capacity:           capacity,
		PointsPer30Min:     price,
		MinDurationMinutes: minDurationMinutes,
		MaxDurationMinutes: maxDurationMinutes,
		Active:             active,
	})
}

func collectBookings(rows pgx.Rows) ([]booking.Booking, error) {
	defer rows.Close()
	bookings := make([]booking.Booking, 0, 16)
	for rows.Next() {
		record, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		bookingIDValue     string
		roomIDValue        string
		accountIDValue     string
		dayValue           string
		startMinute        int
		endMinute          int
		statusValue        string
		axisValue          string
		pointsCharged      int64
		title              string
		description        string
		idempotencyValue   string
		createdAtUnixUTC   int64
		cancelledAtUnixUTC int64
	)
	if err := row.Scan(
		&bookingIDValue,
		&roomIDValue,
		&accountIDValue,
		&dayValue,
		&startMinute,
		&endMinute,
		&statusValue,
		&axisValue,
		&pointsCharged,
		&title,
		&description,
		&idempotencyValue,
		&createdAtUnixUTC,
		&cancelledAtUnixUTC,
	); err != nil {
		return booking.Booking{}, err
	}
	bookingID, err := booking.NewBookingID(bookingIDValue)
	if err != nil {
		return booking.Booking{}, err
	}
	roomID, err := booking.NewRoomID(roomIDValue)
	if err != nil {
		return booking.Booking{}, err
	}
	accountID, err := booking.NewAccountID(accountIDValue)
	if err != nil {
		return booking.Booking{}, err
	}
	day, err := booking.ParseDay(dayValue)
	if err != nil {
		return booking.Booking{}, err
	}
	start, err := booking.NewTimeOfDay(startMinute)
	if err != nil {
		return booking.Booking{}, err
	}
	end, err := booking.NewTimeOfDay(endMinute)
	if err != nil {
		return booking.Booking{}, err
	}
	slot, err := booking.NewSlot(start, end)
	if err != nil {
		return booking.Booking{}, err
	}
	status, err := booking.ParseBookingStatus(statusValue)
	if err != nil {
		return booking.Booking{}, err
	}
	axis, err := booking.ParseAxis(axisValue)
	if err != nil {
		return booking.Booking{}, err
	}
	charged, err := booking.NewPositivePoints(pointsCharged)
	if err != nil {
		return booking.Booking{}, err
	}
	var idempotencyKey *booking.IdempotencyKey
	if idempotencyValue != "" {
		key, err := booking.NewIdempotencyKey(idempotencyValue)
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
		Title:            title,
		Description:      description,
		IdempotencyKey:   idempotencyKey,
		CreatedUnixUTC:   createdAtUnixUTC,
		CancelledUnixUTC: cancelledAtUnixUTC,
	})
}

func buildTransaction(transactionIDValue, accountIDValue, kindValue, axisValue string, deltaValue, balanceAfterValue int64, bookingIDValue, description, metadataValue string, createdAtUnixUTC int64) (booking.Transaction, error) {
	transactionID, err := booking.NewTransactionID(transactionIDValue)
	if err != nil {
		return booking.Transaction{}, err
	}
	accountID, err := booking.NewAccountID(accountIDValue)
	if err != nil {
		return booking.Transaction{}, err
	}
	kind, err := booking.ParseTransactionKind(kindValue)
	if err != nil {
		return booking.Transaction{}, err
	}
	axis, err := booking.ParseAxis(axisValue)
	if err != nil {
		return booking.Transaction{}, err
	}
	delta, err := booking.NewPointsDelta(deltaValue)
	if err != nil {
		return booking.Transaction{}, err
	}
	balanceAfter, err := booking.NewPoints(balanceAfterValue)
	if err != nil {
		return booking.Transaction{}, err
	}
	var bookingID *booking.BookingID
	if bookingIDValue != "" {
		reference, err := booking.NewBookingID(bookingIDValue)
		if err != nil {
			return booking.Transaction{}, err
		}
		bookingID = &reference
	}
	metadata, err := booking.NewMetadataJSON(metadataValue)
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
		Description:    description,
		Metadata:       metadata,
		CreatedUnixUTC: createdAtUnixUTC,
	})
}

func newBalance(personal int64, team int64) (booking.Balance, error) {
	personalPoints, err := booking.NewPoints(personal)
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	teamPoints, err := booking.NewPoints(team)
	if err != nil {
		return booking.Balance{}, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return booking.Balance{Personal: personalPoints, Team: teamPoints}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return booking.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}

var _ booking.Store = (*Store)(nil)
