package booking

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccountID identifies an already-authenticated member account.
type AccountID struct {
	value string
}

// RoomID identifies a bookable room.
type RoomID struct {
	value string
}

// BookingID identifies a booking.
type BookingID struct {
	value string
}

// TransactionID identifies a ledger transaction.
type TransactionID struct {
	value string
}

// IdempotencyKey deduplicates retried reservation requests.
type IdempotencyKey struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewRoomID validates and normalizes a room id.
func NewRoomID(raw string) (RoomID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RoomID{}, fmt.Errorf("%w: empty value", ErrInvalidRoomID)
	}
	return RoomID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RoomID) String() string {
	return id.value
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob, "{}" for the zero value.
func (metadata MetadataJSON) String() string {
	if metadata.value == "" {
		return "{}"
	}
	return metadata.value
}

// Points is a non-negative point balance or charge.
type Points int64

// NewPoints validates a non-negative point amount.
func NewPoints(raw int64) (Points, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must be zero or greater", ErrInvalidPoints)
	}
	return Points(raw), nil
}

// Int64 exposes the raw value.
func (points Points) Int64() int64 {
	return int64(points)
}

// PositivePoints is a strictly positive point amount.
type PositivePoints int64

// NewPositivePoints validates a strictly positive point amount.
func NewPositivePoints(raw int64) (PositivePoints, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPoints)
	}
	return PositivePoints(raw), nil
}

// Int64 exposes the raw value.
func (points PositivePoints) Int64() int64 {
	return int64(points)
}

// ToPoints widens to Points.
func (points PositivePoints) ToPoints() Points {
	return Points(points)
}

// Credit returns the positive delta for this amount.
func (points PositivePoints) Credit() PointsDelta {
	return PointsDelta(points)
}

// Debit returns the negative delta for this amount.
func (points PositivePoints) Debit() PointsDelta {
	return PointsDelta(-points)
}

// PointsDelta is a signed, non-zero change to a balance.
type PointsDelta int64

// NewPointsDelta validates a non-zero delta.
func NewPointsDelta(raw int64) (PointsDelta, error) {
	if raw == 0 {
		return 0, fmt.Errorf("%w: must be non-zero", ErrInvalidPointsDelta)
	}
	return PointsDelta(raw), nil
}

// Int64 exposes the raw value.
func (delta PointsDelta) Int64() int64 {
	return int64(delta)
}

// Magnitude returns the unsigned size of the delta.
func (delta PointsDelta) Magnitude() PositivePoints {
	if delta < 0 {
		return PositivePoints(-delta)
	}
	return PositivePoints(delta)
}

// Axis selects which balance counter a transaction affects.
type Axis string

const (
	AxisPersonal Axis = "personal"
	AxisTeam     Axis = "team"
)

// ParseAxis validates the provided axis string.
func ParseAxis(raw string) (Axis, error) {
	switch Axis(strings.TrimSpace(raw)) {
	case AxisPersonal:
		return AxisPersonal, nil
	case AxisTeam:
		return AxisTeam, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAxis, raw)
	}
}

// String returns the axis literal.
func (axis Axis) String() string {
	return string(axis)
}

// Balance holds the two independent point counters of an account.
type Balance struct {
	Personal Points
	Team     Points
}

// On returns the counter for the axis.
func (balance Balance) On(axis Axis) Points {
	if axis == AxisTeam {
		return balance.Team
	}
	return balance.Personal
}

// With returns a copy with the axis counter replaced.
func (balance Balance) With(axis Axis, points Points) Balance {
	if axis == AxisTeam {
		balance.Team = points
	} else {
		balance.Personal = points
	}
	return balance
}

// Day is a civil calendar date without a zone.
type Day struct {
	value string
}

// ParseDay validates a YYYY-MM-DD date.
func ParseDay(raw string) (Day, error) {
	trimmed := strings.TrimSpace(raw)
	parsed, err := time.Parse(dayLayout, trimmed)
	if err != nil {
		return Day{}, fmt.Errorf("%w: %q", ErrInvalidDay, raw)
	}
	return Day{value: parsed.Format(dayLayout)}, nil
}

// DayOf returns the civil date of the instant in loc.
func DayOf(instant time.Time, loc *time.Location) Day {
	return Day{value: instant.In(loc).Format(dayLayout)}
}

// String returns the YYYY-MM-DD form.
func (day Day) String() string {
	return day.value
}

// IsZero reports whether the day was never set.
func (day Day) IsZero() bool {
	return day.value == ""
}

// At returns the instant of the time of day on this date in loc.
func (day Day) At(timeOfDay TimeOfDay, loc *time.Location) time.Time {
	parsed, _ := time.ParseInLocation(dayLayout, day.value, loc)
	return parsed.Add(time.Duration(timeOfDay) * time.Minute)
}

// TimeOfDay is minutes since midnight in [0, 1440].
type TimeOfDay int

// NewTimeOfDay validates minutes since midnight. 1440 is accepted as an end-of-day bound.
func NewTimeOfDay(minutes int) (TimeOfDay, error) {
	if minutes < 0 || minutes > minutesPerDay {
		return 0, fmt.Errorf("%w: %d minutes", ErrInvalidTimeOfDay, minutes)
	}
	return TimeOfDay(minutes), nil
}

// ParseTimeOfDay parses an HH:MM value.
func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != 5 || trimmed[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	hours, hoursErr := strconv.Atoi(trimmed[:2])
	minutes, minutesErr := strconv.Atoi(trimmed[3:])
	if hoursErr != nil || minutesErr != nil || hours < 0 || hours > 24 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, raw)
	}
	return NewTimeOfDay(hours*60 + minutes)
}

// Minutes returns minutes since midnight.
func (timeOfDay TimeOfDay) Minutes() int {
	return int(timeOfDay)
}

// String returns the HH:MM form.
func (timeOfDay TimeOfDay) String() string {
	return fmt.Sprintf(timeOfDayLayout, int(timeOfDay)/60, int(timeOfDay)%60)
}

// Slot is a half-open interval [start, end) within one day.
type Slot struct {
	start TimeOfDay
	end   TimeOfDay
}

// NewSlot validates start < end.
func NewSlot(start TimeOfDay, end TimeOfDay) (Slot, error) {
	if start >= end {
		return Slot{}, fmt.Errorf("%w: start %s must be before end %s", ErrInvalidSlot, start, end)
	}
	return Slot{start: start, end: end}, nil
}

// Start returns the inclusive start.
func (slot Slot) Start() TimeOfDay {
	return slot.start
}

// End returns the exclusive end.
func (slot Slot) End() TimeOfDay {
	return slot.end
}

// DurationMinutes returns end minus start.
func (slot Slot) DurationMinutes() int {
	return int(slot.end - slot.start)
}

// Overlaps applies the half-open test; touching endpoints do not overlap.
func (slot Slot) Overlaps(other Slot) bool {
	return slot.start < other.end && slot.end > other.start
}

// String returns HH:MM-HH:MM.
func (slot Slot) String() string {
	return slot.start.String() + "-" + slot.end.String()
}

// Room is a bookable space. Rooms are edited only by administrators.
type Room struct {
	id                 RoomID
	name               string
	capacity           int
	pointsPer30Min     PositivePoints
	minDurationMinutes int
	maxDurationMinutes int
	active             bool
}

// RoomFields carries the raw values for NewRoom.
type RoomFields struct {
	ID                 RoomID
	Name               string
	Capacity           int
	PointsPer30Min     PositivePoints
	MinDurationMinutes int
	MaxDurationMinutes int
	Active             bool
}

// NewRoom validates room settings.
func NewRoom(fields RoomFields) (Room, error) {
	if fields.ID.String() == "" {
		return Room{}, ErrInvalidRoomID
	}
	name := strings.TrimSpace(fields.Name)
	if name == "" {
		return Room{}, fmt.Errorf("%w: name is required", ErrInvalidRoom)
	}
	if fields.Capacity <= 0 {
		return Room{}, fmt.Errorf("%w: capacity must be greater than zero", ErrInvalidRoom)
	}
	if fields.PointsPer30Min <= 0 {
		return Room{}, fmt.Errorf("%w: price must be greater than zero", ErrInvalidRoom)
	}
	if fields.MinDurationMinutes <= 0 || fields.MinDurationMinutes%slotMinutes != 0 {
		return Room{}, fmt.Errorf("%w: min duration must be a positive multiple of %d", ErrInvalidRoom, slotMinutes)
	}
	if fields.MaxDurationMinutes < fields.MinDurationMinutes || fields.MaxDurationMinutes%slotMinutes != 0 || fields.MaxDurationMinutes > minutesPerDay {
		return Room{}, fmt.Errorf("%w: max duration must be a multiple of %d between min duration and one day", ErrInvalidRoom, slotMinutes)
	}
	return Room{
		id:                 fields.ID,
		name:               name,
		capacity:           fields.Capacity,
		pointsPer30Min:     fields.PointsPer30Min,
		minDurationMinutes: fields.MinDurationMinutes,
		maxDurationMinutes: fields.MaxDurationMinutes,
		active:             fields.Active,
	}, nil
}

func (room Room) ID() RoomID { return room.id }
func (room Room) Name() string { return room.name }
func (room Room) Capacity() int { return room.capacity }
func (room Room) PointsPer30Min() PositivePoints { return room.pointsPer30Min }
func (room Room) MinDurationMinutes() int { return room.minDurationMinutes }
func (room Room) MaxDurationMinutes() int { return room.maxDurationMinutes }
func (room Room) Active() bool { return room.active }

// BookingStatus is the closed set of booking states.
type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// ParseBookingStatus validates the provided status string.
func ParseBookingStatus(raw string) (BookingStatus, error) {
	switch BookingStatus(strings.TrimSpace(raw)) {
	case BookingStatusConfirmed:
		return BookingStatusConfirmed, nil
	case BookingStatusCancelled:
		return BookingStatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidBookingStatus, raw)
	}
}

// String returns the status literal.
func (status BookingStatus) String() string {
	return string(status)
}

// Booking is a room reservation. It is never deleted; cancellation is a status change.
type Booking struct {
	id               BookingID
	roomID           RoomID
	accountID        AccountID
	day              Day
	slot             Slot
	status           BookingStatus
	axis             Axis
	pointsCharged    PositivePoints
	title            string
	description      string
	idempotencyKey   *IdempotencyKey
	createdUnixUTC   int64
	cancelledUnixUTC int64
}

// BookingFields carries the raw values for NewBooking.
type BookingFields struct {
	ID               BookingID
	RoomID           RoomID
	AccountID        AccountID
	Day              Day
	Slot             Slot
	Status           BookingStatus
	Axis             Axis
	PointsCharged    PositivePoints
	Title            string
	Description      string
	IdempotencyKey   *IdempotencyKey
	CreatedUnixUTC   int64
	CancelledUnixUTC int64
}

// NewBooking validates a booking record.
func NewBooking(fields BookingFields) (Booking, error) {
	if fields.ID.String() == "" {
		return Booking{}, ErrInvalidBookingID
	}
	if fields.RoomID.String() == "" {
		return Booking{}, ErrInvalidRoomID
	}
	if fields.AccountID.String() == "" {
		return Booking{}, ErrInvalidAccountID
	}
	if fields.Day.IsZero() {
		return Booking{}, ErrInvalidDay
	}
	if fields.Slot.start >= fields.Slot.end {
		return Booking{}, ErrInvalidSlot
	}
	if _, err := ParseBookingStatus(fields.Status.String()); err != nil {
		return Booking{}, err
	}
	if _, err := ParseAxis(fields.Axis.String()); err != nil {
		return Booking{}, err
	}
	if fields.PointsCharged <= 0 {
		return Booking{}, fmt.Errorf("%w: charged points must be positive", ErrInvalidBooking)
	}
	title := strings.TrimSpace(fields.Title)
	if title == "" {
		return Booking{}, ErrInvalidTitle
	}
	if fields.Status == BookingStatusCancelled && fields.CancelledUnixUTC == 0 {
		return Booking{}, fmt.Errorf("%w: cancelled booking needs a cancellation time", ErrInvalidBooking)
	}
	if fields.Status == BookingStatusConfirmed && fields.CancelledUnixUTC != 0 {
		return Booking{}, fmt.Errorf("%w: confirmed booking has a cancellation time", ErrInvalidBooking)
	}
	var key *IdempotencyKey
	if fields.IdempotencyKey != nil {
		copied := *fields.IdempotencyKey
		key = &copied
	}
	return Booking{
		id:               fields.ID,
		roomID:           fields.RoomID,
		accountID:        fields.AccountID,
		day:              fields.Day,
		slot:             fields.Slot,
		status:           fields.Status,
		axis:             fields.Axis,
		pointsCharged:    fields.PointsCharged,
		title:            title,
		description:      strings.TrimSpace(fields.Description),
		idempotencyKey:   key,
		createdUnixUTC:   fields.CreatedUnixUTC,
		cancelledUnixUTC: fields.CancelledUnixUTC,
	}, nil
}

func (booking Booking) ID() BookingID { return booking.id }
func (booking Booking) RoomID() RoomID { return booking.roomID }
func (booking Booking) AccountID() AccountID { return booking.accountID }
func (booking Booking) Day() Day { return booking.day }
func (booking Booking) Slot() Slot { return booking.slot }
func (booking Booking) Status() BookingStatus { return booking.status }
func (booking Booking) Axis() Axis { return booking.axis }
func (booking Booking) PointsCharged() PositivePoints { return booking.pointsCharged }
func (booking Booking) Title() string { return booking.title }
func (booking Booking) Description() string { return booking.description }
func (booking Booking) CreatedUnixUTC() int64 { return booking.createdUnixUTC }
func (booking Booking) CancelledUnixUTC() int64 { return booking.cancelledUnixUTC }

// StartsAt returns the start instant of the booking in loc.
func (booking Booking) StartsAt(loc *time.Location) time.Time {
	return booking.day.At(booking.slot.start, loc)
}

// IdempotencyKey returns the client key and whether one was supplied.
func (booking Booking) IdempotencyKey() (IdempotencyKey, bool) {
	if booking.idempotencyKey == nil {
		return IdempotencyKey{}, false
	}
	return *booking.idempotencyKey, true
}

// withCancellation returns the cancelled copy of a confirmed booking.
func (booking Booking) withCancellation(cancelledUnixUTC int64) Booking {
	booking.status = BookingStatusCancelled
	booking.cancelledUnixUTC = cancelledUnixUTC
	return booking
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	TransactionEarned   TransactionKind = "earned"
	TransactionSpent    TransactionKind = "spent"
	TransactionRefunded TransactionKind = "refunded"
	TransactionAdjusted TransactionKind = "adjusted"
)

// ParseTransactionKind validates the provided kind string.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	switch TransactionKind(strings.TrimSpace(raw)) {
	case TransactionEarned:
		return TransactionEarned, nil
	case TransactionSpent:
		return TransactionSpent, nil
	case TransactionRefunded:
		return TransactionRefunded, nil
	case TransactionAdjusted:
		return TransactionAdjusted, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, raw)
	}
}

// String returns the kind literal.
func (kind TransactionKind) String() string {
	return string(kind)
}

// acceptsDelta reports whether the kind is compatible with the sign of delta.
func (kind TransactionKind) acceptsDelta(delta PointsDelta) bool {
	switch kind {
	case TransactionEarned, TransactionRefunded:
		return delta > 0
	case TransactionSpent:
		return delta < 0
	case TransactionAdjusted:
		return delta != 0
	default:
		return false
	}
}

// Transaction is a single immutable line in the points ledger.
type Transaction struct {
	id             TransactionID
	accountID      AccountID
	kind           TransactionKind
	axis           Axis
	delta          PointsDelta
	balanceAfter   Points
	bookingID      *BookingID
	description    string
	metadata       MetadataJSON
	createdUnixUTC int64
}

// TransactionFields carries the raw values for NewTransaction.
type TransactionFields struct {
	ID             TransactionID
	AccountID      AccountID
	Kind           TransactionKind
	Axis           Axis
	Delta          PointsDelta
	BalanceAfter   Points
	BookingID      *BookingID
	Description    string
	Metadata       MetadataJSON
	CreatedUnixUTC int64
}

// NewTransaction validates a transaction record; the delta sign must agree with the kind.
func NewTransaction(fields TransactionFields) (Transaction, error) {
	if fields.ID.String() == "" {
		return Transaction{}, ErrInvalidTransactionID
	}
	if fields.AccountID.String() == "" {
		return Transaction{}, ErrInvalidAccountID
	}
	if _, err := ParseTransactionKind(fields.Kind.String()); err != nil {
		return Transaction{}, err
	}
	if _, err := ParseAxis(fields.Axis.String()); err != nil {
		return Transaction{}, err
	}
	if !fields.Kind.acceptsDelta(fields.Delta) {
		return Transaction{}, fmt.Errorf("%w: %s cannot carry delta %d", ErrInvalidTransaction, fields.Kind, fields.Delta)
	}
	if fields.BalanceAfter < 0 {
		return Transaction{}, fmt.Errorf("%w: negative balance snapshot", ErrInvalidTransaction)
	}
	var bookingID *BookingID
	if fields.BookingID != nil {
		if fields.BookingID.String() == "" {
			return Transaction{}, ErrInvalidBookingID
		}
		copied := *fields.BookingID
		bookingID = &copied
	}
	return Transaction{
		id:             fields.ID,
		accountID:      fields.AccountID,
		kind:           fields.Kind,
		axis:           fields.Axis,
		delta:          fields.Delta,
		balanceAfter:   fields.BalanceAfter,
		bookingID:      bookingID,
		description:    strings.TrimSpace(fields.Description),
		metadata:       fields.Metadata,
		createdUnixUTC: fields.CreatedUnixUTC,
	}, nil
}

func (transaction Transaction) ID() TransactionID { return transaction.id }
func (transaction Transaction) AccountID() AccountID { return transaction.accountID }
func (transaction Transaction) Kind() TransactionKind { return transaction.kind }
func (transaction Transaction) Axis() Axis { return transaction.axis }
func (transaction Transaction) Delta() PointsDelta { return transaction.delta }
func (transaction Transaction) Amount() PositivePoints { return transaction.delta.Magnitude() }
func (transaction Transaction) BalanceAfter() Points { return transaction.balanceAfter }
func (transaction Transaction) Description() string { return transaction.description }
func (transaction Transaction) Metadata() MetadataJSON { return transaction.metadata }
func (transaction Transaction) CreatedUnixUTC() int64 { return transaction.createdUnixUTC }

// BookingID returns the causing booking, if any.
func (transaction Transaction) BookingID() (BookingID, bool) {
	if transaction.bookingID == nil {
		return BookingID{}, false
	}
	return *transaction.bookingID, true
}
