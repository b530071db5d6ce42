package httpapi

import (
	"encoding/json"

	"github.com/movewan/merryhere-sub000/pkg/booking"
)

type reserveRequest struct {
	RoomID         string `json:"room_id"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Axis           string `json:"axis"`
	IdempotencyKey string `json:"idempotency_key"`
}

type putRoomRequest struct {
	Name               string `json:"name"`
	Capacity           int    `json:"capacity"`
	PointsPer30Min     int64  `json:"points_per_30_min"`
	MinDurationMinutes int    `json:"min_duration_minutes"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
	Active             *bool  `json:"active"`
}

type adjustRequest struct {
	Axis        string `json:"axis"`
	Target      int64  `json:"target"`
	Description string `json:"description"`
}

type roomPayload struct {
	RoomID             string `json:"room_id"`
	Name               string `json:"name"`
	Capacity           int    `json:"capacity"`
	PointsPer30Min     int64  `json:"points_per_30_min"`
	MinDurationMinutes int    `json:"min_duration_minutes"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
	Active             bool   `json:"active"`
}

type bookingPayload struct {
	BookingID        string `json:"booking_id"`
	RoomID           string `json:"room_id"`
	AccountID        string `json:"account_id"`
	Date             string `json:"date"`
	Start            string `json:"start"`
	End              string `json:"end"`
	Status           string `json:"status"`
	Axis             string `json:"axis"`
	PointsCharged    int64  `json:"points_charged"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	IdempotencyKey   string `json:"idempotency_key,omitempty"`
	CreatedUnixUTC   int64  `json:"created_unix_utc"`
	CancelledUnixUTC int64  `json:"cancelled_unix_utc,omitempty"`
}

// occupancyPayload hides who booked a slot unless it is the caller.
type occupancyPayload struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Mine  bool   `json:"mine"`
	Title string `json:"title,omitempty"`
}

type transactionPayload struct {
	TransactionID  string          `json:"transaction_id"`
	Kind           string          `json:"kind"`
	Axis           string          `json:"axis"`
	Delta          int64           `json:"delta"`
	Amount         int64           `json:"amount"`
	BalanceAfter   int64           `json:"balance_after"`
	BookingID      string          `json:"booking_id,omitempty"`
	Description    string          `json:"description"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedUnixUTC int64           `json:"created_unix_utc"`
}

type balancePayload struct {
	Personal int64 `json:"personal"`
	Team     int64 `json:"team"`
}

func newRoomPayload(room booking.Room) roomPayload {
	return roomPayload{
		RoomID:             room.ID().String(),
		Name:               room.Name(),
		Capacity:           room.Capacity(),
		PointsPer30Min:     room.PointsPer30Min().Int64(),
		MinDurationMinutes: room.MinDurationMinutes(),
		MaxDurationMinutes: room.MaxDurationMinutes(),
		Active:             room.Active(),
	}
}

func newRoomPayloads(rooms []booking.Room) []roomPayload {
	payloads := make([]roomPayload, 0, len(rooms))
	for _, room := range rooms {
		payloads = append(payloads, newRoomPayload(room))
	}
	return payloads
}

func newBookingPayload(record booking.Booking) bookingPayload {
	payload := bookingPayload{
		BookingID:        record.ID().String(),
		RoomID:           record.RoomID().String(),
		AccountID:        record.AccountID().String(),
		Date:             record.Day().String(),
		Start:            record.Slot().Start().String(),
		End:              record.Slot().End().String(),
		Status:           record.Status().String(),
		Axis:             record.Axis().String(),
		PointsCharged:    record.PointsCharged().Int64(),
		Title:            record.Title(),
		Description:      record.Description(),
		CreatedUnixUTC:   record.CreatedUnixUTC(),
		CancelledUnixUTC: record.CancelledUnixUTC(),
	}
	if key, ok := record.IdempotencyKey(); ok {
		payload.IdempotencyKey = key.String()
	}
	return payload
}

func newTransactionPayload(transaction booking.Transaction) transactionPayload {
	payload := transactionPayload{
		TransactionID:  transaction.ID().String(),
		Kind:           transaction.Kind().String(),
		Axis:           transaction.Axis().String(),
		Delta:          transaction.Delta().Int64(),
		Amount:         transaction.Amount().Int64(),
		BalanceAfter:   transaction.BalanceAfter().Int64(),
		Description:    transaction.Description(),
		Metadata:       json.RawMessage(transaction.Metadata().String()),
		CreatedUnixUTC: transaction.CreatedUnixUTC(),
	}
	if bookingID, ok := transaction.BookingID(); ok {
		payload.BookingID = bookingID.String()
	}
	return payload
}
