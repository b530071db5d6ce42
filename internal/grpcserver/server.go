package grpcserver

import (
	"context"
	"errors"

	"github.com/movewan/merryhere-sub000/pkg/booking"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	errorInvalidListLimit   = "invalid_list_limit"
	errorInvalidAccountID   = "invalid_account_id"
	errorInvalidRoomID      = "invalid_room_id"
	errorInvalidBookingID   = "invalid_booking_id"
	errorInvalidDay         = "invalid_date"
	errorInvalidSlot        = "invalid_slot"
	errorInvalidDuration    = "invalid_duration"
	errorInvalidTitle       = "invalid_title"
	errorInvalidAxis        = "invalid_axis"
	errorUnknownRoom        = "unknown_room"
	errorRoomInactive       = "room_inactive"
	errorBookingInPast      = "booking_in_past"
	errorIdempotencyReused  = "idempotency_key_reused"
	errorSlotConflict       = "slot_conflict"
	errorInsufficientPoints = "insufficient_points"
	errorUnknownBooking     = "unknown_booking"
	errorAlreadyCancelled   = "booking_already_cancelled"
	errorNotCancellable     = "not_cancellable"
	errorValidation         = "validation"
	errorStorageFailure     = "storage_failure"
)

// BookingServer exposes the booking core to other services over gRPC. Callers are trusted
// and name the account explicitly.
type BookingServer struct {
	manager *booking.Manager
	query   *booking.Query
}

// NewBookingServer constructs the gRPC service.
func NewBookingServer(manager *booking.Manager, query *booking.Query) *BookingServer {
	return &BookingServer{manager: manager, query: query}
}

func (server *BookingServer) Reserve(ctx context.Context, request *ReserveRequest) (*BookingResponse, error) {
	reserveRequest, err := booking.ParseReserveRequest(booking.RawReserveRequest{
		AccountID:      request.AccountID,
		RoomID:         request.RoomID,
		Day:            request.Date,
		Start:          request.Start,
		End:            request.End,
		Title:          request.Title,
		Description:    request.Description,
		Axis:           request.Axis,
		IdempotencyKey: request.IdempotencyKey,
		Metadata:       request.MetadataJSON,
	})
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	reserved, err := server.manager.Reserve(ctx, reserveRequest)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &BookingResponse{Booking: toBooking(reserved)}, nil
}

func (server *BookingServer) Cancel(ctx context.Context, request *CancelRequest) (*BookingResponse, error) {
	accountID, err := booking.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	bookingID, err := booking.NewBookingID(request.BookingID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	cancelled, err := server.manager.Cancel(ctx, bookingID, accountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &BookingResponse{Booking: toBooking(cancelled)}, nil
}

func (server *BookingServer) ListRooms(ctx context.Context, request *ListRoomsRequest) (*ListRoomsResponse, error) {
	var (
		rooms []booking.Room
		err   error
	)
	if request.IncludeInactive {
		rooms, err = server.query.ListRooms(ctx)
	} else {
		rooms, err = server.query.ListAvailableRooms(ctx)
	}
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListRoomsResponse{Rooms: make([]Room, 0, len(rooms))}
	for _, room := range rooms {
		response.Rooms = append(response.Rooms, Room{
			RoomID:             room.ID().String(),
			Name:               room.Name(),
			Capacity:           room.Capacity(),
			PointsPer30Min:     room.PointsPer30Min().Int64(),
			MinDurationMinutes: room.MinDurationMinutes(),
			MaxDurationMinutes: room.MaxDurationMinutes(),
			Active:             room.Active(),
		})
	}
	return response, nil
}

func (server *BookingServer) GetOccupancy(ctx context.Context, request *GetOccupancyRequest) (*GetOccupancyResponse, error) {
	roomID, err := booking.NewRoomID(request.RoomID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	day, err := booking.ParseDay(request.Date)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	bookings, err := server.query.Occupancy(ctx, roomID, day)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &GetOccupancyResponse{
		RoomID:   roomID.String(),
		Date:     day.String(),
		Bookings: toBookings(bookings),
	}, nil
}

func (server *BookingServer) ListBookings(ctx context.Context, request *ListBookingsRequest) (*ListBookingsResponse, error) {
	accountID, err := booking.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if request.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	filter := booking.BookingFilter{Limit: int(request.Limit)}
	if request.FromDate != "" {
		filter.FromDay, err = booking.ParseDay(request.FromDate)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	if request.Status != "" {
		filter.Status, err = booking.ParseBookingStatus(request.Status)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	bookings, err := server.query.MyBookings(ctx, accountID, filter)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &ListBookingsResponse{Bookings: toBookings(bookings)}, nil
}

func (server *BookingServer) ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	accountID, err := booking.NewAccountID(request.AccountID)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	if request.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, errorInvalidListLimit)
	}
	filter := booking.TransactionFilter{BeforeUnixUTC: request.BeforeUnixUTC, Limit: int(request.Limit)}
	if request.Axis != "" {
		filter.Axis, err = booking.ParseAxis(request.Axis)
		if err != nil {
			return nil, mapToGRPCError(err)
		}
	}
	transactions, err := server.query.MyTransactions(ctx, accountID, filter)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	response := &ListTransactionsResponse{Transactions: make([]Transaction, 0, len(transactions))}
	for _, transaction := range transactions {
		wire := Transaction{
			TransactionID:  transaction.ID().String(),
			AccountID:      transaction.AccountID().String(),
			Kind:           transaction.Kind().String(),
			Axis:           transaction.Axis().String(),
			Delta:          transaction.Delta().Int64(),
			BalanceAfter:   transaction.BalanceAfter().Int64(),
			Description:    transaction.Description(),
			MetadataJSON:   transaction.Metadata().String(),
			CreatedUnixUTC: transaction.CreatedUnixUTC(),
		}
		if bookingID, ok := transaction.BookingID(); ok {
			wire.BookingID = bookingID.String()
		}
		response.Transactions = append(response.Transactions, wire)
	}
	return response, nil
}

func toBookings(bookings []booking.Booking) []Booking {
	wire := make([]Booking, 0, len(bookings))
	for _, record := range bookings {
		wire = append(wire, toBooking(record))
	}
	return wire
}

func toBooking(record booking.Booking) Booking {
	wire := Booking{
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
		wire.IdempotencyKey = key.String()
	}
	return wire
}

var specificErrors = []struct {
	err  error
	code string
}{
	{err: booking.ErrInvalidAccountID, code: errorInvalidAccountID},
	{err: booking.ErrInvalidRoomID, code: errorInvalidRoomID},
	{err: booking.ErrInvalidBookingID, code: errorInvalidBookingID},
	{err: booking.ErrInvalidDay, code: errorInvalidDay},
	{err: booking.ErrInvalidTimeOfDay, code: errorInvalidSlot},
	{err: booking.ErrInvalidSlot, code: errorInvalidSlot},
	{err: booking.ErrInvalidDuration, code: errorInvalidDuration},
	{err: booking.ErrInvalidTitle, code: errorInvalidTitle},
	{err: booking.ErrInvalidAxis, code: errorInvalidAxis},
	{err: booking.ErrUnknownRoom, code: errorUnknownRoom},
	{err: booking.ErrRoomInactive, code: errorRoomInactive},
	{err: booking.ErrBookingInPast, code: errorBookingInPast},
	{err: booking.ErrIdempotencyKeyReused, code: errorIdempotencyReused},
	{err: booking.ErrUnknownBooking, code: errorUnknownBooking},
	{err: booking.ErrBookingAlreadyCancelled, code: errorAlreadyCancelled},
}

func mapToGRPCError(source error) error {
	var grpcCode codes.Code
	var message string
	switch booking.Classify(source) {
	case booking.KindValidation:
		grpcCode, message = codes.InvalidArgument, errorValidation
	case booking.KindSlotConflict:
		grpcCode, message = codes.Aborted, errorSlotConflict
	case booking.KindInsufficientPoints:
		grpcCode, message = codes.FailedPrecondition, errorInsufficientPoints
	case booking.KindNotCancellable:
		grpcCode, message = codes.FailedPrecondition, errorNotCancellable
	default:
		if errors.Is(source, context.DeadlineExceeded) {
			return status.Error(codes.DeadlineExceeded, source.Error())
		}
		return status.Error(codes.Unavailable, errorStorageFailure)
	}
	for _, specific := range specificErrors {
		if errors.Is(source, specific.err) {
			message = specific.code
			break
		}
	}
	return status.Error(grpcCode, message)
}

var _ BookingServiceServer = (*BookingServer)(nil)
