package grpcserver

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "merryhere.booking.v1.BookingService"

// Booking is the wire form of a booking.
type Booking struct {
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

// Room is the wire form of a room.
type Room struct {
	RoomID             string `json:"room_id"`
	Name               string `json:"name"`
	Capacity           int    `json:"capacity"`
	PointsPer30Min     int64  `json:"points_per_30_min"`
	MinDurationMinutes int    `json:"min_duration_minutes"`
	MaxDurationMinutes int    `json:"max_duration_minutes"`
	Active             bool   `json:"active"`
}

// Transaction is the wire form of a ledger entry.
type Transaction struct {
	TransactionID  string `json:"transaction_id"`
	AccountID      string `json:"account_id"`
	Kind           string `json:"kind"`
	Axis           string `json:"axis"`
	Delta          int64  `json:"delta"`
	BalanceAfter   int64  `json:"balance_after"`
	BookingID      string `json:"booking_id,omitempty"`
	Description    string `json:"description"`
	MetadataJSON   string `json:"metadata_json"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

type ReserveRequest struct {
	AccountID      string `json:"account_id"`
	RoomID         string `json:"room_id"`
	Date           string `json:"date"`
	Start          string `json:"start"`
	End            string `json:"end"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	Axis           string `json:"axis"`
	IdempotencyKey string `json:"idempotency_key"`
	MetadataJSON   string `json:"metadata_json"`
}

type CancelRequest struct {
	AccountID string `json:"account_id"`
	BookingID string `json:"booking_id"`
}

type BookingResponse struct {
	Booking Booking `json:"booking"`
}

type ListRoomsRequest struct {
	IncludeInactive bool `json:"include_inactive"`
}

type ListRoomsResponse struct {
	Rooms []Room `json:"rooms"`
}

type GetOccupancyRequest struct {
	RoomID string `json:"room_id"`
	Date   string `json:"date"`
}

type GetOccupancyResponse struct {
	RoomID   string    `json:"room_id"`
	Date     string    `json:"date"`
	Bookings []Booking `json:"bookings"`
}

type ListBookingsRequest struct {
	AccountID string `json:"account_id"`
	FromDate  string `json:"from_date"`
	Status    string `json:"status"`
	Limit     int32  `json:"limit"`
}

type ListBookingsResponse struct {
	Bookings []Booking `json:"bookings"`
}

type ListTransactionsRequest struct {
	AccountID     string `json:"account_id"`
	BeforeUnixUTC int64  `json:"before_unix_utc"`
	Axis          string `json:"axis"`
	Limit         int32  `json:"limit"`
}

type ListTransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// BookingServiceServer is implemented by BookingServer.
type BookingServiceServer interface {
	Reserve(ctx context.Context, request *ReserveRequest) (*BookingResponse, error)
	Cancel(ctx context.Context, request *CancelRequest) (*BookingResponse, error)
	ListRooms(ctx context.Context, request *ListRoomsRequest) (*ListRoomsResponse, error)
	GetOccupancy(ctx context.Context, request *GetOccupancyRequest) (*GetOccupancyResponse, error)
	ListBookings(ctx context.Context, request *ListBookingsRequest) (*ListBookingsResponse, error)
	ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error)
}

// ServiceDesc describes the booking service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*BookingServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Reserve", Handler: unaryHandler("Reserve", BookingServiceServer.Reserve)},
		{MethodName: "Cancel", Handler: unaryHandler("Cancel", BookingServiceServer.Cancel)},
		{MethodName: "ListRooms", Handler: unaryHandler("ListRooms", BookingServiceServer.ListRooms)},
		{MethodName: "GetOccupancy", Handler: unaryHandler("GetOccupancy", BookingServiceServer.GetOccupancy)},
		{MethodName: "ListBookings", Handler: unaryHandler("ListBookings", BookingServiceServer.ListBookings)},
		{MethodName: "ListTransactions", Handler: unaryHandler("ListTransactions", BookingServiceServer.ListTransactions)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "merryhere/booking/v1/booking_service",
}

// RegisterBookingServiceServer registers server on registrar.
func RegisterBookingServiceServer(registrar grpc.ServiceRegistrar, server BookingServiceServer) {
	registrar.RegisterService(&ServiceDesc, server)
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// Messages travel as google.protobuf.Struct so the standard proto codec carries them; the typed
// request and response structs of this package are their field layout.
func unaryHandler[Request any, Response any](method string, call func(BookingServiceServer, context.Context, *Request) (*Response, error)) grpc.MethodHandler {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		message := &structpb.Struct{}
		if err := decode(message); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, request any) (any, error) {
			typed := new(Request)
			if err := fromStruct(request.(*structpb.Struct), typed); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", method, err)
			}
			response, err := call(server.(BookingServiceServer), ctx, typed)
			if err != nil {
				return nil, err
			}
			encoded, err := toStruct(response)
			if err != nil {
				return nil, status.Errorf(codes.Internal, "encode %s response: %v", method, err)
			}
			return encoded, nil
		}
		if interceptor == nil {
			return handler(ctx, message)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod(method)}
		return interceptor(ctx, message, info, handler)
	}
}

func toStruct(value any) (*structpb.Struct, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

func fromStruct(message *structpb.Struct, target any) error {
	raw, err := json.Marshal(message.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// Client calls the booking service over a connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func invoke[Response any](ctx context.Context, client *Client, method string, request any) (*Response, error) {
	message, err := toStruct(request)
	if err != nil {
		return nil, err
	}
	reply := &structpb.Struct{}
	if err := client.conn.Invoke(ctx, fullMethod(method), message, reply); err != nil {
		return nil, err
	}
	response := new(Response)
	if err := fromStruct(reply, response); err != nil {
		return nil, err
	}
	return response, nil
}

func (client *Client) Reserve(ctx context.Context, request *ReserveRequest) (*BookingResponse, error) {
	return invoke[BookingResponse](ctx, client, "Reserve", request)
}

func (client *Client) Cancel(ctx context.Context, request *CancelRequest) (*BookingResponse, error) {
	return invoke[BookingResponse](ctx, client, "Cancel", request)
}

func (client *Client) ListRooms(ctx context.Context, request *ListRoomsRequest) (*ListRoomsResponse, error) {
	return invoke[ListRoomsResponse](ctx, client, "ListRooms", request)
}

func (client *Client) GetOccupancy(ctx context.Context, request *GetOccupancyRequest) (*GetOccupancyResponse, error) {
	return invoke[GetOccupancyResponse](ctx, client, "GetOccupancy", request)
}

func (client *Client) ListBookings(ctx context.Context, request *ListBookingsRequest) (*ListBookingsResponse, error) {
	return invoke[ListBookingsResponse](ctx, client, "ListBookings", request)
}

func (client *Client) ListTransactions(ctx context.Context, request *ListTransactionsRequest) (*ListTransactionsResponse, error) {
	return invoke[ListTransactionsResponse](ctx, client, "ListTransactions", request)
}
