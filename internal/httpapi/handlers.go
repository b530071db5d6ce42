package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const idempotencyKeyHeader = "Idempotency-Key"

func (handler *Handler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// accountID resolves the caller from the session claims.
func (handler *Handler) accountID(ctx *gin.Context) (booking.AccountID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "로그인이 필요합니다"))
		return booking.AccountID{}, false
	}
	accountID, err := booking.NewAccountID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "세션 정보가 올바르지 않습니다"))
		return booking.AccountID{}, false
	}
	return accountID, true
}

func (handler *Handler) handleListRooms(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rooms, err := handler.query.ListAvailableRooms(requestCtx)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": newRoomPayloads(rooms)})
}

func (handler *Handler) handleOccupancy(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	roomID, err := booking.NewRoomID(ctx.Param("roomID"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	day, err := booking.ParseDay(ctx.Query("date"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookings, err := handler.query.Occupancy(requestCtx, roomID, day)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	slots := make([]occupancyPayload, 0, len(bookings))
	for _, record := range bookings {
		slot := occupancyPayload{
			Start: record.Slot().Start().String(),
			End:   record.Slot().End().String(),
			Mine:  record.AccountID() == accountID,
		}
		if slot.Mine {
			slot.Title = record.Title()
		}
		slots = append(slots, slot)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"room_id": roomID.String(),
		"date":    day.String(),
		"slots":   slots,
	})
}

func (handler *Handler) handleReserve(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	var payload reserveRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	idempotencyKey := payload.IdempotencyKey
	if header := strings.TrimSpace(ctx.GetHeader(idempotencyKeyHeader)); header != "" {
		idempotencyKey = header
	}
	request, err := booking.ParseReserveRequest(booking.RawReserveRequest{
		AccountID:      accountID.String(),
		RoomID:         payload.RoomID,
		Day:            payload.Date,
		Start:          payload.Start,
		End:            payload.End,
		Title:          payload.Title,
		Description:    payload.Description,
		Axis:           payload.Axis,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	trace.SpanFromContext(requestCtx).SetAttributes(
		attribute.String("merryhere.room_id", request.RoomID.String()),
		attribute.String("merryhere.day", request.Day.String()),
		attribute.String("merryhere.slot", request.Slot.String()),
	)

	result, err := handler.manager.ReserveWithResult(requestCtx, request)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if result.Replayed {
		ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(result.Booking), "replayed": true})
		return
	}
	handler.notifier.BookingReserved(requestCtx, result.Booking)
	ctx.JSON(http.StatusCreated, gin.H{"booking": newBookingPayload(result.Booking)})
}

func (handler *Handler) handleCancel(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	bookingID, err := booking.NewBookingID(ctx.Param("bookingID"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	existing, err := handler.query.Booking(requestCtx, bookingID, accountID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	// Members may only cancel before the booked slot begins.
	if existing.Status() == booking.BookingStatusConfirmed {
		startsAt := existing.StartsAt(handler.manager.Location())
		if !time.Unix(handler.nowFn(), 0).Before(startsAt) {
			handler.writeError(ctx, booking.ErrBookingStarted)
			return
		}
	}

	cancelled, err := handler.manager.Cancel(requestCtx, bookingID, accountID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	handler.notifier.BookingCancelled(requestCtx, cancelled)
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingPayload(cancelled)})
}

func (handler *Handler) handleMyBookings(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	limit, ok := handler.parseLimit(ctx)
	if !ok {
		return
	}
	filter := booking.BookingFilter{Limit: limit}
	if raw := ctx.Query("from"); raw != "" {
		day, err := booking.ParseDay(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		filter.FromDay = day
	}
	if raw := ctx.Query("status"); raw != "" {
		status, err := booking.ParseBookingStatus(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		filter.Status = status
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookings, err := handler.query.MyBookings(requestCtx, accountID, filter)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payloads := make([]bookingPayload, 0, len(bookings))
	for _, record := range bookings {
		payloads = append(payloads, newBookingPayload(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": payloads})
}

func (handler *Handler) handleMyTransactions(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	limit, ok := handler.parseLimit(ctx)
	if !ok {
		return
	}
	filter := booking.TransactionFilter{Limit: limit}
	if raw := ctx.Query("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || before < 0 {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_before", "before must be a unix timestamp"))
			return
		}
		filter.BeforeUnixUTC = before
	}
	if raw := ctx.Query("axis"); raw != "" {
		axis, err := booking.ParseAxis(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		filter.Axis = axis
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transactions, err := handler.query.MyTransactions(requestCtx, accountID, filter)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	payloads := make([]transactionPayload, 0, len(transactions))
	for _, transaction := range transactions {
		payloads = append(payloads, newTransactionPayload(transaction))
	}
	ctx.JSON(http.StatusOK, gin.H{"transactions": payloads})
}

func (handler *Handler) handleBalance(ctx *gin.Context) {
	accountID, ok := handler.accountID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.query.Balance(requestCtx, accountID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": balancePayload{
		Personal: balance.Personal.Int64(),
		Team:     balance.Team.Int64(),
	}})
}

func (handler *Handler) handleAdminListRooms(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	rooms, err := handler.query.ListRooms(requestCtx)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": newRoomPayloads(rooms)})
}

func (handler *Handler) handlePutRoom(ctx *gin.Context) {
	roomID, err := booking.NewRoomID(ctx.Param("roomID"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var payload putRoomRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	price, err := booking.NewPositivePoints(payload.PointsPer30Min)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	active := true
	if payload.Active != nil {
		active = *payload.Active
	}
	room, err := booking.NewRoom(booking.RoomFields{
		ID:                 roomID,
		Name:               payload.Name,
		Capacity:           payload.Capacity,
		PointsPer30Min:     price,
		MinDurationMinutes: payload.MinDurationMinutes,
		MaxDurationMinutes: payload.MaxDurationMinutes,
		Active:             active,
	})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.manager.PutRoom(requestCtx, room); err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"room": newRoomPayload(room)})
}

func (handler *Handler) handleAdjust(ctx *gin.Context) {
	accountID, err := booking.NewAccountID(ctx.Param("accountID"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	var payload adjustRequest
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	axis, err := booking.ParseAxis(payload.Axis)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	target, err := booking.NewPoints(payload.Target)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	transaction, err := handler.manager.AdjustBalance(requestCtx, accountID, axis, target, payload.Description)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"transaction": newTransactionPayload(transaction)})
}

func (handler *Handler) parseLimit(ctx *gin.Context) (int, bool) {
	raw := ctx.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_limit", "limit must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}
