package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/movewan/merryhere-sub000/pkg/booking"
	"go.uber.org/zap"
)

type errorMapping struct {
	status  int
	message string
}

var errorMappings = map[booking.ErrorKind]errorMapping{
	booking.KindValidation:         {status: http.StatusBadRequest, message: "요청 값이 올바르지 않습니다"},
	booking.KindSlotConflict:       {status: http.StatusConflict, message: "이 시간대는 이미 예약되었습니다"},
	booking.KindInsufficientPoints: {status: http.StatusPaymentRequired, message: "포인트가 부족합니다"},
	booking.KindNotCancellable:     {status: http.StatusConflict, message: "취소할 수 없는 예약입니다"},
	booking.KindStorageFailure:     {status: http.StatusServiceUnavailable, message: "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해 주세요"},
}

// specificMessages refine the kind message for errors members commonly hit.
var specificMessages = []struct {
	err     error
	message string
}{
	{err: booking.ErrBookingInPast, message: "지난 시간은 예약할 수 없습니다"},
	{err: booking.ErrRoomInactive, message: "현재 예약할 수 없는 회의실입니다"},
	{err: booking.ErrUnknownRoom, message: "존재하지 않는 회의실입니다"},
	{err: booking.ErrInvalidDuration, message: "예약 가능한 이용 시간이 아닙니다"},
	{err: booking.ErrBookingStarted, message: "이미 시작된 예약은 취소할 수 없습니다"},
	{err: booking.ErrBookingAlreadyCancelled, message: "이미 취소된 예약입니다"},
	{err: booking.ErrUnknownBooking, message: "예약을 찾을 수 없습니다"},
	{err: booking.ErrIdempotencyKeyReused, message: "같은 요청 키로 다른 예약을 요청했습니다"},
}

func (handler *Handler) writeError(ctx *gin.Context, err error) {
	kind := booking.Classify(err)
	mapping, ok := errorMappings[kind]
	if !ok {
		mapping = errorMappings[booking.KindStorageFailure]
		kind = booking.KindStorageFailure
	}
	message := mapping.message
	for _, specific := range specificMessages {
		if errors.Is(err, specific.err) {
			message = specific.message
			break
		}
	}
	body := gin.H{
		"code":      string(kind),
		"message":   message,
		"retryable": booking.Retryable(err),
	}
	if kind == booking.KindStorageFailure {
		handler.logger.Error("request failed", zap.String("route", ctx.FullPath()), zap.Error(err))
	} else {
		body["detail"] = err.Error()
	}
	ctx.JSON(mapping.status, gin.H{"error": body})
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
