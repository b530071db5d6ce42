package booking

const (
	operationReserve = "reserve"
	operationCancel  = "cancel"
	operationAdjust  = "adjust"
	operationPutRoom = "put_room"

	operationStatusOK       = "ok"
	operationStatusError    = "error"
	operationStatusReplayed = "replayed"

	slotMinutes   = 30
	minutesPerDay = 24 * 60

	dayLayout       = "2006-01-02"
	timeOfDayLayout = "%02d:%02d"

	defaultLocationName = "Asia/Seoul"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)
