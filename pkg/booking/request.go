package booking

import "strings"

// RawReserveRequest carries untyped reservation input as transports receive it.
type RawReserveRequest struct {
	AccountID      string
	RoomID         string
	Day            string
	Start          string
	End            string
	Title          string
	Description    string
	Axis           string
	IdempotencyKey string
	Metadata       string
}

// ParseReserveRequest validates raw input into a ReserveRequest. An empty axis means the
// personal axis; an empty idempotency key means none.
func ParseReserveRequest(raw RawReserveRequest) (ReserveRequest, error) {
	accountID, err := NewAccountID(raw.AccountID)
	if err != nil {
		return ReserveRequest{}, err
	}
	roomID, err := NewRoomID(raw.RoomID)
	if err != nil {
		return ReserveRequest{}, err
	}
	day, err := ParseDay(raw.Day)
	if err != nil {
		return ReserveRequest{}, err
	}
	start, err := ParseTimeOfDay(raw.Start)
	if err != nil {
		return ReserveRequest{}, err
	}
	end, err := ParseTimeOfDay(raw.End)
	if err != nil {
		return ReserveRequest{}, err
	}
	slot, err := NewSlot(start, end)
	if err != nil {
		return ReserveRequest{}, err
	}
	axis := AxisPersonal
	if strings.TrimSpace(raw.Axis) != "" {
		axis, err = ParseAxis(raw.Axis)
		if err != nil {
			return ReserveRequest{}, err
		}
	}
	metadata, err := NewMetadataJSON(raw.Metadata)
	if err != nil {
		return ReserveRequest{}, err
	}
	request := ReserveRequest{
		AccountID:   accountID,
		RoomID:      roomID,
		Day:         day,
		Slot:        slot,
		Title:       raw.Title,
		Description: raw.Description,
		Axis:        axis,
		Metadata:    metadata,
	}
	if strings.TrimSpace(raw.IdempotencyKey) != "" {
		key, err := NewIdempotencyKey(raw.IdempotencyKey)
		if err != nil {
			return ReserveRequest{}, err
		}
		request.IdempotencyKey = &key
	}
	if err := request.validate(); err != nil {
		return ReserveRequest{}, err
	}
	return request, nil
}
