package booking

import "fmt"

// RequiredPoints prices a slot on a room. The duration must be a positive multiple of
// 30 minutes within the room's bounds; nothing else is consulted.
func RequiredPoints(room Room, slot Slot) (PositivePoints, error) {
	duration := slot.DurationMinutes()
	if duration <= 0 || duration%slotMinutes != 0 {
		return 0, fmt.Errorf("%w: %d minutes is not a positive multiple of %d", ErrInvalidDuration, duration, slotMinutes)
	}
	if duration < room.MinDurationMinutes() || duration > room.MaxDurationMinutes() {
		return 0, fmt.Errorf("%w: %d minutes outside [%d, %d]", ErrInvalidDuration, duration, room.MinDurationMinutes(), room.MaxDurationMinutes())
	}
	units := (duration + slotMinutes - 1) / slotMinutes
	return NewPositivePoints(int64(units) * room.PointsPer30Min().Int64())
}
