package gormstore

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Room mirrors the rooms table.
type Room struct {
	RoomID             string    `gorm:"primaryKey"`
	Name               string    `gorm:"not null"`
	Capacity           int       `gorm:"not null"`
	PointsPer30Min     int64     `gorm:"column:points_per_30_min;not null"`
	MinDurationMinutes int       `gorm:"not null"`
	MaxDurationMinutes int       `gorm:"not null"`
	Active             bool      `gorm:"not null"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (Room) TableName() string { return "rooms" }

// Booking mirrors the bookings table. Rows are never deleted.
type Booking struct {
	BookingID      string     `gorm:"primaryKey"`
	RoomID         string     `gorm:"not null;index:idx_bookings_room_day,priority:1"`
	AccountID      string     `gorm:"not null;index:idx_bookings_account_day,priority:1;uniqueIndex:idx_bookings_account_idempotency,priority:1"`
	Day            string     `gorm:"type:varchar(10);not null;index:idx_bookings_room_day,priority:2;index:idx_bookings_account_day,priority:2"`
	StartMinute    int        `gorm:"not null"`
	EndMinute      int        `gorm:"not null"`
	Status         string     `gorm:"type:varchar(16);not null;index:idx_bookings_room_day,priority:3"`
	Axis           string     `gorm:"type:varchar(16);not null"`
	PointsCharged  int64      `gorm:"not null"`
	Title          string     `gorm:"not null"`
	Description    string     `gorm:"not null;default:''"`
	IdempotencyKey *string    `gorm:"uniqueIndex:idx_bookings_account_idempotency,priority:2"`
	CreatedAt      time.Time  `gorm:"not null"`
	CancelledAt    *time.Time `gorm:""`
}

func (Booking) TableName() string { return "bookings" }

// AccountBalance holds the two point counters of an account.
type AccountBalance struct {
	AccountID      string    `gorm:"primaryKey"`
	PersonalPoints int64     `gorm:"not null;default:0;check:chk_balances_personal_nonnegative,personal_points >= 0"`
	TeamPoints     int64     `gorm:"not null;default:0;check:chk_balances_team_nonnegative,team_points >= 0"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (AccountBalance) TableName() string { return "account_balances" }

// PointTransaction mirrors the append-only point_transactions table. Sequence breaks ties
// between transactions created in the same second.
type PointTransaction struct {
	Sequence      int64          `gorm:"column:seq;primaryKey;autoIncrement"`
	TransactionID string         `gorm:"not null;uniqueIndex"`
	AccountID     string         `gorm:"not null;index:idx_transactions_account_created,priority:1"`
	Kind          string         `gorm:"type:varchar(16);not null"`
	Axis          string         `gorm:"type:varchar(16);not null"`
	Delta         int64          `gorm:"not null"`
	BalanceAfter  int64          `gorm:"not null"`
	BookingID     *string        `gorm:"index"`
	Description   string         `gorm:"not null;default:''"`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_transactions_account_created,priority:2"`
}

func (PointTransaction) TableName() string { return "point_transactions" }

// SlotLock is one row per (room, day); selecting it FOR UPDATE serializes reservations on
// that room and day across processes.
type SlotLock struct {
	RoomID   string    `gorm:"primaryKey"`
	Day      string    `gorm:"type:varchar(10);primaryKey"`
	LockedAt time.Time `gorm:"not null"`
}

func (SlotLock) TableName() string { return "slot_locks" }

// Migrate creates or updates every table used by Store.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(&Room{}, &Booking{}, &AccountBalance{}, &PointTransaction{}, &SlotLock{})
}
