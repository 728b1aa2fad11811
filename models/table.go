package models

import "time"

// Table statuses. Occupancy is not a status: a table is occupied when it has
// an active session.
const (
	TableStatusOpen     = "open"
	TableStatusDirty    = "dirty"
	TableStatusDisabled = "disabled"
)

type Table struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	PID          string    `gorm:"column:pid;type:varchar(36);uniqueIndex;not null" json:"pid"`
	RestaurantID uint      `gorm:"not null;index" json:"restaurant_id"`
	TableNumber  string    `gorm:"type:varchar(50);not null" json:"table_number"`
	Status       string    `gorm:"type:varchar(20);not null;default:'open'" json:"status"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

// TableView is the admin-facing shape of a table with its live session.
type TableView struct {
	Table
	SessionPID  string `json:"session_pid,omitempty"`
	MemberCount int64  `json:"member_count"`
}
