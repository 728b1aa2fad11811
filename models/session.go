package models

import "time"

const (
	SessionStateActive  = "active"
	SessionStateClosed  = "closed"
	SessionStateExpired = "expired"
)

// Session is one dining party at one table. ActiveTableID mirrors TableID
// while the session is active and is NULL otherwise; its unique index allows
// at most one active session per table.
type Session struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	PID            string     `gorm:"column:pid;type:varchar(36);uniqueIndex;not null" json:"pid"`
	RestaurantID   uint       `gorm:"not null;index" json:"restaurant_id"`
	TableID        uint       `gorm:"not null;index" json:"table_id"`
	ActiveTableID  *uint      `gorm:"uniqueIndex" json:"-"`
	State          string     `gorm:"type:varchar(20);not null;default:'active';index" json:"state"`
	Validated      bool       `gorm:"not null;default:false" json:"validated"`
	LastActivityAt time.Time  `gorm:"not null" json:"last_activity_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

func (s *Session) IsActive() bool {
	return s.State == SessionStateActive
}

// SessionStateUpdate is the column set written by every session transition.
type SessionStateUpdate struct {
	State         string
	TableID       uint
	ActiveTableID *uint
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

func (u SessionStateUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"state":           u.State,
		"active_table_id": u.ActiveTableID,
		"closed_at":       u.ClosedAt,
		"updated_at":      u.UpdatedAt,
	}
	if u.TableID != 0 {
		cols["table_id"] = u.TableID
	}
	return cols
}
