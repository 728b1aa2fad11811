package models

import "time"

// Member is one device inside a session. HostSessionID is set only on the
// host row so the unique index admits a single host per session.
type Member struct {
	ID            uint       `gorm:"primaryKey" json:"-"`
	PID           string     `gorm:"column:pid;type:varchar(36);uniqueIndex;not null" json:"member_pid"`
	SessionID     uint       `gorm:"not null;uniqueIndex:idx_member_session_device" json:"-"`
	DeviceID      string     `gorm:"type:varchar(128);not null;uniqueIndex:idx_member_session_device" json:"-"`
	Nickname      string     `gorm:"type:varchar(64);not null" json:"nickname"`
	IsHost        bool       `gorm:"not null;default:false" json:"is_host"`
	HostSessionID *uint      `gorm:"uniqueIndex" json:"-"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt     time.Time  `gorm:"not null" json:"joined_at"`
	UpdatedAt     time.Time  `gorm:"not null" json:"-"`
}
