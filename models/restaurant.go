package models

import (
	"time"
)

// Restaurant is the resolved tenant every table, session and order belongs to.
// OpenTime/CloseTime are "HH:MM" in Timezone; both empty means always open.
type Restaurant struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"type:varchar(255);not null" json:"name"`
	Timezone         string     `gorm:"type:varchar(64);not null;default:'UTC'" json:"timezone"`
	OpenTime         string     `gorm:"type:varchar(5)" json:"open_time"`
	CloseTime        string     `gorm:"type:varchar(5)" json:"close_time"`
	RequireDailyPass bool       `gorm:"not null;default:false" json:"require_daily_pass"`
	DailyPassHash    string     `gorm:"type:varchar(255)" json:"-"`
	DailyPassSetAt   *time.Time `json:"daily_pass_set_at,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"not null" json:"updated_at"`
}

// IsOpenAt reports whether t falls inside the operating hours. Windows that
// cross midnight (close before open) are supported.
func (r *Restaurant) IsOpenAt(t time.Time) bool {
	if r.OpenTime == "" || r.CloseTime == "" {
		return true
	}
	openAt, err1 := time.Parse("15:04", r.OpenTime)
	closeAt, err2 := time.Parse("15:04", r.CloseTime)
	if err1 != nil || err2 != nil {
		return true
	}

	loc, err := time.LoadLocation(r.Timezone)
	if err != nil || r.Timezone == "" {
		loc = time.UTC
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	from := openAt.Hour()*60 + openAt.Minute()
	to := closeAt.Hour()*60 + closeAt.Minute()

	if from == to {
		return true
	}
	if from < to {
		return minutes >= from && minutes < to
	}
	return minutes >= from || minutes < to
}
