package models

import "time"

const (
	WaiterRequestCallWaiter = "call_waiter"
	WaiterRequestAskForBill = "ask_for_bill"

	WaiterRequestPending  = "pending"
	WaiterRequestResolved = "resolved"
)

type WaiterRequest struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	RestaurantID uint       `gorm:"not null;index" json:"restaurant_id"`
	TableID      uint       `gorm:"not null" json:"table_id"`
	SessionID    uint       `gorm:"not null;index" json:"-"`
	MemberID     uint       `gorm:"not null" json:"-"`
	Type         string     `gorm:"type:varchar(20);not null" json:"type"`
	Status       string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ResolvedBy   *uint      `json:"resolved_by,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

// WaiterRequestView adds the table label for the dashboard.
type WaiterRequestView struct {
	WaiterRequest
	TableNumber string `json:"table_number"`
}
