package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OrderStatusProcessing = "processing"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusFailed     = "failed"
	OrderStatusCancelled  = "cancelled"
)

// Order is the priced snapshot of the cart items locked at submit time.
// Payload holds an encoded OrderPayload.
type Order struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	RestaurantID   uint           `gorm:"not null;index" json:"restaurant_id"`
	SessionID      uint           `gorm:"not null;index" json:"-"`
	TableID        uint           `gorm:"not null;index" json:"table_id"`
	SubmittedBy    uint           `gorm:"not null" json:"-"`
	Status         string         `gorm:"type:varchar(20);not null;default:'processing';index" json:"status"`
	Payload        datatypes.JSON `json:"payload"`
	CartHash       string         `gorm:"type:varchar(64);not null" json:"cart_hash"`
	Total          float64        `gorm:"type:decimal(10,2);not null;default:0.00" json:"total"`
	PayMethod      string         `gorm:"type:varchar(32)" json:"pay_method"`
	POSReference   string         `gorm:"column:pos_reference;type:varchar(128)" json:"pos_reference,omitempty"`
	POSAttempts    int            `gorm:"column:pos_attempts;not null;default:0" json:"pos_attempts"`
	LastError      string         `gorm:"type:text" json:"last_error,omitempty"`
	Acknowledged   bool           `gorm:"not null;default:false" json:"acknowledged"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ConfirmedAt    *time.Time     `json:"confirmed_at,omitempty"`
	CreatedAt      time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
}

// OrderPayload is what gets sent to the POS and shown to staff.
type OrderPayload struct {
	OrderID     uint        `json:"order_id"`
	TableNumber string      `json:"table_number"`
	PayMethod   string      `json:"pay_method"`
	Lines       []OrderLine `json:"lines"`
	Total       float64     `json:"total"`
}

type OrderLine struct {
	CartItemID    uint             `json:"cart_item_id"`
	MemberPID     string           `json:"member_pid"`
	MenuItemID    uint             `json:"menu_item_id"`
	Name          string           `json:"name"`
	POSCode       string           `json:"pos_code,omitempty"`
	VariationID   *uint            `json:"variation_id,omitempty"`
	VariationName string           `json:"variation_name,omitempty"`
	Addons        []OrderLineAddon `json:"addons,omitempty"`
	Quantity      int              `json:"qty"`
	Note          string           `json:"note,omitempty"`
	UnitPrice     float64          `json:"unit_price"`
	LineTotal     float64          `json:"line_total"`
}

type OrderLineAddon struct {
	AddonID  uint    `json:"addon_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"qty"`
}

// OrderStatusUpdate is the column set for an order transition.
type OrderStatusUpdate struct {
	Status       string
	POSReference *string
	LastError    *string
	ConfirmedAt  *time.Time
	BumpAttempts bool
	UpdatedAt    time.Time
}

func (u OrderStatusUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{
		"status":     u.Status,
		"updated_at": u.UpdatedAt,
	}
	if u.POSReference != nil {
		cols["pos_reference"] = *u.POSReference
	}
	if u.LastError != nil {
		cols["last_error"] = *u.LastError
	}
	if u.ConfirmedAt != nil {
		cols["confirmed_at"] = *u.ConfirmedAt
	}
	if u.BumpAttempts {
		cols["pos_attempts"] = gorm.Expr("pos_attempts + 1")
	}
	return cols
}

// OrderLineEdit is a staff correction applied by edit_order.
type OrderLineEdit struct {
	CartItemID uint    `json:"cart_item_id"`
	Quantity   *int    `json:"qty,omitempty"`
	Note       *string `json:"note,omitempty"`
	Remove     bool    `json:"remove,omitempty"`
}
