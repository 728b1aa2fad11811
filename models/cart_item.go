package models

import "time"

const (
	CartItemPending = "pending"
	CartItemLocked  = "locked"
	CartItemOrdered = "ordered"
)

// CartItem is one line of the shared cart. Version is bumped by exactly one on
// every diner edit and guards every write with compare-and-increment.
type CartItem struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	SessionID   uint            `gorm:"not null;index" json:"-"`
	MemberID    uint            `gorm:"not null;index" json:"-"`
	MenuItemID  uint            `gorm:"not null" json:"menu_item_id"`
	VariationID *uint           `json:"variation_id,omitempty"`
	Quantity    int             `gorm:"not null" json:"qty"`
	Note        string          `gorm:"type:text" json:"note"`
	State       string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"state"`
	OrderID     *uint           `gorm:"index" json:"order_id,omitempty"`
	Version     int             `gorm:"not null;default:1" json:"version"`
	Addons      []CartItemAddon `gorm:"foreignKey:CartItemID;constraint:OnDelete:CASCADE" json:"addons"`
	CreatedAt   time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"not null" json:"updated_at"`
}

type CartItemAddon struct {
	ID          uint `gorm:"primaryKey" json:"-"`
	CartItemID  uint `gorm:"not null;index" json:"-"`
	AddonItemID uint `gorm:"not null" json:"addon_id"`
	Quantity    int  `gorm:"not null;default:1" json:"qty"`
}

// AddonSelection is the client-supplied addon choice.
type AddonSelection struct {
	AddonID  uint `json:"addon_id" binding:"required"`
	Quantity int  `json:"qty"`
}

// CartItemUpdate is a qty/note edit. Nil fields are left untouched.
type CartItemUpdate struct {
	Quantity *int
	Note     *string
}

// CartItemShape is the full composition used by replace.
type CartItemShape struct {
	MenuItemID  uint
	VariationID *uint
	Addons      []AddonSelection
}

// CartItemView is a cart line as diners see it, priced and attributed.
type CartItemView struct {
	ID            uint                `json:"id"`
	MemberPID     string              `json:"member_pid"`
	Nickname      string              `json:"nickname"`
	MenuItemID    uint                `json:"menu_item_id"`
	MenuItemName  string              `json:"menu_item_name"`
	VariationID   *uint               `json:"variation_id,omitempty"`
	VariationName string              `json:"variation_name,omitempty"`
	Addons        []CartItemAddonView `json:"addons"`
	Quantity      int                 `json:"qty"`
	Note          string              `json:"note"`
	State         string              `json:"state"`
	OrderID       *uint               `json:"order_id,omitempty"`
	Version       int                 `json:"version"`
	UnitPrice     float64             `json:"unit_price"`
	LineTotal     float64             `json:"line_total"`
}

type CartItemAddonView struct {
	AddonID  uint    `json:"addon_id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"qty"`
}
