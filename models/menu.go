package models

import "time"

// MenuItem is read-only from the cart engine's point of view.
type MenuItem struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	RestaurantID uint        `gorm:"not null;index" json:"restaurant_id"`
	Name         string      `gorm:"type:varchar(255);not null" json:"name"`
	Price        float64     `gorm:"type:decimal(10,2);not null" json:"price"`
	POSCode      string      `gorm:"column:pos_code;type:varchar(64)" json:"pos_code,omitempty"`
	IsActive     bool        `gorm:"not null;default:true" json:"is_active"`
	Variations   []Variation `gorm:"foreignKey:MenuItemID" json:"variations,omitempty"`
	CreatedAt    time.Time   `gorm:"not null" json:"-"`
	UpdatedAt    time.Time   `gorm:"not null" json:"-"`
}

// Variation overrides the menu item price absolutely (not a delta).
type Variation struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MenuItemID uint      `gorm:"not null;index" json:"menu_item_id"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Price      float64   `gorm:"type:decimal(10,2);not null" json:"price"`
	IsActive   bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"not null" json:"-"`
	UpdatedAt  time.Time `gorm:"not null" json:"-"`
}

type AddonGroup struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	RestaurantID uint        `gorm:"not null;index" json:"restaurant_id"`
	Name         string      `gorm:"type:varchar(255);not null" json:"name"`
	IsActive     bool        `gorm:"not null;default:true" json:"is_active"`
	Items        []AddonItem `gorm:"foreignKey:GroupID" json:"items,omitempty"`
	CreatedAt    time.Time   `gorm:"not null" json:"-"`
	UpdatedAt    time.Time   `gorm:"not null" json:"-"`
}

type AddonItem struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	GroupID   uint      `gorm:"not null;index" json:"group_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Price     float64   `gorm:"type:decimal(10,2);not null" json:"price"`
	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"not null" json:"-"`
	UpdatedAt time.Time `gorm:"not null" json:"-"`
}

// MenuItemAddonGroup links the base addon set of a menu item.
type MenuItemAddonGroup struct {
	ID           uint `gorm:"primaryKey"`
	MenuItemID   uint `gorm:"not null;uniqueIndex:idx_item_addon_group"`
	AddonGroupID uint `gorm:"not null;uniqueIndex:idx_item_addon_group"`
	IsActive     bool `gorm:"not null;default:true"`
}

// VariationAddonGroup links a variation-specific addon set. When a variation
// has any links they replace the item's base set.
type VariationAddonGroup struct {
	ID           uint `gorm:"primaryKey"`
	VariationID  uint `gorm:"not null;uniqueIndex:idx_variation_addon_group"`
	AddonGroupID uint `gorm:"not null;uniqueIndex:idx_variation_addon_group"`
	IsActive     bool `gorm:"not null;default:true"`
}
