package database

import (
	"fmt"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

// Models lists every persisted entity in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.Restaurant{},
		&models.StaffUser{},
		&models.Table{},
		&models.Session{},
		&models.Member{},
		&models.MenuItem{},
		&models.Variation{},
		&models.AddonGroup{},
		&models.AddonItem{},
		&models.MenuItemAddonGroup{},
		&models.VariationAddonGroup{},
		&models.Order{},
		&models.CartItem{},
		&models.CartItemAddon{},
		&models.WaiterRequest{},
	}
}

type extraIndex struct {
	name    string
	table   string
	columns string
}

// Composite indexes on the hot read paths that struct tags do not express.
var extraIndexes = []extraIndex{
	{"idx_cart_items_session_state", "cart_items", "session_id, state"},
	{"idx_orders_restaurant_status", "orders", "restaurant_id, status"},
	{"idx_sessions_table_closed", "sessions", "table_id, closed_at"},
	{"idx_waiter_requests_restaurant_status", "waiter_requests", "restaurant_id, status"},
}

// Migrate brings the schema up to date. It is safe to run repeatedly.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	for _, idx := range extraIndexes {
		if db.Migrator().HasIndex(idx.table, idx.name) {
			continue
		}
		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.name, idx.table, idx.columns)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
		utils.InfoLogger.Infof("created index %s", idx.name)
	}

	utils.InfoLogger.Info("migration completed")
	return nil
}
