package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/yeremiapane/tablesync/models"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_idempotent?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	require.NoError(t, Migrate(db))
	require.NoError(t, Migrate(db))

	for _, idx := range extraIndexes {
		assert.True(t, db.Migrator().HasIndex(idx.table, idx.name), idx.name)
	}
	assert.True(t, db.Migrator().HasTable(&models.CartItemAddon{}))
}

func TestActiveSessionUniqueIndex(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_active_unique?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	tableID := uint(1)
	first := models.Session{PID: "s-1", RestaurantID: 1, TableID: tableID, ActiveTableID: &tableID, State: models.SessionStateActive}
	require.NoError(t, db.Create(&first).Error)

	second := models.Session{PID: "s-2", RestaurantID: 1, TableID: tableID, ActiveTableID: &tableID, State: models.SessionStateActive}
	assert.ErrorIs(t, db.Create(&second).Error, gorm.ErrDuplicatedKey)

	closed := models.Session{PID: "s-3", RestaurantID: 1, TableID: tableID, State: models.SessionStateClosed}
	assert.NoError(t, db.Create(&closed).Error, "inactive sessions do not occupy the index")
	closedToo := models.Session{PID: "s-4", RestaurantID: 1, TableID: tableID, State: models.SessionStateExpired}
	assert.NoError(t, db.Create(&closedToo).Error)
}

func TestColumnNamesMatchQueries(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:migrate_columns?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	for _, model := range []interface{}{&models.Table{}, &models.Session{}, &models.Member{}} {
		assert.True(t, db.Migrator().HasColumn(model, "pid"))
		assert.False(t, db.Migrator().HasColumn(model, "p_id"))
	}
	assert.True(t, db.Migrator().HasColumn(&models.MenuItem{}, "pos_code"))
	assert.True(t, db.Migrator().HasColumn(&models.Order{}, "pos_reference"))
	assert.True(t, db.Migrator().HasColumn(&models.Order{}, "pos_attempts"))

	table := models.Table{PID: "t-1", RestaurantID: 1, TableNumber: "T1"}
	require.NoError(t, db.Create(&table).Error)
	var found models.Table
	require.NoError(t, db.Where("pid = ?", "t-1").First(&found).Error)
	assert.Equal(t, table.ID, found.ID)
}
