package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/testutil"
	"github.com/yeremiapane/tablesync/utils"
)

const seedYAML = `
restaurant:
  name: Dockside Diner
  timezone: Europe/London
  open_time: "07:00"
  close_time: "22:00"
tables: [A1, A2]
staff:
  - name: Sam
    email: " Sam@Dockside.test "
    password: hunter22
    role: manager
  - name: Kit
    email: kit@dockside.test
    password: hunter33
addon_groups:
  - name: Sides
    items:
      - {name: Fries, price: 2.50}
      - {name: Salad, price: 3.00}
menu:
  - name: Burger
    price: 9.00
    pos_code: BG
    addon_groups: [Sides]
    variations:
      - name: Double
        price: 12.00
        addon_groups: [Sides]
  - name: Lemonade
    price: 3.50
`

func TestApplySeed(t *testing.T) {
	db := testutil.NewDB(t)
	seed, err := DecodeSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)

	report, err := ApplySeed(db, seed, 4)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Tables)
	assert.Equal(t, 2, report.Staff)
	assert.Equal(t, 2, report.MenuItems)
	assert.Equal(t, 1, report.Variations)
	assert.Equal(t, 2, report.AddonItems)

	var restaurant models.Restaurant
	require.NoError(t, db.First(&restaurant, report.RestaurantID).Error)
	assert.Equal(t, "Europe/London", restaurant.Timezone)
	assert.Equal(t, "07:00", restaurant.OpenTime)

	var tables []models.Table
	require.NoError(t, db.Where("restaurant_id = ?", report.RestaurantID).Order("table_number").Find(&tables).Error)
	require.Len(t, tables, 2)
	assert.Equal(t, models.TableStatusOpen, tables[0].Status)
	assert.Len(t, tables[0].PID, 36)

	var sam models.StaffUser
	require.NoError(t, db.Where("email = ?", "sam@dockside.test").First(&sam).Error)
	assert.True(t, utils.VerifyPassword(sam.Password, "hunter22"))

	var kit models.StaffUser
	require.NoError(t, db.Where("email = ?", "kit@dockside.test").First(&kit).Error)
	assert.Equal(t, "staff", kit.Role)

	var links int64
	require.NoError(t, db.Model(&models.MenuItemAddonGroup{}).Count(&links).Error)
	assert.Equal(t, int64(1), links)
	require.NoError(t, db.Model(&models.VariationAddonGroup{}).Count(&links).Error)
	assert.Equal(t, int64(1), links)
}

func TestApplySeedRollsBackOnUnknownGroup(t *testing.T) {
	db := testutil.NewDB(t)
	seed, err := DecodeSeed(strings.NewReader(`
restaurant: {name: Broken}
tables: [B1]
menu:
  - name: Soup
    price: 4
    addon_groups: [Missing]
`))
	require.NoError(t, err)

	_, err = ApplySeed(db, seed, 4)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown addon group "Missing"`)

	var count int64
	require.NoError(t, db.Model(&models.Restaurant{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDecodeSeedRejectsBadInput(t *testing.T) {
	_, err := DecodeSeed(strings.NewReader("tables: [A1]\n"))
	assert.ErrorContains(t, err, "restaurant.name is required")

	_, err = DecodeSeed(strings.NewReader("restaurant: {name: X}\nchairs: 4\n"))
	assert.Error(t, err, "unknown keys are rejected")
}
