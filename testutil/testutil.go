// Package testutil holds fixtures shared by the package tests: an in-memory
// database with a seeded restaurant, a controllable clock and a recording
// broadcaster.
package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/database"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// StaffPassword is the plain password of the seeded staff user.
const StaffPassword = "secret-pass"

// NewDB opens a fresh shared-cache in-memory database and migrates it. A
// single connection serialises writers the way row locks would.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:tablesync_%d?mode=memory&cache=shared&_foreign_keys=on", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Fixture is the seeded catalogue.
type Fixture struct {
	Restaurant models.Restaurant
	Tables     []models.Table
	Staff      models.StaffUser

	FlatWhite    models.MenuItem
	Oat          models.Variation
	Large        models.Variation
	Extras       models.AddonGroup
	ExtraShot    models.AddonItem
	Syrup        models.AddonItem
	LargeExtras  models.AddonGroup
	Whipped      models.AddonItem
	Croissant    models.MenuItem
	Discontinued models.MenuItem
}

// Seed writes a restaurant with three open tables and a small menu:
//
//	Flat White 4.50 (Oat 5.00, Large 5.50), addons Extra Shot 0.80, Syrup 0.50
//	Large has its own addon set: Whipped 0.70
//	Croissant 3.20
//	Discontinued (inactive)
func Seed(t testing.TB, db *gorm.DB) *Fixture {
	t.Helper()
	f := &Fixture{}

	f.Restaurant = models.Restaurant{Name: "Harbour Cafe", Timezone: "UTC"}
	require.NoError(t, db.Create(&f.Restaurant).Error)

	for i := 1; i <= 3; i++ {
		table := models.Table{
			PID:          uuid.NewString(),
			RestaurantID: f.Restaurant.ID,
			TableNumber:  fmt.Sprintf("T%d", i),
			Status:       models.TableStatusOpen,
		}
		require.NoError(t, db.Create(&table).Error)
		f.Tables = append(f.Tables, table)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(StaffPassword), bcrypt.MinCost)
	require.NoError(t, err)
	f.Staff = models.StaffUser{
		RestaurantID: f.Restaurant.ID,
		Name:         "Robin",
		Email:        "robin@harbour.test",
		Password:     string(hash),
		Role:         "manager",
	}
	require.NoError(t, db.Create(&f.Staff).Error)

	rid := f.Restaurant.ID
	f.FlatWhite = models.MenuItem{RestaurantID: rid, Name: "Flat White", Price: 4.50, POSCode: "FW", IsActive: true}
	require.NoError(t, db.Create(&f.FlatWhite).Error)
	f.Oat = models.Variation{MenuItemID: f.FlatWhite.ID, Name: "Oat", Price: 5.00, IsActive: true}
	require.NoError(t, db.Create(&f.Oat).Error)
	f.Large = models.Variation{MenuItemID: f.FlatWhite.ID, Name: "Large", Price: 5.50, IsActive: true}
	require.NoError(t, db.Create(&f.Large).Error)

	f.Extras = models.AddonGroup{RestaurantID: rid, Name: "Extras", IsActive: true}
	require.NoError(t, db.Create(&f.Extras).Error)
	f.ExtraShot = models.AddonItem{GroupID: f.Extras.ID, Name: "Extra Shot", Price: 0.80, IsActive: true}
	require.NoError(t, db.Create(&f.ExtraShot).Error)
	f.Syrup = models.AddonItem{GroupID: f.Extras.ID, Name: "Syrup", Price: 0.50, IsActive: true}
	require.NoError(t, db.Create(&f.Syrup).Error)
	require.NoError(t, db.Create(&models.MenuItemAddonGroup{
		MenuItemID: f.FlatWhite.ID, AddonGroupID: f.Extras.ID, IsActive: true,
	}).Error)

	f.LargeExtras = models.AddonGroup{RestaurantID: rid, Name: "Large Extras", IsActive: true}
	require.NoError(t, db.Create(&f.LargeExtras).Error)
	f.Whipped = models.AddonItem{GroupID: f.LargeExtras.ID, Name: "Whipped", Price: 0.70, IsActive: true}
	require.NoError(t, db.Create(&f.Whipped).Error)
	require.NoError(t, db.Create(&models.VariationAddonGroup{
		VariationID: f.Large.ID, AddonGroupID: f.LargeExtras.ID, IsActive: true,
	}).Error)

	f.Croissant = models.MenuItem{RestaurantID: rid, Name: "Croissant", Price: 3.20, POSCode: "CR", IsActive: true}
	require.NoError(t, db.Create(&f.Croissant).Error)

	// is_active defaults to true, so the zero value has to be written explicitly.
	f.Discontinued = models.MenuItem{RestaurantID: rid, Name: "Discontinued", Price: 2.00, IsActive: true}
	require.NoError(t, db.Create(&f.Discontinued).Error)
	require.NoError(t, db.Model(&f.Discontinued).Update("is_active", false).Error)
	f.Discontinued.IsActive = false

	return f
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Sent is one recorded broadcast.
type Sent struct {
	Channel string
	Message hub.Message
}

// Closed is one recorded channel close.
type Closed struct {
	Channel string
	Code    int
	Reason  string
}

// Recorder is a hub.Broadcaster that keeps everything it is asked to send.
type Recorder struct {
	mu     sync.Mutex
	sent   []Sent
	closed []Closed
}

func (r *Recorder) Broadcast(channel string, msg hub.Message) {
	r.mu.Lock()
	r.sent = append(r.sent, Sent{Channel: channel, Message: msg})
	r.mu.Unlock()
}

func (r *Recorder) CloseChannel(channel string, code int, reason string) {
	r.mu.Lock()
	r.closed = append(r.closed, Closed{Channel: channel, Code: code, Reason: reason})
	r.mu.Unlock()
}

func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.sent...)
}

func (r *Recorder) Closed() []Closed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Closed(nil), r.closed...)
}

// Events returns the event names sent to channel, in order.
func (r *Recorder) Events(channel string) []string {
	var out []string
	for _, s := range r.Sent() {
		if s.Channel == channel {
			out = append(out, s.Message.Event)
		}
	}
	return out
}

// Last returns the most recent message of the given event on channel.
func (r *Recorder) Last(channel, event string) (hub.Message, bool) {
	sent := r.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Channel == channel && sent[i].Message.Event == event {
			return sent[i].Message, true
		}
	}
	return hub.Message{}, false
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.sent = nil
	r.closed = nil
	r.mu.Unlock()
}
