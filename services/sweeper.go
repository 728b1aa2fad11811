package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

// SessionSweeper periodically expires idle sessions. Sessions with items
// locked in an order are left alone until staff settle the order.
type SessionSweeper struct {
	DB       *gorm.DB
	Notify   Notifier
	IdleTTL  time.Duration
	Interval time.Duration
	Now      func() time.Time

	stopChan chan struct{}
	stopOnce sync.Once
}

func NewSessionSweeper(db *gorm.DB, notify Notifier, idleTTL, interval time.Duration) *SessionSweeper {
	return &SessionSweeper{
		DB:       db,
		Notify:   notify,
		IdleTTL:  idleTTL,
		Interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (sw *SessionSweeper) Start() {
	go func() {
		ticker := time.NewTicker(sw.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := sw.SweepOnce(context.Background()); err != nil {
					utils.ErrorLogger.WithError(err).Error("session sweep failed")
				}
			case <-sw.stopChan:
				return
			}
		}
	}()
}

func (sw *SessionSweeper) Stop() {
	sw.stopOnce.Do(func() { close(sw.stopChan) })
}

// SweepOnce expires every idle session and returns how many it ended.
func (sw *SessionSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := clock(sw.Now).now()
	cutoff := now.Add(-sw.IdleTTL)
	db := sw.DB.WithContext(ctx)

	locked := db.Model(&models.CartItem{}).Select("session_id").Where("state = ?", models.CartItemLocked)
	var idle []models.Session
	if err := db.Where("state = ? AND last_activity_at < ? AND id NOT IN (?)", models.SessionStateActive, cutoff, locked).
		Find(&idle).Error; err != nil {
		return 0, err
	}

	expired := 0
	for i := range idle {
		session := idle[i]
		err := db.Transaction(func(tx *gorm.DB) error {
			return endSession(tx, &session, models.SessionStateExpired, now)
		})
		if IsKind(err, KindConflict) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++

		utils.InfoLogger.WithFields(logrus.Fields{"session": session.PID, "idle_since": session.LastActivityAt}).Info("session expired")
		sw.Notify.closeSession(session.PID, "expired")
		var table models.Table
		if err := db.First(&table, session.TableID).Error; err == nil {
			if view, err := tableView(db, table); err == nil {
				sw.Notify.admin(table.RestaurantID, hub.EventTableUpdate, view)
			}
		}
	}
	return expired, nil
}
