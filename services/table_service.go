package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

// TableService is the admin control plane for table status. It observes the
// cart engine but never edits carts.
type TableService struct {
	DB     *gorm.DB
	Notify Notifier
	Now    func() time.Time
}

func (s *TableService) now() time.Time { return clock(s.Now).now() }

// Snapshot lists every table of the restaurant with its live session.
func (s *TableService) Snapshot(ctx context.Context, restaurantID uint) ([]models.TableView, error) {
	db := s.DB.WithContext(ctx)
	var tables []models.Table
	if err := db.Where("restaurant_id = ?", restaurantID).Order("table_number ASC").Find(&tables).Error; err != nil {
		return nil, err
	}
	views := make([]models.TableView, 0, len(tables))
	for _, t := range tables {
		v, err := tableView(db, t)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Close ends the table's active session; the table becomes dirty.
func (s *TableService) Close(ctx context.Context, admin *AdminPrincipal, tableID uint) (*models.TableView, error) {
	now := s.now()
	var session *models.Session
	view, err := s.mutate(ctx, admin, tableID, func(tx *gorm.DB, table *models.Table) error {
		var err error
		session, err = activeSessionForTable(tx, table.ID)
		if err != nil {
			return err
		}
		if session == nil {
			return errConflict(CodeNoActiveSession, "table has no active session", nil)
		}
		return endSession(tx, session, models.SessionStateClosed, now)
	})
	if err != nil {
		return nil, err
	}

	s.log(admin, "close", view).WithField("session", session.PID).Info("table closed")
	s.Notify.closeSession(session.PID, "closed_by_staff")
	s.Notify.admin(admin.RestaurantID, hub.EventTableUpdate, view)
	return view, nil
}

// Disable takes an idle table out of service.
func (s *TableService) Disable(ctx context.Context, admin *AdminPrincipal, tableID uint) (*models.TableView, error) {
	now := s.now()
	view, err := s.mutate(ctx, admin, tableID, func(tx *gorm.DB, table *models.Table) error {
		session, err := activeSessionForTable(tx, table.ID)
		if err != nil {
			return err
		}
		if session != nil {
			return errConflict(CodeTableBusy, "table has an active session", nil)
		}
		if table.Status == models.TableStatusDisabled {
			return errConflict(CodeInvalidTransition, "table is already disabled", nil)
		}
		return setTableStatus(tx, table.ID, models.TableStatusDisabled, now)
	})
	if err != nil {
		return nil, err
	}
	s.log(admin, "disable", view).Info("table disabled")
	s.Notify.admin(admin.RestaurantID, hub.EventTableUpdate, view)
	return view, nil
}

// Enable reopens a disabled or dirty table.
func (s *TableService) Enable(ctx context.Context, admin *AdminPrincipal, tableID uint) (*models.TableView, error) {
	now := s.now()
	view, err := s.mutate(ctx, admin, tableID, func(tx *gorm.DB, table *models.Table) error {
		if table.Status != models.TableStatusDisabled && table.Status != models.TableStatusDirty {
			return errConflict(CodeInvalidTransition, fmt.Sprintf("table is %s", table.Status), nil)
		}
		return setTableStatus(tx, table.ID, models.TableStatusOpen, now)
	})
	if err != nil {
		return nil, err
	}
	s.log(admin, "enable", view).Info("table enabled")
	s.Notify.admin(admin.RestaurantID, hub.EventTableUpdate, view)
	return view, nil
}

// Restore reactivates the table's most recently ended session, undoing an
// accidental close.
func (s *TableService) Restore(ctx context.Context, admin *AdminPrincipal, tableID uint) (*models.TableView, error) {
	now := s.now()
	var restored models.Session
	view, err := s.mutate(ctx, admin, tableID, func(tx *gorm.DB, table *models.Table) error {
		active, err := activeSessionForTable(tx, table.ID)
		if err != nil {
			return err
		}
		if active != nil {
			return errConflict(CodeTableBusy, "table already has an active session", nil)
		}
		if table.Status == models.TableStatusDisabled {
			return errConflict(CodeInvalidTransition, "table is disabled, enable it before restoring", nil)
		}

		err = tx.Where("table_id = ? AND state IN ?", table.ID, []string{models.SessionStateClosed, models.SessionStateExpired}).
			Order("closed_at DESC, id DESC").First(&restored).Error
		if isNotFound(err) {
			return errNotFound(CodeNothingToRestore, "no closed session to restore")
		}
		if err != nil {
			return err
		}

		tid := table.ID
		update := models.SessionStateUpdate{State: models.SessionStateActive, ActiveTableID: &tid, UpdatedAt: now}
		cols := update.Columns()
		cols["last_activity_at"] = now
		if err := tx.Model(&models.Session{}).Where("id = ?", restored.ID).Updates(cols).Error; err != nil {
			if isDuplicateKey(err) {
				return errConflict(CodeTableBusy, "table already has an active session", nil)
			}
			return err
		}
		if err := tx.Model(&models.Member{}).Where("session_id = ?", restored.ID).
			Updates(map[string]interface{}{"is_active": true, "updated_at": now}).Error; err != nil {
			return err
		}
		return setTableStatus(tx, table.ID, models.TableStatusOpen, now)
	})
	if err != nil {
		return nil, err
	}
	s.log(admin, "restore", view).WithField("session", restored.PID).Info("session restored")
	s.Notify.admin(admin.RestaurantID, hub.EventTableUpdate, view)
	return view, nil
}

// Move relocates the active session of one table to an open, idle table.
// The source table is left dirty.
func (s *TableService) Move(ctx context.Context, admin *AdminPrincipal, fromID, toID uint) ([]models.TableView, error) {
	if fromID == toID {
		return nil, errValidation(CodeInvalidRequest, "source and destination are the same table")
	}
	now := s.now()

	var (
		from, to models.Table
		session  *models.Session
		views    []models.TableView
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.findTable(tx, admin.RestaurantID, fromID, &from); err != nil {
			return err
		}
		if err := s.findTable(tx, admin.RestaurantID, toID, &to); err != nil {
			return err
		}

		var err error
		session, err = activeSessionForTable(tx, from.ID)
		if err != nil {
			return err
		}
		if session == nil {
			return errConflict(CodeNoActiveSession, "source table has no active session", nil)
		}
		if to.Status != models.TableStatusOpen {
			return errConflict(CodeDestinationBusy, fmt.Sprintf("destination table is %s", to.Status), nil)
		}
		busy, err := activeSessionForTable(tx, to.ID)
		if err != nil {
			return err
		}
		if busy != nil {
			return errConflict(CodeDestinationBusy, "destination table has an active session", nil)
		}

		if err := tx.Model(&models.Session{}).Where("id = ? AND state = ?", session.ID, models.SessionStateActive).
			Updates(map[string]interface{}{
				"table_id":         to.ID,
				"active_table_id":  to.ID,
				"last_activity_at": now,
				"updated_at":       now,
			}).Error; err != nil {
			if isDuplicateKey(err) {
				return errConflict(CodeDestinationBusy, "destination table has an active session", nil)
			}
			return err
		}
		if err := setTableStatus(tx, from.ID, postCloseTableStatus, now); err != nil {
			return err
		}

		for _, id := range []uint{from.ID, to.ID} {
			var t models.Table
			if err := tx.First(&t, id).Error; err != nil {
				return err
			}
			v, err := tableView(tx, t)
			if err != nil {
				return err
			}
			views = append(views, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"staff":   admin.StaffID,
		"session": session.PID,
		"from":    from.TableNumber,
		"to":      to.TableNumber,
	}).Info("session moved")

	s.Notify.diner(session.PID, hub.EventTableMoved, map[string]interface{}{
		"session_pid":  session.PID,
		"table_pid":    to.PID,
		"table_number": to.TableNumber,
	})
	for _, v := range views {
		s.Notify.admin(admin.RestaurantID, hub.EventTableUpdate, v)
	}
	return views, nil
}

// mutate loads the table inside a transaction, runs fn and returns the
// table's post-commit view.
func (s *TableService) mutate(ctx context.Context, admin *AdminPrincipal, tableID uint, fn func(tx *gorm.DB, table *models.Table) error) (*models.TableView, error) {
	var view models.TableView
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var table models.Table
		if err := s.findTable(tx, admin.RestaurantID, tableID, &table); err != nil {
			return err
		}
		if err := fn(tx, &table); err != nil {
			return err
		}
		if err := tx.First(&table, table.ID).Error; err != nil {
			return err
		}
		var err error
		view, err = tableView(tx, table)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *TableService) findTable(tx *gorm.DB, restaurantID, tableID uint, out *models.Table) error {
	err := tx.Where("id = ? AND restaurant_id = ?", tableID, restaurantID).First(out).Error
	if isNotFound(err) {
		return errNotFound(CodeTableNotFound, "table not found")
	}
	return err
}

func (s *TableService) log(admin *AdminPrincipal, action string, view *models.TableView) *logrus.Entry {
	return utils.InfoLogger.WithFields(logrus.Fields{
		"staff":  admin.StaffID,
		"action": action,
		"table":  view.TableNumber,
		"status": view.Status,
	})
}
