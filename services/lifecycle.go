package services

import (
	"time"

	"github.com/yeremiapane/tablesync/models"
	"gorm.io/gorm"
)

// Every session end (admin close, host close, idle expiry) leaves the table
// dirty; only an explicit enable reopens it.
const postCloseTableStatus = models.TableStatusDirty

// endSession moves an active session to state and marks its table dirty. It
// fails with a conflict when the session is no longer active.
func endSession(tx *gorm.DB, session *models.Session, state string, now time.Time) error {
	update := models.SessionStateUpdate{State: state, ClosedAt: &now, UpdatedAt: now}
	res := tx.Model(&models.Session{}).
		Where("id = ? AND state = ?", session.ID, models.SessionStateActive).
		Updates(update.Columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errConflict(CodeNoActiveSession, "session is no longer active", nil)
	}

	if err := tx.Model(&models.Member{}).
		Where("session_id = ?", session.ID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": now}).Error; err != nil {
		return err
	}

	if err := setTableStatus(tx, session.TableID, postCloseTableStatus, now); err != nil {
		return err
	}

	session.State = state
	session.ActiveTableID = nil
	session.ClosedAt = &now
	return nil
}

func setTableStatus(tx *gorm.DB, tableID uint, status string, now time.Time) error {
	return tx.Model(&models.Table{}).
		Where("id = ?", tableID).
		Updates(map[string]interface{}{"status": status, "updated_at": now}).Error
}

func activeSessionForTable(tx *gorm.DB, tableID uint) (*models.Session, error) {
	var session models.Session
	err := tx.Where("active_table_id = ?", tableID).First(&session).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// tableView renders a table with its live session for the admin dashboard.
func tableView(tx *gorm.DB, table models.Table) (models.TableView, error) {
	view := models.TableView{Table: table}
	session, err := activeSessionForTable(tx, table.ID)
	if err != nil {
		return view, err
	}
	if session != nil {
		view.SessionPID = session.PID
		if err := tx.Model(&models.Member{}).
			Where("session_id = ? AND is_active = ?", session.ID, true).
			Count(&view.MemberCount).Error; err != nil {
			return view, err
		}
	}
	return view, nil
}

func touchSession(tx *gorm.DB, sessionID uint, now time.Time) error {
	return tx.Model(&models.Session{}).Where("id = ?", sessionID).Update("last_activity_at", now).Error
}
