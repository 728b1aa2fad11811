package services

import (
	"context"
	"time"

	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

type WaiterService struct {
	DB     *gorm.DB
	Notify Notifier
	Now    func() time.Time
}

func (s *WaiterService) now() time.Time { return clock(s.Now).now() }

// Create raises a waiter request for the caller's table. An identical
// pending request from the same session is returned instead of duplicated.
func (s *WaiterService) Create(ctx context.Context, p *Principal, kind string) (*models.WaiterRequestView, error) {
	if kind != models.WaiterRequestCallWaiter && kind != models.WaiterRequestAskForBill {
		return nil, errValidation(CodeInvalidRequest, "type must be call_waiter or ask_for_bill")
	}

	db := s.DB.WithContext(ctx)
	var existing models.WaiterRequest
	err := db.Where("session_id = ? AND type = ? AND status = ?", p.Session.ID, kind, models.WaiterRequestPending).
		First(&existing).Error
	if err == nil {
		return s.view(db, existing), nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	req := models.WaiterRequest{
		RestaurantID: p.Session.RestaurantID,
		TableID:      p.Session.TableID,
		SessionID:    p.Session.ID,
		MemberID:     p.Member.ID,
		Type:         kind,
		Status:       models.WaiterRequestPending,
	}
	if err := db.Create(&req).Error; err != nil {
		return nil, err
	}

	view := s.view(db, req)
	utils.InfoLogger.WithField("table", view.TableNumber).Infof("waiter request %s", kind)
	s.Notify.admin(req.RestaurantID, hub.EventWaiterRequest, view)
	return view, nil
}

// Resolve closes a pending request.
func (s *WaiterService) Resolve(ctx context.Context, admin *AdminPrincipal, requestID uint) (*models.WaiterRequestView, error) {
	db := s.DB.WithContext(ctx)
	var req models.WaiterRequest
	err := db.Where("id = ? AND restaurant_id = ?", requestID, admin.RestaurantID).First(&req).Error
	if isNotFound(err) {
		return nil, errNotFound(CodeRequestNotFound, "waiter request not found")
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	staffID := admin.StaffID
	res := db.Model(&models.WaiterRequest{}).
		Where("id = ? AND status = ?", req.ID, models.WaiterRequestPending).
		Updates(map[string]interface{}{
			"status":      models.WaiterRequestResolved,
			"resolved_by": staffID,
			"resolved_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, errConflict(CodeAlreadyResolved, "request was already resolved", s.view(db, req))
	}
	req.Status = models.WaiterRequestResolved
	req.ResolvedBy = &staffID
	req.ResolvedAt = &now

	view := s.view(db, req)
	s.Notify.admin(req.RestaurantID, hub.EventWaiterRequestResolved, view)
	return view, nil
}

func (s *WaiterService) Pending(ctx context.Context, restaurantID uint) ([]models.WaiterRequestView, error) {
	db := s.DB.WithContext(ctx)
	var reqs []models.WaiterRequest
	if err := db.Where("restaurant_id = ? AND status = ?", restaurantID, models.WaiterRequestPending).
		Order("created_at ASC, id ASC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	out := make([]models.WaiterRequestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, *s.view(db, r))
	}
	return out, nil
}

func (s *WaiterService) view(db *gorm.DB, req models.WaiterRequest) *models.WaiterRequestView {
	view := &models.WaiterRequestView{WaiterRequest: req}
	var table models.Table
	if err := db.Select("table_number").First(&table, req.TableID).Error; err == nil {
		view.TableNumber = table.TableNumber
	}
	return view
}
