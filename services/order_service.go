package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultPayMethod = "pay_at_counter"

var errCartHashMismatch = errors.New("cart hash mismatch")

// OrderService drives the two-phase order protocol: diners submit and lock
// their items, staff approve, reject, edit or retry the POS placement.
type OrderService struct {
	DB         *gorm.DB
	Notify     Notifier
	POS        POSClient
	Events     EventPublisher
	POSTimeout time.Duration
	Now        func() time.Time
}

type SubmitInput struct {
	Items     []uint
	CartHash  string
	PayMethod string
}

// OrderView is an order as shown on the admin dashboard.
type OrderView struct {
	models.Order
	TableNumber string `json:"table_number"`
	SessionPID  string `json:"session_pid"`
}

func (s *OrderService) now() time.Time { return clock(s.Now).now() }

func (s *OrderService) posTimeout() time.Duration {
	if s.POSTimeout <= 0 {
		return 30 * time.Second
	}
	return s.POSTimeout
}

// Submit turns the requested pending items into one processing order and
// locks them, all or nothing. The client's cart hash must match the server's
// hash of every pending item in the session.
func (s *OrderService) Submit(ctx context.Context, p *Principal, in SubmitInput) (*models.Order, error) {
	if err := requireValidated(p); err != nil {
		return nil, err
	}
	ids := dedupeIDs(in.Items)
	if len(ids) == 0 {
		return nil, errValidation(CodeEmptyOrder, "select at least one item")
	}
	payMethod := strings.TrimSpace(in.PayMethod)
	if payMethod == "" {
		payMethod = defaultPayMethod
	}
	if len(payMethod) > 32 {
		return nil, errValidation(CodeInvalidRequest, "pay_method is too long")
	}

	now := s.now()
	var (
		order       models.Order
		table       models.Table
		payload     models.OrderPayload
		newHash     string
		cartVersion int
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pending, err := pendingItems(tx, p.Session.ID)
		if err != nil {
			return err
		}
		byID := make(map[uint]models.CartItem, len(pending))
		for _, it := range pending {
			byID[it.ID] = it
		}
		selected := make([]models.CartItem, 0, len(ids))
		for _, id := range ids {
			it, ok := byID[id]
			if !ok {
				return errConflict(CodeItemNotPending, fmt.Sprintf("item %d is not pending in this session", id), nil)
			}
			selected = append(selected, it)
		}
		if CartHash(pending) != in.CartHash {
			return errCartHashMismatch
		}

		if err := tx.First(&table, p.Session.TableID).Error; err != nil {
			return err
		}
		cat, err := loadCatalog(tx, p.Session.ID, selected)
		if err != nil {
			return err
		}

		payload = models.OrderPayload{TableNumber: table.TableNumber, PayMethod: payMethod}
		for _, it := range selected {
			line := cat.orderLine(it)
			payload.Lines = append(payload.Lines, line)
			payload.Total += line.LineTotal
		}
		payload.Total = utils.RoundMoney(payload.Total)

		order = models.Order{
			RestaurantID: p.Session.RestaurantID,
			SessionID:    p.Session.ID,
			TableID:      table.ID,
			SubmittedBy:  p.Member.ID,
			Status:       models.OrderStatusProcessing,
			CartHash:     CartHash(selected),
			Total:        payload.Total,
			PayMethod:    payMethod,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		payload.OrderID = order.ID
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		order.Payload = datatypes.JSON(raw)
		if err := tx.Model(&order).Update("payload", order.Payload).Error; err != nil {
			return err
		}

		for _, it := range selected {
			res := tx.Model(&models.CartItem{}).
				Where("id = ? AND session_id = ? AND state = ? AND version = ?", it.ID, p.Session.ID, models.CartItemPending, it.Version).
				Updates(map[string]interface{}{
					"state":      models.CartItemLocked,
					"order_id":   order.ID,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errConflict(CodeItemNotPending, fmt.Sprintf("item %d changed during submit", it.ID), nil)
			}
		}
		if err := touchSession(tx, p.Session.ID, now); err != nil {
			return err
		}

		newHash, cartVersion, err = pendingDigest(tx, p.Session.ID)
		return err
	})
	if err != nil {
		return nil, s.withSnapshot(ctx, p.Session.ID, err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"session": p.Session.PID,
		"order":   order.ID,
		"items":   len(ids),
		"total":   order.Total,
	}).Info("order submitted")

	s.Notify.diner(p.Session.PID, hub.EventOrderCompleted, map[string]interface{}{
		"order_id":     order.ID,
		"status":       order.Status,
		"total":        order.Total,
		"submitted_by": p.Member.PID,
		"lines":        payload.Lines,
	})
	s.Notify.diner(p.Session.PID, hub.EventCartCleared, CartUpdate{
		Action:      "lock",
		ItemIDs:     ids,
		By:          p.Member.PID,
		CartHash:    newHash,
		CartVersion: cartVersion,
	})
	s.Notify.admin(order.RestaurantID, hub.EventNewOrder, OrderView{Order: order, TableNumber: table.TableNumber, SessionPID: p.Session.PID})
	publishEvent(s.Events, s.event(OrderEventSubmitted, order, p.Session.PID, table.TableNumber, ""))
	return &order, nil
}

// withSnapshot attaches the authoritative cart to submit conflicts.
func (s *OrderService) withSnapshot(ctx context.Context, sessionID uint, err error) error {
	mismatch := errors.Is(err, errCartHashMismatch)
	svcErr, isSvc := AsError(err)
	if !mismatch && !(isSvc && svcErr.Kind == KindConflict && svcErr.Current == nil) {
		return err
	}
	snap, snapErr := buildSnapshot(s.DB.WithContext(ctx), sessionID)
	if snapErr != nil {
		return snapErr
	}
	if mismatch {
		return errConflict(CodeCartMismatch, "cart changed since it was last seen", map[string]interface{}{"cart_snapshot": snap})
	}
	svcErr.Current = map[string]interface{}{"cart_snapshot": snap}
	return svcErr
}

// Approve places a processing or failed order with the POS.
func (s *OrderService) Approve(ctx context.Context, admin *AdminPrincipal, orderID uint) (*models.Order, error) {
	order, err := s.loadOrder(s.DB.WithContext(ctx), admin.RestaurantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusProcessing && order.Status != models.OrderStatusFailed {
		return nil, errConflict(CodeInvalidTransition, fmt.Sprintf("order is %s", order.Status), order)
	}
	return s.placeWithPOS(ctx, order, false)
}

// RetryPOS resubmits the stored payload of a failed order. The POS dedupes
// on the order id.
func (s *OrderService) RetryPOS(ctx context.Context, admin *AdminPrincipal, orderID uint) (*models.Order, error) {
	order, err := s.loadOrder(s.DB.WithContext(ctx), admin.RestaurantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusFailed {
		return nil, errConflict(CodeInvalidTransition, fmt.Sprintf("only failed orders can be retried, order is %s", order.Status), order)
	}
	return s.placeWithPOS(ctx, order, true)
}

func (s *OrderService) placeWithPOS(ctx context.Context, order *models.Order, retry bool) (*models.Order, error) {
	var payload models.OrderPayload
	if err := json.Unmarshal(order.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode order payload: %w", err)
	}

	posCtx, cancel := context.WithTimeout(ctx, s.posTimeout())
	result, posErr := s.POS.PlaceOrder(posCtx, POSOrderRequest{
		IdempotencyKey: fmt.Sprintf("order-%d", order.ID),
		RestaurantID:   order.RestaurantID,
		Payload:        payload,
	})
	cancel()

	now := s.now()
	db := s.DB.WithContext(ctx)
	live := []string{models.OrderStatusProcessing, models.OrderStatusFailed}
	log := utils.InfoLogger.WithFields(logrus.Fields{"order": order.ID, "retry": retry})

	if posErr != nil {
		msg := posErr.Error()
		update := models.OrderStatusUpdate{Status: models.OrderStatusFailed, LastError: &msg, BumpAttempts: true, UpdatedAt: now}
		res := db.Model(&models.Order{}).Where("id = ? AND status IN ?", order.ID, live).Updates(update.Columns())
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, s.transitionConflict(db, order.ID)
		}
		updated, err := s.loadOrder(db, order.RestaurantID, order.ID)
		if err != nil {
			return nil, err
		}
		log.WithError(posErr).Warn("POS placement failed")

		view := s.view(db, *updated)
		s.Notify.diner(view.SessionPID, hub.EventOrderFailed, map[string]interface{}{
			"order_id":  updated.ID,
			"status":    updated.Status,
			"retryable": true,
		})
		s.Notify.admin(updated.RestaurantID, hub.EventOrderFailed, view)
		if retry {
			s.Notify.admin(updated.RestaurantID, hub.EventPOSRetryFailed, view)
		}
		publishEvent(s.Events, s.event(OrderEventFailed, *updated, view.SessionPID, view.TableNumber, msg))
		return updated, errUpstream(CodePOSFailed, "POS did not accept the order", posErr)
	}

	var itemIDs []uint
	err := db.Transaction(func(tx *gorm.DB) error {
		ref := result.Reference
		update := models.OrderStatusUpdate{Status: models.OrderStatusConfirmed, POSReference: &ref, ConfirmedAt: &now, BumpAttempts: true, UpdatedAt: now}
		res := tx.Model(&models.Order{}).Where("id = ? AND status IN ?", order.ID, live).Updates(update.Columns())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.transitionConflict(tx, order.ID)
		}
		if err := tx.Model(&models.CartItem{}).
			Where("order_id = ? AND state = ?", order.ID, models.CartItemLocked).
			Pluck("id", &itemIDs).Error; err != nil {
			return err
		}
		return tx.Model(&models.CartItem{}).
			Where("order_id = ? AND state = ?", order.ID, models.CartItemLocked).
			Updates(map[string]interface{}{"state": models.CartItemOrdered, "updated_at": now}).Error
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.loadOrder(db, order.RestaurantID, order.ID)
	if err != nil {
		return nil, err
	}
	log.WithField("pos_reference", updated.POSReference).Info("order confirmed")

	view := s.view(db, *updated)
	s.Notify.diner(view.SessionPID, hub.EventOrderConfirmed, map[string]interface{}{
		"order_id":      updated.ID,
		"status":        updated.Status,
		"pos_reference": updated.POSReference,
		"item_ids":      itemIDs,
	})
	s.Notify.admin(updated.RestaurantID, hub.EventOrderRemoved, map[string]interface{}{"order_id": updated.ID, "status": updated.Status})
	if retry {
		s.Notify.admin(updated.RestaurantID, hub.EventPOSRetrySuccess, view)
	}
	publishEvent(s.Events, s.event(OrderEventConfirmed, *updated, view.SessionPID, view.TableNumber, ""))
	return updated, nil
}

// Reject cancels the order and releases its items back to pending.
func (s *OrderService) Reject(ctx context.Context, admin *AdminPrincipal, orderID uint, reason string) (*models.Order, error) {
	reason = strings.TrimSpace(reason)
	now := s.now()

	var (
		order       *models.Order
		released    []uint
		newHash     string
		cartVersion int
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOrder(tx, admin.RestaurantID, orderID)
		if err != nil {
			return err
		}
		update := models.OrderStatusUpdate{Status: models.OrderStatusCancelled, UpdatedAt: now}
		if reason != "" {
			update.LastError = &reason
		}
		res := tx.Model(&models.Order{}).
			Where("id = ? AND status IN ?", order.ID, []string{models.OrderStatusProcessing, models.OrderStatusFailed}).
			Updates(update.Columns())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.transitionConflict(tx, order.ID)
		}

		released, err = releaseItems(tx, order.ID, nil, now)
		if err != nil {
			return err
		}
		newHash, cartVersion, err = pendingDigest(tx, order.SessionID)
		if err != nil {
			return err
		}
		order, err = s.loadOrder(tx, admin.RestaurantID, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx)
	view := s.view(db, *order)
	utils.InfoLogger.WithFields(logrus.Fields{"order": order.ID, "released": len(released)}).Info("order rejected")

	s.Notify.diner(view.SessionPID, hub.EventOrderCancelled, map[string]interface{}{
		"order_id":          order.ID,
		"status":            order.Status,
		"reason":            reason,
		"released_item_ids": released,
		"cart_hash":         newHash,
		"cart_version":      cartVersion,
	})
	s.Notify.admin(order.RestaurantID, hub.EventOrderRemoved, map[string]interface{}{"order_id": order.ID, "status": order.Status})
	publishEvent(s.Events, s.event(OrderEventCancelled, *order, view.SessionPID, view.TableNumber, reason))
	return order, nil
}

// Edit applies staff corrections to the order lines, then re-attempts POS
// placement. Removed lines release their items back to the cart.
func (s *OrderService) Edit(ctx context.Context, admin *AdminPrincipal, orderID uint, edits []models.OrderLineEdit) (*models.Order, error) {
	if len(edits) == 0 {
		return nil, errValidation(CodeInvalidRequest, "no edits given")
	}
	now := s.now()

	var (
		order       *models.Order
		released    []uint
		newHash     string
		cartVersion int
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.loadOrder(tx, admin.RestaurantID, orderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderStatusProcessing && order.Status != models.OrderStatusFailed {
			return errConflict(CodeInvalidTransition, fmt.Sprintf("order is %s", order.Status), order)
		}

		var payload models.OrderPayload
		if err := json.Unmarshal(order.Payload, &payload); err != nil {
			return fmt.Errorf("decode order payload: %w", err)
		}
		index := make(map[uint]int, len(payload.Lines))
		for i, l := range payload.Lines {
			index[l.CartItemID] = i
		}

		removed := make(map[uint]bool)
		for _, e := range edits {
			i, ok := index[e.CartItemID]
			if !ok {
				return errValidation(CodeInvalidRequest, fmt.Sprintf("order has no line for item %d", e.CartItemID))
			}
			if e.Remove {
				removed[e.CartItemID] = true
				continue
			}
			line := &payload.Lines[i]
			if e.Quantity != nil {
				line.Quantity = *e.Quantity
			}
			if e.Note != nil {
				line.Note = strings.TrimSpace(*e.Note)
			}
			if err := validateLine(line.Quantity, line.Note); err != nil {
				return err
			}
			line.LineTotal = utils.RoundMoney(line.UnitPrice * float64(line.Quantity))
			if err := tx.Model(&models.CartItem{}).
				Where("id = ? AND order_id = ? AND state = ?", e.CartItemID, order.ID, models.CartItemLocked).
				Updates(map[string]interface{}{"quantity": line.Quantity, "note": line.Note, "updated_at": now}).Error; err != nil {
				return err
			}
		}

		kept := payload.Lines[:0]
		payload.Total = 0
		for _, l := range payload.Lines {
			if removed[l.CartItemID] {
				continue
			}
			kept = append(kept, l)
			payload.Total += l.LineTotal
		}
		if len(kept) == 0 {
			return errValidation(CodeEmptyOrder, "an order needs at least one line; reject it instead")
		}
		payload.Lines = kept
		payload.Total = utils.RoundMoney(payload.Total)

		if len(removed) > 0 {
			ids := make([]uint, 0, len(removed))
			for id := range removed {
				ids = append(ids, id)
			}
			if released, err = releaseItems(tx, order.ID, ids, now); err != nil {
				return err
			}
			if newHash, cartVersion, err = pendingDigest(tx, order.SessionID); err != nil {
				return err
			}
		}

		contributing, err := orderItems(tx, order.ID)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
			"payload":    datatypes.JSON(raw),
			"total":      payload.Total,
			"cart_hash":  CartHash(contributing),
			"updated_at": now,
		}).Error; err != nil {
			return err
		}

		order, err = s.loadOrder(tx, admin.RestaurantID, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(released) > 0 {
		view := s.view(s.DB.WithContext(ctx), *order)
		s.Notify.diner(view.SessionPID, hub.EventCartUpdate, CartUpdate{
			Action:      CartActionRelease,
			ItemIDs:     released,
			CartHash:    newHash,
			CartVersion: cartVersion,
		})
	}
	utils.InfoLogger.WithFields(logrus.Fields{"order": order.ID, "edits": len(edits), "released": len(released)}).Info("order edited")
	return s.placeWithPOS(ctx, order, false)
}

// Acknowledge marks the order as seen by staff. Repeated calls are no-ops.
func (s *OrderService) Acknowledge(ctx context.Context, admin *AdminPrincipal, orderID uint) (*models.Order, error) {
	db := s.DB.WithContext(ctx)
	order, err := s.loadOrder(db, admin.RestaurantID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Acknowledged {
		return order, nil
	}
	now := s.now()
	if err := db.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]interface{}{
		"acknowledged":    true,
		"acknowledged_at": now,
	}).Error; err != nil {
		return nil, err
	}
	order.Acknowledged = true
	order.AcknowledgedAt = &now

	s.Notify.admin(order.RestaurantID, hub.EventOrderAcknowledged, map[string]interface{}{
		"order_id":        order.ID,
		"acknowledged_by": admin.StaffID,
		"acknowledged_at": now,
	})
	return order, nil
}

// PendingOrders lists orders awaiting staff action.
func (s *OrderService) PendingOrders(ctx context.Context, restaurantID uint) ([]OrderView, error) {
	db := s.DB.WithContext(ctx)
	var orders []models.Order
	if err := db.Where("restaurant_id = ? AND status IN ?", restaurantID,
		[]string{models.OrderStatusProcessing, models.OrderStatusFailed}).
		Order("created_at ASC, id ASC").Find(&orders).Error; err != nil {
		return nil, err
	}
	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, s.view(db, o))
	}
	return views, nil
}

func (s *OrderService) loadOrder(db *gorm.DB, restaurantID, orderID uint) (*models.Order, error) {
	var order models.Order
	err := db.Where("id = ? AND restaurant_id = ?", orderID, restaurantID).First(&order).Error
	if isNotFound(err) {
		return nil, errNotFound(CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *OrderService) transitionConflict(db *gorm.DB, orderID uint) error {
	var current models.Order
	if err := db.First(&current, orderID).Error; err != nil {
		return err
	}
	return errConflict(CodeInvalidTransition, fmt.Sprintf("order is %s", current.Status), current)
}

func (s *OrderService) view(db *gorm.DB, order models.Order) OrderView {
	view := OrderView{Order: order}
	var table models.Table
	if err := db.Select("table_number").First(&table, order.TableID).Error; err == nil {
		view.TableNumber = table.TableNumber
	}
	var session models.Session
	if err := db.Select("pid").First(&session, order.SessionID).Error; err == nil {
		view.SessionPID = session.PID
	}
	return view
}

func (s *OrderService) event(kind string, order models.Order, sessionPID, tableNumber, reason string) OrderEvent {
	var payload models.OrderPayload
	_ = json.Unmarshal(order.Payload, &payload)
	return OrderEvent{
		Type:         kind,
		OrderID:      order.ID,
		RestaurantID: order.RestaurantID,
		SessionPID:   sessionPID,
		TableNumber:  tableNumber,
		Status:       order.Status,
		Total:        order.Total,
		Lines:        len(payload.Lines),
		Reason:       reason,
		OccurredAt:   s.now(),
	}
}

// releaseItems moves locked items of the order back to pending and clears
// their order id. A nil ids releases every locked item of the order.
// orderItems loads the cart items still attached to an order.
func orderItems(tx *gorm.DB, orderID uint) ([]models.CartItem, error) {
	var items []models.CartItem
	err := tx.Preload("Addons").Where("order_id = ?", orderID).Order("id ASC").Find(&items).Error
	return items, err
}

func releaseItems(tx *gorm.DB, orderID uint, ids []uint, now time.Time) ([]uint, error) {
	q := tx.Model(&models.CartItem{}).Where("order_id = ? AND state = ?", orderID, models.CartItemLocked)
	if ids != nil {
		q = q.Where("id IN ?", ids)
	}
	var released []uint
	if err := q.Session(&gorm.Session{}).Pluck("id", &released).Error; err != nil {
		return nil, err
	}
	if len(released) == 0 {
		return released, nil
	}
	err := tx.Model(&models.CartItem{}).Where("id IN ?", released).Updates(map[string]interface{}{
		"state":      models.CartItemPending,
		"order_id":   nil,
		"updated_at": now,
	}).Error
	sort.Slice(released, func(i, j int) bool { return released[i] < released[j] })
	return released, err
}

func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
