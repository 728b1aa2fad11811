package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

const (
	CartActionCreate  = "create"
	CartActionUpdate  = "update"
	CartActionDelete  = "delete"
	CartActionReplace = "replace"
	CartActionRelease = "release"
)

type CartService struct {
	DB     *gorm.DB
	Notify Notifier
	Now    func() time.Time
}

type CreateItemInput struct {
	MenuItemID  uint
	VariationID *uint
	Addons      []models.AddonSelection
	Quantity    int
	Note        string
}

// CartUpdate is the payload of a cart_update push.
type CartUpdate struct {
	Action      string               `json:"action"`
	Item        *models.CartItemView `json:"item,omitempty"`
	ItemID      uint                 `json:"item_id"`
	ItemIDs     []uint               `json:"item_ids,omitempty"`
	Version     int                  `json:"version"`
	By          string               `json:"by"`
	CartHash    string               `json:"cart_hash"`
	CartVersion int                  `json:"cart_version"`
}

// CartSnapshot is everything a diner needs to rebuild its view after a
// reconnect.
type CartSnapshot struct {
	SessionPID            string                `json:"session_pid"`
	SessionValidated      bool                  `json:"session_validated"`
	Items                 []models.CartItemView `json:"items"`
	Members               []models.Member       `json:"members"`
	Orders                []models.Order        `json:"orders"`
	CartVersion           int                   `json:"cart_version"`
	CartHash              string                `json:"cart_hash"`
	CartLocked            bool                  `json:"cart_locked"`
	PendingOrderID        *uint                 `json:"pending_order_id"`
	OrderProcessingStatus string                `json:"order_processing_status,omitempty"`
}

func (s *CartService) now() time.Time { return clock(s.Now).now() }

// Create adds a pending line owned by the caller with version 1.
func (s *CartService) Create(ctx context.Context, p *Principal, in CreateItemInput) (*models.CartItemView, error) {
	if err := requireValidated(p); err != nil {
		return nil, err
	}
	in.Note = strings.TrimSpace(in.Note)
	if err := validateLine(in.Quantity, in.Note); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		view   models.CartItemView
		update CartUpdate
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		shape, err := resolveShape(tx, p.Session.RestaurantID, models.CartItemShape{
			MenuItemID:  in.MenuItemID,
			VariationID: in.VariationID,
			Addons:      in.Addons,
		})
		if err != nil {
			return err
		}

		item := models.CartItem{
			SessionID:   p.Session.ID,
			MemberID:    p.Member.ID,
			MenuItemID:  shape.MenuItem.ID,
			VariationID: in.VariationID,
			Quantity:    in.Quantity,
			Note:        in.Note,
			State:       models.CartItemPending,
			Version:     1,
			Addons:      addonRows(shape.Addons),
		}
		if err := tx.Create(&item).Error; err != nil {
			return err
		}
		if err := touchSession(tx, p.Session.ID, now); err != nil {
			return err
		}

		view, update, err = s.afterMutation(tx, p, CartActionCreate, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(p, update)
	return &view, nil
}

// Update edits qty and/or note of a pending line. expectedVersion nil means
// the version read inside the transaction is used.
func (s *CartService) Update(ctx context.Context, p *Principal, itemID uint, change models.CartItemUpdate, expectedVersion *int) (*models.CartItemView, error) {
	if err := requireValidated(p); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		view   models.CartItemView
		update CartUpdate
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.loadForWrite(tx, p, itemID)
		if err != nil {
			return err
		}

		qty, note := item.Quantity, item.Note
		if change.Quantity != nil {
			qty = *change.Quantity
		}
		if change.Note != nil {
			note = strings.TrimSpace(*change.Note)
		}
		if err := validateLine(qty, note); err != nil {
			return err
		}

		version := resolveVersion(item, expectedVersion)
		cols := map[string]interface{}{
			"quantity":   qty,
			"note":       note,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		}
		if err := s.guardedUpdate(tx, item, version, cols); err != nil {
			return err
		}
		if err := touchSession(tx, p.Session.ID, now); err != nil {
			return err
		}

		view, update, err = s.afterMutation(tx, p, CartActionUpdate, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(p, update)
	return &view, nil
}

// Replace swaps the composition of a pending line in place, keeping its id.
func (s *CartService) Replace(ctx context.Context, p *Principal, itemID uint, shape models.CartItemShape, expectedVersion *int) (*models.CartItemView, error) {
	if err := requireValidated(p); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		view   models.CartItemView
		update CartUpdate
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.loadForWrite(tx, p, itemID)
		if err != nil {
			return err
		}
		resolved, err := resolveShape(tx, p.Session.RestaurantID, shape)
		if err != nil {
			return err
		}

		version := resolveVersion(item, expectedVersion)
		cols := map[string]interface{}{
			"menu_item_id": resolved.MenuItem.ID,
			"variation_id": shape.VariationID,
			"version":      gorm.Expr("version + 1"),
			"updated_at":   now,
		}
		if err := s.guardedUpdate(tx, item, version, cols); err != nil {
			return err
		}

		if err := tx.Where("cart_item_id = ?", item.ID).Delete(&models.CartItemAddon{}).Error; err != nil {
			return err
		}
		rows := addonRows(resolved.Addons)
		for i := range rows {
			rows[i].CartItemID = item.ID
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		if err := touchSession(tx, p.Session.ID, now); err != nil {
			return err
		}

		view, update, err = s.afterMutation(tx, p, CartActionReplace, item.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.broadcast(p, update)
	return &view, nil
}

// Delete removes a pending line if its version still matches.
func (s *CartService) Delete(ctx context.Context, p *Principal, itemID uint, expectedVersion *int) error {
	if err := requireValidated(p); err != nil {
		return err
	}

	now := s.now()
	var update CartUpdate
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.loadForWrite(tx, p, itemID)
		if err != nil {
			return err
		}

		version := resolveVersion(item, expectedVersion)
		res := tx.Where("id = ? AND state = ? AND version = ?", item.ID, models.CartItemPending, version).
			Delete(&models.CartItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.conflict(tx, item.ID)
		}
		if err := tx.Where("cart_item_id = ?", item.ID).Delete(&models.CartItemAddon{}).Error; err != nil {
			return err
		}
		if err := touchSession(tx, p.Session.ID, now); err != nil {
			return err
		}

		hash, cartVersion, err := pendingDigest(tx, p.Session.ID)
		if err != nil {
			return err
		}
		update = CartUpdate{
			Action:      CartActionDelete,
			ItemID:      item.ID,
			Version:     version + 1,
			By:          p.Member.PID,
			CartHash:    hash,
			CartVersion: cartVersion,
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.broadcast(p, update)
	return nil
}

// Snapshot returns the full cart state of a session.
func (s *CartService) Snapshot(ctx context.Context, sessionID uint) (*CartSnapshot, error) {
	return buildSnapshot(s.DB.WithContext(ctx), sessionID)
}

func buildSnapshot(db *gorm.DB, sessionID uint) (*CartSnapshot, error) {
	var session models.Session
	if err := db.First(&session, sessionID).Error; err != nil {
		if isNotFound(err) {
			return nil, errNotFound(CodeSessionNotFound, "session not found")
		}
		return nil, err
	}

	var items []models.CartItem
	if err := db.Preload("Addons").
		Where("session_id = ? AND state IN ?", sessionID, []string{models.CartItemPending, models.CartItemLocked}).
		Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	cat, err := loadCatalog(db, sessionID, items)
	if err != nil {
		return nil, err
	}

	snap := &CartSnapshot{
		SessionPID:       session.PID,
		SessionValidated: session.Validated,
		Items:            []models.CartItemView{},
		Members:          []models.Member{},
		Orders:           []models.Order{},
	}

	var pending []models.CartItem
	for _, it := range items {
		switch it.State {
		case models.CartItemPending:
			pending = append(pending, it)
			snap.Items = append(snap.Items, cat.view(it))
			snap.CartVersion += it.Version
		case models.CartItemLocked:
			snap.CartLocked = true
			if it.OrderID != nil && (snap.PendingOrderID == nil || *it.OrderID > *snap.PendingOrderID) {
				id := *it.OrderID
				snap.PendingOrderID = &id
			}
		}
	}
	snap.CartHash = CartHash(pending)

	for _, m := range cat.members {
		snap.Members = append(snap.Members, m)
	}
	sort.Slice(snap.Members, func(i, j int) bool { return snap.Members[i].ID < snap.Members[j].ID })

	if err := db.Where("session_id = ?", sessionID).Order("created_at ASC, id ASC").Find(&snap.Orders).Error; err != nil {
		return nil, err
	}
	sort.SliceStable(snap.Orders, func(i, j int) bool {
		return snap.Orders[i].Status == models.OrderStatusConfirmed && snap.Orders[j].Status != models.OrderStatusConfirmed
	})
	if snap.PendingOrderID != nil {
		for _, o := range snap.Orders {
			if o.ID == *snap.PendingOrderID {
				snap.OrderProcessingStatus = o.Status
			}
		}
	}
	return snap, nil
}

// loadForWrite fetches a line of the caller's session and checks that the
// caller owns it or is host.
func (s *CartService) loadForWrite(tx *gorm.DB, p *Principal, itemID uint) (*models.CartItem, error) {
	var item models.CartItem
	err := tx.Where("id = ? AND session_id = ?", itemID, p.Session.ID).First(&item).Error
	if isNotFound(err) {
		return nil, errNotFound(CodeItemNotFound, "cart item not found")
	}
	if err != nil {
		return nil, err
	}
	if item.MemberID != p.Member.ID && !p.Member.IsHost {
		return nil, errForbidden(CodeNotOwner, "only the owner or the host can change this item")
	}
	return &item, nil
}

// guardedUpdate is the compare-and-increment: it writes only while the row
// is still pending at the expected version.
func (s *CartService) guardedUpdate(tx *gorm.DB, item *models.CartItem, version int, cols map[string]interface{}) error {
	res := tx.Model(&models.CartItem{}).
		Where("id = ? AND state = ? AND version = ?", item.ID, models.CartItemPending, version).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.conflict(tx, item.ID)
	}
	return nil
}

// conflict builds the version or state conflict carrying the current row.
func (s *CartService) conflict(tx *gorm.DB, itemID uint) error {
	var current models.CartItem
	err := tx.Preload("Addons").First(&current, itemID).Error
	if isNotFound(err) {
		return errNotFound(CodeItemNotFound, "cart item was removed")
	}
	if err != nil {
		return err
	}
	cat, err := loadCatalog(tx, current.SessionID, []models.CartItem{current})
	if err != nil {
		return err
	}
	view := cat.view(current)
	if current.State != models.CartItemPending {
		return errConflict(CodeItemNotPending, "cart item is no longer editable", view)
	}
	return errConflict(CodeVersionConflict, "cart item was changed by someone else", view)
}

func (s *CartService) afterMutation(tx *gorm.DB, p *Principal, action string, itemID uint) (models.CartItemView, CartUpdate, error) {
	var item models.CartItem
	if err := tx.Preload("Addons").First(&item, itemID).Error; err != nil {
		return models.CartItemView{}, CartUpdate{}, err
	}
	cat, err := loadCatalog(tx, p.Session.ID, []models.CartItem{item})
	if err != nil {
		return models.CartItemView{}, CartUpdate{}, err
	}
	view := cat.view(item)

	hash, cartVersion, err := pendingDigest(tx, p.Session.ID)
	if err != nil {
		return models.CartItemView{}, CartUpdate{}, err
	}
	return view, CartUpdate{
		Action:      action,
		Item:        &view,
		ItemID:      item.ID,
		Version:     item.Version,
		By:          p.Member.PID,
		CartHash:    hash,
		CartVersion: cartVersion,
	}, nil
}

func (s *CartService) broadcast(p *Principal, update CartUpdate) {
	utils.InfoLogger.WithFields(logrus.Fields{
		"session": p.Session.PID,
		"member":  p.Member.PID,
		"action":  update.Action,
		"item":    update.ItemID,
		"version": update.Version,
	}).Debug("cart updated")
	s.Notify.diner(p.Session.PID, hub.EventCartUpdate, update)
}

// pendingDigest returns the cart hash and summed version of the session's
// pending items.
func pendingDigest(tx *gorm.DB, sessionID uint) (string, int, error) {
	items, err := pendingItems(tx, sessionID)
	if err != nil {
		return "", 0, err
	}
	total := 0
	for _, it := range items {
		total += it.Version
	}
	return CartHash(items), total, nil
}

func pendingItems(tx *gorm.DB, sessionID uint) ([]models.CartItem, error) {
	var items []models.CartItem
	err := tx.Preload("Addons").
		Where("session_id = ? AND state = ?", sessionID, models.CartItemPending).
		Order("id ASC").Find(&items).Error
	return items, err
}

func resolveVersion(item *models.CartItem, expected *int) int {
	if expected != nil {
		return *expected
	}
	return item.Version
}

func requireValidated(p *Principal) error {
	if !p.Session.Validated {
		return errForbidden(CodeSessionNotValidated, "enter the daily password first")
	}
	return nil
}

func addonRows(addons []resolvedAddon) []models.CartItemAddon {
	rows := make([]models.CartItemAddon, 0, len(addons))
	for _, a := range addons {
		rows = append(rows, models.CartItemAddon{AddonItemID: a.Item.ID, Quantity: a.Quantity})
	}
	return rows
}
