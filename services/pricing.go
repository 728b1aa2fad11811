package services

import (
	"sort"
	"unicode/utf8"

	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

const (
	maxQuantity    = 99
	maxAddonQty    = 10
	maxNoteLength  = 500
	defaultAddonQt = 1
)

type resolvedAddon struct {
	Item     models.AddonItem
	Quantity int
}

// resolvedShape is a validated menu item + variation + addons with its unit
// price computed from the live catalog.
type resolvedShape struct {
	MenuItem  models.MenuItem
	Variation *models.Variation
	Addons    []resolvedAddon
	UnitPrice float64
}

// resolveShape validates a cart line composition against the catalog.
// Variation price replaces the item price; addons add price*qty each.
func resolveShape(tx *gorm.DB, restaurantID uint, shape models.CartItemShape) (*resolvedShape, error) {
	var item models.MenuItem
	err := tx.Where("id = ? AND restaurant_id = ? AND is_active = ?", shape.MenuItemID, restaurantID, true).First(&item).Error
	if isNotFound(err) {
		return nil, errValidation(CodeMenuItemUnavailable, "menu item is not available")
	}
	if err != nil {
		return nil, err
	}

	out := &resolvedShape{MenuItem: item, UnitPrice: item.Price}

	if shape.VariationID != nil {
		var variation models.Variation
		err := tx.Where("id = ? AND menu_item_id = ? AND is_active = ?", *shape.VariationID, item.ID, true).First(&variation).Error
		if isNotFound(err) {
			return nil, errValidation(CodeInvalidVariation, "variation does not belong to this item or is inactive")
		}
		if err != nil {
			return nil, err
		}
		out.Variation = &variation
		out.UnitPrice = variation.Price
	}

	if len(shape.Addons) == 0 {
		out.UnitPrice = utils.RoundMoney(out.UnitPrice)
		return out, nil
	}

	groups, err := addonContext(tx, restaurantID, item.ID, shape.VariationID)
	if err != nil {
		return nil, err
	}

	merged := make(map[uint]int)
	for _, sel := range shape.Addons {
		qty := sel.Quantity
		if qty == 0 {
			qty = defaultAddonQt
		}
		if qty < 0 {
			return nil, errValidation(CodeInvalidAddon, "addon quantity must be positive")
		}
		merged[sel.AddonID] += qty
	}

	ids := make([]uint, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var addons []models.AddonItem
	if err := tx.Where("id IN ? AND is_active = ?", ids, true).Find(&addons).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.AddonItem, len(addons))
	for _, a := range addons {
		byID[a.ID] = a
	}

	for _, id := range ids {
		addon, ok := byID[id]
		if !ok || !groups[addon.GroupID] {
			return nil, errValidation(CodeInvalidAddon, "addon is inactive or not offered for this item")
		}
		qty := merged[id]
		if qty > maxAddonQty {
			return nil, errValidation(CodeInvalidAddon, "addon quantity too large")
		}
		out.Addons = append(out.Addons, resolvedAddon{Item: addon, Quantity: qty})
		out.UnitPrice += addon.Price * float64(qty)
	}
	out.UnitPrice = utils.RoundMoney(out.UnitPrice)
	return out, nil
}

// addonContext returns the active addon group ids selectable for the item.
// A variation with its own group links replaces the item's base set.
func addonContext(tx *gorm.DB, restaurantID, menuItemID uint, variationID *uint) (map[uint]bool, error) {
	var groupIDs []uint

	if variationID != nil {
		var links []models.VariationAddonGroup
		if err := tx.Where("variation_id = ?", *variationID).Find(&links).Error; err != nil {
			return nil, err
		}
		if len(links) > 0 {
			for _, l := range links {
				if l.IsActive {
					groupIDs = append(groupIDs, l.AddonGroupID)
				}
			}
			return activeGroups(tx, restaurantID, groupIDs)
		}
	}

	var links []models.MenuItemAddonGroup
	if err := tx.Where("menu_item_id = ? AND is_active = ?", menuItemID, true).Find(&links).Error; err != nil {
		return nil, err
	}
	for _, l := range links {
		groupIDs = append(groupIDs, l.AddonGroupID)
	}
	return activeGroups(tx, restaurantID, groupIDs)
}

func activeGroups(tx *gorm.DB, restaurantID uint, ids []uint) (map[uint]bool, error) {
	out := make(map[uint]bool)
	if len(ids) == 0 {
		return out, nil
	}
	var groups []models.AddonGroup
	if err := tx.Where("id IN ? AND restaurant_id = ? AND is_active = ?", ids, restaurantID, true).Find(&groups).Error; err != nil {
		return nil, err
	}
	for _, g := range groups {
		out[g.ID] = true
	}
	return out, nil
}

func validateLine(qty int, note string) error {
	if qty < 1 || qty > maxQuantity {
		return errValidation(CodeInvalidRequest, "qty must be between 1 and 99")
	}
	if !utf8.ValidString(note) {
		return errValidation(CodeInvalidRequest, "note must be valid UTF-8")
	}
	if utf8.RuneCountInString(note) > maxNoteLength {
		return errValidation(CodeInvalidRequest, "note is too long")
	}
	return nil
}

// catalog caches the rows needed to render and price a set of cart items.
type catalog struct {
	items      map[uint]models.MenuItem
	variations map[uint]models.Variation
	addons     map[uint]models.AddonItem
	members    map[uint]models.Member
}

func loadCatalog(tx *gorm.DB, sessionID uint, items []models.CartItem) (*catalog, error) {
	c := &catalog{
		items:      make(map[uint]models.MenuItem),
		variations: make(map[uint]models.Variation),
		addons:     make(map[uint]models.AddonItem),
		members:    make(map[uint]models.Member),
	}

	var itemIDs, variationIDs, addonIDs []uint
	for _, it := range items {
		itemIDs = append(itemIDs, it.MenuItemID)
		if it.VariationID != nil {
			variationIDs = append(variationIDs, *it.VariationID)
		}
		for _, a := range it.Addons {
			addonIDs = append(addonIDs, a.AddonItemID)
		}
	}

	if len(itemIDs) > 0 {
		var rows []models.MenuItem
		if err := tx.Where("id IN ?", itemIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			c.items[r.ID] = r
		}
	}
	if len(variationIDs) > 0 {
		var rows []models.Variation
		if err := tx.Where("id IN ?", variationIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			c.variations[r.ID] = r
		}
	}
	if len(addonIDs) > 0 {
		var rows []models.AddonItem
		if err := tx.Where("id IN ?", addonIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			c.addons[r.ID] = r
		}
	}

	var members []models.Member
	if err := tx.Where("session_id = ?", sessionID).Find(&members).Error; err != nil {
		return nil, err
	}
	for _, m := range members {
		c.members[m.ID] = m
	}
	return c, nil
}

func (c *catalog) view(item models.CartItem) models.CartItemView {
	menuItem := c.items[item.MenuItemID]
	member := c.members[item.MemberID]

	v := models.CartItemView{
		ID:           item.ID,
		MemberPID:    member.PID,
		Nickname:     member.Nickname,
		MenuItemID:   item.MenuItemID,
		MenuItemName: menuItem.Name,
		VariationID:  item.VariationID,
		Addons:       []models.CartItemAddonView{},
		Quantity:     item.Quantity,
		Note:         item.Note,
		State:        item.State,
		OrderID:      item.OrderID,
		Version:      item.Version,
	}

	unit := menuItem.Price
	if item.VariationID != nil {
		variation := c.variations[*item.VariationID]
		v.VariationName = variation.Name
		unit = variation.Price
	}
	for _, a := range sortedAddons(item.Addons) {
		addon := c.addons[a.AddonItemID]
		v.Addons = append(v.Addons, models.CartItemAddonView{
			AddonID:  a.AddonItemID,
			Name:     addon.Name,
			Price:    addon.Price,
			Quantity: a.Quantity,
		})
		unit += addon.Price * float64(a.Quantity)
	}
	v.UnitPrice = utils.RoundMoney(unit)
	v.LineTotal = utils.RoundMoney(unit * float64(item.Quantity))
	return v
}

func (c *catalog) views(items []models.CartItem) []models.CartItemView {
	out := make([]models.CartItemView, 0, len(items))
	for _, it := range items {
		out = append(out, c.view(it))
	}
	return out
}

// orderLine freezes the priced view of an item into an order line.
func (c *catalog) orderLine(item models.CartItem) models.OrderLine {
	v := c.view(item)
	line := models.OrderLine{
		CartItemID:    item.ID,
		MemberPID:     v.MemberPID,
		MenuItemID:    item.MenuItemID,
		Name:          v.MenuItemName,
		POSCode:       c.items[item.MenuItemID].POSCode,
		VariationID:   item.VariationID,
		VariationName: v.VariationName,
		Quantity:      item.Quantity,
		Note:          item.Note,
		UnitPrice:     v.UnitPrice,
		LineTotal:     v.LineTotal,
	}
	for _, a := range v.Addons {
		line.Addons = append(line.Addons, models.OrderLineAddon{
			AddonID:  a.AddonID,
			Name:     a.Name,
			Price:    a.Price,
			Quantity: a.Quantity,
		})
	}
	return line
}

func sortedAddons(addons []models.CartItemAddon) []models.CartItemAddon {
	out := make([]models.CartItemAddon, len(addons))
	copy(out, addons)
	sort.Slice(out, func(i, j int) bool { return out[i].AddonItemID < out[j].AddonItemID })
	return out
}
