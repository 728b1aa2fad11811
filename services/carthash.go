package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/yeremiapane/tablesync/models"
	"golang.org/x/text/unicode/norm"
)

// Bump the suffix when the serialized form changes.
const cartHashDomain = "tablesync/cart/v1"

type hashAddon struct {
	ID  uint `json:"id"`
	Qty int  `json:"qty"`
}

// hashItem fixes field order; encoding/json emits struct fields in
// declaration order.
type hashItem struct {
	ID          uint        `json:"id"`
	Version     int         `json:"version"`
	MenuItemID  uint        `json:"menu_item_id"`
	VariationID uint        `json:"variation_id"`
	Addons      []hashAddon `json:"addons"`
	Qty         int         `json:"qty"`
	Note        string      `json:"note"`
}

// CartHash is the canonical digest of a set of cart items. Input order does
// not matter; any change to id, version, item, variation, addons, qty or
// note changes the result.
func CartHash(items []models.CartItem) string {
	sorted := make([]models.CartItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	canon := make([]hashItem, 0, len(sorted))
	for _, it := range sorted {
		h := hashItem{
			ID:         it.ID,
			Version:    it.Version,
			MenuItemID: it.MenuItemID,
			Addons:     []hashAddon{},
			Qty:        it.Quantity,
			Note:       norm.NFC.String(it.Note),
		}
		if it.VariationID != nil {
			h.VariationID = *it.VariationID
		}
		for _, a := range sortedAddons(it.Addons) {
			h.Addons = append(h.Addons, hashAddon{ID: a.AddonItemID, Qty: a.Quantity})
		}
		canon = append(canon, h)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding plain structs of ints and strings cannot fail.
	_ = enc.Encode(canon)

	return hashWithDomain(cartHashDomain, bytes.TrimRight(buf.Bytes(), "\n"))
}

func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
