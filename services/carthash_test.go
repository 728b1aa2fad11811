package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/yeremiapane/tablesync/models"
)

func uintPtr(v uint) *uint { return &v }

func sampleItems() []models.CartItem {
	return []models.CartItem{
		{ID: 3, Version: 2, MenuItemID: 10, Quantity: 1, Note: "no ice",
			Addons: []models.CartItemAddon{{AddonItemID: 7, Quantity: 2}, {AddonItemID: 5, Quantity: 1}}},
		{ID: 1, Version: 1, MenuItemID: 11, VariationID: uintPtr(4), Quantity: 2},
	}
}

func TestCartHashIsStable(t *testing.T) {
	items := sampleItems()
	first := CartHash(items)

	assert.Len(t, first, 64)
	assert.Equal(t, first, CartHash(sampleItems()))

	reversed := []models.CartItem{items[1], items[0]}
	assert.Equal(t, first, CartHash(reversed), "input order is irrelevant")

	swappedAddons := sampleItems()
	swappedAddons[0].Addons = []models.CartItemAddon{{AddonItemID: 5, Quantity: 1}, {AddonItemID: 7, Quantity: 2}}
	assert.Equal(t, first, CartHash(swappedAddons), "addon order is irrelevant")
}

func TestCartHashChangesWithContent(t *testing.T) {
	base := CartHash(sampleItems())

	cases := map[string]func([]models.CartItem){
		"qty":       func(it []models.CartItem) { it[0].Quantity = 2 },
		"note":      func(it []models.CartItem) { it[0].Note = "extra ice" },
		"addon qty": func(it []models.CartItem) { it[0].Addons[0].Quantity = 3 },
		"addon set": func(it []models.CartItem) { it[0].Addons = it[0].Addons[:1] },
		"variation": func(it []models.CartItem) { it[1].VariationID = uintPtr(5) },
		"no variation": func(it []models.CartItem) {
			it[1].VariationID = nil
		},
		"version":   func(it []models.CartItem) { it[1].Version = 2 },
		"menu item": func(it []models.CartItem) { it[1].MenuItemID = 12 },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			items := sampleItems()
			mutate(items)
			assert.NotEqual(t, base, CartHash(items))
		})
	}

	assert.NotEqual(t, base, CartHash(sampleItems()[:1]), "removing an item")
}

func TestCartHashNormalizesNotes(t *testing.T) {
	composed := []models.CartItem{{ID: 1, Version: 1, MenuItemID: 1, Quantity: 1, Note: "caf\u00e9"}}
	decomposed := []models.CartItem{{ID: 1, Version: 1, MenuItemID: 1, Quantity: 1, Note: "cafe\u0301"}}

	assert.Equal(t, CartHash(composed), CartHash(decomposed))
}

func TestCartHashEmpty(t *testing.T) {
	assert.Equal(t, CartHash(nil), CartHash([]models.CartItem{}))
}
