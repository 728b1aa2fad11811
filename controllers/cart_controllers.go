package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type CartController struct {
	Carts *services.CartService
}

func NewCartController(carts *services.CartService) *CartController {
	return &CartController{Carts: carts}
}

type cartItemRequest struct {
	SessionPID  string                  `json:"session_pid"`
	MenuItemID  uint                    `json:"menu_item_id"`
	VariationID *uint                   `json:"variation_id"`
	Addons      []models.AddonSelection `json:"addons"`
	Quantity    *int                    `json:"qty"`
	Note        *string                 `json:"note"`
	Version     *int                    `json:"version"`
}

func (cc *CartController) bind(c *gin.Context) (*services.Principal, *cartItemRequest, bool) {
	var req cartItemRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBindError(c, err)
			return nil, nil, false
		}
	}
	p := middlewares.CurrentPrincipal(c)
	if err := checkSession(p, req.SessionPID); err != nil {
		respondServiceError(c, err)
		return nil, nil, false
	}
	return p, &req, true
}

func itemID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		utils.RespondErrorCode(c, http.StatusBadRequest, services.CodeInvalidRequest, "invalid item id", nil)
		return 0, false
	}
	return uint(id), true
}

// CreateItem -> POST /cart_items
func (cc *CartController) CreateItem(c *gin.Context) {
	p, req, ok := cc.bind(c)
	if !ok {
		return
	}
	in := services.CreateItemInput{
		MenuItemID:  req.MenuItemID,
		VariationID: req.VariationID,
		Addons:      req.Addons,
		Quantity:    1,
	}
	if req.Quantity != nil {
		in.Quantity = *req.Quantity
	}
	if req.Note != nil {
		in.Note = *req.Note
	}

	view, err := cc.Carts.Create(c.Request.Context(), p, in)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Item added", view)
}

// UpdateItem -> PATCH /cart_items/:id (qty / note)
func (cc *CartController) UpdateItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	p, req, ok := cc.bind(c)
	if !ok {
		return
	}

	view, err := cc.Carts.Update(c.Request.Context(), p, id, models.CartItemUpdate{Quantity: req.Quantity, Note: req.Note}, req.Version)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Item updated", view)
}

// ReplaceItem -> PUT /cart_items/:id (new menu item / variation / addons)
func (cc *CartController) ReplaceItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	p, req, ok := cc.bind(c)
	if !ok {
		return
	}

	view, err := cc.Carts.Replace(c.Request.Context(), p, id, models.CartItemShape{
		MenuItemID:  req.MenuItemID,
		VariationID: req.VariationID,
		Addons:      req.Addons,
	}, req.Version)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Item replaced", view)
}

// DeleteItem -> DELETE /cart_items/:id
func (cc *CartController) DeleteItem(c *gin.Context) {
	id, ok := itemID(c)
	if !ok {
		return
	}
	p, req, ok := cc.bind(c)
	if !ok {
		return
	}

	if err := cc.Carts.Delete(c.Request.Context(), p, id, req.Version); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Item removed", gin.H{"item_id": id})
}
