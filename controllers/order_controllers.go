package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type OrderController struct {
	Orders  *services.OrderService
	Waiters *services.WaiterService
}

func NewOrderController(orders *services.OrderService, waiters *services.WaiterService) *OrderController {
	return &OrderController{Orders: orders, Waiters: waiters}
}

// SubmitOrder -> locks the selected items into a processing order
func (oc *OrderController) SubmitOrder(c *gin.Context) {
	var req struct {
		SessionPID string `json:"session_pid"`
		Items      []uint `json:"items" binding:"required"`
		CartHash   string `json:"cart_hash" binding:"required"`
		PayMethod  string `json:"pay_method"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	p := middlewares.CurrentPrincipal(c)
	if err := checkSession(p, req.SessionPID); err != nil {
		respondServiceError(c, err)
		return
	}

	order, err := oc.Orders.Submit(c.Request.Context(), p, services.SubmitInput{
		Items:     req.Items,
		CartHash:  req.CartHash,
		PayMethod: req.PayMethod,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Order submitted", gin.H{
		"order_id": order.ID,
		"status":   order.Status,
		"total":    order.Total,
	})
}

func (oc *OrderController) CreateWaiterRequest(c *gin.Context) {
	var req struct {
		SessionPID string `json:"session_pid"`
		Type       string `json:"type" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	p := middlewares.CurrentPrincipal(c)
	if err := checkSession(p, req.SessionPID); err != nil {
		respondServiceError(c, err)
		return
	}

	view, err := oc.Waiters.Create(c.Request.Context(), p, req.Type)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusCreated, "Staff notified", view)
}
