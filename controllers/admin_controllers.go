package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type AdminController struct {
	Staff   *services.StaffService
	Tables  *services.TableService
	Orders  *services.OrderService
	Waiters *services.WaiterService
	Actions *AdminActions
}

func NewAdminController(staff *services.StaffService, tables *services.TableService, orders *services.OrderService, waiters *services.WaiterService) *AdminController {
	return &AdminController{
		Staff:   staff,
		Tables:  tables,
		Orders:  orders,
		Waiters: waiters,
		Actions: &AdminActions{Tables: tables, Orders: orders, Waiters: waiters},
	}
}

func (ac *AdminController) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	res, err := ac.Staff.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Login successful", res)
}

// SetDailyPass -> rotates today's table password
func (ac *AdminController) SetDailyPass(c *gin.Context) {
	var req struct {
		Word string `json:"word" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	admin := middlewares.CurrentAdmin(c)
	if err := ac.Staff.SetDailyPass(c.Request.Context(), admin, req.Word); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.InfoLogger.WithFields(logrus.Fields{"staff": admin.StaffID, "restaurant": admin.RestaurantID}).Info("daily password rotated")
	utils.RespondJSON(c, http.StatusOK, "Daily password updated", nil)
}

func (ac *AdminController) GetTables(c *gin.Context) {
	views, err := ac.Tables.Snapshot(c.Request.Context(), middlewares.CurrentAdmin(c).RestaurantID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of tables", views)
}

func (ac *AdminController) GetPendingOrders(c *gin.Context) {
	orders, err := ac.Orders.PendingOrders(c.Request.Context(), middlewares.CurrentAdmin(c).RestaurantID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Pending orders", orders)
}

func (ac *AdminController) GetWaiterRequests(c *gin.Context) {
	reqs, err := ac.Waiters.Pending(c.Request.Context(), middlewares.CurrentAdmin(c).RestaurantID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Pending waiter requests", reqs)
}

// RunAction -> POST /admin/actions/:action, the REST mirror of the dashboard socket
func (ac *AdminController) RunAction(c *gin.Context) {
	var args ActionArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		respondBindError(c, err)
		return
	}

	action := c.Param("action")
	data, err := ac.Actions.Run(c.Request.Context(), middlewares.CurrentAdmin(c), action, args)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Action applied", ac.Actions.Result(action, data, nil))
}
