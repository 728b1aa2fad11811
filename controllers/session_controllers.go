package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

type SessionController struct {
	Sessions *services.SessionService
	Carts    *services.CartService
}

func NewSessionController(sessions *services.SessionService, carts *services.CartService) *SessionController {
	return &SessionController{Sessions: sessions, Carts: carts}
}

// Join -> QR scan entry point
func (sc *SessionController) Join(c *gin.Context) {
	var req struct {
		TablePID string `json:"table_pid" binding:"required"`
		Token    string `json:"token" binding:"required"`
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	res, err := sc.Sessions.Join(c.Request.Context(), services.JoinRequest{
		TablePID: req.TablePID,
		Token:    req.Token,
		DeviceID: req.DeviceID,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Joined table session", res)
}

func (sc *SessionController) RefreshToken(c *gin.Context) {
	p := middlewares.CurrentPrincipal(c)
	token, exp, err := sc.Sessions.RefreshToken(p)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Token refreshed", gin.H{"ws_token": token, "expires_at": exp})
}

// Close -> host ends the session for everyone
func (sc *SessionController) Close(c *gin.Context) {
	p := middlewares.CurrentPrincipal(c)
	if err := sc.Sessions.CloseByHost(c.Request.Context(), p); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session closed", gin.H{"session_pid": p.Session.PID})
}

func (sc *SessionController) UpdateMember(c *gin.Context) {
	var req struct {
		Nickname string `json:"nickname" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	member, err := sc.Sessions.UpdateNickname(c.Request.Context(), middlewares.CurrentPrincipal(c), c.Param("member_pid"), req.Nickname)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Nickname updated", member)
}

func (sc *SessionController) ValidatePass(c *gin.Context) {
	var req struct {
		SessionPID string `json:"session_pid"`
		Word       string `json:"word" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	if err := sc.Sessions.ValidatePass(c.Request.Context(), middlewares.CurrentPrincipal(c), req.SessionPID, req.Word); err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Session validated", gin.H{"session_validated": true})
}

// CartSnapshot -> full cart state for (re)hydration
func (sc *SessionController) CartSnapshot(c *gin.Context) {
	p := middlewares.CurrentPrincipal(c)
	if err := checkSession(p, c.Query("session_pid")); err != nil {
		respondServiceError(c, err)
		return
	}

	snap, err := sc.Carts.Snapshot(c.Request.Context(), p.Session.ID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Cart snapshot", snap)
}
