package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
)

const (
	maxMessageSize = 64 << 10
	closeWait      = time.Second
)

// SocketController serves the diner session socket and the admin dashboard
// socket.
type SocketController struct {
	Sessions *services.SessionService
	Carts    *services.CartService
	Waiters  *services.WaiterService
	Tables   *services.TableService
	Orders   *services.OrderService
	Tokens   *utils.TokenIssuer
	Actions  *AdminActions

	Diners *hub.Hub
	Admins *hub.Hub

	PingInterval time.Duration
	PongGrace    time.Duration
	Upgrader     websocket.Upgrader
}

// NewUpgrader accepts the configured origins; "*" or an empty list accepts
// any.
func NewUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(allowed) == 0 || allowed["*"] || allowed[origin]
		},
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(closeWait))
	_ = conn.Close()
}

// dinerMessage is any client frame on the session socket: a cart op, a chat
// line or a keepalive.
type dinerMessage struct {
	Op         string                  `json:"op"`
	Type       string                  `json:"type"`
	ClientOpID string                  `json:"client_op_id,omitempty"`
	ItemID     uint                    `json:"item_id"`
	Version    *int                    `json:"version"`
	MenuItemID uint                    `json:"menu_item_id"`
	Variation  *uint                   `json:"variation_id"`
	Addons     []models.AddonSelection `json:"addons"`
	Quantity   *int                    `json:"qty"`
	Note       *string                 `json:"note"`
	Text       string                  `json:"text"`
}

// SessionSocket -> GET /ws/session?sid=...&token=...
func (sc *SocketController) SessionSocket(c *gin.Context) {
	conn, err := sc.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	token := middlewares.WebSocketTokenFrom(c)
	p, err := sc.Sessions.Authenticate(c.Request.Context(), token)
	if err != nil {
		if services.IsKind(err, services.KindGone) {
			closeWith(conn, hub.CloseSessionClosed, "session closed")
			return
		}
		closeWith(conn, hub.ClosePolicyViolation, "invalid token")
		return
	}
	if sid := c.Query("sid"); sid != "" && sid != p.Session.PID {
		closeWith(conn, hub.ClosePolicyViolation, "token does not match session")
		return
	}

	firstSocket := !sc.Diners.HasTag(p.Session.PID, p.Member.PID)
	client, err := sc.Diners.Connect(conn, p.Session.PID, p.Member.PID)
	if errors.Is(err, hub.ErrChannelFull) {
		closeWith(conn, hub.CloseChannelFull, "too many devices")
		return
	}
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, "connect failed")
		return
	}

	log := utils.InfoLogger.WithFields(logrus.Fields{"session": p.Session.PID, "member": p.Member.PID})
	log.Info("diner socket connected")
	if firstSocket {
		sc.Sessions.Presence(context.Background(), p, true)
	}

	defer func() {
		sc.Diners.Disconnect(conn)
		if !sc.Diners.HasTag(p.Session.PID, p.Member.PID) {
			sc.Sessions.Presence(context.Background(), p, false)
		}
		log.Info("diner socket closed")
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if !sc.handleDinerFrame(client, conn, token, raw) {
			return
		}
	}
}

// handleDinerFrame processes one frame. It returns false once the socket
// should stop reading.
func (sc *SocketController) handleDinerFrame(client *hub.Client, conn *websocket.Conn, token string, raw []byte) (keep bool) {
	keep = true
	defer func() {
		if r := recover(); r != nil {
			utils.ErrorLogger.WithField("panic", r).Error("diner frame handler panicked")
			_ = client.Send(hub.Message{Event: hub.EventError, Data: gin.H{
				"code":    "processing_error",
				"message": "could not process message",
			}})
		}
	}()

	if string(raw) == "ping" {
		_ = client.SendText("pong")
		return true
	}

	var msg dinerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = client.Send(errorMessage(&services.Error{Kind: services.KindValidation, Code: services.CodeInvalidRequest, Message: "malformed message"}, msg))
		return true
	}

	ctx := context.Background()
	p, err := sc.Sessions.Authenticate(ctx, token)
	if err != nil {
		if services.IsKind(err, services.KindGone) {
			sc.Diners.Disconnect(conn)
			return false
		}
		_ = client.Send(errorMessage(err, msg))
		return !services.IsKind(err, services.KindAuth)
	}

	switch {
	case msg.Op == services.CartActionCreate:
		in := services.CreateItemInput{
			MenuItemID:  msg.MenuItemID,
			VariationID: msg.Variation,
			Addons:      msg.Addons,
			Quantity:    1,
		}
		if msg.Quantity != nil {
			in.Quantity = *msg.Quantity
		}
		if msg.Note != nil {
			in.Note = *msg.Note
		}
		_, err = sc.Carts.Create(ctx, p, in)
	case msg.Op == services.CartActionUpdate:
		_, err = sc.Carts.Update(ctx, p, msg.ItemID, models.CartItemUpdate{Quantity: msg.Quantity, Note: msg.Note}, msg.Version)
	case msg.Op == services.CartActionReplace:
		_, err = sc.Carts.Replace(ctx, p, msg.ItemID, models.CartItemShape{
			MenuItemID:  msg.MenuItemID,
			VariationID: msg.Variation,
			Addons:      msg.Addons,
		}, msg.Version)
	case msg.Op == services.CartActionDelete:
		err = sc.Carts.Delete(ctx, p, msg.ItemID, msg.Version)
	case msg.Type == hub.EventChatMessage:
		err = sc.Sessions.Chat(p, msg.Text)
	case msg.Type == "call_waiter" || msg.Type == "ask_for_bill":
		_, err = sc.Waiters.Create(ctx, p, msg.Type)
	default:
		err = &services.Error{Kind: services.KindValidation, Code: services.CodeInvalidRequest, Message: "unknown op"}
	}
	if err != nil {
		_ = client.Send(errorMessage(err, msg))
	}
	return true
}

// errorMessage renders err as an error event for the sender only.
func errorMessage(err error, msg dinerMessage) hub.Message {
	data := gin.H{"op": msg.Op, "item_id": msg.ItemID}
	if msg.ClientOpID != "" {
		data["client_op_id"] = msg.ClientOpID
	}
	if svcErr, ok := services.AsError(err); ok {
		data["code"] = svcErr.Code
		data["message"] = svcErr.Message
		if svcErr.Current != nil {
			data["current"] = svcErr.Current
		}
	} else {
		utils.ErrorLogger.WithError(err).Error("diner op failed")
		data["code"] = "processing_error"
		data["message"] = "could not process message"
	}
	return hub.Message{Event: hub.EventError, Data: data}
}

type adminMessage struct {
	Action    string `json:"action"`
	RequestID string `json:"client_request_id,omitempty"`
	ActionArgs
}

// DashboardSocket -> GET /admin/ws/dashboard?token=...
func (sc *SocketController) DashboardSocket(c *gin.Context) {
	conn, err := sc.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	claims := sc.Tokens.DecodeAdminToken(middlewares.WebSocketTokenFrom(c))
	if claims == nil || claims.StaffID() == 0 {
		closeWith(conn, hub.ClosePolicyViolation, "invalid token")
		return
	}
	admin := &services.AdminPrincipal{StaffID: claims.StaffID(), RestaurantID: claims.RestaurantID, Role: claims.Role}

	client, err := sc.Admins.Connect(conn, services.AdminChannel(admin.RestaurantID), "")
	if errors.Is(err, hub.ErrChannelFull) {
		closeWith(conn, hub.CloseChannelFull, "too many dashboards")
		return
	}
	if err != nil {
		closeWith(conn, websocket.CloseInternalServerErr, "connect failed")
		return
	}
	defer sc.Admins.Disconnect(conn)

	conn.SetPongHandler(func(string) error {
		client.Pong()
		return nil
	})
	sc.Admins.StartHeartbeat(client, sc.PingInterval, sc.PongGrace)

	log := utils.InfoLogger.WithFields(logrus.Fields{"staff": admin.StaffID, "restaurant": admin.RestaurantID})
	log.Info("dashboard connected")

	if err := sc.sendDashboardSnapshot(c.Request.Context(), client, admin); err != nil {
		utils.ErrorLogger.WithError(err).Error("dashboard snapshot failed")
		closeWith(conn, websocket.CloseInternalServerErr, "snapshot failed")
		return
	}

	conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Info("dashboard disconnected")
			return
		}
		sc.handleAdminFrame(client, admin, raw)
	}
}

func (sc *SocketController) sendDashboardSnapshot(ctx context.Context, client *hub.Client, admin *services.AdminPrincipal) error {
	tables, err := sc.Tables.Snapshot(ctx, admin.RestaurantID)
	if err != nil {
		return err
	}
	requests, err := sc.Waiters.Pending(ctx, admin.RestaurantID)
	if err != nil {
		return err
	}
	orders, err := sc.Orders.PendingOrders(ctx, admin.RestaurantID)
	if err != nil {
		return err
	}

	for _, msg := range []hub.Message{
		{Event: hub.EventTablesSnapshot, Data: tables},
		{Event: hub.EventPendingWaiterRequests, Data: requests},
		{Event: hub.EventPendingOrders, Data: orders},
	} {
		if err := client.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

func (sc *SocketController) handleAdminFrame(client *hub.Client, admin *services.AdminPrincipal, raw []byte) {
	var msg adminMessage
	defer func() {
		if r := recover(); r != nil {
			utils.ErrorLogger.WithField("panic", r).Error("admin frame handler panicked")
			_ = client.Send(hub.Message{Event: hub.EventActionResult, Data: ActionResult{
				Action: msg.Action, RequestID: msg.RequestID, Code: "processing_error", Message: "could not process action",
			}})
		}
	}()

	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = client.Send(hub.Message{Event: hub.EventError, Data: gin.H{"code": services.CodeInvalidRequest, "message": "malformed message"}})
		return
	}

	data, err := sc.Actions.Run(context.Background(), admin, msg.Action, msg.ActionArgs)
	res := sc.Actions.Result(msg.Action, data, err)
	res.RequestID = msg.RequestID
	if err != nil {
		utils.InfoLogger.WithFields(logrus.Fields{"action": msg.Action, "code": res.Code}).Warn("dashboard action rejected")
	}
	_ = client.Send(hub.Message{Event: hub.EventActionResult, Data: res})
}
