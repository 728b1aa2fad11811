package controllers_test

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/hub"
)

func (a *testApp) dinerSocket(j joined) *websocket.Conn {
	a.t.Helper()
	conn, _, err := a.dial("/ws/session?sid=" + j.SessionPID + "&token=" + j.Token)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = conn.Close() })

	// The member's own presence event means the socket is registered.
	readEvent(a.t, conn, hub.EventMemberPresence)
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestSessionSocketPingPong(t *testing.T) {
	app := newTestApp(t)
	conn := app.dinerSocket(app.join(app.fx.Tables[0], "device-a"))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		if string(raw) == "pong" {
			return
		}
	}
}

func TestSessionSocketRejectsBadToken(t *testing.T) {
	app := newTestApp(t)

	conn, _, err := app.dial("/ws/session?token=bogus")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, hub.ClosePolicyViolation, expectClose(t, conn))

	host := app.join(app.fx.Tables[0], "device-a")
	other := app.join(app.fx.Tables[1], "device-b")
	conn, _, err = app.dial("/ws/session?sid=" + other.SessionPID + "&token=" + host.Token)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, hub.ClosePolicyViolation, expectClose(t, conn))

	_, resp, err := app.dial("/ws/session")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCartOpsFanOutToTheTable(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]
	host := app.join(table, "device-a")
	guest := app.join(table, "device-b")

	hostConn := app.dinerSocket(host)
	guestConn := app.dinerSocket(guest)

	sendJSON(t, guestConn, map[string]interface{}{
		"op":           "create",
		"client_op_id": "op-1",
		"menu_item_id": app.fx.FlatWhite.ID,
		"variation_id": app.fx.Oat.ID,
		"qty":          2,
	})

	msg := readEvent(t, hostConn, hub.EventCartUpdate)
	update := msg.Data.(map[string]interface{})
	assert.Equal(t, "create", update["action"])
	assert.Equal(t, guest.MemberPID, update["by"])
	item := update["item"].(map[string]interface{})
	assert.Equal(t, float64(2), item["qty"])
	assert.Equal(t, 5.0, item["unit_price"])

	// The host may edit any line; a stale version comes back to the sender only.
	id := item["id"]
	sendJSON(t, hostConn, map[string]interface{}{"op": "update", "item_id": id, "qty": 3, "version": 1})
	for {
		update = readEvent(t, guestConn, hub.EventCartUpdate).Data.(map[string]interface{})
		if update["action"] == "update" {
			break
		}
	}
	assert.Equal(t, host.MemberPID, update["by"])

	sendJSON(t, guestConn, map[string]interface{}{"op": "delete", "client_op_id": "op-2", "item_id": id, "version": 1})
	errMsg := readEvent(t, guestConn, hub.EventError).Data.(map[string]interface{})
	assert.Equal(t, "version_conflict", errMsg["code"])
	assert.Equal(t, "op-2", errMsg["client_op_id"])
	assert.Equal(t, float64(2), errMsg["current"].(map[string]interface{})["version"])

	sendJSON(t, guestConn, map[string]interface{}{"op": "juggle"})
	errMsg = readEvent(t, guestConn, hub.EventError).Data.(map[string]interface{})
	assert.Equal(t, "invalid_request", errMsg["code"])
}

func TestChatOverSocket(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]
	hostConn := app.dinerSocket(app.join(table, "device-a"))
	guestConn := app.dinerSocket(app.join(table, "device-b"))

	sendJSON(t, hostConn, map[string]string{"type": "chat_message", "text": "two flat whites?"})
	chat := readEvent(t, guestConn, hub.EventChatMessage).Data.(map[string]interface{})
	assert.Equal(t, "two flat whites?", chat["text"])
}

func TestStaffCloseDropsDinerSockets(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]
	conn := app.dinerSocket(app.join(table, "device-a"))
	token := app.adminToken()

	code, res := app.do(http.MethodPost, "/admin/actions/close_table", token, map[string]interface{}{"table_id": table.ID})
	require.Equal(t, http.StatusOK, code, res)

	assert.Equal(t, hub.CloseSessionClosed, expectClose(t, conn))
}

func TestDashboardSocket(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]

	conn, _, err := app.dial("/admin/ws/dashboard?token=bogus")
	require.NoError(t, err)
	assert.Equal(t, hub.ClosePolicyViolation, expectClose(t, conn))
	conn.Close()

	conn, _, err = app.dial("/admin/ws/dashboard?token=" + app.adminToken())
	require.NoError(t, err)
	defer conn.Close()

	tables := readEvent(t, conn, hub.EventTablesSnapshot).Data.([]interface{})
	assert.Len(t, tables, 3)
	readEvent(t, conn, hub.EventPendingWaiterRequests)
	readEvent(t, conn, hub.EventPendingOrders)

	host := app.join(table, "device-a")
	code, res := app.do(http.MethodPost, "/waiter_requests", host.Token, map[string]string{"type": "call_waiter"})
	require.Equal(t, http.StatusCreated, code, res)
	request := readEvent(t, conn, hub.EventWaiterRequest).Data.(map[string]interface{})
	assert.Equal(t, "call_waiter", request["type"])

	sendJSON(t, conn, map[string]interface{}{
		"action":            "resolve_waiter_request",
		"client_request_id": "r-1",
		"request_id":        request["id"],
	})
	result := readEvent(t, conn, hub.EventActionResult).Data.(map[string]interface{})
	assert.Equal(t, "r-1", result["client_request_id"])
	assert.Equal(t, true, result["ok"])

	sendJSON(t, conn, map[string]interface{}{"action": "enable_table", "client_request_id": "r-2", "table_id": table.ID})
	result = readEvent(t, conn, hub.EventActionResult).Data.(map[string]interface{})
	assert.Equal(t, "r-2", result["client_request_id"])
	assert.Equal(t, false, result["ok"])
	assert.Equal(t, "invalid_transition", result["code"])
	assert.NotContains(t, result, "data")

	sendJSON(t, conn, map[string]interface{}{"action": "move_table", "client_request_id": "r-3", "table_id": table.ID, "to_table_id": 9999})
	result = readEvent(t, conn, hub.EventActionResult).Data.(map[string]interface{})
	assert.Equal(t, "r-3", result["client_request_id"])
	assert.Equal(t, false, result["ok"])
	assert.NotContains(t, result, "data")
}
