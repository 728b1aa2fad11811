package controllers_test

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinTableSession(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]

	host := app.join(table, "device-a")
	guest := app.join(table, "device-b")

	assert.True(t, host.IsHost)
	assert.False(t, guest.IsHost)
	assert.Equal(t, host.SessionPID, guest.SessionPID)
	assert.NotEqual(t, host.MemberPID, guest.MemberPID)

	again := app.join(table, "device-a")
	assert.Equal(t, host.MemberPID, again.MemberPID, "same device rejoins as the same member")
}

func TestJoinRejectsBadQR(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]
	other := app.fx.Tables[1]

	code, res := app.do(http.MethodPost, "/table_session", "", map[string]string{
		"table_pid": table.PID,
		"token":     app.qr.CreateQRToken(other.RestaurantID, other.ID),
		"device_id": "device-a",
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "qr_mismatch", res["code"])
	assert.Equal(t, false, res["status"])

	code, res = app.do(http.MethodPost, "/table_session", "", map[string]string{"table_pid": table.PID})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", res["code"])
}

func TestDinerRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)

	code, res := app.do(http.MethodGet, "/cart_snapshot", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Authorization header missing", res["message"])

	code, _ = app.do(http.MethodGet, "/cart_snapshot", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestClosedSessionTokenIsGone(t *testing.T) {
	app := newTestApp(t)
	host := app.join(app.fx.Tables[0], "device-a")

	code, res := app.do(http.MethodPost, "/session/close", host.Token, nil)
	require.Equal(t, http.StatusOK, code, res)

	code, res = app.do(http.MethodGet, "/cart_snapshot", host.Token, nil)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, "session_closed", res["code"])
}

func TestOnlyHostClosesSession(t *testing.T) {
	app := newTestApp(t)
	table := app.fx.Tables[0]
	app.join(table, "device-a")
	guest := app.join(table, "device-b")

	code, res := app.do(http.MethodPost, "/session/close", guest.Token, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_host", res["code"])
}

func TestCartItemLifecycleOverREST(t *testing.T) {
	app := newTestApp(t)
	host := app.join(app.fx.Tables[0], "device-a")

	code, res := app.do(http.MethodPost, "/cart_items", host.Token, map[string]interface{}{
		"session_pid":  host.SessionPID,
		"menu_item_id": app.fx.FlatWhite.ID,
		"addons":       []map[string]interface{}{{"addon_id": app.fx.ExtraShot.ID, "qty": 1}},
	})
	require.Equal(t, http.StatusCreated, code, res)
	item := res["data"].(map[string]interface{})
	assert.Equal(t, float64(1), item["qty"])
	assert.Equal(t, float64(1), item["version"])
	id := uint(item["id"].(float64))

	code, res = app.do(http.MethodPatch, fmt.Sprintf("/cart_items/%d", id), host.Token, map[string]interface{}{
		"qty": 3, "version": 1,
	})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, float64(2), res["data"].(map[string]interface{})["version"])

	// Stale writers get 409 with the current line to reconcile against.
	code, res = app.do(http.MethodPatch, fmt.Sprintf("/cart_items/%d", id), host.Token, map[string]interface{}{
		"qty": 5, "version": 1,
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "version_conflict", res["code"])
	current := res["data"].(map[string]interface{})
	assert.Equal(t, float64(3), current["qty"])
	assert.Equal(t, float64(2), current["version"])

	code, res = app.do(http.MethodDelete, fmt.Sprintf("/cart_items/%d", id), host.Token, map[string]interface{}{"version": 2})
	require.Equal(t, http.StatusOK, code, res)

	code, res = app.do(http.MethodGet, "/cart_snapshot", host.Token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, res["data"].(map[string]interface{})["items"])
}

func TestCartItemRejectsForeignSession(t *testing.T) {
	app := newTestApp(t)
	host := app.join(app.fx.Tables[0], "device-a")
	other := app.join(app.fx.Tables[1], "device-b")

	code, res := app.do(http.MethodPost, "/cart_items", host.Token, map[string]interface{}{
		"session_pid":  other.SessionPID,
		"menu_item_id": app.fx.Croissant.ID,
	})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_owner", res["code"])

	code, res = app.do(http.MethodPatch, "/cart_items/abc", host.Token, map[string]interface{}{"qty": 2})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid item id", res["message"])
}

func TestSubmitOrderOverREST(t *testing.T) {
	app := newTestApp(t)
	host := app.join(app.fx.Tables[0], "device-a")

	code, res := app.do(http.MethodPost, "/cart_items", host.Token, map[string]interface{}{
		"menu_item_id": app.fx.Croissant.ID,
		"qty":          2,
	})
	require.Equal(t, http.StatusCreated, code, res)
	id := res["data"].(map[string]interface{})["id"].(float64)

	code, res = app.do(http.MethodPost, "/orders", host.Token, map[string]interface{}{
		"items":     []float64{id},
		"cart_hash": "stale",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "cart_mismatch", res["code"])
	data, ok := res["data"].(map[string]interface{})
	require.True(t, ok, res)
	snapshot, ok := data["cart_snapshot"].(map[string]interface{})
	require.True(t, ok, data)
	assert.Len(t, snapshot["items"], 1)
	require.NotEmpty(t, snapshot["cart_hash"])

	code, res = app.do(http.MethodPost, "/orders", host.Token, map[string]interface{}{
		"items":     []float64{id},
		"cart_hash": snapshot["cart_hash"],
	})
	require.Equal(t, http.StatusCreated, code, res)
	order := res["data"].(map[string]interface{})
	assert.Equal(t, 6.4, order["total"])
	assert.NotZero(t, order["order_id"])

	// Locked items can no longer be edited.
	code, res = app.do(http.MethodPatch, fmt.Sprintf("/cart_items/%d", uint(id)), host.Token, map[string]interface{}{"qty": 1})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "item_not_pending", res["code"])
}

func TestWaiterRequestOverREST(t *testing.T) {
	app := newTestApp(t)
	host := app.join(app.fx.Tables[0], "device-a")

	code, res := app.do(http.MethodPost, "/waiter_requests", host.Token, map[string]string{"type": "ask_for_bill"})
	require.Equal(t, http.StatusCreated, code, res)

	code, res = app.do(http.MethodPost, "/waiter_requests", host.Token, map[string]string{"type": "dance"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", res["code"])
}
