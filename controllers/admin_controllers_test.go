package controllers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/testutil"
)

func TestAdminLogin(t *testing.T) {
	app := newTestApp(t)

	code, res := app.do(http.MethodPost, "/admin/login", "", map[string]string{
		"email":    app.fx.Staff.Email,
		"password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "invalid_credentials", res["code"])

	code, res = app.do(http.MethodPost, "/admin/login", "", map[string]string{
		"email":    "  ROBIN@harbour.test ",
		"password": testutil.StaffPassword,
	})
	require.Equal(t, http.StatusOK, code, res)
	assert.Equal(t, "Login successful", res["message"])
	assert.NotEmpty(t, res["data"].(map[string]interface{})["token"])
}

func TestAdminRoutesRejectDinerTokens(t *testing.T) {
	app := newTestApp(t)
	diner := app.join(app.fx.Tables[0], "device-a")

	code, _ := app.do(http.MethodGet, "/admin/tables", diner.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, res := app.do(http.MethodGet, "/admin/tables", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Authorization header missing", res["message"])
}

func TestAdminTablesAndActions(t *testing.T) {
	app := newTestApp(t)
	token := app.adminToken()
	table := app.fx.Tables[0]
	host := app.join(table, "device-a")

	code, res := app.do(http.MethodGet, "/admin/tables", token, nil)
	require.Equal(t, http.StatusOK, code, res)
	tables := res["data"].([]interface{})
	require.Len(t, tables, 3)
	first := tables[0].(map[string]interface{})
	assert.Equal(t, host.SessionPID, first["session_pid"])
	assert.Equal(t, float64(1), first["member_count"])

	code, res = app.do(http.MethodPost, "/admin/actions/disable_table", token, map[string]interface{}{"table_id": table.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "table_busy", res["code"])

	code, res = app.do(http.MethodPost, "/admin/actions/close_table", token, map[string]interface{}{"table_id": table.ID})
	require.Equal(t, http.StatusOK, code, res)
	result := res["data"].(map[string]interface{})
	assert.Equal(t, "close_table", result["action"])
	assert.Equal(t, true, result["ok"])

	code, res = app.do(http.MethodGet, "/cart_snapshot", host.Token, nil)
	assert.Equal(t, http.StatusGone, code)

	code, res = app.do(http.MethodPost, "/admin/actions/restore_table", token, map[string]interface{}{"table_id": table.ID})
	require.Equal(t, http.StatusOK, code, res)

	code, _ = app.do(http.MethodGet, "/cart_snapshot", host.Token, nil)
	assert.Equal(t, http.StatusOK, code, "restored session accepts its old tokens")

	code, res = app.do(http.MethodPost, "/admin/actions/dance", token, map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", res["code"])
}

func TestAdminResolvesWaiterRequest(t *testing.T) {
	app := newTestApp(t)
	token := app.adminToken()
	host := app.join(app.fx.Tables[0], "device-a")

	code, res := app.do(http.MethodPost, "/waiter_requests", host.Token, map[string]string{"type": "call_waiter"})
	require.Equal(t, http.StatusCreated, code, res)

	code, res = app.do(http.MethodGet, "/admin/waiter_requests", token, nil)
	require.Equal(t, http.StatusOK, code)
	pending := res["data"].([]interface{})
	require.Len(t, pending, 1)
	id := pending[0].(map[string]interface{})["id"]

	code, res = app.do(http.MethodPost, "/admin/actions/resolve_waiter_request", token, map[string]interface{}{"request_id": id})
	require.Equal(t, http.StatusOK, code, res)

	code, res = app.do(http.MethodPost, "/admin/actions/resolve_waiter_request", token, map[string]interface{}{"request_id": id})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_resolved", res["code"])
}

func TestDailyPassRequiresManager(t *testing.T) {
	app := newTestApp(t)
	token := app.adminToken()

	code, res := app.do(http.MethodPut, "/admin/daily_pass", token, map[string]string{"word": "pelican"})
	require.Equal(t, http.StatusOK, code, res)

	var restaurant models.Restaurant
	require.NoError(t, app.svc.DB.First(&restaurant, app.fx.Restaurant.ID).Error)
	assert.True(t, restaurant.RequireDailyPass)

	// New members of a passworded restaurant must validate before ordering.
	host := app.join(app.fx.Tables[1], "device-a")
	code, res = app.do(http.MethodPost, "/session/validate_pass", host.Token, map[string]string{"word": "nope"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "invalid_pass", res["code"])

	code, res = app.do(http.MethodPost, "/session/validate_pass", host.Token, map[string]string{"word": "pelican"})
	require.Equal(t, http.StatusOK, code, res)

	require.NoError(t, app.svc.DB.Model(&models.StaffUser{}).Where("id = ?", app.fx.Staff.ID).Update("role", "waiter").Error)
	waiterToken := app.adminToken()
	code, _ = app.do(http.MethodPut, "/admin/daily_pass", waiterToken, map[string]string{"word": "heron"})
	assert.Equal(t, http.StatusForbidden, code)
}
