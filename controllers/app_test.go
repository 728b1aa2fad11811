package controllers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"github.com/yeremiapane/tablesync/config"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/models"
	"github.com/yeremiapane/tablesync/router"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/testutil"
	"github.com/yeremiapane/tablesync/utils"
)

type testApp struct {
	t      *testing.T
	engine *gin.Engine
	srv    *httptest.Server
	svc    *router.Services
	fx     *testutil.Fixture
	qr     utils.QRSigner
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	utils.InitLogger("error", "text")

	db := testutil.NewDB(t)
	fx := testutil.Seed(t, db)
	cfg := &config.Config{
		Env:                "test",
		JWTSecret:          "jwt-test-secret",
		QRSecret:           "qr-test-secret",
		SessionTokenTTL:    3 * time.Hour,
		AdminTokenTTL:      12 * time.Hour,
		TokenRefreshWindow: 15 * time.Minute,
		BcryptCost:         4,
		ChannelCap:         20,
		AdminPingInterval:  50 * time.Second,
		AdminPongGrace:     12 * time.Second,
		POSTimeout:         time.Second,
		JoinRateLimit:      1000,
		JoinRateBurst:      1000,
		AllowedOrigins:     []string{"*"},
	}
	diners := hub.New("diner", cfg.ChannelCap)
	admins := hub.New("admin", cfg.ChannelCap)
	notify := services.Notifier{Diners: diners, Admins: admins}
	svc := router.NewServices(cfg, db, diners, admins, notify, services.LocalPOSClient{}, services.NopPublisher{})

	app := &testApp{
		t:      t,
		engine: router.SetupRouter(svc),
		svc:    svc,
		fx:     fx,
		qr:     utils.NewQRSigner(cfg.QRSecret),
	}
	app.srv = httptest.NewServer(app.engine)
	t.Cleanup(app.srv.Close)
	return app
}

// do sends a JSON request and decodes the JSONResponse envelope.
func (a *testApp) do(method, path, token string, body interface{}) (int, map[string]interface{}) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var response map[string]interface{}
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return w.Code, response
}

type joined struct {
	SessionPID string
	MemberPID  string
	Token      string
	IsHost     bool
}

func (a *testApp) join(table models.Table, device string) joined {
	a.t.Helper()
	code, res := a.do(http.MethodPost, "/table_session", "", map[string]string{
		"table_pid": table.PID,
		"token":     a.qr.CreateQRToken(table.RestaurantID, table.ID),
		"device_id": device,
	})
	require.Equal(a.t, http.StatusOK, code, res)
	data := res["data"].(map[string]interface{})
	return joined{
		SessionPID: data["session_pid"].(string),
		MemberPID:  data["member_pid"].(string),
		Token:      data["ws_token"].(string),
		IsHost:     data["is_host"].(bool),
	}
}

func (a *testApp) adminToken() string {
	a.t.Helper()
	code, res := a.do(http.MethodPost, "/admin/login", "", map[string]string{
		"email":    a.fx.Staff.Email,
		"password": testutil.StaffPassword,
	})
	require.Equal(a.t, http.StatusOK, code, res)
	return res["data"].(map[string]interface{})["token"].(string)
}

func (a *testApp) dial(path string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(a.srv.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

// readEvent reads frames until one with the wanted event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string) hub.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg struct {
			Event string          `json:"type"`
			Data  json.RawMessage `json:"data"`
		}
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if msg.Event == event {
			var data interface{}
			require.NoError(t, json.Unmarshal(msg.Data, &data))
			return hub.Message{Event: msg.Event, Data: data}
		}
	}
}

// expectClose reads until the server closes the socket and returns the code.
func expectClose(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if ok := asCloseError(err, &closeErr); ok {
			return closeErr.Code
		}
		t.Fatalf("socket ended without a close frame: %v", err)
	}
}

func asCloseError(err error, target **websocket.CloseError) bool {
	ce, ok := err.(*websocket.CloseError)
	if ok {
		*target = ce
	}
	return ok
}
