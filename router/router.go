package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yeremiapane/tablesync/config"
	"github.com/yeremiapane/tablesync/controllers"
	"github.com/yeremiapane/tablesync/hub"
	"github.com/yeremiapane/tablesync/middlewares"
	"github.com/yeremiapane/tablesync/services"
	"github.com/yeremiapane/tablesync/utils"
	"gorm.io/gorm"
)

// Services is everything the HTTP layer needs, assembled once at startup.
type Services struct {
	Config *config.Config
	DB     *gorm.DB
	Tokens *utils.TokenIssuer

	Sessions *services.SessionService
	Carts    *services.CartService
	Orders   *services.OrderService
	Tables   *services.TableService
	Waiters  *services.WaiterService
	Staff    *services.StaffService

	Diners *hub.Hub
	Admins *hub.Hub
}

// NewServices builds the service layer. notify decides where broadcasts go:
// straight to the local hubs or through the Redis backplane.
func NewServices(cfg *config.Config, db *gorm.DB, diners, admins *hub.Hub, notify services.Notifier, pos services.POSClient, events services.EventPublisher) *Services {
	tokens := utils.NewTokenIssuer(cfg.JWTSecret)
	return &Services{
		Config: cfg,
		DB:     db,
		Tokens: tokens,
		Sessions: &services.SessionService{
			DB:            db,
			QR:            utils.NewQRSigner(cfg.QRSecret),
			Tokens:        tokens,
			Notify:        notify,
			TokenTTL:      cfg.SessionTokenTTL,
			RefreshWindow: cfg.TokenRefreshWindow,
		},
		Carts: &services.CartService{DB: db, Notify: notify},
		Orders: &services.OrderService{
			DB:         db,
			Notify:     notify,
			POS:        pos,
			Events:     events,
			POSTimeout: cfg.POSTimeout,
		},
		Tables:  &services.TableService{DB: db, Notify: notify},
		Waiters: &services.WaiterService{DB: db, Notify: notify},
		Staff: &services.StaffService{
			DB:         db,
			Tokens:     tokens,
			TokenTTL:   cfg.AdminTokenTTL,
			BcryptCost: cfg.BcryptCost,
		},
		Diners: diners,
		Admins: admins,
	}
}

func SetupRouter(s *Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders(s.Config.IsProduction()))
	r.Use(middlewares.CORSMiddlewares(s.Config.AllowedOrigins))
	r.Use(middlewares.LoggerMiddleware())

	sessionCtrl := controllers.NewSessionController(s.Sessions, s.Carts)
	cartCtrl := controllers.NewCartController(s.Carts)
	orderCtrl := controllers.NewOrderController(s.Orders, s.Waiters)
	adminCtrl := controllers.NewAdminController(s.Staff, s.Tables, s.Orders, s.Waiters)
	socketCtrl := &controllers.SocketController{
		Sessions:     s.Sessions,
		Carts:        s.Carts,
		Waiters:      s.Waiters,
		Tables:       s.Tables,
		Orders:       s.Orders,
		Tokens:       s.Tokens,
		Actions:      adminCtrl.Actions,
		Diners:       s.Diners,
		Admins:       s.Admins,
		PingInterval: s.Config.AdminPingInterval,
		PongGrace:    s.Config.AdminPongGrace,
		Upgrader:     controllers.NewUpgrader(s.Config.AllowedOrigins),
	}

	// ----------------------------------------------------------------
	//                      PUBLIC ROUTES
	// ----------------------------------------------------------------
	r.GET("/healthz", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "ok"
		if sqlDB, err := s.DB.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			dbStatus = "unreachable"
		}
		utils.RespondJSON(c, status, "health", gin.H{"db": dbStatus, "time": time.Now().UTC()})
	})

	joinLimiter := middlewares.NewRateLimiter(s.Config.JoinRateLimit, s.Config.JoinRateBurst)
	r.POST("/table_session", joinLimiter.RateLimit(), sessionCtrl.Join)
	r.POST("/admin/login", joinLimiter.RateLimit(), adminCtrl.Login)

	// ----------------------------------------------------------------
	//                      DINER ROUTES (ws_token bearer)
	// ----------------------------------------------------------------
	diner := r.Group("/")
	diner.Use(middlewares.SessionAuth(s.Sessions))
	{
		diner.POST("/session/token_refresh", sessionCtrl.RefreshToken)
		diner.POST("/session/close", sessionCtrl.Close)
		diner.POST("/session/validate_pass", sessionCtrl.ValidatePass)
		diner.PATCH("/member/:member_pid", sessionCtrl.UpdateMember)
		diner.GET("/cart_snapshot", sessionCtrl.CartSnapshot)

		diner.POST("/cart_items", cartCtrl.CreateItem)
		diner.PATCH("/cart_items/:id", cartCtrl.UpdateItem)
		diner.PUT("/cart_items/:id", cartCtrl.ReplaceItem)
		diner.DELETE("/cart_items/:id", cartCtrl.DeleteItem)

		diner.POST("/orders", orderCtrl.SubmitOrder)
		diner.POST("/waiter_requests", orderCtrl.CreateWaiterRequest)
	}

	r.GET("/ws/session", middlewares.WebSocketToken(), socketCtrl.SessionSocket)
	r.GET("/admin/ws/dashboard", middlewares.WebSocketToken(), socketCtrl.DashboardSocket)

	// ----------------------------------------------------------------
	//                      ADMIN ROUTES (staff bearer)
	// ----------------------------------------------------------------
	admin := r.Group("/admin")
	admin.Use(middlewares.AdminAuth(s.Tokens))
	{
		admin.GET("/tables", adminCtrl.GetTables)
		admin.GET("/orders/pending", adminCtrl.GetPendingOrders)
		admin.GET("/waiter_requests", adminCtrl.GetWaiterRequests)
		admin.POST("/actions/:action", adminCtrl.RunAction)
		admin.PUT("/daily_pass", middlewares.RoleCheck("manager", "admin"), adminCtrl.SetDailyPass)
	}

	return r
}
