package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/carverlabs/dealpilot/internal/common"
	"github.com/carverlabs/dealpilot/internal/config"
	"github.com/carverlabs/dealpilot/internal/httpapi/handlers"
	"github.com/carverlabs/dealpilot/internal/httpapi/middleware"
	"github.com/carverlabs/dealpilot/internal/httpapi/ws"
	"github.com/carverlabs/dealpilot/internal/store/rabbitmq"
	"github.com/carverlabs/dealpilot/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub *rabbitmq.Publisher, hub *ws.Hub) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, pub, hub)

	r.GET("/ping", h.Ping)

	// register + login
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// vehicle listings
	authGroup.POST("/deals", h.CreateDeal)
	authGroup.GET("/deals", h.ListDeals)
	authGroup.GET("/deals/:id", h.GetDeal)

	// negotiation sessions (JWT required)
	authGroup.POST("/negotiations", h.CreateNegotiation)
	authGroup.GET("/negotiations/:session_id", h.GetNegotiation)
	authGroup.POST("/negotiations/:session_id/rounds", h.ProcessRound)
	authGroup.POST("/negotiations/:session_id/chat", h.SendChatMessage)
	authGroup.POST("/negotiations/:session_id/dealer-info", h.AnalyzeDealerInfo)
	authGroup.GET("/negotiations/:session_id/messages", h.ListNegotiationMessages)
	authGroup.DELETE("/negotiations/:session_id", h.DeleteNegotiation)

	// analytics
	authGroup.GET("/negotiations/:session_id/success-probability", h.SuccessProbability)
	authGroup.GET("/negotiations/:session_id/optimal-offer", h.OptimalOffer)
	authGroup.GET("/negotiations/:session_id/patterns", h.NegotiationPatterns)

	// live round updates
	authGroup.GET("/ws/negotiations/:session_id", h.WatchNegotiation)

	// standalone loan math
	authGroup.POST("/financing/calculate", h.CalculateFinancing)

	return r
}
