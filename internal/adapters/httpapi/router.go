package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/presence/internal/adapters/ws"
	"github.com/dkeye/presence/internal/app"
	"github.com/dkeye/presence/internal/config"
	"github.com/dkeye/presence/internal/core"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// corsMiddleware reflects origins from the configured allow list. An
// empty list allows everyone.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if len(set) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if _, ok := set[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+secretHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *ws.Hub, gw *app.Gateway, reg *core.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.SecretHeaderKey))
	r.Use(sessions.Sessions("PresenceSessions", store))
	r.Use(ClientTokenMiddleware())
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.GET("/ws", func(c *gin.Context) {
		log.Info().Str("module", "adapters.httpapi").Str("sid", c.GetString("client_token")).Msg("ws endpoint hit")
		hub.Handle(ctx, c)
	})

	api := &adminAPI{
		secret:   cfg.SecretHeaderKey,
		gateway:  gw,
		registry: reg,
	}
	admin := r.Group("/")
	admin.Use(newIPRateLimiter(cfg.AdminRatePerMinute).middleware())
	admin.POST("/broadcast", api.broadcast)
	admin.POST("/multibroadcast", api.multibroadcast)
	admin.GET("/getliverooms", api.liveRooms)

	log.Info().Str("module", "adapters.httpapi").Msg("router setup")
	return r
}
