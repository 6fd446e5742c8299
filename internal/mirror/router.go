package mirror

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"novelhub/internal/auth"
	"novelhub/internal/sync"
)

// NewRouter wires the work routes, the event stream and a health check.
func NewRouter(h *Handler, hub *sync.Hub, tokens auth.TokenService) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.Logger))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": hub.Stats()})
	})
	r.GET("/ws", sync.WSHandler(hub))

	h.RegisterRoutes(r.Group("/works"), auth.AuthMiddleware(tokens, auth.ScopeFetch))
	return r
}

// clientName returns the client name of the authenticated caller, or "".
func clientName(c *gin.Context) string {
	if claims := auth.MustGetClaims(c); claims != nil {
		return claims.Client
	}
	return ""
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()))
	}
}
