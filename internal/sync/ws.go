package sync

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // events carry no secrets; any page may subscribe
	},
}

// WSHandler upgrades the request and subscribes the socket to hub.
func WSHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		if err := ws.WriteJSON(welcome("websocket", hub.Stats().WSClients+1)); err != nil {
			_ = ws.Close()
			return
		}
		hub.AddWS(ws)
		hub.logger.Info("ws client connected", zap.String("remote", c.ClientIP()))

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				break
			}
		}

		hub.RemoveWS(ws)
		hub.logger.Info("ws client disconnected", zap.String("remote", c.ClientIP()))
	}
}
