package relay

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/SamuelLnds/confmesh/internal/config"
	"github.com/SamuelLnds/confmesh/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware hands every connection a stable identity fallback for
// clients that do not pass an explicit id.
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

// SetupRouter wires the REST surface and the websocket signaling endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	api := r.Group("/api")

	// GET /api/rooms - list rooms with member counts
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": hub.Rooms()})
	})

	// GET /api/ws/signal?room={room}&id={id}&pseudo={pseudo}
	api.GET("/ws/signal", func(c *gin.Context) {
		id := c.Query("id")
		if id == "" {
			id = c.GetString("client_token")
		}
		pseudo := c.Query("pseudo")
		if pseudo == "" {
			pseudo = "guest"
		}
		room := domain.RoomName(c.DefaultQuery("room", "main"))

		participant, err := domain.NewParticipant(domain.ParticipantID(id), pseudo)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
			return
		}

		log.Info().Str("module", "relay").Str("room", string(room)).Str("id", id).Msg("new WS connection")
		hub.ServeConn(ctx, room, *participant, ws)
	})

	return r
}
