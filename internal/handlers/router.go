package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fairroll-backend/internal/middleware"
	"fairroll-backend/internal/services"
)

type Router struct {
	JWT       *services.JWTService
	Rolls     *RollHandler
	Dice      *DiceHandler
	Users     *UserHandler
	WebSocket *WebSocketHandler
}

func (r *Router) Engine() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Verification is open to anyone holding a dice id.
	router.GET("/api/dice/:id/verify", r.Dice.Verify)

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(r.JWT))
	{
		protected.GET("/wallet", r.Users.GetWallet)
		protected.GET("/ws", r.WebSocket.HandleWebSocket)

		protected.POST("/rolls", r.Rolls.CreateRoll)
		protected.GET("/settlements", r.Rolls.GetHistory)
		protected.GET("/settlements/:id", r.Rolls.GetSettlement)

		dice := protected.Group("/dice")
		{
			dice.GET("/current", r.Dice.GetCurrent)
			dice.POST("/:id/rotate", r.Dice.RotateSeed)
			dice.PUT("/:id/client-seed", r.Dice.SetClientSeed)
		}
	}

	return router
}
