package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fairroll-backend/internal/services"
)

type UserHandler struct {
	redisService *services.RedisService
	log          *slog.Logger
}

func NewUserHandler(redisService *services.RedisService, log *slog.Logger) *UserHandler {
	return &UserHandler{
		redisService: redisService,
		log:          log,
	}
}

func (h *UserHandler) GetWallet(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	wallet, err := h.redisService.GetWallet(c.Request.Context(), userID.(int64))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"wallet":    wallet.BalanceResponse(),
		"inventory": wallet.Inventory,
	})
}
