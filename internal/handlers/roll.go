package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"fairroll-backend/internal/models"
	"fairroll-backend/internal/services"
)

type RollHandler struct {
	settlements *services.SettlementService
	log         *slog.Logger
}

func NewRollHandler(settlements *services.SettlementService, log *slog.Logger) *RollHandler {
	return &RollHandler{
		settlements: settlements,
		log:         log,
	}
}

// CreateRoll opens a case or resolves an upgrade. Sending the same request_id
// again returns the original outcome.
func (h *RollHandler) CreateRoll(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.RollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.settlements.CreateRoll(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}

	c.JSON(status, gin.H{
		"success": true,
		"result":  res,
	})
}

func (h *RollHandler) GetSettlement(c *gin.Context) {
	userID := c.GetInt64("user_id")

	st, err := h.settlements.GetSettlement(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"settlement": st,
	})
}

func (h *RollHandler) GetHistory(c *gin.Context) {
	userID := c.GetInt64("user_id")

	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	settlements, err := h.settlements.History(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"settlements": settlements,
		"count":       len(settlements),
	})
}
