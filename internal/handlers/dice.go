package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"fairroll-backend/internal/models"
	"fairroll-backend/internal/services"
)

type DiceHandler struct {
	dice *services.DiceService
	log  *slog.Logger
}

func NewDiceHandler(dice *services.DiceService, log *slog.Logger) *DiceHandler {
	return &DiceHandler{
		dice: dice,
		log:  log,
	}
}

// GetCurrent shows the commitment the next roll will use.
func (h *DiceHandler) GetCurrent(c *gin.Context) {
	userID := c.GetInt64("user_id")

	dice, err := h.dice.CurrentDice(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"dice":    dice.Public(),
	})
}

func (h *DiceHandler) RotateSeed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	resp, err := h.dice.RotateSeed(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"dice_id":          resp.DiceID,
		"server_seed_hash": resp.ServerSeedHash,
		"nonce":            resp.Nonce,
	})
}

func (h *DiceHandler) SetClientSeed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.ClientSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	dice, err := h.dice.SetClientSeed(c.Request.Context(), c.Param("id"), userID, req.ClientSeed)
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"dice":    dice.Public(),
	})
}

// Verify needs no authentication: a completed dice has nothing left to hide.
func (h *DiceHandler) Verify(c *gin.Context) {
	result, err := h.dice.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"verification": result,
		"valid":        result.HashMatches && result.ResultMatches,
	})
}
