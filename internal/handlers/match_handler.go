package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"solver-backend/internal/dto"
	"solver-backend/internal/middleware"
	"solver-backend/internal/repository"
	"solver-backend/internal/services"
)

// MatchHandler HTTP handlers for match queries and manual confirmation
type MatchHandler struct {
	matches    repository.MatchRepository
	settlement *services.SettlementService
}

// NewMatchHandler creates a match handler
func NewMatchHandler(matches repository.MatchRepository, settlement *services.SettlementService) *MatchHandler {
	return &MatchHandler{matches: matches, settlement: settlement}
}

// List handles GET /api/v1/matches
func (h *MatchHandler) List(c *gin.Context) {
	matches, err := h.matches.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches, "count": len(matches)})
}

// Confirm handles POST /api/v1/matches/:match_id/confirm. Records a
// settlement performed out of band by the operator.
func (h *MatchHandler) Confirm(c *gin.Context) {
	matchID := c.Param("match_id")

	var body struct {
		TxHash string `json:"tx_hash" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "tx_hash is required")
		return
	}

	if h.settlement == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:         "settlement is not enabled",
			Code:          "SETTLEMENT_DISABLED",
			CorrelationID: middleware.CorrelationID(c),
		})
		return
	}

	if err := h.settlement.ConfirmMatch(c.Request.Context(), matchID, body.TxHash); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Error:         "match not found",
				Code:          services.CodeNotFound,
				CorrelationID: middleware.CorrelationID(c),
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"match_id": matchID, "status": "settled", "tx_hash": body.TxHash})
}
