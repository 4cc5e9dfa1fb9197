package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"solver-backend/internal/clients"
	"solver-backend/internal/dto"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
)

// BasicHandler health and statistics endpoints
type BasicHandler struct {
	db      *gorm.DB
	nats    *clients.NATSClient
	intents repository.IntentRepository
	matches repository.MatchRepository
}

// NewBasicHandler creates the health/stats handler
func NewBasicHandler(db *gorm.DB, natsClient *clients.NATSClient, intents repository.IntentRepository, matches repository.MatchRepository) *BasicHandler {
	return &BasicHandler{db: db, nats: natsClient, intents: intents, matches: matches}
}

// Health handles GET /health
func (h *BasicHandler) Health(c *gin.Context) {
	dbOK := false
	if sqlDB, err := h.db.DB(); err == nil {
		dbOK = sqlDB.Ping() == nil
	}

	status := "ok"
	httpStatus := http.StatusOK
	if !dbOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, dto.HealthResponse{
		Status:        status,
		Database:      dbOK,
		NATSConnected: h.nats.IsConnected(),
		Time:          time.Now().UTC().Format(time.RFC3339),
	})
}

// Stats handles GET /api/v1/stats
func (h *BasicHandler) Stats(c *gin.Context) {
	counts, err := h.intents.CountByStatus(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	matches, err := h.matches.ListActive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.StatsResponse{
		Pending:       counts[models.IntentStatusPending],
		Matched:       counts[models.IntentStatusMatched],
		Settled:       counts[models.IntentStatusSettled],
		Cancelled:     counts[models.IntentStatusCancelled],
		Expired:       counts[models.IntentStatusExpired],
		Failed:        counts[models.IntentStatusFailed],
		ActiveMatches: int64(len(matches)),
	})
}
