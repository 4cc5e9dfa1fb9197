package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"solver-backend/internal/dto"
	"solver-backend/internal/middleware"
	"solver-backend/internal/models"
	"solver-backend/internal/repository"
	"solver-backend/internal/services"
	"solver-backend/internal/utils"
)

// IntentHandler HTTP handlers for intent submission and queries
type IntentHandler struct {
	admission *services.AdmissionService
	intents   repository.IntentRepository
}

// NewIntentHandler creates an intent handler
func NewIntentHandler(admission *services.AdmissionService, intents repository.IntentRepository) *IntentHandler {
	return &IntentHandler{admission: admission, intents: intents}
}

// Submit handles POST /api/v1/intents
func (h *IntentHandler) Submit(c *gin.Context) {
	var req dto.SubmitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "invalid request body: "+err.Error())
		return
	}

	correlationID := middleware.CorrelationID(c)
	intent, err := h.admission.Submit(c.Request.Context(), &req, correlationID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.SubmitIntentResponse{
		IntentID:      intent.IntentID,
		Nullifier:     intent.Nullifier,
		Status:        string(intent.Status),
		CorrelationID: correlationID,
	})
}

// Get handles GET /api/v1/intents/:nullifier
func (h *IntentHandler) Get(c *gin.Context) {
	nullifier := utils.NormalizeHex(c.Param("nullifier"))

	intent, err := h.intents.GetByNullifier(c.Request.Context(), nullifier)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, dto.ErrorResponse{
				Error:         "intent not found",
				Code:          services.CodeNotFound,
				CorrelationID: middleware.CorrelationID(c),
			})
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewIntentView(intent))
}

// List handles GET /api/v1/intents?user=0x...
func (h *IntentHandler) List(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		respondBadRequest(c, "user query parameter is required")
		return
	}

	intents, err := h.intents.ListByUser(c.Request.Context(), utils.NormalizeHex(user), 100)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]dto.IntentView, 0, len(intents))
	for i := range intents {
		views = append(views, dto.NewIntentView(&intents[i]))
	}
	c.JSON(http.StatusOK, gin.H{"intents": views, "count": len(views)})
}

// ListPending handles GET /api/v1/intents/pending with optional user
// and token-pair filters
func (h *IntentHandler) ListPending(c *gin.Context) {
	var (
		intents  []models.Intent
		err      error
		tokenIn  = utils.NormalizeHex(c.Query("token_in"))
		tokenOut = utils.NormalizeHex(c.Query("token_out"))
	)
	switch {
	case tokenIn != "" && tokenOut != "":
		intents, err = h.intents.ListPendingByPair(c.Request.Context(), tokenIn, tokenOut)
	case tokenIn != "" || tokenOut != "":
		respondBadRequest(c, "token_in and token_out must be supplied together")
		return
	default:
		intents, err = h.intents.ListPending(c.Request.Context())
	}
	if err != nil {
		respondError(c, err)
		return
	}

	user := utils.NormalizeHex(c.Query("user"))
	views := make([]dto.IntentView, 0, len(intents))
	for i := range intents {
		if user != "" && intents[i].User != user {
			continue
		}
		views = append(views, dto.NewIntentView(&intents[i]))
	}
	c.JSON(http.StatusOK, gin.H{"intents": views, "count": len(views)})
}

// Cancel handles POST /api/v1/intents/:nullifier/cancel
func (h *IntentHandler) Cancel(c *gin.Context) {
	nullifier := c.Param("nullifier")

	var body struct {
		User string `json:"user"`
	}
	// Body is optional; an empty user skips the ownership check for
	// operator-authenticated calls.
	_ = c.ShouldBindJSON(&body)

	intent, err := h.admission.Cancel(c.Request.Context(), nullifier, body.User)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewIntentView(intent))
}
