package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"solver-backend/internal/dto"
	"solver-backend/internal/middleware"
	"solver-backend/internal/services"
)

// respondError writes the uniform error envelope. Rejections carry their
// own code and status; anything else is a 500 with the detail kept out
// of the response body.
func respondError(c *gin.Context, err error) {
	correlationID := middleware.CorrelationID(c)

	var rejectErr *services.RejectError
	if errors.As(err, &rejectErr) {
		c.JSON(rejectErr.HTTPStatus, dto.ErrorResponse{
			Error:         rejectErr.Message,
			Code:          rejectErr.Code,
			CorrelationID: correlationID,
		})
		return
	}

	log.WithError(err).WithField("correlation_id", correlationID).
		Error("Request failed")
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:         "internal server error",
		Code:          "INTERNAL_ERROR",
		CorrelationID: correlationID,
	})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:         message,
		Code:          services.CodeInvalidRequest,
		CorrelationID: middleware.CorrelationID(c),
	})
}
