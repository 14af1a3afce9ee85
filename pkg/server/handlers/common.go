// Package handlers implements the HTTP endpoints of the engine API.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/twattier/rag-engine/pkg/server/dto"
	"github.com/twattier/rag-engine/pkg/types"
)

// writeError maps engine errors onto HTTP status codes with a uniform body.
func writeError(c *gin.Context, err error) {
	var validationErr *types.ValidationError
	var collabErr *types.CollaboratorError

	switch {
	case errors.Is(err, types.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.As(err, &validationErr),
		errors.Is(err, types.ErrEmptyDocID),
		errors.Is(err, types.ErrUnknownMode),
		errors.Is(err, types.ErrInvalidTopK):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.As(err, &collabErr):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{Error: "collaborator_unavailable", Message: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_request", Message: message})
}
