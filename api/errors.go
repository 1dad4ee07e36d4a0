package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/poiesic/dealwire/core"
	"github.com/poiesic/dealwire/storage"
	"go.uber.org/zap"
)

// Error codes returned in the "code" field of error responses.
const (
	CodeValidation        = "ValidationError"
	CodeAlreadyProcessing = "AlreadyProcessing"
	CodeExtraction        = "ExtractionError"
	CodeSchema            = "SchemaError"
	CodeRetryLimit        = "RetryLimit"
	CodeStaleAttempt      = "StaleAttempt"
	CodeNotFound          = "NotFound"
	CodeInternal          = "InternalError"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	Field     string  `json:"field,omitempty"`
	FailureID core.ID `json:"failureId,omitempty"`
}

// classify maps err to an HTTP status and response body.
func classify(err error) (int, errorBody) {
	var (
		validationErr *core.ValidationError
		schemaErr     *core.SchemaError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, errorBody{Code: CodeValidation, Message: validationErr.Error(), Field: validationErr.Field}
	case errors.As(err, &schemaErr):
		return http.StatusUnprocessableEntity, errorBody{
			Code:      CodeSchema,
			Message:   schemaErr.Error(),
			Field:     schemaErr.Field,
			FailureID: schemaErr.FailureID,
		}
	case errors.Is(err, core.ErrExtraction):
		return http.StatusBadGateway, errorBody{Code: CodeExtraction, Message: extractionMessage(err)}
	case errors.Is(err, core.ErrAlreadyProcessing):
		return http.StatusConflict, errorBody{Code: CodeAlreadyProcessing, Message: err.Error()}
	case errors.Is(err, core.ErrRetryLimit):
		return http.StatusConflict, errorBody{Code: CodeRetryLimit, Message: err.Error()}
	case errors.Is(err, core.ErrStaleAttempt):
		return http.StatusConflict, errorBody{Code: CodeStaleAttempt, Message: "attempt lost ownership of the document"}
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, errorBody{Code: CodeNotFound, Message: "document not found"}
	default:
		return http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: "internal error"}
	}
}

// extractionMessage renders an extraction failure without its cause.
func extractionMessage(err error) string {
	var extractionErr *core.ExtractionError
	if errors.As(err, &extractionErr) {
		return extractionErr.Error()
	}
	return core.ErrExtraction.Error()
}

// writeError aborts the request with the response err maps to.
func (s *Server) writeError(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, body)
}
