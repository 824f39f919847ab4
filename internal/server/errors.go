package server

import (
	"errors"
	"net/http"

	auditdomain "github.com/andyvauliln/paysync/internal/audit/domain"
	"github.com/andyvauliln/paysync/internal/authorization"
	paymentsyncdomain "github.com/andyvauliln/paysync/internal/paymentsync/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		code := ""
		if len(vErr.Errors) == 1 {
			code = vErr.Errors[0].Code
		}
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	var selErr *paymentsyncdomain.SelectionError
	if errors.As(err, &selErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    selErr.Code,
			Message: selErr.Message,
			Errors:  []ValidationError{{Field: selErr.Field, Code: selErr.Code, Message: selErr.Message}},
		}
	}

	var invErr *paymentsyncdomain.InvariantError
	if errors.As(err, &invErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "invariant_violation",
			Code:    invErr.Code,
			Message: invErr.Error(),
		}
	}

	var infraErr *paymentsyncdomain.InfrastructureError
	if errors.As(err, &infraErr) {
		if infraErr.Retryable {
			return http.StatusServiceUnavailable, errorPayload{
				Type:    "service_unavailable",
				Code:    infraErr.Op,
				Message: "service unavailable, retry the request",
			}
		}
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Code:    infraErr.Op,
			Message: "internal server error",
		}
	}

	if isValidationError(err) {
		code := err.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    code,
			Message: "validation error",
			Errors:  []ValidationError{{Field: validationErrorField(err), Code: code, Message: "invalid value"}},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentsyncdomain.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidRole):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Code:    err.Error(),
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentsyncdomain.ErrInvalidDays),
		errors.Is(err, paymentsyncdomain.ErrEmptyUpdates),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction),
		errors.Is(err, auditdomain.ErrInvalidEntity):
		return true
	default:
		return false
	}
}

func validationErrorField(err error) string {
	switch {
	case errors.Is(err, paymentsyncdomain.ErrInvalidDays):
		return "db_days_before"
	case errors.Is(err, paymentsyncdomain.ErrEmptyUpdates):
		return "updates"
	case errors.Is(err, auditdomain.ErrInvalidPageToken):
		return "page_token"
	case errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return "start_at"
	default:
		return "request"
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
