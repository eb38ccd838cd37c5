package server

import (
	"errors"
	"net/http"

	activationdomain "github.com/dukapos/dukapos/internal/activation/domain"
	ledgerdomain "github.com/dukapos/dukapos/internal/ledger/domain"
	plandomain "github.com/dukapos/dukapos/internal/plan/domain"
	subscriptiondomain "github.com/dukapos/dukapos/internal/subscription/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
	ErrInternal       = errors.New("internal_error")
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

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, activationdomain.ErrActivationConflict),
		errors.Is(err, ledgerdomain.ErrDuplicateCorrelationID):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, subscriptiondomain.ErrInitiationFailed):
		// Deliberately generic: the cause lives in the logs, not in the
		// customer's error message.
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_initiation_failed",
			Message: "payment could not be started, please try again",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, subscriptiondomain.ErrInvalidRequest) ||
		errors.Is(err, ledgerdomain.ErrInvalidEntry)
}

func isNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) ||
		errors.Is(err, ledgerdomain.ErrEntryNotFound) ||
		errors.Is(err, plandomain.ErrPlanNotFound) ||
		errors.Is(err, gorm.ErrRecordNotFound)
}
