package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
	giftcarddomain "github.com/smallbiznis/tithi/internal/giftcard/domain"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrUnauthorized   = errors.New("unauthorized")
)

type errorResponse struct {
	Error string `json:"error"`
}

// ErrorHandlingMiddleware renders the last gin error as a JSON payload
// when no handler wrote a response.
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

		status, message := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: message})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, bookingdomain.ErrNotFound):
		return http.StatusNotFound, "Booking not found"
	case errors.Is(err, giftcarddomain.ErrNotFound):
		return http.StatusNotFound, "Gift card not found"
	case errors.Is(err, bookingdomain.ErrInvalidState):
		return http.StatusBadRequest, "Booking is not in a valid state for this action"
	case errors.Is(err, bookingdomain.ErrNoPaymentMethod):
		return http.StatusBadRequest, "No payment method on file"
	case errors.Is(err, bookingdomain.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "Payment failed"
	case errors.Is(err, bookingdomain.ErrStateChanged):
		return http.StatusConflict, "Booking was modified concurrently"
	case errors.Is(err, giftcarddomain.ErrInactive):
		return http.StatusBadRequest, "Gift card is not active"
	case errors.Is(err, giftcarddomain.ErrExpired):
		return http.StatusBadRequest, "Gift card is expired"
	case errors.Is(err, giftcarddomain.ErrInsufficientBalance):
		return http.StatusBadRequest, "Insufficient gift card balance"
	case errors.Is(err, giftcarddomain.ErrNotConsumable):
		return http.StatusBadRequest, "Gift card has no stored value"
	case errors.Is(err, giftcarddomain.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid adjustment amount"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
