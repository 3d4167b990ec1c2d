package server

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/tithi/internal/booking/domain"
)

type bookingAction func(ctx context.Context, businessID, bookingID snowflake.ID) (*bookingdomain.ActionResult, error)

func (s *Server) CompleteBooking(c *gin.Context) {
	s.performBookingAction(c, s.bookingSvc.Complete)
}

func (s *Server) NoShowBooking(c *gin.Context) {
	s.performBookingAction(c, s.bookingSvc.NoShow)
}

func (s *Server) CancelBooking(c *gin.Context) {
	s.performBookingAction(c, s.bookingSvc.Cancel)
}

func (s *Server) performBookingAction(c *gin.Context, action bookingAction) {
	bookingID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := action(c.Request.Context(), businessID(c), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) RefundBooking(c *gin.Context) {
	bookingID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.bookingSvc.Refund(c.Request.Context(), businessID(c), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// A booking with no settled charge has nothing to refund: the result
	// carries the explanation but the request itself is rejected.
	if result.Status == bookingdomain.ResultNoCharge {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ListBookingPayments(c *gin.Context) {
	bookingID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	payments, err := s.bookingSvc.ListPayments(c.Request.Context(), businessID(c), bookingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": payments})
}
