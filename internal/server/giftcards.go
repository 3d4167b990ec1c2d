package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type adjustGiftCardRequest struct {
	DeltaCents int64 `json:"delta_cents"`
}

func (s *Server) GetGiftCard(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	card, err := s.giftcardSvc.GetByCode(c.Request.Context(), businessID(c), code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": card})
}

func (s *Server) AdjustGiftCard(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var req adjustGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	card, err := s.giftcardSvc.Adjust(c.Request.Context(), businessID(c), code, req.DeltaCents)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.auditSvc != nil {
		targetID := card.ID.String()
		_ = s.auditSvc.AuditLog(c.Request.Context(), businessID(c), "gift_card.adjusted", "gift_card", &targetID, map[string]any{
			"code":        card.Code,
			"delta_cents": req.DeltaCents,
			"balance":     card.CurrentBalanceCents,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": card})
}
