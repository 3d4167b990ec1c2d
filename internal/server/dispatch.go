package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RunDispatchPass triggers one notification dispatch pass. External
// schedulers call this on a cadence instead of the in-process loop.
func (s *Server) RunDispatchPass(c *gin.Context) {
	result, err := s.dispatcher.RunPass(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
