package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenServoCore/internal/types"
)

// GET /api/v1/diagnostics
func (s *Server) getDiagnostics(c *gin.Context) {
	report, ok := s.lm.LatestDiagnostics()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeUnavailable,
			"No diagnostics report yet", nil))
		return
	}
	c.JSON(http.StatusOK, report)
}
