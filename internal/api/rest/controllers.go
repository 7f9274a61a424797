package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenServoCore/internal/types"
)

// GET /api/v1/controllers
func (s *Server) listControllers(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"active": status.ActiveControllers,
	})
}

// POST /api/v1/controllers/switch
func (s *Server) switchControllers(c *gin.Context) {
	var req struct {
		Start []string `json:"start"`
		Stop  []string `json:"stop"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}
	if len(req.Start) == 0 && len(req.Stop) == 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest,
			"At least one of start or stop must be non-empty", nil))
		return
	}

	if err := s.lm.SwitchControllers(req.Start, req.Stop); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeLoopRejected, "Switch rejected", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "switch staged"})
}
