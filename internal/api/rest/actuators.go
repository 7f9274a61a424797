package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenServoCore/internal/types"
)

// GET /api/v1/actuators
func (s *Server) listActuators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"actuators": s.lm.ActuatorNames(),
	})
}

// GET /api/v1/actuators/:name
func (s *Server) getActuator(c *gin.Context) {
	name := c.Param("name")

	snapshot, ok := s.lm.ActuatorSnapshot(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeNotFound, "Unknown actuator", name))
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// POST /api/v1/actuators/:name/command
//
// Exactly one of position, velocity or effort must be set. The command is
// staged and applied on the next control cycle.
func (s *Server) commandActuator(c *gin.Context) {
	name := c.Param("name")

	var req struct {
		Position *float64 `json:"position"`
		Velocity *float64 `json:"velocity"`
		Effort   *float64 `json:"effort"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}

	set := 0
	for _, v := range []*float64{req.Position, req.Velocity, req.Effort} {
		if v != nil {
			set++
		}
	}
	if set != 1 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest,
			"Exactly one of position, velocity or effort must be set", nil))
		return
	}

	var err error
	switch {
	case req.Position != nil:
		err = s.lm.SetPositionCommand(name, *req.Position)
	case req.Velocity != nil:
		err = s.lm.SetVelocityCommand(name, *req.Velocity)
	case req.Effort != nil:
		err = s.lm.SetEffortCommand(name, *req.Effort)
	}
	if err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeLoopRejected, "Command rejected", err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "command staged"})
}
