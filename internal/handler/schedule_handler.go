package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mpt-warrior/ranking-engine/internal/dto"
	"github.com/mpt-warrior/ranking-engine/internal/service"
	"github.com/mpt-warrior/ranking-engine/pkg/response"
	"github.com/mpt-warrior/ranking-engine/pkg/validator"
)

type ScheduleHandler struct {
	scheduler       *service.Scheduler
	defaultInterval int
}

func NewScheduleHandler(scheduler *service.Scheduler, defaultInterval int) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler, defaultInterval: defaultInterval}
}

// GetSchedule reports the current scheduler state.
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.scheduler.Status()})
}

// ControlSchedule starts, stops or immediately triggers the scheduler.
func (h *ScheduleHandler) ControlSchedule(c *gin.Context) {
	var req dto.ScheduleControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": validator.FormatValidationError(err)})
		return
	}

	switch req.Action {
	case "start":
		interval := req.IntervalMinutes
		if interval <= 0 {
			interval = h.defaultInterval
		}
		status, err := h.scheduler.Start(c.Request.Context(), interval)
		if err != nil {
			response.ResponseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": status})

	case "stop":
		c.JSON(http.StatusOK, gin.H{"data": h.scheduler.Stop()})

	case "run_now":
		status, err := h.scheduler.RunNow(c.Request.Context())
		if err != nil {
			response.ResponseError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": status})
	}
}
