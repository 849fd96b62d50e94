package handlers

import (
	"net/http"

	"aa-backend/internal/dto"
	"aa-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TriggerHandler exposes hazard trigger commitment endpoints
type TriggerHandler struct {
	triggers *services.TriggerService
	logger   *logrus.Logger
}

// NewTriggerHandler creates the trigger handler
func NewTriggerHandler(triggers *services.TriggerService, logger *logrus.Logger) *TriggerHandler {
	return &TriggerHandler{
		triggers: triggers,
		logger:   logger,
	}
}

// AddTriggerHandler stores a trigger and enqueues its on-chain commitment.
// POST /api/v1/triggers
func (h *TriggerHandler) AddTriggerHandler(c *gin.Context) {
	var req dto.AddTriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}

	jobID, err := h.triggers.AddTrigger(c.Request.Context(), c.Query("chain"), &req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"triggerId": req.ID,
			"error":     err.Error(),
		}).Error("add trigger failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   jobID,
	})
}

// UpdateTriggerParamsHandler enqueues a parameter update for a committed
// trigger.
// PATCH /api/v1/triggers/:id/params
func (h *TriggerHandler) UpdateTriggerParamsHandler(c *gin.Context) {
	var req dto.UpdateTriggerParamsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   err.Error(),
			"code":    "INVALID_REQUEST",
		})
		return
	}
	req.ID = c.Param("id")

	jobID, err := h.triggers.UpdateTriggerParams(c.Request.Context(), c.Query("chain"), &req)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"triggerId": req.ID,
			"error":     err.Error(),
		}).Error("update trigger params failed")
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"jobId":   jobID,
	})
}

// GetTriggerHandler returns one stored trigger.
// GET /api/v1/triggers/:id
func (h *TriggerHandler) GetTriggerHandler(c *gin.Context) {
	trigger, err := h.triggers.GetTrigger(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if trigger == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Trigger not found",
			"code":    "NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    trigger,
	})
}
