package handlers

import (
	"net/http"

	"aa-backend/internal/dto"
	"aa-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// JobsHandler exposes queue job status
type JobsHandler struct {
	queue *services.JobQueueService
}

// NewJobsHandler creates the jobs handler
func NewJobsHandler(queue *services.JobQueueService) *JobsHandler {
	return &JobsHandler{queue: queue}
}

// GetJobHandler returns the state of one queued job.
// GET /api/v1/jobs/:id
func (h *JobsHandler) GetJobHandler(c *gin.Context) {
	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "Job not found",
			"code":    "NOT_FOUND",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": dto.JobStatusResponse{
			ID:          job.ID,
			Queue:       job.Queue,
			JobType:     string(job.JobType),
			JobName:     job.JobName,
			Status:      string(job.Status),
			Attempts:    job.Attempts,
			MaxAttempts: job.MaxAttempts,
			LastError:   job.LastError,
			Result:      job.Result,
		},
	})
}
