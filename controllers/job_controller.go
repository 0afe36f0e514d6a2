package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yashrajoria/payment-engine/models"
)

// JobQueue is the operator view of the commission queue.
type JobQueue interface {
	ListJobs(ctx context.Context, status models.JobStatus, limit int) ([]models.CommissionJob, error)
	RetryJob(ctx context.Context, id uuid.UUID) (*models.CommissionJob, error)
}

type JobController struct {
	queue JobQueue
}

func NewJobController(queue JobQueue) *JobController {
	return &JobController{queue: queue}
}

// ListJobs handles GET /admin/commission-jobs?status=dead_letter&limit=50.
func (jc *JobController) ListJobs(c *gin.Context) {
	status := models.JobStatus(c.DefaultQuery("status", string(models.JobStatusDeadLetter)))
	limit, _ := strconv.Atoi(c.Query("limit"))

	jobs, err := jc.queue.ListJobs(c.Request.Context(), status, limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// RetryJob handles POST /admin/commission-jobs/:id/retry.
func (jc *JobController) RetryJob(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	job, err := jc.queue.RetryJob(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, job)
}
