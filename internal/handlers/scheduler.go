package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/socialcounter/internal/models"
	"github.com/charlesng35/socialcounter/internal/scheduler"
	"github.com/charlesng35/socialcounter/internal/services"
	"github.com/charlesng35/socialcounter/pkg/response"
)

// SchedulerHandler exposes refresh job management.
type SchedulerHandler struct {
	store     *scheduler.Store
	scheduler *scheduler.RefreshScheduler
	metrics   *services.MetricService
}

// NewSchedulerHandler constructs a SchedulerHandler.
func NewSchedulerHandler(store *scheduler.Store, sched *scheduler.RefreshScheduler, metrics *services.MetricService) *SchedulerHandler {
	return &SchedulerHandler{store: store, scheduler: sched, metrics: metrics}
}

type scheduleRequest struct {
	Platform          string   `json:"platform" validate:"required,max=64"`
	Resource          string   `json:"resource" validate:"required,max=64"`
	ResourceID        string   `json:"resource_id" validate:"required,max=255"`
	Metric            string   `json:"metric" validate:"required,max=64"`
	IntervalMinutes   *float64 `json:"interval_minutes" validate:"omitempty,gte=0.5,lte=1440"`
	ExpiresInDays     *int     `json:"expires_in_days" validate:"omitempty,gte=1,lte=30"`
	NotifyOnlyChanged bool     `json:"notify_only_changed"`
}

type scheduleDTO struct {
	models.ScheduledMetric
	IntervalMinutes float64 `json:"interval_minutes"`
}

func mapSchedule(job models.ScheduledMetric) scheduleDTO {
	return scheduleDTO{
		ScheduledMetric: job,
		IntervalMinutes: job.Interval().Minutes(),
	}
}

// Create registers a refresh job or updates the existing job for the same counter.
// POST /api/v1/scheduler
func (h *SchedulerHandler) Create(c *gin.Context) {
	var req scheduleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	normalized, err := h.metrics.Normalize(services.FetchRequest{
		Platform:   req.Platform,
		Resource:   req.Resource,
		ResourceID: req.ResourceID,
		Metric:     req.Metric,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	in := scheduler.ScheduleInput{
		Platform:          normalized.Platform,
		Resource:          normalized.Resource,
		ResourceID:        normalized.ResourceID,
		Metric:            normalized.Metric,
		NotifyOnlyChanged: req.NotifyOnlyChanged,
		CreatedBy:         callerIdentity(c),
	}
	if req.IntervalMinutes != nil {
		in.IntervalMinutes = *req.IntervalMinutes
	}
	if req.ExpiresInDays != nil {
		in.ExpiresInDays = *req.ExpiresInDays
	}

	job, created, err := h.store.Upsert(requestContext(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, mapSchedule(*job))
}

// List returns active, unexpired jobs.
// GET /api/v1/scheduler
func (h *SchedulerHandler) List(c *gin.Context) {
	jobs, err := h.store.ListActive(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	dtos := make([]scheduleDTO, 0, len(jobs))
	for _, job := range jobs {
		dtos = append(dtos, mapSchedule(job))
	}
	response.SuccessWithMeta(c, http.StatusOK, dtos, &response.Meta{Total: len(dtos)})
}

// Stats reports schedule counts and whether the background loop is running.
// GET /api/v1/scheduler/stats
func (h *SchedulerHandler) Stats(c *gin.Context) {
	stats, err := h.scheduler.Stats(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}

// Delete deactivates a job.
// DELETE /api/v1/scheduler/:id
func (h *SchedulerHandler) Delete(c *gin.Context) {
	ctx := requestContext(c)
	id := strings.TrimSpace(c.Param("id"))

	if _, err := h.store.Get(ctx, id); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.store.Deactivate(ctx, id); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id, "message": "Scheduled metric deactivated"})
}

// RunNow executes one scheduler pass synchronously.
// POST /api/admin/scheduler/run
func (h *SchedulerHandler) RunNow(c *gin.Context) {
	report, err := h.scheduler.RunOnce(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, report)
}
