package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/veridocs/mirror-be/internal/api/dto"
	"github.com/veridocs/mirror-be/internal/domain"
)

// CreateJob handles POST /api/v1/documents/:document_id/jobs
// Enqueues a background job against a document
func (h *JobHandler) CreateJob(c *gin.Context) {
	documentID := c.Param("document_id")
	if documentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "document_id is required",
		})
		return
	}

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	switch req.Kind {
	case domain.JobKindPreview, domain.JobKindExport:
		if req.Provider != "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "provider is only valid for upload jobs",
			})
			return
		}
	case domain.JobKindUpload:
		if req.Provider == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "upload jobs require a provider",
			})
			return
		}
		if _, err := h.registry.Get(req.Provider); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "unknown provider: " + req.Provider,
			})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "kind must be one of preview, export, upload",
		})
		return
	}

	now := time.Now()
	job := domain.Job{
		ID:        uuid.New().String(),
		ClientID:  req.ClientID,
		SubjectID: documentID,
		Kind:      req.Kind,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.Kind == domain.JobKindUpload {
		job.Provider = &req.Provider
	}

	if err := h.jobs.Create(c.Request.Context(), &job); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	h.publishWakeup(c, &job)

	c.JSON(http.StatusCreated, dto.NewJobDTO(&job))
}

// publishWakeup nudges the worker so the job is picked up before the
// next poll. Best-effort: the worker's polling loop claims the job
// either way, so exhausting the publish retries only costs latency.
func (h *JobHandler) publishWakeup(c *gin.Context, job *domain.Job) {
	if h.rabbitClient == nil {
		return
	}

	body, err := json.Marshal(gin.H{"job_id": job.ID, "kind": job.Kind})
	if err != nil {
		return
	}

	if err := h.rabbitClient.PublishWithRetry(c.Request.Context(), body, "application/json"); err != nil {
		h.logger.Warn("Failed to publish job wake-up",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := domain.JobFilter{
		ClientID: req.ClientID,
		Kind:     req.Kind,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// One extra row was fetched to detect a further page
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor, err = EncodeJobCursor(&domain.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
		if err != nil {
			h.logger.Error("Failed to encode next cursor", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode next cursor",
			})
			return
		}
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
