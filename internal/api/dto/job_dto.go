package dto

import (
	"time"

	"github.com/veridocs/mirror-be/internal/domain"
)

type CreateJobRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Provider string `json:"provider"`
}

type ListJobsRequest struct {
	ClientID string `form:"client_id"`
	Kind     string `form:"kind"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID        string  `json:"id"`
	ClientID  string  `json:"client_id"`
	SubjectID string  `json:"subject_id"`
	Kind      string  `json:"kind"`
	Provider  *string `json:"provider,omitempty"`
	Status    string  `json:"status"`
	Attempts  int     `json:"attempts"`
	LastError string  `json:"last_error,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func NewJobDTO(job *domain.Job) JobDTO {
	return JobDTO{
		ID:        job.ID,
		ClientID:  job.ClientID,
		SubjectID: job.SubjectID,
		Kind:      job.Kind,
		Provider:  job.Provider,
		Status:    job.Status,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
		UpdatedAt: job.UpdatedAt.Format(time.RFC3339),
	}
}
