package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/catspool/internal/db"
)

type JobResponse struct {
	*db.PrintJob
	Duration *int64 `json:"duration_ms,omitempty"`
}

type ListJobsQuery struct {
	Status   string `form:"status"`
	FromDate string `form:"from_date"`
	ToDate   string `form:"to_date"`
	Limit    int    `form:"limit" binding:"max=100"`
	Offset   int    `form:"offset" binding:"min=0"`
	SortDir  string `form:"sort_dir"`
}

type JobStatsResponse struct {
	ByStatus map[string]int64   `json:"by_status"`
	Daily    []*db.PrintCounter `json:"daily"`
	Recent   []*db.StateChange  `json:"recent_state_changes"`
}

// JobHandler serves the persisted job history.
type JobHandler struct{}

func NewJobHandler() *JobHandler {
	return &JobHandler{}
}

func jobToResponse(job *db.PrintJob) JobResponse {
	resp := JobResponse{PrintJob: job}
	if job.StartedAt != nil && job.CompletedAt != nil {
		d := job.CompletedAt.Sub(*job.StartedAt).Milliseconds()
		resp.Duration = &d
	}
	return resp
}

func (h *JobHandler) ListJobs(c *gin.Context) {
	var query ListJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if query.Limit <= 0 {
		query.Limit = 50
	}

	filter := db.JobFilter{
		Status:   query.Status,
		Limit:    query.Limit,
		Offset:   query.Offset,
		OrderDir: query.SortDir,
	}

	if query.FromDate != "" {
		t, err := time.Parse("2006-01-02", query.FromDate)
		if err == nil {
			filter.FromDate = &t
		}
	}
	if query.ToDate != "" {
		t, err := time.Parse("2006-01-02", query.ToDate)
		if err == nil {
			endOfDay := t.Add(24*time.Hour - time.Second)
			filter.ToDate = &endOfDay
		}
	}

	jobs, err := db.Jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	responses := make([]JobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobToResponse(job))
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   responses,
		"limit":  query.Limit,
		"offset": query.Offset,
		"count":  len(responses),
	})
}

func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := db.Jobs.GetJobByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get job"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(job))
}

func (h *JobHandler) GetJobStats(c *gin.Context) {
	ctx := c.Request.Context()

	byStatus, err := db.Jobs.CountJobsByStatus(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}

	now := time.Now()
	daily, err := db.Counters.GetCounters(ctx, now.AddDate(0, 0, -30), now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get counters"})
		return
	}

	recent, err := db.StateLog.Recent(ctx, 20)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get state log"})
		return
	}

	if daily == nil {
		daily = []*db.PrintCounter{}
	}
	if recent == nil {
		recent = []*db.StateChange{}
	}
	c.JSON(http.StatusOK, JobStatsResponse{
		ByStatus: byStatus,
		Daily:    daily,
		Recent:   recent,
	})
}

func (h *JobHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/jobs", h.ListJobs)
	r.GET("/jobs/stats", h.GetJobStats)
	r.GET("/jobs/:id", h.GetJob)
}
