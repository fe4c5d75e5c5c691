package handlers

import (
	"errors"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/orrn/catspool/internal/archive"
	"github.com/orrn/catspool/internal/db"
)

// ArchiveHandler exposes the monthly job archives.
type ArchiveHandler struct {
	archiver *archive.Archiver
}

func NewArchiveHandler(archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver}
}

type archiveRunResponse struct {
	Message  string `json:"message"`
	Archived int    `json:"archived"`
}

type archivalSettings struct {
	ArchivePath string `json:"archive_path"`
	ArchiveDays int    `json:"archive_days"`
}

type archivalUpdate struct {
	ArchiveDays int `json:"archive_days" binding:"required,min=1,max=365"`
}

type archivedJobsQuery struct {
	Limit  int `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset int `form:"offset" binding:"omitempty,min=0"`
}

func archiveError(c *gin.Context, err error) {
	if errors.Is(err, archive.ErrArchiveNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "archive not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// Run archives finished jobs now instead of waiting for the next tick.
func (h *ArchiveHandler) Run(c *gin.Context) {
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "archived": n})
		return
	}
	c.JSON(http.StatusOK, archiveRunResponse{Message: "archive completed successfully", Archived: n})
}

func (h *ArchiveHandler) List(c *gin.Context) {
	files, err := h.archiver.ListArchives()
	if err != nil {
		archiveError(c, err)
		return
	}
	if files == nil {
		files = []*archive.ArchiveFile{}
	}
	c.JSON(http.StatusOK, gin.H{"archives": files, "count": len(files)})
}

func (h *ArchiveHandler) Info(c *gin.Context) {
	info, err := h.archiver.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		archiveError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *ArchiveHandler) Download(c *gin.Context) {
	info, err := h.archiver.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		archiveError(c, err)
		return
	}
	c.FileAttachment(filepath.Join(h.archiver.GetArchivePath(), info.Filename), info.Filename)
}

func (h *ArchiveHandler) Delete(c *gin.Context) {
	if err := h.archiver.DeleteArchive(c.Request.Context(), c.Param("filename")); err != nil {
		archiveError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ArchivedJobs lists which archive file each moved job ended up in.
func (h *ArchiveHandler) ArchivedJobs(c *gin.Context) {
	var q archivedJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = 100
	}

	jobs, err := db.Archive.GetArchiveJobs(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*db.ArchiveJob{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "limit": q.Limit, "offset": q.Offset})
}

func (h *ArchiveHandler) Settings(c *gin.Context) {
	c.JSON(http.StatusOK, archivalSettings{
		ArchivePath: h.archiver.GetArchivePath(),
		ArchiveDays: h.archiver.GetArchiveDays(),
	})
}

func (h *ArchiveHandler) UpdateSettings(c *gin.Context) {
	var req archivalUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.archiver.SetArchiveDays(req.ArchiveDays)
	c.JSON(http.StatusOK, archivalSettings{
		ArchivePath: h.archiver.GetArchivePath(),
		ArchiveDays: h.archiver.GetArchiveDays(),
	})
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/archive", h.Run)
	r.GET("/archives", h.List)
	r.GET("/archives/:filename", h.Info)
	r.GET("/archives/:filename/download", h.Download)
	r.DELETE("/archives/:filename", h.Delete)
	r.GET("/archived-jobs", h.ArchivedJobs)
	r.GET("/settings/archival", h.Settings)
	r.PUT("/settings/archival", h.UpdateSettings)
}
