package handlers

import (
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/core"
	"github.com/orrn/catspool/internal/raster"
)

// Printer is the part of the controller the HTTP surface drives.
type Printer interface {
	Start(deviceID string) error
	Stop() error
	Submit(img image.Image) (string, error)
	Snapshot(ctx context.Context) (core.Snapshot, error)
}

type PrinterHandler struct {
	printer      Printer
	maxImageSize int64
	logger       *zap.Logger
}

func NewPrinterHandler(printer Printer, maxImageSize int64, logger *zap.Logger) *PrinterHandler {
	return &PrinterHandler{
		printer:      printer,
		maxImageSize: maxImageSize,
		logger:       logger,
	}
}

type StartRequest struct {
	DeviceID string `json:"device_id"`
}

type PrintResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Print accepts either a multipart form with an "image" file or the raw
// encoded image as the request body.
func (h *PrinterHandler) Print(c *gin.Context) {
	if c.Request.ContentLength > h.maxImageSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxImageSize)

	var src io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing image file"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image file"})
			return
		}
		defer f.Close()
		src = f
	}

	img, _, err := raster.Decode(src)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.printer.Submit(img)
	if err != nil {
		h.logger.Warn("submit rejected", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, PrintResponse{
		ID:      id,
		Message: "job submitted",
	})
}

func (h *PrinterHandler) GetStatus(c *gin.Context) {
	snap, err := h.printer.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if snap.Queued == nil {
		snap.Queued = []string{}
	}
	c.JSON(http.StatusOK, snap)
}

func (h *PrinterHandler) StartPrinter(c *gin.Context) {
	var req StartRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := h.printer.Start(req.DeviceID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "printer starting", "device_id": req.DeviceID})
}

func (h *PrinterHandler) StopPrinter(c *gin.Context) {
	if err := h.printer.Stop(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "printer stopping"})
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/print", h.Print)
	r.GET("/status", h.GetStatus)
	r.POST("/printer/start", h.StartPrinter)
	r.POST("/printer/stop", h.StopPrinter)
}
