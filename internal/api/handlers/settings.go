package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/catspool/internal/config"
)

type SettingsHandler struct {
	config *config.Config
}

type ServerConfigResponse struct {
	Port           int    `json:"port"`
	AuthEnabled    bool   `json:"auth_enabled"`
	DatabasePath   string `json:"database_path"`
	ArchivePath    string `json:"archive_path"`
	ArchiveDays    int    `json:"archive_days"`
	DeviceID       string `json:"device_id"`
	Transport      string `json:"transport"`
	DotWidth       int    `json:"dot_width"`
	Dither         string `json:"dither"`
	MaxQueuedJobs  int    `json:"max_queued_jobs"`
	PacingInterval string `json:"pacing_interval"`
	RescanInterval string `json:"rescan_interval"`
	ConnectTimeout string `json:"connect_timeout"`
	MQTTEnabled    bool   `json:"mqtt_enabled"`
	HotFolder      string `json:"hot_folder,omitempty"`
	LogLevel       string `json:"log_level"`
	LogFormat      string `json:"log_format"`
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

// GetServerConfig reports the effective configuration without secrets.
func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	resp := ServerConfigResponse{
		Port:           h.config.Server.Port,
		AuthEnabled:    h.config.Server.AuthEnabled,
		DatabasePath:   h.config.Database.Path,
		ArchivePath:    h.config.Database.ArchivePath,
		ArchiveDays:    h.config.Database.ArchiveDays,
		DeviceID:       h.config.Printer.DeviceID,
		Transport:      h.config.Printer.Transport,
		DotWidth:       h.config.Printer.DotWidth,
		Dither:         h.config.Printer.Dither,
		MaxQueuedJobs:  h.config.Printer.MaxQueuedJobs,
		PacingInterval: h.config.Printer.PacingInterval.String(),
		RescanInterval: h.config.Printer.RescanInterval.String(),
		ConnectTimeout: h.config.Printer.ConnectTimeout.String(),
		MQTTEnabled:    h.config.MQTT.Enabled,
		LogLevel:       h.config.Logging.Level,
		LogFormat:      h.config.Logging.Format,
	}
	if h.config.HotFolder.Enabled {
		resp.HotFolder = h.config.HotFolder.Path
	}

	c.JSON(http.StatusOK, resp)
}

func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings/server", h.GetServerConfig)
}
