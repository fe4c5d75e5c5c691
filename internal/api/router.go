// Package api exposes the printer controller and job history over HTTP.
package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/orrn/catspool/internal/api/handlers"
	"github.com/orrn/catspool/internal/api/middleware"
	"github.com/orrn/catspool/internal/archive"
	"github.com/orrn/catspool/internal/config"
	"github.com/orrn/catspool/internal/webhook"
)

type Deps struct {
	Config   *config.Config
	Printer  handlers.Printer
	Archiver *archive.Archiver
	Webhooks *webhook.WebhookSender
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func NewRouter(d Deps) (*gin.Engine, error) {
	logger := d.Logger.Named("http")

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	protected := api.Group("")

	if d.Config.Server.AuthEnabled {
		auth, err := middleware.NewAuthMiddleware(d.Config.Server.SecureCookie)
		if err != nil {
			return nil, fmt.Errorf("failed to init auth: %w", err)
		}
		authGroup := api.Group("/auth")
		authGroup.POST("/setup", auth.SetupHandler)
		authGroup.POST("/login", auth.LoginHandler)
		authGroup.POST("/logout", auth.LogoutHandler)
		authGroup.GET("/status", auth.StatusHandler)
		authGroup.POST("/password", auth.RequireAuth(), auth.ChangePasswordHandler)

		protected.Use(auth.RequireAuth())
	}

	handlers.NewPrinterHandler(d.Printer, d.Config.Server.MaxImageSize, logger).RegisterRoutes(protected)
	handlers.NewJobHandler().RegisterRoutes(protected)
	handlers.NewSettingsHandler(d.Config).RegisterRoutes(protected)
	if d.Webhooks != nil {
		handlers.NewWebhookHandler(d.Webhooks).RegisterRoutes(protected)
	}
	if d.Archiver != nil {
		handlers.NewArchiveHandler(d.Archiver).RegisterRoutes(protected)
	}

	return r, nil
}

func NewServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
