package routes

import (
	"net/http"

	"dwellwatch/internal/config"
	"dwellwatch/internal/handler"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/middleware"
	"dwellwatch/internal/repository"
	wshub "dwellwatch/internal/service/websocket"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the collaborators the HTTP layer reads from.
type Deps struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics
	Events  repository.EventRepository
	Cameras handler.CameraController
	Hub     *wshub.HubService
}

// SetupRoutes registers the API, live view, log and metrics endpoints and
// wraps the mux with the authentication middleware.
func SetupRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/api/events", handler.ListEventsHandler(d.Events, d.Logger))
	mux.HandleFunc("/api/events/get", handler.GetEventHandler(d.Events, d.Logger))
	mux.HandleFunc("/api/events/image", handler.EventImageHandler(d.Events, d.Logger))
	mux.HandleFunc("/api/events/thumbnail", handler.EventThumbnailHandler(d.Events, d.Logger))
	mux.HandleFunc("/api/cameras", handler.CamerasHandler(d.Cameras, d.Logger))
	mux.HandleFunc("/api/cameras/stop", handler.StopCameraHandler(d.Cameras, d.Logger))
	mux.HandleFunc("/api/live", handler.LiveWebsocketHandler(d.Hub, d.Logger))

	// Log endpoints
	for _, level := range []string{"info", "warning", "error"} {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(d.Config, level))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(d.Logger, level))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(d.Config, d.Logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	mux.HandleFunc("/healthz", handler.HealthHandler(d.Cameras, d.Logger))
	mux.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry(), promhttp.HandlerOpts{}))

	// Apply middleware
	return middleware.AuthMiddleware(d.Config.APIKey)(mux)
}
