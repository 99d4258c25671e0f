package handler

import (
	"net/http"
	"strconv"

	"dwellwatch/internal/logger"
	"dwellwatch/internal/model"
)

// CameraController is the part of the supervisor the HTTP layer uses.
type CameraController interface {
	Statuses() []model.CameraStatus
	StopCamera(id int) bool
}

// CamerasHandler returns the status of every running camera.
func CamerasHandler(cameras CameraController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, cameras.Statuses())
	}
}

// StopCameraHandler handles POST /api/cameras/stop?id=N.
func StopCameraHandler(cameras CameraController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.Atoi(r.URL.Query().Get("id"))
		if err != nil {
			http.Error(w, "invalid camera id", http.StatusBadRequest)
			return
		}
		if !cameras.StopCamera(id) {
			http.Error(w, "Camera not found", http.StatusNotFound)
			return
		}
		logger.Info("Camera %d stop requested over HTTP", id)
		w.WriteHeader(http.StatusAccepted)
	}
}

// HealthHandler reports ok while at least one camera is running.
func HealthHandler(cameras CameraController, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		running := 0
		for _, st := range cameras.Statuses() {
			if st.Running {
				running++
			}
		}

		status := "ok"
		if running == 0 {
			status = "degraded"
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeJSON(w, logger, map[string]any{"status": status, "cameras": running})
	}
}
