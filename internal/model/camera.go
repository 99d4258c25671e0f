package model

import "time"

// CameraStatus is a point-in-time snapshot of one camera worker.
type CameraStatus struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	Source          string    `json:"source"`
	Running         bool      `json:"running"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	FPS             float64   `json:"fps"`
	FramesRead      int64     `json:"frames_read"`
	FramesProcessed int64     `json:"frames_processed"`
	Reconnects      int64     `json:"reconnects"`
	Interval        int       `json:"interval"`
	Mode            string    `json:"mode"`
	ZoneState       string    `json:"zone_state"`
	MaxDwell        float64   `json:"max_dwell"`
	Inside          int       `json:"inside"`
	Tracks          int       `json:"tracks"`
	Entered         int       `json:"entered"`
	LastError       string    `json:"last_error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}
