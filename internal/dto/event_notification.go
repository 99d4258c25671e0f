package dto

import "time"

// EventNotification is pushed to live viewers after an event is persisted.
type EventNotification struct {
	Kind       string    `json:"kind"`
	ID         string    `json:"id"`
	CameraID   int       `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	Type       string    `json:"type"`
	TrackID    int       `json:"track_id"`
	DwellTime  float64   `json:"dwell_time"`
	Timestamp  time.Time `json:"timestamp"`
	Image      string    `json:"image"`
}

// PreviewFrame carries a base64 JPEG of a camera's annotated frame.
type PreviewFrame struct {
	Kind     string `json:"kind"`
	CameraID int    `json:"camera_id"`
	Camera   string `json:"camera"`
	Image    string `json:"image"`
}
