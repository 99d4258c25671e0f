package model

import "time"

// Event is the indexed record of one persisted dwell event.
type Event struct {
	ID         string    `json:"id"`
	CameraID   int       `json:"camera_id"`
	CameraName string    `json:"camera_name"`
	Type       string    `json:"type"`
	TrackID    int       `json:"track_id"`
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name,omitempty"`
	X1         int       `json:"x1"`
	Y1         int       `json:"y1"`
	X2         int       `json:"x2"`
	Y2         int       `json:"y2"`
	DwellTime  float64   `json:"dwell_time"`
	VideoTime  float64   `json:"video_time"`
	Synthetic  bool      `json:"synthetic"`
	Timestamp  time.Time `json:"timestamp"`
	ImagePath  string    `json:"image_path"`
	LabelPath  string    `json:"label_path"`
	FileSize   int64     `json:"file_size"`
}
