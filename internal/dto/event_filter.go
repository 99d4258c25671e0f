// EventFilter describes user-provided filters to narrow the event list.
package dto

import "time"

type EventFilter struct {
	CameraID *int
	TrackID  *int
	Type     string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}
