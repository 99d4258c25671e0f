package tracking

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// EventType identifies a dwell transition.
type EventType string

const (
	EventEnter     EventType = "enter"
	EventExit      EventType = "exit"
	EventViolation EventType = "violation"
)

// DomainEvent is produced once per qualifying transition.
//
// The event owns Frame; whoever consumes or drops the event must call
// Release exactly once.
type DomainEvent struct {
	Type        EventType
	CameraID    int
	CameraName  string
	TrackID     int
	ClassID     int
	Box         image.Rectangle
	DwellTime   float64
	Frame       *gocv.Mat
	FrameWidth  int
	FrameHeight int
	VideoTime   float64
	Timestamp   time.Time
	Synthetic   bool
}

// Release frees the frame snapshot. Safe to call on an event without a frame.
func (e *DomainEvent) Release() {
	if e.Frame != nil {
		e.Frame.Close()
		e.Frame = nil
	}
}
