package tracking

import "image"

// State of a track relative to the zone.
type State int

const (
	Outside State = iota
	Inside
)

func (s State) String() string {
	if s == Inside {
		return "inside"
	}
	return "outside"
}

// TrackSession is the per-track dwell state. TotalTime is only meaningful
// while State is Inside.
type TrackSession struct {
	ClassID          int
	State            State
	SessionStart     float64
	TotalTime        float64
	LastSeen         float64
	ViolationFlagged bool
	ExitFlagged      bool
	LastBox          image.Rectangle
}

// Zone labels reported by AggregateState.
const (
	LabelEmpty     = "empty"
	LabelDetected  = "detected"
	LabelViolation = "violation"
)

// AggregateState summarises every session that is currently inside.
type AggregateState struct {
	Label       string
	MaxDwell    float64
	CountInside int
}
