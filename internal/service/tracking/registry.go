// Package tracking turns per-frame detections of one camera into dwell
// events. A Registry is confined to its camera's goroutine and is not safe
// for concurrent use.
package tracking

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Zone is the containment test the registry runs on each bounding-box center.
type Zone interface {
	Contains(x, y int) bool
}

// EvictPolicy decides what happens to a session that times out while inside.
type EvictPolicy int

const (
	// EvictDrop removes the session silently; its exit is never reported.
	EvictDrop EvictPolicy = iota
	// EvictExit reports a synthetic exit before removing the session.
	EvictExit
)

// Options configure a Registry.
type Options struct {
	CameraID           int
	CameraName         string
	Zone               Zone
	ViolationThreshold float64
	TimeoutSeconds     float64
	EvictPolicy        EvictPolicy
	FrameWidth         int
	FrameHeight        int
	// Clock stamps events with wall time; defaults to time.Now.
	Clock func() time.Time
}

// Registry owns the track sessions of one camera.
type Registry struct {
	opts     Options
	clock    func() time.Time
	sessions map[int]*TrackSession
	entered  int
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		opts:     opts,
		clock:    clock,
		sessions: make(map[int]*TrackSession),
	}
}

// Update feeds one detection observed at video time now and returns the
// events it triggers, in order. frame may be nil.
func (r *Registry) Update(trackID, classID int, box image.Rectangle, now float64, frame *gocv.Mat) []DomainEvent {
	var events []DomainEvent

	cx := (box.Min.X + box.Max.X) / 2
	cy := (box.Min.Y + box.Max.Y) / 2
	inside := r.opts.Zone.Contains(cx, cy)

	s, ok := r.sessions[trackID]
	if !ok {
		s = &TrackSession{ClassID: classID, State: Outside, LastSeen: now}
		r.sessions[trackID] = s
	}
	s.LastBox = box

	if inside {
		if s.State == Outside {
			s.State = Inside
			s.SessionStart = now
			s.ViolationFlagged = false
			s.ExitFlagged = false
			r.entered++
			events = append(events, r.newEvent(EventEnter, trackID, classID, box, 0, now, frame))
		}

		s.TotalTime = now - s.SessionStart
		s.LastSeen = now

		if s.TotalTime >= r.opts.ViolationThreshold && !s.ViolationFlagged {
			s.ViolationFlagged = true
			events = append(events, r.newEvent(EventViolation, trackID, classID, box, s.TotalTime, now, frame))
		}
		return events
	}

	if s.State == Inside && !s.ExitFlagged {
		events = append(events, r.newEvent(EventExit, trackID, classID, box, s.TotalTime, now, frame))
		s.State = Outside
		s.ExitFlagged = true
	}
	s.LastSeen = now

	return events
}

// CleanupExpired removes sessions not seen for longer than the timeout.
// Under EvictExit, sessions still inside produce a synthetic exit stamped
// with their last box and the given frame.
func (r *Registry) CleanupExpired(now float64, frame *gocv.Mat) []DomainEvent {
	var events []DomainEvent
	for id, s := range r.sessions {
		if now-s.LastSeen <= r.opts.TimeoutSeconds {
			continue
		}
		if r.opts.EvictPolicy == EvictExit && s.State == Inside && !s.ExitFlagged {
			ev := r.newEvent(EventExit, id, s.ClassID, s.LastBox, s.TotalTime, now, frame)
			ev.Synthetic = true
			events = append(events, ev)
		}
		delete(r.sessions, id)
	}
	return events
}

// Session returns a copy of the session for trackID.
func (r *Registry) Session(trackID int) (TrackSession, bool) {
	s, ok := r.sessions[trackID]
	if !ok {
		return TrackSession{}, false
	}
	return *s, true
}

// AggregateState reports the zone label, the longest current dwell and the
// number of tracks inside.
func (r *Registry) AggregateState() AggregateState {
	var st AggregateState
	for _, s := range r.sessions {
		if s.State != Inside {
			continue
		}
		st.CountInside++
		if s.TotalTime > st.MaxDwell {
			st.MaxDwell = s.TotalTime
		}
	}

	switch {
	case st.CountInside == 0:
		st.Label = LabelEmpty
		st.MaxDwell = 0
	case st.MaxDwell >= r.opts.ViolationThreshold:
		st.Label = LabelViolation
	default:
		st.Label = LabelDetected
	}
	return st
}

// Len is the number of sessions currently held.
func (r *Registry) Len() int { return len(r.sessions) }

// Entered counts sessions started since the registry was created.
func (r *Registry) Entered() int { return r.entered }

func (r *Registry) newEvent(t EventType, trackID, classID int, box image.Rectangle, dwell, now float64, frame *gocv.Mat) DomainEvent {
	ev := DomainEvent{
		Type:        t,
		CameraID:    r.opts.CameraID,
		CameraName:  r.opts.CameraName,
		TrackID:     trackID,
		ClassID:     classID,
		Box:         box,
		DwellTime:   dwell,
		FrameWidth:  r.opts.FrameWidth,
		FrameHeight: r.opts.FrameHeight,
		VideoTime:   now,
		Timestamp:   r.clock(),
	}
	if frame != nil && !frame.Empty() {
		snap := frame.Clone()
		ev.Frame = &snap
		ev.FrameWidth = snap.Cols()
		ev.FrameHeight = snap.Rows()
	}
	return ev
}
