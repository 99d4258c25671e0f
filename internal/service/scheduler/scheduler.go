// Package scheduler decides which frames are sent to the detector.
package scheduler

// Mode is the current detection cadence.
type Mode string

const (
	ModeIdle   Mode = "idle"
	ModeActive Mode = "active"
)

// Config tunes an Adaptive scheduler. Intervals are in frames.
type Config struct {
	Adaptive       bool
	IdleInterval   int
	ActiveInterval int
	EmptyThreshold int
}

// Adaptive runs the detector every IdleInterval frames while the scene is
// quiet and every ActiveInterval frames once something shows up. It is not
// safe for concurrent use.
type Adaptive struct {
	cfg              Config
	interval         int
	consecutiveEmpty int
	active           bool
}

// New returns a scheduler starting in idle mode.
func New(cfg Config) *Adaptive {
	if cfg.IdleInterval < 1 {
		cfg.IdleInterval = 1
	}
	if cfg.ActiveInterval < 1 {
		cfg.ActiveInterval = 1
	}
	if cfg.EmptyThreshold < 1 {
		cfg.EmptyThreshold = 1
	}
	return &Adaptive{cfg: cfg, interval: cfg.IdleInterval}
}

// ShouldProcess reports whether frame number frameCounter goes to the detector.
func (a *Adaptive) ShouldProcess(frameCounter int) bool {
	return frameCounter%a.interval == 0
}

// Observe feeds back the number of detections of a processed frame.
// One non-empty frame switches to active mode; EmptyThreshold empty frames
// in a row switch back to idle.
func (a *Adaptive) Observe(detections int) {
	if !a.cfg.Adaptive {
		return
	}
	if detections > 0 {
		a.consecutiveEmpty = 0
		a.interval = a.cfg.ActiveInterval
		a.active = true
		return
	}
	a.consecutiveEmpty++
	if a.consecutiveEmpty >= a.cfg.EmptyThreshold {
		a.interval = a.cfg.IdleInterval
		a.active = false
	}
}

// Interval is the current number of frames between detector calls.
func (a *Adaptive) Interval() int { return a.interval }

// Mode reports idle or active.
func (a *Adaptive) Mode() Mode {
	if a.active {
		return ModeActive
	}
	return ModeIdle
}
