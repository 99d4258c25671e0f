package camera

import (
	"fmt"
	"image"
	"image/color"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/service/scheduler"
	"dwellwatch/internal/service/tracking"

	"gocv.io/x/gocv"
)

var (
	colorOutside   = color.RGBA{G: 255}
	colorSafe      = color.RGBA{B: 255}
	colorWarning   = color.RGBA{R: 255, G: 255}
	colorViolation = color.RGBA{R: 255}
	colorInfo      = color.RGBA{R: 206, G: 30, B: 227}
	colorCounter   = color.RGBA{R: 255, G: 255}
)

// BoxColor picks the dwell bracket color of a tracked box.
func BoxColor(inside bool, dwell, warning, violation float64) color.RGBA {
	switch {
	case !inside:
		return colorOutside
	case dwell < warning:
		return colorSafe
	case dwell < violation:
		return colorWarning
	}
	return colorViolation
}

// ModeText is the scheduler caption, e.g. "ACTIVE (1/2)".
func ModeText(mode scheduler.Mode, interval int) string {
	label := "IDLE"
	if mode == scheduler.ModeActive {
		label = "ACTIVE"
	}
	return fmt.Sprintf("%s (1/%d)", label, interval)
}

// drawOverlay renders the zone, the tracked boxes of this frame and the info text.
func (w *Worker) drawOverlay(frame *gocv.Mat, dets []dto.Detection) {
	state := w.registry.AggregateState()
	w.zone.Draw(frame, state.Label, state.MaxDwell)

	for _, d := range dets {
		s, ok := w.registry.Session(d.TrackID)
		if !ok {
			continue
		}
		inside := s.State == tracking.Inside
		c := BoxColor(inside, s.TotalTime, w.warning, w.violation)
		text := "outside"
		if inside {
			text = fmt.Sprintf("%.1fs", s.TotalTime)
		}
		gocv.Rectangle(frame, d.Box, c, 2)
		gocv.PutText(frame, fmt.Sprintf("ID:%d  -  %s", d.TrackID, text), image.Pt(d.Box.Min.X, d.Box.Min.Y-40), gocv.FontHersheySimplex, 0.5, c, 2)
	}

	gocv.PutText(frame, fmt.Sprintf("%s | FPS: %.1f | Frame: %d", w.name, w.currentFPS, w.frameCount),
		image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, colorInfo, 2)
	gocv.PutText(frame, fmt.Sprintf("Count: %d  | Inside: %d", w.registry.Entered(), state.CountInside),
		image.Pt(10, frame.Rows()-90), gocv.FontHersheySimplex, 0.7, colorCounter, 2)
	if w.adaptive {
		gocv.PutText(frame, ModeText(w.sched.Mode(), w.sched.Interval()), image.Pt(10, 60), gocv.FontHersheySimplex, 0.5, colorOutside, 2)
	}
}
