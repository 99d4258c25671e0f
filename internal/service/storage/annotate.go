package storage

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"dwellwatch/internal/service/tracking"

	"gocv.io/x/gocv"
)

// EventStyle returns the box color and caption for an event type.
func EventStyle(t tracking.EventType) (color.RGBA, string) {
	switch t {
	case tracking.EventEnter:
		return color.RGBA{G: 255}, "ENTER"
	case tracking.EventExit:
		return color.RGBA{B: 255}, "EXIT"
	case tracking.EventViolation:
		return color.RGBA{R: 255}, "VIOLATION"
	}
	return color.RGBA{R: 255, G: 255, B: 255}, strings.ToUpper(string(t))
}

// annotate draws the event box and captions on img.
func annotate(img *gocv.Mat, ev *tracking.DomainEvent) error {
	c, caption := EventStyle(ev.Type)
	b := ev.Box

	if err := gocv.Rectangle(img, b, c, 3); err != nil {
		return fmt.Errorf("failed to draw rectangle: %w", err)
	}
	gocv.PutText(img, fmt.Sprintf("ID: %d", ev.TrackID), image.Pt(b.Min.X, b.Min.Y-60), gocv.FontHersheySimplex, 0.8, c, 2)
	gocv.PutText(img, caption, image.Pt(b.Min.X, b.Min.Y-35), gocv.FontHersheySimplex, 0.8, c, 2)
	if ev.DwellTime > 0 {
		gocv.PutText(img, fmt.Sprintf("Time: %.1fs", ev.DwellTime), image.Pt(b.Min.X, b.Min.Y-10), gocv.FontHersheySimplex, 0.7, c, 2)
	}
	return nil
}
