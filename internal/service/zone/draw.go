package zone

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	colorEmpty     = color.RGBA{G: 255}
	colorDetected  = color.RGBA{R: 255, G: 255}
	colorViolation = color.RGBA{R: 255}
)

// StateColor maps an aggregate zone label to its outline color.
func StateColor(state string) color.RGBA {
	switch state {
	case "empty":
		return colorEmpty
	case "detected":
		return colorDetected
	}
	return colorViolation
}

// Draw outlines the zone on img and writes its state near the bottom-left corner.
func (z *PolygonZone) Draw(img *gocv.Mat, state string, maxDwell float64) {
	if img == nil || img.Empty() {
		return
	}
	c := StateColor(state)

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{z.points})
	defer pv.Close()
	gocv.Polylines(img, pv, true, c, 3)

	text := fmt.Sprintf("Zone: %s (%.1fs)", state, maxDwell)
	gocv.PutText(img, text, image.Pt(10, img.Rows()-30), gocv.FontHersheySimplex, 0.6, c, 2)
}
