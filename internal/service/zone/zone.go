// Package zone holds the monitored region of a camera: a polygon rasterised
// once into a frame-sized mask so that containment is a single slice lookup.
package zone

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	// ErrInvalidBoundary is returned for empty, degenerate or off-frame polygons.
	ErrInvalidBoundary = errors.New("invalid zone boundary")
	// ErrInvalidFrame is returned when the frame size is not positive.
	ErrInvalidFrame = errors.New("invalid frame size")
)

// fillPoly draws the mask; tests replace it.
var fillPoly = gocv.FillPoly

// PolygonZone is immutable after New returns.
type PolygonZone struct {
	points []image.Point
	width  int
	height int
	mask   []byte
	area   int
}

// New rasterises points into a width*height mask.
func New(points []image.Point, width, height int) (*PolygonZone, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidFrame, width, height)
	}
	if len(points) < 3 {
		return nil, fmt.Errorf("%w: need at least 3 vertices, got %d", ErrInvalidBoundary, len(points))
	}
	if polygonArea(points) == 0 {
		return nil, fmt.Errorf("%w: polygon has zero area", ErrInvalidBoundary)
	}

	mask, err := rasterize(points, width, height)
	if err != nil {
		return nil, err
	}

	area := 0
	for _, v := range mask {
		if v != 0 {
			area++
		}
	}
	if area == 0 {
		return nil, fmt.Errorf("%w: polygon does not cover any pixel of a %dx%d frame", ErrInvalidBoundary, width, height)
	}

	pts := make([]image.Point, len(points))
	copy(pts, points)

	return &PolygonZone{
		points: pts,
		width:  width,
		height: height,
		mask:   mask,
		area:   area,
	}, nil
}

func rasterize(points []image.Point, width, height int) ([]byte, error) {
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8U)
	defer m.Close()

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{points})
	defer pv.Close()

	if err := fillPoly(&m, pv, color.RGBA{R: 255, G: 255, B: 255, A: 0}); err != nil {
		return nil, fmt.Errorf("failed to rasterize zone: %w", err)
	}

	mask := m.ToBytes()
	if len(mask) != width*height {
		return nil, fmt.Errorf("unexpected mask size %d for %dx%d frame", len(mask), width, height)
	}
	return mask, nil
}

// polygonArea returns twice the signed area (shoelace formula).
func polygonArea(points []image.Point) int {
	sum := 0
	for i := range points {
		j := (i + 1) % len(points)
		sum += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return sum
}

// Contains reports whether (x, y) lies inside the zone.
// Points outside the frame are never inside.
func (z *PolygonZone) Contains(x, y int) bool {
	if x < 0 || y < 0 || x >= z.width || y >= z.height {
		return false
	}
	return z.mask[y*z.width+x] != 0
}

// Points returns a copy of the polygon vertices.
func (z *PolygonZone) Points() []image.Point {
	pts := make([]image.Point, len(z.points))
	copy(pts, z.points)
	return pts
}

func (z *PolygonZone) Width() int  { return z.width }
func (z *PolygonZone) Height() int { return z.height }

// Area is the number of frame pixels inside the zone.
func (z *PolygonZone) Area() int { return z.area }
