package zone

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
)

// boundaryFile accepts both the COCO-style export of the annotation tool
// ({"annotations":[{"segmentation":[[x1,y1,...]]}]}) and a compact
// {"points":[x1,y1,...]} form.
type boundaryFile struct {
	Points      []float64 `json:"points"`
	Annotations []struct {
		Segmentation [][]float64 `json:"segmentation"`
	} `json:"annotations"`
}

// Load reads a zone definition file and builds a PolygonZone for the frame size.
func Load(path string, width, height int) (*PolygonZone, error) {
	points, err := ReadBoundary(path)
	if err != nil {
		return nil, err
	}
	z, err := New(points, width, height)
	if err != nil {
		return nil, fmt.Errorf("zone %s: %w", path, err)
	}
	return z, nil
}

// ReadBoundary parses the polygon vertices of a zone definition file.
func ReadBoundary(path string) ([]image.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read zone file: %w", err)
	}
	return ParseBoundary(data)
}

// ParseBoundary parses zone JSON. Fractional coordinates are truncated.
func ParseBoundary(data []byte) ([]image.Point, error) {
	var bf boundaryFile
	if err := json.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBoundary, err)
	}

	flat := bf.Points
	if len(flat) == 0 && len(bf.Annotations) > 0 && len(bf.Annotations[0].Segmentation) > 0 {
		flat = bf.Annotations[0].Segmentation[0]
	}
	if len(flat) == 0 {
		return nil, fmt.Errorf("%w: no polygon found", ErrInvalidBoundary)
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of coordinates (%d)", ErrInvalidBoundary, len(flat))
	}

	points := make([]image.Point, 0, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		points = append(points, image.Pt(int(flat[i]), int(flat[i+1])))
	}
	return points, nil
}
