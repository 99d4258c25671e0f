package storage

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const timestampLayout = "20060102_150405"

var artifactPattern = regexp.MustCompile(`^cam(\d+)_([a-z_]+)_id(-?\d+)_(\d{8}_\d{6})_(\d{3})$`)

// ErrBadArtifactName is returned by ParseArtifactName for foreign files.
var ErrBadArtifactName = errors.New("not an event artifact name")

// Artifact is what an evidence file name encodes.
type Artifact struct {
	CameraID  int
	Type      string
	TrackID   int
	Timestamp time.Time
}

// FormatTimestamp renders t as YYYYMMDD_HHMMSS_mmm.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%s_%03d", t.Format(timestampLayout), t.Nanosecond()/int(time.Millisecond))
}

// ArtifactName returns the extension-less base name shared by an event's
// image and label files.
func ArtifactName(cameraID int, eventType string, trackID int, ts time.Time) string {
	return fmt.Sprintf("cam%d_%s_id%d_%s", cameraID, eventType, trackID, FormatTimestamp(ts))
}

// EventDir is <root>/camera_<id>/<event_type>.
func EventDir(root string, cameraID int, eventType string) string {
	return filepath.Join(root, fmt.Sprintf("camera_%d", cameraID), eventType)
}

// ParseArtifactName reverses ArtifactName. Any extension is ignored and the
// timestamp is read in loc.
func ParseArtifactName(name string, loc *time.Location) (Artifact, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	m := artifactPattern.FindStringSubmatch(base)
	if m == nil {
		return Artifact{}, fmt.Errorf("%w: %s", ErrBadArtifactName, name)
	}

	cameraID, _ := strconv.Atoi(m[1])
	trackID, _ := strconv.Atoi(m[3])
	ts, err := time.ParseInLocation(timestampLayout, m[4], loc)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrBadArtifactName, err)
	}
	ms, _ := strconv.Atoi(m[5])

	return Artifact{
		CameraID:  cameraID,
		Type:      m[2],
		TrackID:   trackID,
		Timestamp: ts.Add(time.Duration(ms) * time.Millisecond),
	}, nil
}

// LabelLine formats box as "class cx cy w h", normalized to the frame size.
func LabelLine(classID int, box image.Rectangle, width, height int) string {
	w := float64(width)
	h := float64(height)
	cx := float64(box.Min.X+box.Max.X) / 2 / w
	cy := float64(box.Min.Y+box.Max.Y) / 2 / h
	bw := float64(box.Dx()) / w
	bh := float64(box.Dy()) / h
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f\n", classID, cx, cy, bw, bh)
}

// ParseLabelLine reads a label line back into a class id and a box in a
// width x height frame.
func ParseLabelLine(line string, width, height int) (int, image.Rectangle, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return 0, image.Rectangle{}, fmt.Errorf("label line must have 5 fields, got %d", len(fields))
	}
	classID, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, image.Rectangle{}, fmt.Errorf("invalid class id: %w", err)
	}
	var v [4]float64
	for i := range v {
		if v[i], err = strconv.ParseFloat(fields[i+1], 64); err != nil {
			return 0, image.Rectangle{}, fmt.Errorf("invalid label value %q: %w", fields[i+1], err)
		}
	}

	w := float64(width)
	h := float64(height)
	x1 := (v[0] - v[2]/2) * w
	y1 := (v[1] - v[3]/2) * h
	box := image.Rect(round(x1), round(y1), round(x1+v[2]*w), round(y1+v[3]*h))
	return classID, box, nil
}

func round(f float64) int {
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}
