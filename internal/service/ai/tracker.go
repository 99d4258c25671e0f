package ai

import (
	"image"
	"sort"

	"dwellwatch/internal/dto"
)

const (
	// DefaultIOUThreshold is the minimum overlap for a detection to continue a track.
	DefaultIOUThreshold = 0.3
	// DefaultMaxMisses is how many processed frames a track survives unmatched.
	DefaultMaxMisses = 5
)

type track struct {
	id      int
	classID int
	box     image.Rectangle
	misses  int
}

// IOUTracker assigns stable track ids by greedily matching each frame's
// boxes to the previous boxes of the same class with the highest overlap.
// Not safe for concurrent use.
type IOUTracker struct {
	iouThreshold float64
	maxMisses    int
	nextID       int
	tracks       []*track
}

// NewIOUTracker creates a tracker. Zero values select the defaults.
func NewIOUTracker(iouThreshold float64, maxMisses int) *IOUTracker {
	if iouThreshold <= 0 {
		iouThreshold = DefaultIOUThreshold
	}
	if maxMisses <= 0 {
		maxMisses = DefaultMaxMisses
	}
	return &IOUTracker{iouThreshold: iouThreshold, maxMisses: maxMisses, nextID: 1}
}

type candidate struct {
	track, det int
	iou        float64
}

// Update sets TrackID on every detection and returns them.
func (t *IOUTracker) Update(dets []dto.Detection) []dto.Detection {
	var pairs []candidate
	for ti, tr := range t.tracks {
		for di, d := range dets {
			if d.ClassID != tr.classID {
				continue
			}
			if iou := IoU(tr.box, d.Box); iou >= t.iouThreshold {
				pairs = append(pairs, candidate{ti, di, iou})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].iou > pairs[j].iou })

	trackUsed := make([]bool, len(t.tracks))
	detUsed := make([]bool, len(dets))
	for _, p := range pairs {
		if trackUsed[p.track] || detUsed[p.det] {
			continue
		}
		trackUsed[p.track] = true
		detUsed[p.det] = true
		tr := t.tracks[p.track]
		tr.box = dets[p.det].Box
		tr.misses = 0
		dets[p.det].TrackID = tr.id
	}

	kept := t.tracks[:0]
	for i, tr := range t.tracks {
		if !trackUsed[i] {
			tr.misses++
			if tr.misses > t.maxMisses {
				continue
			}
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	for i := range dets {
		if detUsed[i] {
			continue
		}
		dets[i].TrackID = t.nextID
		t.tracks = append(t.tracks, &track{id: t.nextID, classID: dets[i].ClassID, box: dets[i].Box})
		t.nextID++
	}
	return dets
}

// Len is the number of live tracks.
func (t *IOUTracker) Len() int { return len(t.tracks) }

// IoU is the intersection over union of two boxes.
func IoU(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	areaA := a.Dx() * a.Dy()
	areaB := b.Dx() * b.Dy()
	if areaA <= 0 || areaB <= 0 {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	return ia / (float64(areaA+areaB) - ia)
}
