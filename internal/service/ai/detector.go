// Package ai wraps the gocv DNN object detector and gives its detections
// stable track ids.
package ai

import (
	"errors"
	"fmt"
	"image"
	"os"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"

	"gocv.io/x/gocv"
)

const (
	// DefaultConfidence is the minimum confidence for object detections.
	DefaultConfidence = 0.35
	// nmsThreshold drops overlapping boxes of one object.
	nmsThreshold = 0.45
)

// ErrNetNotLoaded is returned by Detect when the network failed to load.
var ErrNetNotLoaded = errors.New("detection network not initialized")

// Options configure a Detector.
type Options struct {
	ModelPath     string
	ConfigPath    string
	TargetClasses []int
	Confidence    float64
	ClassName     func(classID int) string
	IOUThreshold  float64
	MaxMisses     int
}

// Detector runs an SSD-style network on frames and tracks the result.
// Each camera owns its own Detector.
type Detector struct {
	net     gocv.Net
	opts    Options
	targets map[int]bool
	tracker *IOUTracker
	logger  *logger.Logger
}

// NewDetector loads the network. A missing or unreadable model is an error
// so the camera can be skipped.
func NewDetector(opts Options, logger *logger.Logger) (*Detector, error) {
	if opts.Confidence <= 0 {
		opts.Confidence = DefaultConfidence
	}

	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %s", opts.ModelPath)
	}
	if opts.ConfigPath != "" {
		if _, err := os.Stat(opts.ConfigPath); err != nil {
			return nil, fmt.Errorf("config file not found: %s", opts.ConfigPath)
		}
	}

	net := gocv.ReadNet(opts.ModelPath, opts.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network %s", opts.ModelPath)
	}
	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	targets := make(map[int]bool, len(opts.TargetClasses))
	for _, c := range opts.TargetClasses {
		targets[c] = true
	}

	logger.Info("Detection network initialized successfully")
	return &Detector{
		net:     net,
		opts:    opts,
		targets: targets,
		tracker: NewIOUTracker(opts.IOUThreshold, opts.MaxMisses),
		logger:  logger,
	}, nil
}

// Detect returns the tracked target-class objects in frame.
func (d *Detector) Detect(frame gocv.Mat) ([]dto.Detection, error) {
	if d.net.Empty() {
		return nil, ErrNetNotLoaded
	}
	if frame.Empty() {
		return nil, fmt.Errorf("frame is empty")
	}

	// ssd coco input
	blob := gocv.BlobFromImage(frame, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	return d.tracker.Update(d.parse(output, frame.Cols(), frame.Rows())), nil
}

// parse reads rows of [batch_id, class_id, confidence, x1, y1, x2, y2].
func (d *Detector) parse(output gocv.Mat, cols, rows int) []dto.Detection {
	if output.Total() < 7 {
		return nil
	}
	reshaped := output.Reshape(1, output.Total()/7)
	defer reshaped.Close()

	var boxes []image.Rectangle
	var scores []float32
	var classes []int
	for i := 0; i < reshaped.Rows(); i++ {
		confidence := reshaped.GetFloatAt(i, 2)
		classID := int(reshaped.GetFloatAt(i, 1))
		if float64(confidence) < d.opts.Confidence || !d.isTarget(classID) {
			continue
		}
		box := image.Rect(
			int(reshaped.GetFloatAt(i, 3)*float32(cols)),
			int(reshaped.GetFloatAt(i, 4)*float32(rows)),
			int(reshaped.GetFloatAt(i, 5)*float32(cols)),
			int(reshaped.GetFloatAt(i, 6)*float32(rows)),
		).Intersect(image.Rect(0, 0, cols, rows))
		if box.Empty() {
			continue
		}
		boxes = append(boxes, box)
		scores = append(scores, confidence)
		classes = append(classes, classID)
	}
	if len(boxes) == 0 {
		return nil
	}

	keep := gocv.NMSBoxes(boxes, scores, float32(d.opts.Confidence), nmsThreshold)
	detections := make([]dto.Detection, 0, len(keep))
	for _, i := range keep {
		detections = append(detections, dto.Detection{
			ClassID:    classes[i],
			Label:      d.className(classes[i]),
			Confidence: float64(scores[i]),
			Box:        boxes[i],
		})
	}
	return detections
}

func (d *Detector) isTarget(classID int) bool {
	return len(d.targets) == 0 || d.targets[classID]
}

func (d *Detector) className(classID int) string {
	if d.opts.ClassName != nil {
		return d.opts.ClassName(classID)
	}
	return fmt.Sprintf("class_%d", classID)
}

// Close releases the network.
func (d *Detector) Close() error {
	return d.net.Close()
}
