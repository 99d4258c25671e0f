// Package camera runs the per-camera loop: read, detect on scheduled
// frames, update the dwell registry, hand events to the sink.
package camera

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"strconv"
	"sync"
	"time"

	"dwellwatch/internal/config"
	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/model"
	"dwellwatch/internal/service/capture"
	"dwellwatch/internal/service/scheduler"
	"dwellwatch/internal/service/tracking"
	"dwellwatch/internal/service/zone"

	"gocv.io/x/gocv"
)

const (
	// DefaultFPS is used when the source does not report a frame rate.
	DefaultFPS = 25.0
	// DefaultRetryDelay is the wait after a failed read before reopening.
	DefaultRetryDelay = time.Second
	// DefaultMaxRetryDelay caps the backoff between failed reopens.
	DefaultMaxRetryDelay = 5 * time.Second
)

// FrameSource yields decoded frames and can reconnect.
type FrameSource interface {
	Read(dst *gocv.Mat) bool
	Reopen() bool
	Properties() capture.Properties
	Close() error
}

// Detector returns tracked objects for a frame.
type Detector interface {
	Detect(frame gocv.Mat) ([]dto.Detection, error)
	Close() error
}

// EventSink accepts events without blocking on I/O. It owns each event
// passed to it.
type EventSink interface {
	Enqueue(ev *tracking.DomainEvent) bool
}

// PreviewPublisher receives JSON preview frames.
type PreviewPublisher interface {
	Broadcast(message []byte)
}

// Options assemble a Worker.
type Options struct {
	Camera     config.CameraConfig
	Source     FrameSource
	Detector   Detector
	Zone       *zone.PolygonZone
	Sink       EventSink
	Preview    PreviewPublisher
	Thresholds config.ThresholdsConfig
	Processing config.ProcessingConfig
	// PreviewInterval publishes every n-th frame; 0 disables previews.
	PreviewInterval int
	RetryDelay      time.Duration
	MaxRetryDelay   time.Duration
	Logger          *logger.Logger
	Metrics         *metrics.Metrics
	Clock           func() time.Time
}

// Worker owns one camera. Everything except Status is confined to the
// goroutine running Run.
type Worker struct {
	id       int
	name     string
	source   string
	label    string
	src      FrameSource
	detector Detector
	zone     *zone.PolygonZone
	sink     EventSink
	preview  PreviewPublisher
	registry *tracking.Registry
	sched    *scheduler.Adaptive
	logger   *logger.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time

	adaptive        bool
	warning         float64
	violation       float64
	previewInterval int
	retryDelay      time.Duration
	maxRetryDelay   time.Duration

	fps        float64
	frameCount int
	processed  int64
	reconnects int64

	fpsStart   time.Time
	fpsFrames  int
	currentFPS float64

	statusMu sync.RWMutex
	status   model.CameraStatus
}

// NewWorker wires a worker from its collaborators.
func NewWorker(opts Options) *Worker {
	props := opts.Source.Properties()
	fps := props.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	retry := opts.RetryDelay
	if retry <= 0 {
		retry = DefaultRetryDelay
	}
	maxRetry := opts.MaxRetryDelay
	if maxRetry < retry {
		maxRetry = DefaultMaxRetryDelay
		if maxRetry < retry {
			maxRetry = retry
		}
	}

	policy := tracking.EvictDrop
	if opts.Processing.EvictPolicy == config.EvictExit {
		policy = tracking.EvictExit
	}

	w := &Worker{
		id:       opts.Camera.ID,
		name:     opts.Camera.Name,
		source:   opts.Camera.Source,
		label:    strconv.Itoa(opts.Camera.ID),
		src:      opts.Source,
		detector: opts.Detector,
		zone:     opts.Zone,
		sink:     opts.Sink,
		preview:  opts.Preview,
		registry: tracking.NewRegistry(tracking.Options{
			CameraID:           opts.Camera.ID,
			CameraName:         opts.Camera.Name,
			Zone:               opts.Zone,
			ViolationThreshold: opts.Thresholds.Violation,
			TimeoutSeconds:     opts.Processing.TimeoutSeconds,
			EvictPolicy:        policy,
			FrameWidth:         props.Width,
			FrameHeight:        props.Height,
			Clock:              clock,
		}),
		sched: scheduler.New(scheduler.Config{
			Adaptive:       opts.Processing.Adaptive(),
			IdleInterval:   opts.Processing.IdleInterval,
			ActiveInterval: opts.Processing.ActiveInterval,
			EmptyThreshold: opts.Processing.EmptyThreshold,
		}),
		logger:          opts.Logger.With("camera", opts.Camera.ID),
		metrics:         opts.Metrics,
		clock:           clock,
		adaptive:        opts.Processing.Adaptive(),
		warning:         opts.Thresholds.Warning,
		violation:       opts.Thresholds.Violation,
		previewInterval: opts.PreviewInterval,
		retryDelay:      retry,
		maxRetryDelay:   maxRetry,
		fps:             fps,
	}
	w.status = model.CameraStatus{
		ID:     w.id,
		Name:   w.name,
		Source: w.source,
		Width:  props.Width,
		Height: props.Height,
		FPS:    fps,
		Mode:   string(scheduler.ModeIdle),
	}
	return w
}

// ID of the camera.
func (w *Worker) ID() int { return w.id }

// Name of the camera.
func (w *Worker) Name() string { return w.name }

// Run loops until ctx is cancelled. Source failures are retried forever.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("▶️  Camera %d - %s started", w.id, w.name)
	w.setRunning(true)
	defer w.setRunning(false)

	frame := gocv.NewMat()
	defer frame.Close()

	w.fpsStart = w.clock()
	failures := 0
	for {
		if ctx.Err() != nil {
			w.logger.Info("Camera %d stopped", w.id)
			return nil
		}

		if !w.src.Read(&frame) {
			if !w.reconnect(ctx, &failures) {
				w.logger.Info("Camera %d stopped", w.id)
				return nil
			}
			continue
		}
		failures = 0
		w.step(&frame)
	}
}

// reconnect waits, reopens the source and backs off while reopening fails.
// It returns false when ctx is cancelled.
func (w *Worker) reconnect(ctx context.Context, failures *int) bool {
	w.logger.Warning("Camera %d could not read a frame. Reconnecting...", w.id)
	w.setError("frame read failed")
	if !sleep(ctx, w.retryDelay) {
		return false
	}

	w.reconnects++
	w.metrics.SourceReconnects.WithLabelValues(w.label).Inc()
	if w.src.Reopen() {
		*failures = 0
		w.refreshProperties()
		w.setError("")
		return true
	}

	*failures++
	delay := backoff(w.retryDelay, w.maxRetryDelay, *failures)
	w.logger.Error("Camera %d did not reconnect (attempt %d), retrying in %v", w.id, *failures, delay)
	w.setError("reconnect failed")
	return sleep(ctx, delay)
}

// backoff is base*2^(n-1) capped at max.
func backoff(base, max time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// refreshProperties keeps the fps chosen at construction as the timebase:
// video time must not jump for sessions that are still open.
func (w *Worker) refreshProperties() {
	props := w.src.Properties()
	if props.FPS > 0 && props.FPS != w.fps {
		w.logger.Warning("Camera %d reports %.1f fps after reconnect, keeping %.1f", w.id, props.FPS, w.fps)
	}
}

// step handles one successfully read frame.
func (w *Worker) step(frame *gocv.Mat) {
	w.frameCount++
	now := float64(w.frameCount) / w.fps
	w.metrics.FramesRead.WithLabelValues(w.label).Inc()
	w.updateFPS()

	var dets []dto.Detection
	if w.sched.ShouldProcess(w.frameCount) {
		w.processed++
		w.metrics.FramesProcessed.WithLabelValues(w.label).Inc()

		dets = w.detect(*frame)
		for _, d := range dets {
			w.emit(w.registry.Update(d.TrackID, d.ClassID, d.Box, now, frame))
		}
		w.sched.Observe(len(dets))
		w.emit(w.registry.CleanupExpired(now, frame))

		w.metrics.ActiveTracks.WithLabelValues(w.label).Set(float64(w.registry.Len()))
		w.metrics.DetectInterval.WithLabelValues(w.label).Set(float64(w.sched.Interval()))
	}

	w.drawOverlay(frame, dets)
	w.publishPreview(frame)
	w.updateStatus()
}

// detect treats a detector failure as an empty frame.
func (w *Worker) detect(frame gocv.Mat) []dto.Detection {
	dets, err := w.detector.Detect(frame)
	if err != nil {
		w.metrics.DetectorErrors.WithLabelValues(w.label).Inc()
		w.logger.Error("Camera %d detection error: %v", w.id, err)
		w.setError(err.Error())
		return nil
	}
	w.metrics.Detections.WithLabelValues(w.label).Add(float64(len(dets)))
	return dets
}

func (w *Worker) emit(events []tracking.DomainEvent) {
	for i := range events {
		ev := events[i]
		w.metrics.Events.WithLabelValues(w.label, string(ev.Type)).Inc()
		w.logger.Info("Camera %d: %s track %d (%.1fs)", w.id, ev.Type, ev.TrackID, ev.DwellTime)
		w.sink.Enqueue(&ev)
	}
}

func (w *Worker) updateFPS() {
	w.fpsFrames++
	elapsed := w.clock().Sub(w.fpsStart)
	if elapsed >= time.Second {
		w.currentFPS = float64(w.fpsFrames) / elapsed.Seconds()
		w.fpsFrames = 0
		w.fpsStart = w.clock()
	}
}

func (w *Worker) publishPreview(frame *gocv.Mat) {
	if w.preview == nil || w.previewInterval <= 0 || w.frameCount%w.previewInterval != 0 {
		return
	}

	small := gocv.NewMat()
	defer small.Close()
	if err := gocv.Resize(*frame, &small, image.Pt(frame.Cols()/2, frame.Rows()/2), 0, 0, gocv.InterpolationLinear); err != nil {
		w.logger.Warning("Failed to resize preview: %v", err)
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, small)
	if err != nil {
		w.logger.Warning("Failed to encode preview: %v", err)
		return
	}
	defer buf.Close()

	msg, err := json.Marshal(dto.PreviewFrame{
		Kind:     "frame",
		CameraID: w.id,
		Camera:   w.name,
		Image:    base64.StdEncoding.EncodeToString(buf.GetBytes()),
	})
	if err != nil {
		return
	}
	w.preview.Broadcast(msg)
}

func (w *Worker) updateStatus() {
	state := w.registry.AggregateState()

	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.status.FramesRead = int64(w.frameCount)
	w.status.FramesProcessed = w.processed
	w.status.Reconnects = w.reconnects
	w.status.Interval = w.sched.Interval()
	w.status.Mode = string(w.sched.Mode())
	w.status.ZoneState = state.Label
	w.status.MaxDwell = state.MaxDwell
	w.status.Inside = state.CountInside
	w.status.Tracks = w.registry.Len()
	w.status.Entered = w.registry.Entered()
}

func (w *Worker) setRunning(running bool) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.status.Running = running
	if running {
		w.status.StartedAt = w.clock()
	}
}

func (w *Worker) setError(msg string) {
	w.statusMu.Lock()
	defer w.statusMu.Unlock()
	w.status.LastError = msg
	w.status.Reconnects = w.reconnects
}

// Status returns a snapshot safe to read from any goroutine.
func (w *Worker) Status() model.CameraStatus {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()
	return w.status
}

// Close releases the source and the detector.
func (w *Worker) Close() error {
	return errors.Join(w.src.Close(), w.detector.Close())
}
