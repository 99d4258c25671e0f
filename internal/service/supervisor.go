// Package service runs one camera worker per configured camera around a
// shared event sink.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"dwellwatch/internal/config"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/model"
	"dwellwatch/internal/service/ai"
	"dwellwatch/internal/service/camera"
	"dwellwatch/internal/service/capture"
	"dwellwatch/internal/service/zone"
)

// ErrNoCameras is returned by Start when not a single camera could be started.
var ErrNoCameras = errors.New("no camera could be started")

// Sink is the shared event sink the supervisor stops last.
type Sink interface {
	camera.EventSink
	Start()
	Stop(ctx context.Context) error
}

// SourceFactory opens the frame source of a camera.
type SourceFactory func(cam config.CameraConfig) (camera.FrameSource, error)

// DetectorFactory creates the detector of a camera.
type DetectorFactory func(cam config.CameraConfig) (camera.Detector, error)

// Option customises a Supervisor.
type Option func(*Supervisor)

// WithSourceFactory replaces the gocv capture.
func WithSourceFactory(f SourceFactory) Option {
	return func(s *Supervisor) { s.newSource = f }
}

// WithDetectorFactory replaces the gocv DNN detector.
func WithDetectorFactory(f DetectorFactory) Option {
	return func(s *Supervisor) { s.newDetector = f }
}

// WithRetryDelay sets the workers' reconnect delays.
func WithRetryDelay(delay, max time.Duration) Option {
	return func(s *Supervisor) {
		s.retryDelay = delay
		s.maxRetryDelay = max
	}
}

type managed struct {
	worker *camera.Worker
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the camera workers.
type Supervisor struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *metrics.Metrics
	sink    Sink
	preview camera.PreviewPublisher

	newSource     SourceFactory
	newDetector   DetectorFactory
	retryDelay    time.Duration
	maxRetryDelay time.Duration

	mu      sync.RWMutex
	workers []*managed
	wg      sync.WaitGroup
}

// NewSupervisor creates a Supervisor; preview may be nil.
func NewSupervisor(cfg *config.Config, logger *logger.Logger, m *metrics.Metrics, sink Sink, preview camera.PreviewPublisher, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		sink:    sink,
		preview: preview,
	}
	s.newSource = func(cam config.CameraConfig) (camera.FrameSource, error) {
		return capture.Open(cam.Source, logger.With("camera", cam.ID))
	}
	s.newDetector = func(cam config.CameraConfig) (camera.Detector, error) {
		return ai.NewDetector(ai.Options{
			ModelPath:     cfg.Model.Path,
			ConfigPath:    cfg.Model.Config,
			TargetClasses: cfg.Model.TargetClasses,
			Confidence:    cfg.Model.Confidence,
			ClassName:     cfg.Model.ClassName,
		}, logger.With("camera", cam.ID))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds a worker per enabled camera, skipping cameras that fail to
// build, and starts them with a small stagger. It returns the number of
// running cameras, or ErrNoCameras.
func (s *Supervisor) Start(ctx context.Context) (int, error) {
	var workers []*camera.Worker
	for _, cam := range s.cfg.EnabledCameras() {
		w, err := s.build(cam)
		if err != nil {
			s.logger.Error("❌ Camera %d - %s skipped: %v", cam.ID, cam.Name, err)
			continue
		}
		workers = append(workers, w)
		s.logger.Info("Camera %d - %s added", cam.ID, cam.Name)
	}
	if len(workers) == 0 {
		return 0, ErrNoCameras
	}

	s.sink.Start()
	s.logger.Info("🎬 Starting %d camera(s)...", len(workers))
	for i, w := range workers {
		if i > 0 && s.cfg.StartStagger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.StartStagger):
			}
		}
		s.launch(ctx, w)
	}
	return len(workers), nil
}

func (s *Supervisor) build(cam config.CameraConfig) (*camera.Worker, error) {
	src, err := s.newSource(cam)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	props := src.Properties()
	if props.Width <= 0 || props.Height <= 0 {
		src.Close()
		return nil, fmt.Errorf("source reported frame size %dx%d", props.Width, props.Height)
	}

	z, err := zone.Load(cam.ZoneFile, props.Width, props.Height)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("load zone: %w", err)
	}

	det, err := s.newDetector(cam)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("create detector: %w", err)
	}

	return camera.NewWorker(camera.Options{
		Camera:          cam,
		Source:          src,
		Detector:        det,
		Zone:            z,
		Sink:            s.sink,
		Preview:         s.preview,
		Thresholds:      s.cfg.Thresholds,
		Processing:      s.cfg.Processing,
		PreviewInterval: s.cfg.PreviewInterval,
		RetryDelay:      s.retryDelay,
		MaxRetryDelay:   s.maxRetryDelay,
		Logger:          s.logger,
		Metrics:         s.metrics,
	}), nil
}

func (s *Supervisor) launch(parent context.Context, w *camera.Worker) {
	ctx, cancel := context.WithCancel(parent)
	m := &managed{worker: w, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.workers = append(s.workers, m)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(m.done)
		defer func() {
			if err := w.Close(); err != nil {
				s.logger.Warning("Camera %d close: %v", w.ID(), err)
			}
		}()
		if err := w.Run(ctx); err != nil {
			s.logger.Error("Camera %d stopped with error: %v", w.ID(), err)
		}
	}()
}

// Wait blocks until every worker has returned.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// StopCamera stops one worker; the others keep running.
func (s *Supervisor) StopCamera(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.workers {
		if m.worker.ID() == id {
			m.cancel()
			return true
		}
	}
	return false
}

// Statuses returns a snapshot of every worker ordered by camera id.
func (s *Supervisor) Statuses() []model.CameraStatus {
	s.mu.RLock()
	out := make([]model.CameraStatus, 0, len(s.workers))
	for _, m := range s.workers {
		out = append(out, m.worker.Status())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops every worker, waits for each at most JoinTimeout, then
// drains the sink.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	workers := append([]*managed(nil), s.workers...)
	s.mu.RUnlock()

	s.logger.Info("🛑 Stopping %d camera(s)...", len(workers))
	for _, m := range workers {
		m.cancel()
	}

	join := s.cfg.JoinTimeout
	if join <= 0 {
		join = 5 * time.Second
	}
	for _, m := range workers {
		t := time.NewTimer(join)
		select {
		case <-m.done:
		case <-t.C:
			s.logger.Warning("Camera %d did not stop within %v", m.worker.ID(), join)
		case <-ctx.Done():
		}
		t.Stop()
	}

	if err := s.sink.Stop(ctx); err != nil {
		return fmt.Errorf("stop sink: %w", err)
	}
	s.logger.Info("All cameras stopped")
	return nil
}
