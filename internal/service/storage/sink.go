// Package storage persists dwell events: evidence image, label file,
// index record and a live notification, all off the camera goroutines.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/model"
	"dwellwatch/internal/repository"
	"dwellwatch/internal/service/tracking"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

const (
	// DefaultQueueSize bounds the number of events waiting to be written.
	DefaultQueueSize = 256
	// indexTimeout bounds a single repository insert.
	indexTimeout = 5 * time.Second
)

// ErrNoFrame is returned for events that carry no frame snapshot.
var ErrNoFrame = errors.New("event has no frame snapshot")

// Notifier receives a JSON message for each persisted event.
type Notifier interface {
	Broadcast(message []byte)
}

// Config configures a Sink.
type Config struct {
	Root           string
	QueueSize      int
	EnqueueTimeout time.Duration
	// ClassName resolves class ids for the index; optional.
	ClassName func(classID int) string
}

// Sink is a single consumer behind a bounded queue. Any number of camera
// workers may call Enqueue concurrently.
type Sink struct {
	cfg      Config
	logger   *logger.Logger
	metrics  *metrics.Metrics
	repo     repository.EventRepository
	notifier Notifier

	queue     chan *tracking.DomainEvent
	mu        sync.RWMutex
	closed    bool
	startOnce sync.Once
	done      chan struct{}
}

// NewSink creates a Sink. repo and notifier may be nil.
func NewSink(cfg Config, logger *logger.Logger, m *metrics.Metrics, repo repository.EventRepository, notifier Notifier) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Sink{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		repo:     repo,
		notifier: notifier,
		queue:    make(chan *tracking.DomainEvent, cfg.QueueSize),
		done:     make(chan struct{}),
	}
}

// Start launches the consumer goroutine. Calling it more than once is a no-op.
func (s *Sink) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("💾 Event sink started: %s (queue %d)", s.cfg.Root, s.cfg.QueueSize)
		go s.run()
	})
}

// Enqueue hands ev to the consumer. It never waits on disk I/O: when the
// queue is full it waits at most EnqueueTimeout and then drops the event.
// The sink owns ev from here on, whether or not it was accepted.
func (s *Sink) Enqueue(ev *tracking.DomainEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(ev, "sink stopped")
		return false
	}

	select {
	case s.queue <- ev:
		s.metrics.SinkQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
	}

	if s.cfg.EnqueueTimeout > 0 {
		timer := time.NewTimer(s.cfg.EnqueueTimeout)
		defer timer.Stop()
		select {
		case s.queue <- ev:
			s.metrics.SinkQueueDepth.Set(float64(len(s.queue)))
			return true
		case <-timer.C:
		}
	}

	s.drop(ev, "queue full")
	return false
}

func (s *Sink) drop(ev *tracking.DomainEvent, reason string) {
	s.logger.Warning("⚠️  Dropping %s event of track %d on camera %d: %s", ev.Type, ev.TrackID, ev.CameraID, reason)
	s.metrics.SinkDropped.Inc()
	ev.Release()
}

// Pending is the number of events waiting in the queue.
func (s *Sink) Pending() int {
	return len(s.queue)
}

// Stop closes the queue and waits until every accepted event has been
// persisted or ctx is done.
func (s *Sink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	// drain even if the consumer was never started
	s.Start()

	select {
	case <-s.done:
		s.logger.Info("🛑 Event sink stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event sink did not drain, %d events pending: %w", s.Pending(), ctx.Err())
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.queue {
		s.metrics.SinkQueueDepth.Set(float64(len(s.queue)))
		if err := s.persist(ev); err != nil {
			s.metrics.SinkFailures.Inc()
			s.logger.Error("Failed to persist %s event of track %d on camera %d: %v", ev.Type, ev.TrackID, ev.CameraID, err)
		}
		ev.Release()
	}
}

func (s *Sink) persist(ev *tracking.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while persisting: %v", r)
		}
	}()

	if ev.Frame == nil || ev.Frame.Empty() {
		return ErrNoFrame
	}

	img := ev.Frame.Clone()
	defer img.Close()
	if err := annotate(&img, ev); err != nil {
		s.logger.Warning("Could not annotate event image: %v", err)
	}

	dir := EventDir(s.cfg.Root, ev.CameraID, string(ev.Type))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	name := ArtifactName(ev.CameraID, string(ev.Type), ev.TrackID, ev.Timestamp)
	imagePath := filepath.Join(dir, name+".jpg")
	labelPath := filepath.Join(dir, name+".txt")

	if ok := gocv.IMWrite(imagePath, img); !ok {
		return fmt.Errorf("failed to write image %s", imagePath)
	}
	line := LabelLine(ev.ClassID, ev.Box, ev.Frame.Cols(), ev.Frame.Rows())
	if err := os.WriteFile(labelPath, []byte(line), 0644); err != nil {
		return fmt.Errorf("failed to write label %s: %w", labelPath, err)
	}

	record := s.record(ev, imagePath, labelPath)
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		err := s.repo.Insert(ctx, record)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to index event: %w", err)
		}
	}

	s.metrics.SinkWritten.WithLabelValues(string(ev.Type)).Inc()
	s.logger.Debug("Saved %s - %s - ID:%d -> %s", ev.CameraName, ev.Type, ev.TrackID, imagePath)
	s.notify(record)
	return nil
}

func (s *Sink) record(ev *tracking.DomainEvent, imagePath, labelPath string) *model.Event {
	rec := &model.Event{
		ID:         uuid.NewString(),
		CameraID:   ev.CameraID,
		CameraName: ev.CameraName,
		Type:       string(ev.Type),
		TrackID:    ev.TrackID,
		ClassID:    ev.ClassID,
		X1:         ev.Box.Min.X,
		Y1:         ev.Box.Min.Y,
		X2:         ev.Box.Max.X,
		Y2:         ev.Box.Max.Y,
		DwellTime:  ev.DwellTime,
		VideoTime:  ev.VideoTime,
		Synthetic:  ev.Synthetic,
		Timestamp:  ev.Timestamp,
		ImagePath:  imagePath,
		LabelPath:  labelPath,
	}
	if s.cfg.ClassName != nil {
		rec.ClassName = s.cfg.ClassName(ev.ClassID)
	}
	if info, err := os.Stat(imagePath); err == nil {
		rec.FileSize = info.Size()
	}
	return rec
}

func (s *Sink) notify(rec *model.Event) {
	if s.notifier == nil {
		return
	}
	msg, err := json.Marshal(dto.EventNotification{
		Kind:       "event",
		ID:         rec.ID,
		CameraID:   rec.CameraID,
		CameraName: rec.CameraName,
		Type:       rec.Type,
		TrackID:    rec.TrackID,
		DwellTime:  rec.DwellTime,
		Timestamp:  rec.Timestamp,
		Image:      "/api/events/image?id=" + rec.ID,
	})
	if err != nil {
		s.logger.Error("Failed to encode event notification: %v", err)
		return
	}
	s.notifier.Broadcast(msg)
}
