package storage

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/model"
	"dwellwatch/internal/service/tracking"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gocv.io/x/gocv"
)

type fakeRepo struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (r *fakeRepo) Insert(ctx context.Context, ev *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, *ev)
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*model.Event, error) { return nil, nil }
func (r *fakeRepo) List(ctx context.Context, f *dto.EventFilter) ([]model.Event, error) {
	return nil, nil
}
func (r *fakeRepo) Count(ctx context.Context, f *dto.EventFilter) (int, error) { return 0, nil }
func (r *fakeRepo) ExistsByImagePath(ctx context.Context, p string) (bool, error) {
	return false, nil
}
func (r *fakeRepo) Close() error { return nil }

func (r *fakeRepo) stored() []model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Event(nil), r.events...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (n *fakeNotifier) Broadcast(message []byte) {
	n.mu.Lock()
	n.msgs = append(n.msgs, message)
	n.mu.Unlock()
}

var eventTime = time.Date(2025, 6, 1, 14, 30, 0, 250_000_000, time.UTC)

func newEvent(t *testing.T, typ tracking.EventType, track int) *tracking.DomainEvent {
	t.Helper()
	frame := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	return &tracking.DomainEvent{
		Type:        typ,
		CameraID:    4,
		CameraName:  "Dock",
		TrackID:     track,
		ClassID:     2,
		Box:         image.Rect(80, 60, 240, 180),
		DwellTime:   6.5,
		Frame:       &frame,
		FrameWidth:  320,
		FrameHeight: 240,
		Timestamp:   eventTime.Add(time.Duration(track) * time.Millisecond),
	}
}

func newTestSink(t *testing.T, cfg Config, repo *fakeRepo, n *fakeNotifier) (*Sink, *metrics.Metrics) {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	m := metrics.New()
	var notifier Notifier
	if n != nil {
		notifier = n
	}
	if repo == nil {
		return NewSink(cfg, logger.NewNop(), m, nil, notifier), m
	}
	return NewSink(cfg, logger.NewNop(), m, repo, notifier), m
}

func TestSink_PersistsArtifacts(t *testing.T) {
	root := t.TempDir()
	repo := &fakeRepo{}
	notifier := &fakeNotifier{}
	sink, m := newTestSink(t, Config{Root: root, QueueSize: 4, ClassName: func(int) string { return "car" }}, repo, notifier)
	sink.Start()

	ev := newEvent(t, tracking.EventViolation, 9)
	if !sink.Enqueue(ev) {
		t.Fatal("Enqueue rejected event")
	}
	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	name := ArtifactName(4, "violation", 9, eventTime.Add(9*time.Millisecond))
	dir := filepath.Join(root, "camera_4", "violation")

	if _, err := os.Stat(filepath.Join(dir, name+".jpg")); err != nil {
		t.Errorf("image not written: %v", err)
	}
	label, err := os.ReadFile(filepath.Join(dir, name+".txt"))
	if err != nil {
		t.Fatalf("label not written: %v", err)
	}
	if string(label) != "2 0.500000 0.500000 0.500000 0.500000\n" {
		t.Errorf("label = %q", label)
	}

	stored := repo.stored()
	if len(stored) != 1 {
		t.Fatalf("indexed %d events, want 1", len(stored))
	}
	rec := stored[0]
	if rec.ID == "" || rec.Type != "violation" || rec.ClassName != "car" || rec.X2 != 240 || rec.FileSize == 0 {
		t.Errorf("unexpected record: %+v", rec)
	}

	if len(notifier.msgs) != 1 {
		t.Fatalf("notifications = %d, want 1", len(notifier.msgs))
	}
	var note dto.EventNotification
	if err := json.Unmarshal(notifier.msgs[0], &note); err != nil {
		t.Fatalf("bad notification: %v", err)
	}
	if note.Kind != "event" || note.ID != rec.ID || !strings.Contains(note.Image, rec.ID) {
		t.Errorf("unexpected notification: %+v", note)
	}

	if ev.Frame != nil {
		t.Error("frame must be released after persisting")
	}
	if got := testutil.ToFloat64(m.SinkWritten.WithLabelValues("violation")); got != 1 {
		t.Errorf("sink_written_total = %v, want 1", got)
	}
}

func TestSink_StopDrainsQueue(t *testing.T) {
	repo := &fakeRepo{}
	sink, _ := newTestSink(t, Config{QueueSize: 16}, repo, nil)

	// consumer not running yet: everything stays queued
	for i := 1; i <= 10; i++ {
		if !sink.Enqueue(newEvent(t, tracking.EventEnter, i)) {
			t.Fatalf("event %d rejected", i)
		}
	}
	if sink.Pending() != 10 {
		t.Fatalf("pending = %d, want 10", sink.Pending())
	}

	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if sink.Pending() != 0 {
		t.Errorf("pending after stop = %d", sink.Pending())
	}

	stored := repo.stored()
	if len(stored) != 10 {
		t.Fatalf("persisted %d events, want 10", len(stored))
	}
	for i, rec := range stored {
		if rec.TrackID != i+1 {
			t.Errorf("event %d has track %d, FIFO order broken", i, rec.TrackID)
		}
	}
}

func TestSink_DropsWhenFull(t *testing.T) {
	sink, m := newTestSink(t, Config{QueueSize: 1}, nil, nil)

	if !sink.Enqueue(newEvent(t, tracking.EventEnter, 1)) {
		t.Fatal("first event rejected")
	}
	dropped := newEvent(t, tracking.EventEnter, 2)
	if sink.Enqueue(dropped) {
		t.Fatal("expected second event to be dropped")
	}
	if dropped.Frame != nil {
		t.Error("dropped event frame must be released")
	}
	if got := testutil.ToFloat64(m.SinkDropped); got != 1 {
		t.Errorf("sink_dropped_total = %v, want 1", got)
	}

	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestSink_EnqueueWaitIsBounded(t *testing.T) {
	sink, _ := newTestSink(t, Config{QueueSize: 1, EnqueueTimeout: 30 * time.Millisecond}, nil, nil)
	sink.Enqueue(newEvent(t, tracking.EventEnter, 1))

	start := time.Now()
	if sink.Enqueue(newEvent(t, tracking.EventEnter, 2)) {
		t.Fatal("expected drop after timeout")
	}
	elapsed := time.Since(start)
	if elapsed < 25*time.Millisecond || elapsed > time.Second {
		t.Errorf("enqueue waited %v, want about 30ms", elapsed)
	}

	sink.Stop(context.Background())
}

func TestSink_EnqueueAfterStop(t *testing.T) {
	sink, m := newTestSink(t, Config{QueueSize: 2}, nil, nil)
	sink.Start()
	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	ev := newEvent(t, tracking.EventExit, 1)
	if sink.Enqueue(ev) {
		t.Fatal("Enqueue after Stop must fail")
	}
	if ev.Frame != nil {
		t.Error("rejected event frame must be released")
	}
	if got := testutil.ToFloat64(m.SinkDropped); got != 1 {
		t.Errorf("sink_dropped_total = %v, want 1", got)
	}

	// second Stop is harmless
	if err := sink.Stop(context.Background()); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestSink_FailureDoesNotStopConsumer(t *testing.T) {
	repo := &fakeRepo{}
	sink, m := newTestSink(t, Config{QueueSize: 4}, repo, nil)
	sink.Start()

	broken := newEvent(t, tracking.EventEnter, 1)
	broken.Release()
	sink.Enqueue(broken)
	sink.Enqueue(newEvent(t, tracking.EventEnter, 2))

	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := testutil.ToFloat64(m.SinkFailures); got != 1 {
		t.Errorf("sink_failures_total = %v, want 1", got)
	}
	if stored := repo.stored(); len(stored) != 1 || stored[0].TrackID != 2 {
		t.Errorf("expected only track 2 to be persisted, got %+v", stored)
	}
}

func TestSink_IndexFailureIsCounted(t *testing.T) {
	repo := &fakeRepo{err: errors.New("disk full")}
	notifier := &fakeNotifier{}
	sink, m := newTestSink(t, Config{QueueSize: 2}, repo, notifier)
	sink.Start()

	sink.Enqueue(newEvent(t, tracking.EventExit, 3))
	sink.Stop(context.Background())

	if got := testutil.ToFloat64(m.SinkFailures); got != 1 {
		t.Errorf("sink_failures_total = %v, want 1", got)
	}
	if len(notifier.msgs) != 0 {
		t.Error("failed events must not be announced")
	}
}

type blockingRepo struct {
	fakeRepo
	release chan struct{}
}

func (r *blockingRepo) Insert(ctx context.Context, ev *model.Event) error {
	<-r.release
	return r.fakeRepo.Insert(ctx, ev)
}

func TestSink_StopHonoursContext(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	sink := NewSink(Config{Root: t.TempDir(), QueueSize: 4}, logger.NewNop(), metrics.New(), repo, nil)
	sink.Start()
	sink.Enqueue(newEvent(t, tracking.EventEnter, 1))
	sink.Enqueue(newEvent(t, tracking.EventEnter, 2))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := sink.Stop(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	close(repo.release)
	if err := sink.Stop(context.Background()); err != nil {
		t.Fatalf("Stop after release failed: %v", err)
	}
	if len(repo.stored()) != 2 {
		t.Errorf("persisted %d events, want 2", len(repo.stored()))
	}
}
