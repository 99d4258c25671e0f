package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"dwellwatch/internal/config"
	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/metrics"
	"dwellwatch/internal/service/capture"
	"dwellwatch/internal/service/scheduler"
	"dwellwatch/internal/service/tracking"
	"dwellwatch/internal/service/zone"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gocv.io/x/gocv"
)

const (
	testW = 160
	testH = 120
)

// scriptedSource serves n frames, failing the reads listed in fail, and
// cancels the run once it is exhausted.
type scriptedSource struct {
	n        int
	fps      float64
	fail     map[int]bool
	reads    int
	served   int
	reopens  int
	reopenOK bool
	// reopenFPS replaces fps after a successful Reopen when set
	reopenFPS float64
	cancel    context.CancelFunc
	frame     gocv.Mat
}

func newSource(n int, fps float64, cancel context.CancelFunc) *scriptedSource {
	return &scriptedSource{
		n:        n,
		fps:      fps,
		fail:     map[int]bool{},
		reopenOK: true,
		cancel:   cancel,
		frame:    gocv.NewMatWithSize(testH, testW, gocv.MatTypeCV8UC3),
	}
}

func (s *scriptedSource) Read(dst *gocv.Mat) bool {
	s.reads++
	if s.fail[s.reads] {
		return false
	}
	if s.served >= s.n {
		s.cancel()
		return false
	}
	s.served++
	s.frame.CopyTo(dst)
	return true
}

func (s *scriptedSource) Reopen() bool {
	s.reopens++
	if s.reopenOK && s.reopenFPS > 0 {
		s.fps = s.reopenFPS
	}
	return s.reopenOK
}

func (s *scriptedSource) Properties() capture.Properties {
	return capture.Properties{Width: testW, Height: testH, FPS: s.fps}
}

func (s *scriptedSource) Close() error { return s.frame.Close() }

// scriptedDetector returns script(call) on each call.
type scriptedDetector struct {
	calls  int
	script func(call int) ([]dto.Detection, error)
}

func (d *scriptedDetector) Detect(frame gocv.Mat) ([]dto.Detection, error) {
	d.calls++
	return d.script(d.calls)
}

func (d *scriptedDetector) Close() error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []tracking.DomainEvent
}

func (s *recordingSink) Enqueue(ev *tracking.DomainEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *ev)
	ev.Frame = nil
	return true
}

func (s *recordingSink) types() []tracking.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tracking.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func (s *recordingSink) release() {
	for i := range s.events {
		if s.events[i].Frame != nil {
			s.events[i].Release()
		}
	}
}

var (
	inZone  = image.Rect(30, 30, 70, 70)    // center (50,50)
	outZone = image.Rect(120, 80, 150, 110) // center (135,95)
)

func testZone(t *testing.T) *zone.PolygonZone {
	t.Helper()
	z, err := zone.New([]image.Point{{10, 10}, {90, 10}, {90, 90}, {10, 90}}, testW, testH)
	if err != nil {
		t.Fatalf("zone.New failed: %v", err)
	}
	return z
}

func newTestWorker(t *testing.T, src FrameSource, det Detector, sink EventSink, proc config.ProcessingConfig) (*Worker, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	if proc.TimeoutSeconds == 0 {
		proc.TimeoutSeconds = 3
	}
	w := NewWorker(Options{
		Camera:        config.CameraConfig{ID: 5, Name: "Yard", Source: "test://yard"},
		Source:        src,
		Detector:      det,
		Zone:          testZone(t),
		Sink:          sink,
		Thresholds:    config.ThresholdsConfig{Warning: 2, Violation: 5},
		Processing:    proc,
		RetryDelay:    time.Millisecond,
		MaxRetryDelay: 4 * time.Millisecond,
		Logger:        logger.NewNop(),
		Metrics:       m,
	})
	return w, m
}

func runWorker(t *testing.T, w *Worker, ctx context.Context) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func every(n int) config.ProcessingConfig {
	off := false
	return config.ProcessingConfig{AdaptiveMode: &off, IdleInterval: n, ActiveInterval: n, EmptyThreshold: 3}
}

func TestWorker_DwellEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 10 fps: frame n is t=n/10. Inside for frames 1..70, outside afterwards.
	src := newSource(80, 10, cancel)
	defer src.Close()
	det := &scriptedDetector{script: func(call int) ([]dto.Detection, error) {
		box := inZone
		if call > 70 {
			box = outZone
		}
		return []dto.Detection{{TrackID: 7, ClassID: 3, Box: box}}, nil
	}}
	sink := &recordingSink{}
	defer sink.release()

	w, m := newTestWorker(t, src, det, sink, every(1))
	runWorker(t, w, ctx)

	got := sink.types()
	want := []tracking.EventType{tracking.EventEnter, tracking.EventViolation, tracking.EventExit}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	enter, violation, exit := sink.events[0], sink.events[1], sink.events[2]
	if enter.VideoTime != 0.1 {
		t.Errorf("enter at %v, want 0.1", enter.VideoTime)
	}
	if violation.DwellTime < 5 || violation.DwellTime > 5.11 {
		t.Errorf("violation dwell = %v, want about 5", violation.DwellTime)
	}
	if exit.DwellTime < 6.89 || exit.DwellTime > 6.91 {
		t.Errorf("exit dwell = %v, want 6.9", exit.DwellTime)
	}
	if enter.CameraID != 5 || enter.CameraName != "Yard" || enter.FrameWidth != testW {
		t.Errorf("unexpected event metadata: %+v", enter)
	}

	if got := testutil.ToFloat64(m.Events.WithLabelValues("5", "violation")); got != 1 {
		t.Errorf("events_total{violation} = %v, want 1", got)
	}

	st := w.Status()
	if st.Running {
		t.Error("status must report stopped after Run returns")
	}
	if st.FramesRead != 80 || st.FramesProcessed != 80 || st.Entered != 1 {
		t.Errorf("unexpected status: %+v", st)
	}
}

func TestWorker_SchedulesDetector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(9, 25, cancel)
	defer src.Close()
	det := &scriptedDetector{script: func(int) ([]dto.Detection, error) { return nil, nil }}

	w, m := newTestWorker(t, src, det, &recordingSink{}, config.ProcessingConfig{IdleInterval: 3, ActiveInterval: 1, EmptyThreshold: 2})
	runWorker(t, w, ctx)

	if det.calls != 3 {
		t.Errorf("detector calls = %d, want 3 (frames 3, 6, 9)", det.calls)
	}
	if got := testutil.ToFloat64(m.FramesRead.WithLabelValues("5")); got != 9 {
		t.Errorf("frames_read_total = %v, want 9", got)
	}
	if st := w.Status(); st.Mode != string(scheduler.ModeIdle) || st.Interval != 3 {
		t.Errorf("status mode=%s interval=%d, want idle 3", st.Mode, st.Interval)
	}
}

func TestWorker_ActivitySwitchesToActiveInterval(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(10, 25, cancel)
	defer src.Close()
	det := &scriptedDetector{script: func(int) ([]dto.Detection, error) {
		return []dto.Detection{{TrackID: 1, Box: outZone}}, nil
	}}

	w, _ := newTestWorker(t, src, det, &recordingSink{}, config.ProcessingConfig{IdleInterval: 3, ActiveInterval: 1, EmptyThreshold: 2})
	runWorker(t, w, ctx)

	// frame 3 is the first processed; every frame after that
	if det.calls != 8 {
		t.Errorf("detector calls = %d, want 8", det.calls)
	}
	if st := w.Status(); st.Mode != string(scheduler.ModeActive) {
		t.Errorf("mode = %s, want active", st.Mode)
	}
}

func TestWorker_DetectorErrorIsEmptyResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(4, 25, cancel)
	defer src.Close()
	det := &scriptedDetector{script: func(call int) ([]dto.Detection, error) {
		if call == 2 {
			return nil, errors.New("inference failed")
		}
		return []dto.Detection{{TrackID: 1, Box: inZone}}, nil
	}}
	sink := &recordingSink{}
	defer sink.release()

	w, m := newTestWorker(t, src, det, sink, every(1))
	runWorker(t, w, ctx)

	if det.calls != 4 {
		t.Errorf("detector calls = %d, want 4", det.calls)
	}
	if got := testutil.ToFloat64(m.DetectorErrors.WithLabelValues("5")); got != 1 {
		t.Errorf("detector_errors_total = %v, want 1", got)
	}
	if got := sink.types(); len(got) != 1 || got[0] != tracking.EventEnter {
		t.Errorf("events = %v, want [enter]", got)
	}
}

func TestWorker_ReconnectsAfterReadFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(3, 25, cancel)
	defer src.Close()
	src.fail[1] = true
	src.fail[2] = true
	det := &scriptedDetector{script: func(int) ([]dto.Detection, error) { return nil, nil }}

	w, m := newTestWorker(t, src, det, &recordingSink{}, every(1))
	runWorker(t, w, ctx)

	if src.served != 3 {
		t.Errorf("served %d frames, want 3", src.served)
	}
	if src.reopens < 2 {
		t.Errorf("reopens = %d, want at least 2", src.reopens)
	}
	if got := testutil.ToFloat64(m.SourceReconnects.WithLabelValues("5")); got < 2 {
		t.Errorf("source_reconnects_total = %v, want >= 2", got)
	}
}

func TestWorker_ReconnectKeepsTimebase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// No fps reported at start (fallback 25); 30 after the reconnect at read 101.
	src := newSource(300, 0, cancel)
	defer src.Close()
	src.fail[101] = true
	src.reopenFPS = 30

	var w *Worker
	lastTotal := -1.0
	det := &scriptedDetector{script: func(call int) ([]dto.Detection, error) {
		if s, ok := w.registry.Session(7); ok && s.State == tracking.Inside {
			if s.TotalTime < lastTotal {
				t.Errorf("call %d: dwell went back from %v to %v", call, lastTotal, s.TotalTime)
			}
			lastTotal = s.TotalTime
		}
		if call > 150 {
			return nil, nil
		}
		return []dto.Detection{{TrackID: 7, ClassID: 2, Box: inZone}}, nil
	}}
	sink := &recordingSink{}
	defer sink.release()

	proc := every(1)
	proc.EvictPolicy = config.EvictExit
	w, _ = newTestWorker(t, src, det, sink, proc)
	runWorker(t, w, ctx)

	if src.reopens != 1 {
		t.Fatalf("reopens = %d, want 1", src.reopens)
	}
	if w.Status().FPS != DefaultFPS {
		t.Errorf("fps = %v, want %v", w.Status().FPS, DefaultFPS)
	}

	got := sink.types()
	want := []tracking.EventType{tracking.EventEnter, tracking.EventViolation, tracking.EventExit}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	// last sighting is frame 150 (t=6.0), first is frame 1 (t=0.04)
	exit := sink.events[2]
	if !exit.Synthetic {
		t.Error("expected the session to expire with a synthetic exit")
	}
	if exit.DwellTime < 5.95 || exit.DwellTime > 5.97 {
		t.Errorf("exit dwell = %v, want 5.96", exit.DwellTime)
	}
	if w.registry.Len() != 0 {
		t.Errorf("registry still holds %d sessions", w.registry.Len())
	}
}

func TestWorker_FailedReopenKeepsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newSource(1, 25, cancel)
	defer src.Close()
	src.reopenOK = false
	for i := 1; i <= 4; i++ {
		src.fail[i] = true
	}
	det := &scriptedDetector{script: func(int) ([]dto.Detection, error) { return nil, nil }}

	w, _ := newTestWorker(t, src, det, &recordingSink{}, every(1))
	runWorker(t, w, ctx)

	if src.served != 1 || src.reopens < 4 {
		t.Errorf("served=%d reopens=%d, want 1 and >= 4", src.served, src.reopens)
	}
}

func TestWorker_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := newSource(1<<30, 25, func() {})
	defer src.Close()
	det := &scriptedDetector{script: func(int) ([]dto.Detection, error) { return nil, nil }}

	w, _ := newTestWorker(t, src, det, &recordingSink{}, every(5))
	time.AfterFunc(20*time.Millisecond, cancel)
	runWorker(t, w, ctx)

	if src.served == 0 {
		t.Error("expected some frames before cancellation")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, 5*time.Second, tt.n); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestBoxColor(t *testing.T) {
	tests := []struct {
		name   string
		inside bool
		dwell  float64
		want   interface{}
	}{
		{"outside", false, 10, colorOutside},
		{"safe", true, 1.9, colorSafe},
		{"warning", true, 2, colorWarning},
		{"violation", true, 5, colorViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoxColor(tt.inside, tt.dwell, 2, 5); got != tt.want {
				t.Errorf("BoxColor = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestModeText(t *testing.T) {
	if got := ModeText(scheduler.ModeActive, 2); got != "ACTIVE (1/2)" {
		t.Errorf("ModeText = %q", got)
	}
	if got := ModeText(scheduler.ModeIdle, 3); got != "IDLE (1/3)" {
		t.Errorf("ModeText = %q", got)
	}
}
