package handler

import (
	"context"
	"encoding/json"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dwellwatch/internal/config"
	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/model"
	"dwellwatch/internal/repository"

	"github.com/disintegration/imaging"
)

type fakeRepo struct {
	events     map[string]*model.Event
	lastFilter *dto.EventFilter
}

func (r *fakeRepo) Insert(ctx context.Context, ev *model.Event) error {
	r.events[ev.ID] = ev
	return nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id string) (*model.Event, error) {
	if ev, ok := r.events[id]; ok {
		return ev, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) List(ctx context.Context, filter *dto.EventFilter) ([]model.Event, error) {
	r.lastFilter = filter
	out := []model.Event{}
	for _, ev := range r.events {
		out = append(out, *ev)
	}
	return out, nil
}

func (r *fakeRepo) Count(ctx context.Context, filter *dto.EventFilter) (int, error) {
	return len(r.events), nil
}

func (r *fakeRepo) ExistsByImagePath(ctx context.Context, path string) (bool, error) {
	return false, nil
}

func (r *fakeRepo) Close() error { return nil }

type fakeCameras struct {
	statuses []model.CameraStatus
	stopped  []int
}

func (c *fakeCameras) Statuses() []model.CameraStatus { return c.statuses }

func (c *fakeCameras) StopCamera(id int) bool {
	for _, st := range c.statuses {
		if st.ID == id {
			c.stopped = append(c.stopped, id)
			return true
		}
	}
	return false
}

func newRepoWithImage(t *testing.T) (*fakeRepo, string) {
	t.Helper()
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "cam1_enter_id3_20250301_120000_000.jpg")
	img := imaging.New(640, 480, color.NRGBA{200, 0, 0, 255})
	if err := imaging.Save(img, imgPath); err != nil {
		t.Fatalf("save image: %v", err)
	}
	labelPath := strings.TrimSuffix(imgPath, ".jpg") + ".txt"
	if err := os.WriteFile(labelPath, []byte("2 0.5 0.5 0.1 0.1\n"), 0644); err != nil {
		t.Fatalf("write label: %v", err)
	}
	return &fakeRepo{events: map[string]*model.Event{
		"abc": {ID: "abc", CameraID: 1, Type: "enter", TrackID: 3, ImagePath: imgPath, LabelPath: labelPath},
	}}, dir
}

// ============================================================================
// Events
// ============================================================================

func TestListEventsHandler(t *testing.T) {
	repo, _ := newRepoWithImage(t)
	h := ListEventsHandler(repo, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/events?camera=1&type=enter&from=2025-03-01&to=2025-03-02T00:00:00Z&limit=9999&offset=5", nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body dto.EventList
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Events) != 1 || body.Events[0].ID != "abc" {
		t.Errorf("body = %+v", body)
	}

	f := repo.lastFilter
	if f.CameraID == nil || *f.CameraID != 1 || f.TrackID != nil || f.Type != "enter" {
		t.Errorf("filter = %+v", f)
	}
	if f.Limit != MaxPageSize || f.Offset != 5 {
		t.Errorf("limit/offset = %d/%d, want %d/5", f.Limit, f.Offset, MaxPageSize)
	}
	if !f.To.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("to = %v", f.To)
	}
}

func TestListEventsHandler_BadRequest(t *testing.T) {
	repo, _ := newRepoWithImage(t)
	h := ListEventsHandler(repo, logger.NewNop())

	tests := []string{
		"camera=x",
		"track=1.5",
		"type=parked",
		"from=yesterday",
		"from=2025-03-02&to=2025-03-01",
		"limit=0",
		"offset=-1",
	}
	for _, q := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events?"+q, nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestGetEventHandler(t *testing.T) {
	repo, _ := newRepoWithImage(t)
	h := GetEventHandler(repo, logger.NewNop())

	tests := []struct {
		query string
		code  int
	}{
		{"id=abc", http.StatusOK},
		{"id=nope", http.StatusNotFound},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events/get?"+tt.query, nil))
		if rec.Code != tt.code {
			t.Errorf("%q: status = %d, want %d", tt.query, rec.Code, tt.code)
		}
	}
}

func TestEventImageHandler(t *testing.T) {
	repo, _ := newRepoWithImage(t)
	h := EventImageHandler(repo, logger.NewNop())

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/events/image?id=abc", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("image: status=%d type=%s", rec.Code, rec.Header().Get("Content-Type"))
	}

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/events/image?id=abc&kind=label", nil))
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "2 0.5") {
		t.Fatalf("label: status=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestEventThumbnailHandler(t *testing.T) {
	repo, _ := newRepoWithImage(t)
	h := EventThumbnailHandler(repo, logger.NewNop())

	tests := []struct {
		query string
		width int
	}{
		{"id=abc", DefaultThumbnailWidth},
		{"id=abc&w=100", 100},
		{"id=abc&w=5000", 640}, // never upscaled
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/api/events/thumbnail?"+tt.query, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.query, rec.Code)
		}
		img, err := imaging.Decode(rec.Body)
		if err != nil {
			t.Fatalf("%s: decode: %v", tt.query, err)
		}
		if img.Bounds().Dx() != tt.width {
			t.Errorf("%s: width = %d, want %d", tt.query, img.Bounds().Dx(), tt.width)
		}
		if want := tt.width * 3 / 4; img.Bounds().Dy() != want {
			t.Errorf("%s: height = %d, want %d", tt.query, img.Bounds().Dy(), want)
		}
	}

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/events/thumbnail?id=abc&w=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad width: status = %d, want 400", rec.Code)
	}
}

func TestEventThumbnailHandler_MissingFile(t *testing.T) {
	repo := &fakeRepo{events: map[string]*model.Event{
		"gone": {ID: "gone", ImagePath: filepath.Join(t.TempDir(), "gone.jpg")},
	}}
	rec := httptest.NewRecorder()
	EventThumbnailHandler(repo, logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/?id=gone", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

// ============================================================================
// Cameras
// ============================================================================

func TestCamerasHandler(t *testing.T) {
	cams := &fakeCameras{statuses: []model.CameraStatus{
		{ID: 1, Name: "gate", Running: true},
	}}
	rec := httptest.NewRecorder()
	CamerasHandler(cams, logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/api/cameras", nil))

	var got []model.CameraStatus
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "gate" || !got[0].Running {
		t.Errorf("statuses = %+v", got)
	}
}

func TestStopCameraHandler(t *testing.T) {
	cams := &fakeCameras{statuses: []model.CameraStatus{{ID: 1}}}
	h := StopCameraHandler(cams, logger.NewNop())

	tests := []struct {
		method string
		query  string
		code   int
	}{
		{http.MethodGet, "id=1", http.StatusMethodNotAllowed},
		{http.MethodPost, "id=x", http.StatusBadRequest},
		{http.MethodPost, "id=2", http.StatusNotFound},
		{http.MethodPost, "id=1", http.StatusAccepted},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(tt.method, "/api/cameras/stop?"+tt.query, nil))
		if rec.Code != tt.code {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.query, rec.Code, tt.code)
		}
	}
	if len(cams.stopped) != 1 || cams.stopped[0] != 1 {
		t.Errorf("stopped = %v, want [1]", cams.stopped)
	}
}

func TestHealthHandler(t *testing.T) {
	cams := &fakeCameras{statuses: []model.CameraStatus{{ID: 1, Running: true}, {ID: 2}}}
	rec := httptest.NewRecorder()
	HealthHandler(cams, logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"cameras":1`) {
		t.Errorf("healthy: status=%d body=%s", rec.Code, rec.Body.String())
	}

	cams.statuses[0].Running = false
	rec = httptest.NewRecorder()
	HealthHandler(cams, logger.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded: status = %d, want 503", rec.Code)
	}
}

// ============================================================================
// Logs and login
// ============================================================================

func TestShowLogsHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "warning.log"), []byte("careful\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{LogDirectory: dir}

	rec := httptest.NewRecorder()
	ShowLogsHandler(cfg, "warning")(rec, httptest.NewRequest(http.MethodGet, "/logs/warning", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "careful\n" {
		t.Errorf("warning log: status=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	ShowLogsHandler(cfg, "error")(rec, httptest.NewRequest(http.MethodGet, "/logs/error", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing log: status = %d, want 404", rec.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	cfg := &config.Config{APIKey: "secret"}
	h := LoginHandler(cfg, logger.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("api_key=wrong"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("api_key=secret"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("right key: status = %d, want 204", rec.Code)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "api_key" || cookies[0].Value != "secret" {
		t.Errorf("cookies = %+v", cookies)
	}
}
