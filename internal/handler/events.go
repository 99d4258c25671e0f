package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/logger"
	"dwellwatch/internal/model"
	"dwellwatch/internal/repository"

	"github.com/disintegration/imaging"
)

const (
	// DefaultPageSize is the event list limit when none is given.
	DefaultPageSize = 50
	// MaxPageSize caps the event list limit.
	MaxPageSize = 500
	// DefaultThumbnailWidth is the thumbnail width when none is given.
	DefaultThumbnailWidth = 320
	maxThumbnailWidth     = 1920
)

// ListEventsHandler returns the filtered, paginated event list, newest first.
func ListEventsHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseEventFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		events, err := repo.List(r.Context(), filter)
		if err != nil {
			logger.Error("Error querying events: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		total, err := repo.Count(r.Context(), filter)
		if err != nil {
			logger.Error("Error counting events: %v", err)
			total = len(events)
		}

		writeJSON(w, logger, dto.EventList{
			Events: events,
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		})
	}
}

// GetEventHandler returns a single event record.
func GetEventHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, ok := lookupEvent(w, r, repo, logger)
		if !ok {
			return
		}
		writeJSON(w, logger, ev)
	}
}

// EventImageHandler serves the annotated snapshot of an event, or its
// label file with kind=label.
func EventImageHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ev, ok := lookupEvent(w, r, repo, logger)
		if !ok {
			return
		}

		path := ev.ImagePath
		if r.URL.Query().Get("kind") == "label" {
			path = ev.LabelPath
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		http.ServeFile(w, r, path)
	}
}

// EventThumbnailHandler serves a downscaled JPEG of an event snapshot; the
// width comes from the w query parameter.
func EventThumbnailHandler(repo repository.EventRepository, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		width := DefaultThumbnailWidth
		if v := r.URL.Query().Get("w"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				http.Error(w, "invalid width", http.StatusBadRequest)
				return
			}
			width = min(n, maxThumbnailWidth)
		}

		ev, ok := lookupEvent(w, r, repo, logger)
		if !ok {
			return
		}

		img, err := imaging.Open(ev.ImagePath)
		if err != nil {
			logger.Warning("Cannot open snapshot %s: %v", ev.ImagePath, err)
			http.Error(w, "Image not found", http.StatusNotFound)
			return
		}
		if img.Bounds().Dx() > width {
			img = imaging.Resize(img, width, 0, imaging.Lanczos)
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "max-age=3600")
		if err := imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
			logger.Error("Error encoding thumbnail: %v", err)
		}
	}
}

func lookupEvent(w http.ResponseWriter, r *http.Request, repo repository.EventRepository, logger *logger.Logger) (*model.Event, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "id parameter is required", http.StatusBadRequest)
		return nil, false
	}

	ev, err := repo.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, "Event not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		logger.Error("Error loading event %s: %v", id, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	return ev, true
}

// parseEventFilter reads camera, track, type, from, to, limit and offset.
// from/to accept RFC 3339 or a plain date (2006-01-02).
func parseEventFilter(r *http.Request) (*dto.EventFilter, error) {
	q := r.URL.Query()
	filter := &dto.EventFilter{
		Type:  q.Get("type"),
		Limit: DefaultPageSize,
	}

	var err error
	if filter.CameraID, err = optionalInt(q.Get("camera")); err != nil {
		return nil, fmt.Errorf("invalid camera: %w", err)
	}
	if filter.TrackID, err = optionalInt(q.Get("track")); err != nil {
		return nil, fmt.Errorf("invalid track: %w", err)
	}
	switch filter.Type {
	case "", "enter", "exit", "violation":
	default:
		return nil, fmt.Errorf("invalid type %q", filter.Type)
	}
	if filter.From, err = parseTime(q.Get("from")); err != nil {
		return nil, fmt.Errorf("invalid from: %w", err)
	}
	if filter.To, err = parseTime(q.Get("to")); err != nil {
		return nil, fmt.Errorf("invalid to: %w", err)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, errors.New("from must be before to")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = min(n, MaxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = n
	}
	return filter, nil
}

func optionalInt(v string) (*int, error) {
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, v, time.Local)
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
