package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/model"
	"dwellwatch/internal/repository"
)

const eventColumns = `id, camera_id, camera_name, event_type, track_id, class_id, class_name,
	x1, y1, x2, y2, dwell_time, video_time, synthetic, ts_ms, image_path, label_path, file_size`

// EventRepository implements repository.EventRepository for SQLite.
type EventRepository struct {
	db *DB
}

var _ repository.EventRepository = (*EventRepository)(nil)

// NewEventRepository creates a new SQLite event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert adds a new event record to the database.
func (r *EventRepository) Insert(ctx context.Context, ev *model.Event) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.ID, ev.CameraID, ev.CameraName, ev.Type, ev.TrackID, ev.ClassID, ev.ClassName,
		ev.X1, ev.Y1, ev.X2, ev.Y2, ev.DwellTime, ev.VideoTime, ev.Synthetic,
		ev.Timestamp.UnixMilli(), ev.ImagePath, ev.LabelPath, ev.FileSize)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// List retrieves events based on filter criteria, newest first.
func (r *EventRepository) List(ctx context.Context, filter *dto.EventFilter) ([]model.Event, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY ts_ms DESC, id`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// Count returns the total count of events matching the filter.
func (r *EventRepository) Count(ctx context.Context, filter *dto.EventFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := buildWhere(filter)
	var count int
	if err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ExistsByImagePath checks if an event with the given evidence image is indexed.
func (r *EventRepository) ExistsByImagePath(ctx context.Context, path string) (bool, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var count int
	err := r.db.Conn().QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE image_path = ?`, path).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return count > 0, nil
}

// Close closes the underlying database.
func (r *EventRepository) Close() error {
	return r.db.Close()
}

func buildWhere(filter *dto.EventFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}
	var conds []string
	var args []interface{}

	if filter.CameraID != nil {
		conds = append(conds, "camera_id = ?")
		args = append(args, *filter.CameraID)
	}
	if filter.TrackID != nil {
		conds = append(conds, "track_id = ?")
		args = append(args, *filter.TrackID)
	}
	if filter.Type != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, filter.Type)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "ts_ms >= ?")
		args = append(args, filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		conds = append(conds, "ts_ms < ?")
		args = append(args, filter.To.UnixMilli())
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (*model.Event, error) {
	var ev model.Event
	var tsMillis int64
	err := s.Scan(&ev.ID, &ev.CameraID, &ev.CameraName, &ev.Type, &ev.TrackID, &ev.ClassID, &ev.ClassName,
		&ev.X1, &ev.Y1, &ev.X2, &ev.Y2, &ev.DwellTime, &ev.VideoTime, &ev.Synthetic,
		&tsMillis, &ev.ImagePath, &ev.LabelPath, &ev.FileSize)
	if err != nil {
		return nil, err
	}
	ev.Timestamp = time.UnixMilli(tsMillis).UTC()
	return &ev, nil
}
