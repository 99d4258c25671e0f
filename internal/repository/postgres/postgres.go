// Package postgres stores the event index in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/model"
	"dwellwatch/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const eventColumns = `id, camera_id, camera_name, event_type, track_id, class_id, class_name,
	x1, y1, x2, y2, dwell_time, video_time, synthetic, ts, image_path, label_path, file_size`

// EventRepository implements repository.EventRepository on a pgx pool.
type EventRepository struct {
	pool *pgxpool.Pool
}

var _ repository.EventRepository = (*EventRepository)(nil)

// New connects, fails fast if the database is unreachable and applies the schema.
func New(dbURL string) (*EventRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &EventRepository{pool: pool}, nil
}

// Insert adds a new event record.
func (r *EventRepository) Insert(ctx context.Context, ev *model.Event) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, ev.ID, ev.CameraID, ev.CameraName, ev.Type, ev.TrackID, ev.ClassID, ev.ClassName,
		ev.X1, ev.Y1, ev.X2, ev.Y2, ev.DwellTime, ev.VideoTime, ev.Synthetic,
		ev.Timestamp, ev.ImagePath, ev.LabelPath, ev.FileSize)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id::text = $1`, id)
	ev, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// List retrieves events based on filter criteria, newest first.
func (r *EventRepository) List(ctx context.Context, filter *dto.EventFilter) ([]model.Event, error) {
	where, args := buildWhere(filter)
	query := `SELECT ` + eventColumns + ` FROM events` + where + ` ORDER BY ts DESC, id`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := r.pool.Query(ctx, query, args...)
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

// Count returns the number of events matching the filter.
func (r *EventRepository) Count(ctx context.Context, filter *dto.EventFilter) (int, error) {
	where, args := buildWhere(filter)
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ExistsByImagePath checks if an event with the given evidence image is indexed.
func (r *EventRepository) ExistsByImagePath(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM events WHERE image_path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check event existence: %w", err)
	}
	return exists, nil
}

// Close shuts down the connection pool.
func (r *EventRepository) Close() error {
	r.pool.Close()
	return nil
}

// buildWhere uses a half-open [From, To) window like the sqlite index.
func buildWhere(filter *dto.EventFilter) (string, []interface{}) {
	if filter == nil {
		return "", nil
	}
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.CameraID != nil {
		add("camera_id = $%d", *filter.CameraID)
	}
	if filter.TrackID != nil {
		add("track_id = $%d", *filter.TrackID)
	}
	if filter.Type != "" {
		add("event_type = $%d", filter.Type)
	}
	if !filter.From.IsZero() {
		add("ts >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("ts < $%d", filter.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var ev model.Event
	err := row.Scan(&ev.ID, &ev.CameraID, &ev.CameraName, &ev.Type, &ev.TrackID, &ev.ClassID, &ev.ClassName,
		&ev.X1, &ev.Y1, &ev.X2, &ev.Y2, &ev.DwellTime, &ev.VideoTime, &ev.Synthetic,
		&ev.Timestamp, &ev.ImagePath, &ev.LabelPath, &ev.FileSize)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}
