package repository

import (
	"context"
	"errors"

	"dwellwatch/internal/dto"
	"dwellwatch/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// EventRepository defines the interface for the event index.
type EventRepository interface {
	// Create operations
	Insert(ctx context.Context, ev *model.Event) error

	// Read operations
	GetByID(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context, filter *dto.EventFilter) ([]model.Event, error)
	Count(ctx context.Context, filter *dto.EventFilter) (int, error)
	ExistsByImagePath(ctx context.Context, path string) (bool, error)

	Close() error
}
