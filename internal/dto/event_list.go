package dto

import "dwellwatch/internal/model"

// EventList is the paginated response of the event list endpoint.
type EventList struct {
	Events []model.Event `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}
