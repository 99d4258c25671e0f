package dto

import "image"

// Detection is one tracked object in a frame.
type Detection struct {
	TrackID    int
	ClassID    int
	Label      string
	Confidence float64
	Box        image.Rectangle
}
