package geo

import (
	"errors"
	"math"
	"time"
)

// ErrInvalidCoordinates is returned when a latitude or longitude is out of range.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a reported position. It is a value type; copies never alias.
type Point struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"` // meters
	Timestamp time.Time `json:"timestamp"`
}

// Validate checks latitude is within [-90, 90] and longitude within [-180, 180].
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return ErrInvalidCoordinates
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return ErrInvalidCoordinates
	}
	if math.IsNaN(p.Accuracy) || p.Accuracy < 0 {
		return ErrInvalidCoordinates
	}
	return nil
}
