package domain

import (
	"fmt"
	"strings"
	"time"
)

// Source tells how a ping reached the service.
type Source string

const (
	SourceHTTP Source = "http"
	SourceMQTT Source = "mqtt"
	SourceNMEA Source = "nmea"
)

// Location is one GPS sample of a walk. Immutable once persisted.
type Location struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	WalkerID       string    `json:"walker_id,omitempty"`
	OwnerID        string    `json:"owner_id,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	SpeedKmh       *float64  `json:"speed_kmh,omitempty"`
	HeadingDegrees *float64  `json:"heading_degrees,omitempty"`
	Source         Source    `json:"source"`
	RecordedAt     time.Time `json:"recorded_at"`
	ReceivedAt     time.Time `json:"received_at"`
}

// ValidateCoordinates checks WGS84 bounds, edges included.
func ValidateCoordinates(lat, lng float64) error {
	// NaN fails both comparisons, so test the accepted range rather than the rejected one
	if !(lat >= -90 && lat <= 90) {
		return fmt.Errorf("%w: latitude must be between -90 and 90", ErrInvalidCoordinates)
	}
	if !(lng >= -180 && lng <= 180) {
		return fmt.Errorf("%w: longitude must be between -180 and 180", ErrInvalidCoordinates)
	}
	return nil
}

// ValidateTimestamp rejects zero instants and instants more than maxSkew ahead of now.
func ValidateTimestamp(ts, now time.Time, maxSkew time.Duration) error {
	if ts.IsZero() {
		return fmt.Errorf("%w: timestamp is zero", ErrInvalidTimestamp)
	}
	if ts.After(now.Add(maxSkew)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidTimestamp, ts.UTC().Format(time.RFC3339))
	}
	return nil
}

// Validate checks every invariant of a record about to be persisted.
func (l *Location) Validate(now time.Time, maxSkew time.Duration) error {
	if strings.TrimSpace(l.SessionID) == "" {
		return ErrMissingSession
	}
	if err := ValidateCoordinates(l.Latitude, l.Longitude); err != nil {
		return err
	}
	if err := ValidateTimestamp(l.RecordedAt, now, maxSkew); err != nil {
		return err
	}
	if l.AccuracyMeters != nil && *l.AccuracyMeters < 0 {
		return fmt.Errorf("%w: accuracy_meters must be >= 0", ErrInvalidMotion)
	}
	if l.SpeedKmh != nil && *l.SpeedKmh < 0 {
		return fmt.Errorf("%w: speed_kmh must be >= 0", ErrInvalidMotion)
	}
	if l.HeadingDegrees != nil && (*l.HeadingDegrees < 0 || *l.HeadingDegrees >= 360) {
		return fmt.Errorf("%w: heading_degrees must be in [0, 360)", ErrInvalidMotion)
	}
	return nil
}

// InRange reports whether the record falls within [start, end].
func (l *Location) InRange(start, end time.Time) bool {
	return !l.RecordedAt.Before(start) && !l.RecordedAt.After(end)
}

// TimeRange is an inclusive history window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrInvalidTimeRange)
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("%w: end is before start", ErrInvalidTimeRange)
	}
	return nil
}
