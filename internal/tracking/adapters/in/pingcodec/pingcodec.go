// Package pingcodec turns raw ping payloads (JSON bodies or NMEA 0183
// sentences) into ingestion input. Session and walker come from the
// transport, never from the payload.
package pingcodec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	in "walktrack/internal/tracking/application/ports/in"
	"walktrack/internal/tracking/domain"

	"github.com/go-playground/validator/v10"
)

// JSONPing is the JSON body of a ping.
type JSONPing struct {
	Latitude       *float64   `json:"latitude" validate:"required"`
	Longitude      *float64   `json:"longitude" validate:"required"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	AccuracyMeters *float64   `json:"accuracy_meters,omitempty"`
	SpeedKmh       *float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees *float64   `json:"heading_degrees,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode picks the decoder from the content type. text/plain, or a body
// that starts with '$', is read as NMEA; everything else as JSON.
func Decode(contentType string, body []byte, now time.Time) (in.TrackLocationInput, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)
	if mediaType == "text/plain" || bytes.HasPrefix(trimmed, []byte("$")) {
		return DecodeNMEA(string(trimmed), now)
	}
	return DecodeJSON(body)
}

// DecodeJSON decodes exactly one JSONPing object.
func DecodeJSON(body []byte) (in.TrackLocationInput, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()

	var p JSONPing
	if err := dec.Decode(&p); err != nil {
		return in.TrackLocationInput{}, fmt.Errorf("%w: %s", domain.ErrMalformedPing, jsonReason(err))
	}
	if dec.More() {
		return in.TrackLocationInput{}, fmt.Errorf("%w: trailing data after object", domain.ErrMalformedPing)
	}
	if err := validate.Struct(p); err != nil {
		return in.TrackLocationInput{}, fmt.Errorf("%w: latitude and longitude are required", domain.ErrMalformedPing)
	}

	return in.TrackLocationInput{
		Latitude:       *p.Latitude,
		Longitude:      *p.Longitude,
		Timestamp:      p.Timestamp,
		AccuracyMeters: p.AccuracyMeters,
		SpeedKmh:       p.SpeedKmh,
		HeadingDegrees: p.HeadingDegrees,
		Source:         domain.SourceHTTP,
	}, nil
}

func jsonReason(err error) string {
	if err == io.EOF {
		return "empty body"
	}
	// field names are useful to clients, offsets less so
	return strings.TrimPrefix(err.Error(), "json: ")
}
