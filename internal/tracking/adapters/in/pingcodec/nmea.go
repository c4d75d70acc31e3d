package pingcodec

import (
	"fmt"
	"math"
	"time"

	in "walktrack/internal/tracking/application/ports/in"
	"walktrack/internal/tracking/domain"

	"github.com/adrianmo/go-nmea"
)

const knotsToKmh = 1.852

// DecodeNMEA accepts RMC and GGA sentences, the two every GPS collar emits.
// GGA carries no date, so the fix time is placed on the UTC day of now,
// falling back one day when that would land in the future.
func DecodeNMEA(sentence string, now time.Time) (in.TrackLocationInput, error) {
	s, err := nmea.Parse(sentence)
	if err != nil {
		return in.TrackLocationInput{}, fmt.Errorf("%w: %s", domain.ErrMalformedPing, err.Error())
	}

	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return in.TrackLocationInput{}, fmt.Errorf("%w: RMC without a valid fix", domain.ErrMalformedPing)
		}
		speed := round(m.Speed*knotsToKmh, 3)
		heading := math.Mod(m.Course, 360)
		return in.TrackLocationInput{
			Latitude:       m.Latitude,
			Longitude:      m.Longitude,
			Timestamp:      rmcTime(m.Date, m.Time),
			SpeedKmh:       &speed,
			HeadingDegrees: &heading,
			Source:         domain.SourceNMEA,
		}, nil

	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return in.TrackLocationInput{}, fmt.Errorf("%w: GGA without a fix", domain.ErrMalformedPing)
		}
		return in.TrackLocationInput{
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
			Timestamp: ggaTime(m.Time, now),
			Source:    domain.SourceNMEA,
		}, nil

	default:
		return in.TrackLocationInput{}, fmt.Errorf("%w: unsupported sentence %s", domain.ErrMalformedPing, s.DataType())
	}
}

func rmcTime(d nmea.Date, t nmea.Time) *time.Time {
	if !d.Valid || !t.Valid {
		return nil
	}
	ts := time.Date(2000+d.YY, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
	return &ts
}

func ggaTime(t nmea.Time, now time.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	now = now.UTC()
	ts := time.Date(now.Year(), now.Month(), now.Day(), t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
	if ts.After(now.Add(time.Hour)) {
		ts = ts.AddDate(0, 0, -1)
	}
	return &ts
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
