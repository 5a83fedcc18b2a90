package align

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/afroash/envmon/internal/aggregate"
	"github.com/afroash/envmon/internal/models"
)

// Point is one charted value
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Pair holds two series of the same field, each ascending by time. The
// series are independent; points are not joined on timestamp.
type Pair struct {
	Field models.Field `json:"field"`
	Unit  string       `json:"unit"`
	A     []Point      `json:"a"`
	B     []Point      `json:"b"`
}

// Align extracts field from both sides for charting. Samples without the
// field, or with a NaN value, are dropped. It returns false when either
// side has nothing left.
func Align[A, B models.Reading](a []A, b []B, field models.Field) (Pair, bool) {
	pa := series(a, field)
	pb := series(b, field)
	if len(pa) == 0 || len(pb) == 0 {
		return Pair{}, false
	}
	return Pair{Field: field, Unit: field.Unit(), A: pa, B: pb}, true
}

func series[R models.Reading](readings []R, field models.Field) []Point {
	points := make([]Point, 0, len(readings))
	for _, r := range readings {
		v, ok := r.Value(field)
		if !ok || math.IsNaN(v) {
			continue
		}
		points = append(points, Point{Timestamp: r.At(), Value: v})
	}
	slices.SortStableFunc(points, func(x, y Point) int {
		return x.Timestamp.Compare(y.Timestamp)
	})
	return points
}

// Delta returns a.current - b.current for field. By convention a is the
// local sensor and b the weather API.
func Delta(a, b aggregate.Current, field models.Field) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	va, ok := a.Current(field)
	if !ok {
		return 0, false
	}
	vb, ok := b.Current(field)
	if !ok {
		return 0, false
	}
	return va - vb, true
}

// Narrate renders a delta as a one-line summary
func Narrate(field models.Field, delta float64) string {
	unit := field.Unit()
	if unit != "" {
		unit = " " + unit
	}
	sign := ""
	if delta > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s difference: %.1f%s (%s%.1f%s from sensor to weather API)",
		fieldLabel(field), math.Abs(delta), unit, sign, delta, unit)
}

func fieldLabel(f models.Field) string {
	switch f {
	case models.FieldTemperature:
		return "Temperature"
	case models.FieldHumidity:
		return "Humidity"
	case models.FieldPressure:
		return "Pressure"
	case models.FieldWindSpeed:
		return "Wind speed"
	case models.FieldAQI:
		return "AQI"
	default:
		return string(f)
	}
}
