package aggregate

import (
	"math"
	"time"

	"github.com/afroash/envmon/internal/models"
)

// Current is implemented by anything that can report the latest value of a field
type Current interface {
	Current(f models.Field) (float64, bool)
}

// Compile-time interface checks
var (
	_ Current = (*SensorStats)(nil)
	_ Current = (*WeatherStats)(nil)
)

// FieldStats summarizes one numeric field over a window
type FieldStats struct {
	Current float64 `json:"current"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Avg     float64 `json:"avg"`
}

// FromAverage returns how far the current value sits from the window average
func (f FieldStats) FromAverage() float64 {
	return f.Current - f.Avg
}

// AQIStats summarizes the derived AQI. Current is nil when the latest row
// carries no AQI even though older rows do.
type AQIStats struct {
	Current *float64 `json:"current"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Avg     float64  `json:"avg"`
}

// SensorStats summarizes sensor readings over a window
type SensorStats struct {
	Temperature  FieldStats `json:"temperature"`
	Humidity     FieldStats `json:"humidity"`
	Pressure     FieldStats `json:"pressure"`
	ReadingCount int        `json:"reading_count"`
	FirstReading time.Time  `json:"first_reading"`
	LastReading  time.Time  `json:"last_reading"`
}

// Current returns the latest value of a sensor field
func (s *SensorStats) Current(f models.Field) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch f {
	case models.FieldTemperature:
		return s.Temperature.Current, true
	case models.FieldHumidity:
		return s.Humidity.Current, true
	case models.FieldPressure:
		return s.Pressure.Current, true
	default:
		return 0, false
	}
}

// WeatherStats summarizes weather readings over a window. Fields without a
// Min/Max/Avg describe the latest reading only.
type WeatherStats struct {
	Temperature   FieldStats                   `json:"temperature"`
	Humidity      FieldStats                   `json:"humidity"`
	Pressure      FieldStats                   `json:"pressure"`
	WindSpeed     float64                      `json:"wind_speed"`
	WindDirection string                       `json:"wind_direction"`
	Condition     string                       `json:"condition"`
	Location      string                       `json:"location"`
	AQI           *AQIStats                    `json:"aqi"`
	USEPAIndex    *int                         `json:"us_epa_index"`
	Category      Category                     `json:"category"`
	Pollutants    map[models.Pollutant]float64 `json:"pollutants"`
	ReadingCount  int                          `json:"reading_count"`
	FirstReading  time.Time                    `json:"first_reading"`
	LastReading   time.Time                    `json:"last_reading"`
}

// Current returns the latest value of a weather field
func (s *WeatherStats) Current(f models.Field) (float64, bool) {
	if s == nil {
		return 0, false
	}
	switch f {
	case models.FieldTemperature:
		return s.Temperature.Current, true
	case models.FieldHumidity:
		return s.Humidity.Current, true
	case models.FieldPressure:
		return s.Pressure.Current, true
	case models.FieldWindSpeed:
		return s.WindSpeed, true
	case models.FieldAQI:
		if s.AQI == nil || s.AQI.Current == nil {
			return 0, false
		}
		return *s.AQI.Current, true
	}
	if p, ok := f.Pollutant(); ok {
		v, ok := s.Pollutants[p]
		return v, ok
	}
	return 0, false
}

// SummarizeSensor computes window statistics, nil on empty input
func SummarizeSensor(readings []models.SensorReading) *SensorStats {
	if len(readings) == 0 {
		return nil
	}

	latest, first := 0, 0
	for i, r := range readings {
		if r.Timestamp.After(readings[latest].Timestamp) {
			latest = i
		}
		if r.Timestamp.Before(readings[first].Timestamp) {
			first = i
		}
	}
	cur := readings[latest]

	temps := make([]float64, len(readings))
	hums := make([]float64, len(readings))
	press := make([]float64, len(readings))
	for i, r := range readings {
		temps[i], hums[i], press[i] = r.Temperature, r.Humidity, r.Pressure
	}

	return &SensorStats{
		Temperature:  summarize(temps, cur.Temperature),
		Humidity:     summarize(hums, cur.Humidity),
		Pressure:     summarize(press, cur.Pressure),
		ReadingCount: len(readings),
		FirstReading: readings[first].Timestamp,
		LastReading:  cur.Timestamp,
	}
}

// SummarizeWeather computes window statistics, nil on empty input. Optional
// fields missing from some or all rows never fail the summary.
func SummarizeWeather(readings []models.WeatherReading) *WeatherStats {
	if len(readings) == 0 {
		return nil
	}

	latest, first := 0, 0
	for i, r := range readings {
		if r.Timestamp.After(readings[latest].Timestamp) {
			latest = i
		}
		if r.Timestamp.Before(readings[first].Timestamp) {
			first = i
		}
	}
	cur := readings[latest]

	temps := make([]float64, len(readings))
	hums := make([]float64, len(readings))
	press := make([]float64, len(readings))
	aqis := make([]float64, 0, len(readings))
	for i, r := range readings {
		temps[i], hums[i], press[i] = r.Temperature, r.Humidity, r.Pressure
		if r.AQI != nil && !math.IsNaN(*r.AQI) {
			aqis = append(aqis, *r.AQI)
		}
	}

	stats := &WeatherStats{
		Temperature:   summarize(temps, cur.Temperature),
		Humidity:      summarize(hums, cur.Humidity),
		Pressure:      summarize(press, cur.Pressure),
		WindSpeed:     cur.WindSpeed,
		WindDirection: cur.WindDirection,
		Condition:     cur.Condition,
		Location:      cur.Location,
		USEPAIndex:    cur.AirQuality.EPAIndex(),
		Pollutants:    make(map[models.Pollutant]float64),
		ReadingCount:  len(readings),
		FirstReading:  readings[first].Timestamp,
		LastReading:   cur.Timestamp,
	}
	stats.Category = Categorize(stats.USEPAIndex)

	if len(aqis) > 0 {
		fs := summarize(aqis, 0)
		stats.AQI = &AQIStats{Min: fs.Min, Max: fs.Max, Avg: fs.Avg}
		if cur.AQI != nil {
			v := *cur.AQI
			stats.AQI.Current = &v
		}
	}

	for _, p := range models.Pollutants {
		if v, ok := cur.AirQuality.Concentration(p); ok {
			stats.Pollutants[p] = v
		}
	}

	return stats
}

// summarize requires a non-empty slice
func summarize(values []float64, current float64) FieldStats {
	fs := FieldStats{Current: current, Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		sum += v
		fs.Min = math.Min(fs.Min, v)
		fs.Max = math.Max(fs.Max, v)
	}
	// rounding can push the mean a hair outside the range
	fs.Avg = math.Max(fs.Min, math.Min(fs.Max, sum/float64(len(values))))
	return fs
}
