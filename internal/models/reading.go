package models

import (
	"fmt"
	"math"
	"time"
)

// Reading is a single stored row from either source.
type Reading interface {
	// Source reports which table the reading belongs to
	Source() Source
	// At returns the reading timestamp
	At() time.Time
	// Value returns the value of a numeric field, false if the reading
	// does not carry it
	Value(f Field) (float64, bool)
}

// Compile-time interface checks
var (
	_ Reading = SensorReading{}
	_ Reading = WeatherReading{}
)

// SensorReading is one sample from the locally attached sensor.
// All three measurements are mandatory.
type SensorReading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	Pressure    float64   `json:"pressure"`
}

// NewSensorReading creates a new SensorReading stamped with the current UTC time
func NewSensorReading(temperature, humidity, pressure float64) SensorReading {
	return SensorReading{
		Timestamp:   time.Now().UTC(),
		Temperature: temperature,
		Humidity:    humidity,
		Pressure:    pressure,
	}
}

func (r SensorReading) Source() Source { return SourceSensor }
func (r SensorReading) At() time.Time  { return r.Timestamp }

func (r SensorReading) Value(f Field) (float64, bool) {
	switch f {
	case FieldTemperature:
		return r.Temperature, true
	case FieldHumidity:
		return r.Humidity, true
	case FieldPressure:
		return r.Pressure, true
	default:
		return 0, false
	}
}

// IsValid checks if the reading values are within acceptable ranges
func (r SensorReading) IsValid() bool {
	const (
		minTemp     = -40.0
		maxTemp     = 85.0
		minHumidity = 0.0
		maxHumidity = 100.0
		minPressure = 300.0
		maxPressure = 1100.0
	)

	if r.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{r.Temperature, r.Humidity, r.Pressure} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	if r.Temperature < minTemp || r.Temperature > maxTemp {
		return false
	}
	if r.Humidity < minHumidity || r.Humidity > maxHumidity {
		return false
	}
	if r.Pressure < minPressure || r.Pressure > maxPressure {
		return false
	}
	return true
}

// get the reading as a string
func (r SensorReading) String() string {
	return fmt.Sprintf("Timestamp: %s, Temperature: %.2f°C, Humidity: %.2f%%, Pressure: %.2fhPa",
		r.Timestamp.Format(time.RFC3339),
		r.Temperature,
		r.Humidity,
		r.Pressure)
}

// WeatherReading is one observation from the remote weather API.
type WeatherReading struct {
	Timestamp     time.Time   `json:"timestamp"`
	Temperature   float64     `json:"temperature"`
	Humidity      float64     `json:"humidity"`
	Pressure      float64     `json:"pressure"`
	Condition     string      `json:"condition"`
	WindSpeed     float64     `json:"wind_speed"`
	WindDirection string      `json:"wind_direction"`
	Location      string      `json:"location"`
	AQI           *float64    `json:"aqi"`
	AirQuality    *AirQuality `json:"air_quality,omitempty"`
}

func (r WeatherReading) Source() Source { return SourceWeather }
func (r WeatherReading) At() time.Time  { return r.Timestamp }

func (r WeatherReading) Value(f Field) (float64, bool) {
	switch f {
	case FieldTemperature:
		return r.Temperature, true
	case FieldHumidity:
		return r.Humidity, true
	case FieldPressure:
		return r.Pressure, true
	case FieldWindSpeed:
		return r.WindSpeed, true
	case FieldAQI:
		if r.AQI == nil {
			return 0, false
		}
		return *r.AQI, true
	}
	if p, ok := f.Pollutant(); ok {
		return r.AirQuality.Concentration(p)
	}
	return 0, false
}

// get the reading as a string
func (r WeatherReading) String() string {
	aqi := "n/a"
	if r.AQI != nil {
		aqi = fmt.Sprintf("%.2f", *r.AQI)
	}
	return fmt.Sprintf("Timestamp: %s, Location: %s, Temperature: %.1f°C, Humidity: %.0f%%, Pressure: %.1fhPa, Condition: %s, AQI: %s",
		r.Timestamp.Format(time.RFC3339),
		r.Location,
		r.Temperature,
		r.Humidity,
		r.Pressure,
		r.Condition,
		aqi)
}

// AirQuality is the optional air-quality block of a weather observation.
// A pollutant missing from Pollutants was not reported by the source.
type AirQuality struct {
	Pollutants   map[Pollutant]float64 `json:"pollutants"`
	USEPAIndex   *int                  `json:"us_epa_index"`
	GBDefraIndex *int                  `json:"gb_defra_index"`
}

// Concentration returns the reported value of a pollutant. Safe on a nil receiver.
func (aq *AirQuality) Concentration(p Pollutant) (float64, bool) {
	if aq == nil || aq.Pollutants == nil {
		return 0, false
	}
	v, ok := aq.Pollutants[p]
	return v, ok
}

// EPAIndex returns the US EPA index, nil when absent. Safe on a nil receiver.
func (aq *AirQuality) EPAIndex() *int {
	if aq == nil {
		return nil
	}
	return aq.USEPAIndex
}

// Copy returns a deep copy of the AirQuality block
func (aq *AirQuality) Copy() *AirQuality {
	if aq == nil {
		return nil
	}
	out := &AirQuality{
		Pollutants: make(map[Pollutant]float64, len(aq.Pollutants)),
	}
	for p, v := range aq.Pollutants {
		out.Pollutants[p] = v
	}
	if aq.USEPAIndex != nil {
		v := *aq.USEPAIndex
		out.USEPAIndex = &v
	}
	if aq.GBDefraIndex != nil {
		v := *aq.GBDefraIndex
		out.GBDefraIndex = &v
	}
	return out
}
