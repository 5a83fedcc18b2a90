package models

import (
	"fmt"
	"time"
)

// Source identifies one of the two telemetry producers. Each source owns
// exactly one table.
type Source string

const (
	SourceSensor  Source = "sensor"
	SourceWeather Source = "weather"
)

// Sources lists every source in display order.
var Sources = []Source{SourceSensor, SourceWeather}

// Table returns the table a source writes to
func (s Source) Table() string {
	switch s {
	case SourceSensor:
		return "sensor_readings"
	case SourceWeather:
		return "weather_api_data"
	default:
		return ""
	}
}

// ParseSource converts a string to a Source
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceSensor, SourceWeather:
		return Source(s), nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Window is the read-path time window selector.
type Window string

const (
	WindowLastHour Window = "last_hour"
	WindowLast24h  Window = "last_24h"
	WindowLast7d   Window = "last_7d"
	WindowAll      Window = "all"
)

var windowSpans = map[Window]time.Duration{
	WindowLastHour: time.Hour,
	WindowLast24h:  24 * time.Hour,
	WindowLast7d:   7 * 24 * time.Hour,
}

// ParseWindow converts a string to a Window. Empty input selects the last hour.
func ParseWindow(s string) (Window, error) {
	if s == "" {
		return WindowLastHour, nil
	}
	w := Window(s)
	if _, ok := windowSpans[w]; ok || w == WindowAll {
		return w, nil
	}
	return "", fmt.Errorf("unknown window %q", s)
}

// LowerBound returns the inclusive lower timestamp bound of the window
// relative to now. The bool is false for an unbounded window.
func (w Window) LowerBound(now time.Time) (time.Time, bool) {
	span, ok := windowSpans[w]
	if !ok {
		return time.Time{}, false
	}
	return now.Add(-span), true
}

// Pollutant names a component of the air-quality block.
type Pollutant string

const (
	PollutantPM25 Pollutant = "pm2_5"
	PollutantPM10 Pollutant = "pm10"
	PollutantO3   Pollutant = "o3"
	PollutantNO2  Pollutant = "no2"
	PollutantSO2  Pollutant = "so2"
	PollutantCO   Pollutant = "co"
)

// Pollutants lists every pollutant in storage column order.
var Pollutants = []Pollutant{
	PollutantPM25,
	PollutantPM10,
	PollutantO3,
	PollutantNO2,
	PollutantSO2,
	PollutantCO,
}

// Field names a numeric measurement that can be summarized or compared.
type Field string

const (
	FieldTemperature Field = "temperature"
	FieldHumidity    Field = "humidity"
	FieldPressure    Field = "pressure"
	FieldWindSpeed   Field = "wind_speed"
	FieldAQI         Field = "aqi"
)

// Pollutant reports whether the field is a pollutant concentration
func (f Field) Pollutant() (Pollutant, bool) {
	for _, p := range Pollutants {
		if Field(p) == f {
			return p, true
		}
	}
	return "", false
}

// Unit returns the display unit of the field
func (f Field) Unit() string {
	switch f {
	case FieldTemperature:
		return "°C"
	case FieldHumidity:
		return "%"
	case FieldPressure:
		return "hPa"
	case FieldWindSpeed:
		return "km/h"
	case FieldAQI:
		return ""
	}
	if _, ok := f.Pollutant(); ok {
		return "μg/m³"
	}
	return ""
}

// ParseField converts a string to a Field
func ParseField(s string) (Field, error) {
	f := Field(s)
	switch f {
	case FieldTemperature, FieldHumidity, FieldPressure, FieldWindSpeed, FieldAQI:
		return f, nil
	}
	if _, ok := f.Pollutant(); ok {
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q", s)
}
