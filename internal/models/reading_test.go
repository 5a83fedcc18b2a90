// internal/models/reading_test.go
package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestSensorReading_IsValid(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		reading  SensorReading
		expected bool
	}{
		{"valid reading", SensorReading{Timestamp: now, Temperature: 22.5, Humidity: 45.0, Pressure: 1013.2}, true},
		{"temperature too low", SensorReading{Timestamp: now, Temperature: -45.0, Humidity: 45.0, Pressure: 1013.2}, false},
		{"temperature too high", SensorReading{Timestamp: now, Temperature: 90.0, Humidity: 45.0, Pressure: 1013.2}, false},
		{"humidity over 100", SensorReading{Timestamp: now, Temperature: 22.5, Humidity: 101.0, Pressure: 1013.2}, false},
		{"pressure zero", SensorReading{Timestamp: now, Temperature: 22.5, Humidity: 45.0, Pressure: 0}, false},
		{"temperature NaN", SensorReading{Timestamp: now, Temperature: math.NaN(), Humidity: 45.0, Pressure: 1013.2}, false},
		{"zero timestamp", SensorReading{Temperature: 22.5, Humidity: 45.0, Pressure: 1013.2}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reading.IsValid(); got != tt.expected {
				t.Errorf("IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestNewSensorReading(t *testing.T) {
	r := NewSensorReading(21.0, 40.0, 1000.0)
	if r.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
	if r.Timestamp.Location() != time.UTC {
		t.Errorf("Timestamp location = %v, want UTC", r.Timestamp.Location())
	}
	if r.Source() != SourceSensor {
		t.Errorf("Source() = %v, want %v", r.Source(), SourceSensor)
	}
}

func TestSensorReading_Value(t *testing.T) {
	r := SensorReading{Temperature: 21.0, Humidity: 40.0, Pressure: 1000.0}

	if v, ok := r.Value(FieldPressure); !ok || v != 1000.0 {
		t.Errorf("Value(pressure) = %v, %v", v, ok)
	}
	if _, ok := r.Value(FieldAQI); ok {
		t.Error("sensor readings do not carry AQI")
	}
}

func TestWeatherReading_Value(t *testing.T) {
	aqi := 12.5
	r := WeatherReading{
		Temperature: 19.5,
		WindSpeed:   11.2,
		AQI:         &aqi,
		AirQuality: &AirQuality{
			Pollutants: map[Pollutant]float64{PollutantPM25: 9.3},
		},
	}

	tests := []struct {
		field  Field
		want   float64
		wantOK bool
	}{
		{FieldTemperature, 19.5, true},
		{FieldWindSpeed, 11.2, true},
		{FieldAQI, 12.5, true},
		{Field(PollutantPM25), 9.3, true},
		{Field(PollutantNO2), 0, false},
		{Field("bogus"), 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			got, ok := r.Value(tt.field)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("Value(%s) = %v, %v; want %v, %v", tt.field, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestWeatherReading_Value_NoAirQuality(t *testing.T) {
	r := WeatherReading{Temperature: 19.5}

	if _, ok := r.Value(FieldAQI); ok {
		t.Error("AQI should be absent")
	}
	if _, ok := r.Value(Field(PollutantCO)); ok {
		t.Error("CO should be absent when the air-quality block is missing")
	}
	if r.AirQuality.EPAIndex() != nil {
		t.Error("EPAIndex() on nil block should be nil")
	}
}

func TestAirQuality_Copy(t *testing.T) {
	idx := 2
	orig := &AirQuality{
		Pollutants: map[Pollutant]float64{PollutantO3: 40.1},
		USEPAIndex: &idx,
	}

	cp := orig.Copy()
	cp.Pollutants[PollutantO3] = 0
	*cp.USEPAIndex = 5

	if orig.Pollutants[PollutantO3] != 40.1 {
		t.Error("Copy shares the pollutant map")
	}
	if *orig.USEPAIndex != 2 {
		t.Error("Copy shares the EPA index pointer")
	}
	if (*AirQuality)(nil).Copy() != nil {
		t.Error("Copy of nil should be nil")
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    Window
		wantErr bool
	}{
		{"last_hour", WindowLastHour, false},
		{"last_24h", WindowLast24h, false},
		{"last_7d", WindowLast7d, false},
		{"all", WindowAll, false},
		{"", WindowLastHour, false},
		{"Last hour", "", true},
		{"1=1; DROP TABLE sensor_readings", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseWindow(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseWindow(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseWindow(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWindow_LowerBound(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		window  Window
		want    time.Time
		bounded bool
	}{
		{WindowLastHour, now.Add(-time.Hour), true},
		{WindowLast24h, now.Add(-24 * time.Hour), true},
		{WindowLast7d, now.Add(-7 * 24 * time.Hour), true},
		{WindowAll, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.window), func(t *testing.T) {
			got, bounded := tt.window.LowerBound(now)
			if bounded != tt.bounded || !got.Equal(tt.want) {
				t.Errorf("LowerBound() = %v, %v; want %v, %v", got, bounded, tt.want, tt.bounded)
			}
		})
	}
}

func TestParseField(t *testing.T) {
	for _, s := range []string{"temperature", "humidity", "pressure", "wind_speed", "aqi", "pm2_5", "co"} {
		if _, err := ParseField(s); err != nil {
			t.Errorf("ParseField(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseField("condition"); err == nil {
		t.Error("ParseField(condition) should fail")
	}
}

func TestSource_Table(t *testing.T) {
	if SourceSensor.Table() != "sensor_readings" {
		t.Errorf("sensor table = %q", SourceSensor.Table())
	}
	if SourceWeather.Table() != "weather_api_data" {
		t.Errorf("weather table = %q", SourceWeather.Table())
	}
	if _, err := ParseSource("satellite"); err == nil {
		t.Error("ParseSource(satellite) should fail")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	if !errors.Is(ErrMalformedPayload, ErrSourceAcquisition) {
		t.Error("malformed payload must be a source acquisition error")
	}
	if !errors.Is(ErrSchema, ErrStoreConnection) {
		t.Error("schema error must be a store connection error")
	}
	if errors.Is(ErrSourceAcquisition, ErrStoreConnection) {
		t.Error("source and store errors must stay distinct")
	}
}
