package aggregate

import (
	"math"
	"testing"
	"time"

	"github.com/afroash/envmon/internal/models"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestSummarizeSensor_Empty(t *testing.T) {
	if got := SummarizeSensor(nil); got != nil {
		t.Errorf("SummarizeSensor(nil) = %+v, want nil", got)
	}
	if got := SummarizeSensor([]models.SensorReading{}); got != nil {
		t.Errorf("SummarizeSensor(empty) = %+v, want nil", got)
	}
}

func TestSummarizeSensor(t *testing.T) {
	// deliberately not in time order
	readings := []models.SensorReading{
		{Timestamp: base.Add(10 * time.Minute), Temperature: 22.0, Humidity: 40, Pressure: 1010},
		{Timestamp: base.Add(30 * time.Minute), Temperature: 21.0, Humidity: 45, Pressure: 1012},
		{Timestamp: base, Temperature: 20.0, Humidity: 50, Pressure: 1008},
	}

	stats := SummarizeSensor(readings)
	if stats == nil {
		t.Fatal("SummarizeSensor returned nil")
	}

	if stats.Temperature.Current != 21.0 {
		t.Errorf("current temperature = %v, want 21.0 (latest timestamp)", stats.Temperature.Current)
	}
	if stats.Temperature.Min != 20.0 || stats.Temperature.Max != 22.0 {
		t.Errorf("temperature range = [%v, %v], want [20, 22]", stats.Temperature.Min, stats.Temperature.Max)
	}
	if stats.Temperature.Avg != 21.0 {
		t.Errorf("temperature avg = %v, want 21.0", stats.Temperature.Avg)
	}
	if stats.Humidity.Current != 45 || stats.Pressure.Current != 1012 {
		t.Errorf("current humidity/pressure = %v/%v, want 45/1012", stats.Humidity.Current, stats.Pressure.Current)
	}
	if stats.ReadingCount != 3 {
		t.Errorf("ReadingCount = %d, want 3", stats.ReadingCount)
	}
	if !stats.FirstReading.Equal(base) || !stats.LastReading.Equal(base.Add(30*time.Minute)) {
		t.Errorf("span = %v..%v", stats.FirstReading, stats.LastReading)
	}
	if got := stats.Humidity.FromAverage(); got != 0 {
		t.Errorf("humidity FromAverage = %v, want 0", got)
	}
}

func TestSummarize_MinAvgMax(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
	}{
		{"single", []float64{19.5}},
		{"repeated tenths", []float64{0.1, 0.1, 0.1}},
		{"mixed", []float64{-3.2, 14.8, 7.7, 0, 22.1}},
		{"large", []float64{1013.25, 1013.25, 1013.25, 1013.25, 1013.25, 1013.25, 1013.25}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := summarize(tt.values, tt.values[0])
			if !(fs.Min <= fs.Avg && fs.Avg <= fs.Max) {
				t.Errorf("want min <= avg <= max, got %v <= %v <= %v", fs.Min, fs.Avg, fs.Max)
			}
		})
	}
}

func TestSummarizeWeather(t *testing.T) {
	readings := []models.WeatherReading{
		{
			Timestamp: base, Temperature: 18, Humidity: 70, Pressure: 1005,
			WindSpeed: 10, WindDirection: "N", Condition: "Rain", Location: "Oslo",
			AQI: floatPtr(30),
			AirQuality: &models.AirQuality{
				Pollutants: map[models.Pollutant]float64{models.PollutantPM25: 20, models.PollutantO3: 40},
				USEPAIndex: intPtr(3),
			},
		},
		{
			Timestamp: base.Add(time.Hour), Temperature: 19.5, Humidity: 60, Pressure: 1012,
			WindSpeed: 14.4, WindDirection: "WNW", Condition: "Partly cloudy", Location: "Oslo",
			AQI: floatPtr(10),
			AirQuality: &models.AirQuality{
				Pollutants: map[models.Pollutant]float64{models.PollutantPM25: 8, models.PollutantO3: 12},
				USEPAIndex: intPtr(1),
			},
		},
	}

	stats := SummarizeWeather(readings)
	if stats == nil {
		t.Fatal("SummarizeWeather returned nil")
	}

	if stats.Temperature.Current != 19.5 {
		t.Errorf("current temperature = %v, want 19.5", stats.Temperature.Current)
	}
	if stats.WindDirection != "WNW" || stats.Condition != "Partly cloudy" || stats.WindSpeed != 14.4 {
		t.Errorf("current wind/condition = %v %v %v", stats.WindSpeed, stats.WindDirection, stats.Condition)
	}
	if stats.AQI == nil || stats.AQI.Current == nil {
		t.Fatal("AQI stats missing")
	}
	if *stats.AQI.Current != 10 || stats.AQI.Min != 10 || stats.AQI.Max != 30 || stats.AQI.Avg != 20 {
		t.Errorf("AQI stats = %+v (current %v)", stats.AQI, *stats.AQI.Current)
	}
	if stats.USEPAIndex == nil || *stats.USEPAIndex != 1 {
		t.Errorf("USEPAIndex = %v, want 1", stats.USEPAIndex)
	}
	if stats.Category.Label != "Good" {
		t.Errorf("Category = %+v, want Good", stats.Category)
	}
	if len(stats.Pollutants) != 2 || stats.Pollutants[models.PollutantPM25] != 8 {
		t.Errorf("Pollutants = %v", stats.Pollutants)
	}
}

func TestSummarizeWeather_MissingOptionalFields(t *testing.T) {
	readings := []models.WeatherReading{
		{Timestamp: base, Temperature: 18, Humidity: 70, Pressure: 1005, AQI: floatPtr(25)},
		// latest row has no air quality at all
		{Timestamp: base.Add(time.Hour), Temperature: 20, Humidity: 65, Pressure: 1007, Location: "Oslo"},
	}

	stats := SummarizeWeather(readings)
	if stats == nil {
		t.Fatal("SummarizeWeather returned nil")
	}
	if stats.Temperature.Current != 20 || stats.Humidity.Avg != 67.5 {
		t.Errorf("core fields wrong: %+v %+v", stats.Temperature, stats.Humidity)
	}
	if stats.AQI == nil {
		t.Fatal("AQI stats should exist when an older row has AQI")
	}
	if stats.AQI.Current != nil {
		t.Errorf("AQI.Current = %v, want nil", *stats.AQI.Current)
	}
	if stats.USEPAIndex != nil {
		t.Errorf("USEPAIndex = %v, want nil", *stats.USEPAIndex)
	}
	if stats.Category != CategoryUnknown {
		t.Errorf("Category = %+v, want Unknown", stats.Category)
	}
	if stats.Pollutants == nil || len(stats.Pollutants) != 0 {
		t.Errorf("Pollutants = %v, want empty map", stats.Pollutants)
	}
	if _, ok := stats.Current(models.FieldAQI); ok {
		t.Error("Current(aqi) should be absent")
	}
}

func TestSummarizeWeather_NoAQIAnywhere(t *testing.T) {
	stats := SummarizeWeather([]models.WeatherReading{
		{Timestamp: base, Temperature: 18, Humidity: 70, Pressure: 1005},
	})
	if stats == nil {
		t.Fatal("SummarizeWeather returned nil")
	}
	if stats.AQI != nil {
		t.Errorf("AQI = %+v, want nil", stats.AQI)
	}
}

func TestCurrent(t *testing.T) {
	var nilSensor *SensorStats
	if _, ok := nilSensor.Current(models.FieldTemperature); ok {
		t.Error("nil SensorStats should report no value")
	}

	sensor := SummarizeSensor([]models.SensorReading{{Timestamp: base, Temperature: 21, Humidity: 40, Pressure: 1000}})
	if v, ok := sensor.Current(models.FieldTemperature); !ok || v != 21 {
		t.Errorf("Current(temperature) = %v, %v", v, ok)
	}
	if _, ok := sensor.Current(models.FieldWindSpeed); ok {
		t.Error("sensor has no wind speed")
	}

	weather := SummarizeWeather([]models.WeatherReading{{
		Timestamp: base, Temperature: 19.5, Humidity: 60, Pressure: 1012, WindSpeed: 7,
		AirQuality: &models.AirQuality{Pollutants: map[models.Pollutant]float64{models.PollutantNO2: 13.9}},
	}})
	if v, ok := weather.Current(models.FieldWindSpeed); !ok || v != 7 {
		t.Errorf("Current(wind_speed) = %v, %v", v, ok)
	}
	if v, ok := weather.Current(models.Field(models.PollutantNO2)); !ok || math.Abs(v-13.9) > 1e-9 {
		t.Errorf("Current(no2) = %v, %v", v, ok)
	}
	if _, ok := weather.Current(models.Field(models.PollutantCO)); ok {
		t.Error("co was not reported")
	}
}
