package sensor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// OpenFunc opens the sensor device
type OpenFunc func() (Device, error)

// Source acquires one SensorReading per call from a Device
type Source struct {
	mu     sync.Mutex
	device Device
	open   OpenFunc
	logger zerolog.Logger
	now    func() time.Time
}

// NewSource creates a new sensor source over an open device
func NewSource(device Device, logger zerolog.Logger) *Source {
	return &Source{
		device: device,
		logger: logger.With().Str("component", "sensor").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewLazySource creates a sensor source that opens the device on first
// use. Until open succeeds every acquisition fails with
// ErrSourceAcquisition and the next one tries again.
func NewLazySource(open OpenFunc, logger zerolog.Logger) *Source {
	s := NewSource(nil, logger)
	s.open = open
	return s
}

// acquireDevice returns the device, opening it if needed
func (s *Source) acquireDevice() (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device != nil {
		return s.device, nil
	}
	if s.open == nil {
		return nil, fmt.Errorf("%w: no sensor device", models.ErrSourceAcquisition)
	}
	device, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("%w: open sensor: %v", models.ErrSourceAcquisition, err)
	}
	s.logger.Info().Msg("Sensor device opened")
	s.device = device
	return device, nil
}

type result struct {
	reading models.SensorReading
	err     error
}

// Acquire reads temperature, humidity and pressure. Any failed or
// out-of-range value fails the whole reading with ErrSourceAcquisition.
// The context bounds how long the caller waits for the hardware.
func (s *Source) Acquire(ctx context.Context) (models.Reading, error) {
	done := make(chan result, 1)
	go func() {
		r, err := s.ReadOnce()
		done <- result{r, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: sensor read: %v", models.ErrSourceAcquisition, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		s.logger.Debug().Msgf("read from sensor: %s", res.reading.String())
		return res.reading, nil
	}
}

// ReadOnce performs a single blocking reading
func (s *Source) ReadOnce() (models.SensorReading, error) {
	device, err := s.acquireDevice()
	if err != nil {
		return models.SensorReading{}, err
	}

	temperature, err := device.ReadTemperature()
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: temperature: %v", models.ErrSourceAcquisition, err)
	}
	humidity, err := device.ReadHumidity()
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: humidity: %v", models.ErrSourceAcquisition, err)
	}
	pressure, err := device.ReadPressure()
	if err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: pressure: %v", models.ErrSourceAcquisition, err)
	}

	reading := models.SensorReading{
		Timestamp:   s.now(),
		Temperature: round2(temperature),
		Humidity:    round2(humidity),
		Pressure:    round2(pressure),
	}
	if err := validateReading(reading); err != nil {
		return models.SensorReading{}, fmt.Errorf("%w: invalid reading: %v", models.ErrSourceAcquisition, err)
	}
	return reading, nil
}

// Close releases the device if it was opened
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	err := s.device.Close()
	s.device = nil
	return err
}

// validateReading checks the values are physically plausible for the chip
func validateReading(r models.SensorReading) error {
	if r.IsValid() {
		return nil
	}
	switch {
	case math.IsNaN(r.Temperature) || r.Temperature < -40 || r.Temperature > 85:
		return fmt.Errorf("temperature %.2f°C outside -40..85", r.Temperature)
	case math.IsNaN(r.Humidity) || r.Humidity < 0 || r.Humidity > 100:
		return fmt.Errorf("humidity %.2f%% outside 0..100", r.Humidity)
	case math.IsNaN(r.Pressure) || r.Pressure < 300 || r.Pressure > 1100:
		return fmt.Errorf("pressure %.2fhPa outside 300..1100", r.Pressure)
	default:
		return fmt.Errorf("reading rejected: %s", r.String())
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
