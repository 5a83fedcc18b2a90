package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/storage"
)

// Store is the read side of the store adapter
type Store interface {
	QuerySensor(ctx context.Context, window models.Window, now time.Time) ([]models.SensorReading, error)
	QueryWeather(ctx context.Context, window models.Window, now time.Time) ([]models.WeatherReading, error)
	TableStats(ctx context.Context, source models.Source) (*storage.TableStats, error)
	Close() error
}

// ConnectFunc opens a read connection. It must return a nil Store whenever
// err is non-nil.
type ConnectFunc func(ctx context.Context) (Store, error)

// Engine serves windowed reads. Every failure is logged and surfaces as
// empty data; callers never see a store error.
type Engine struct {
	connect ConnectFunc
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	store Store
}

// NewEngine creates an engine. The connection is opened on first use.
func NewEngine(connect ConnectFunc, timeout time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		connect: connect,
		timeout: timeout,
		logger:  logger.With().Str("component", "query").Logger(),
		now:     time.Now,
	}
}

// Fetch returns the readings of a source inside the window, newest first.
// The result is never nil.
func (e *Engine) Fetch(ctx context.Context, source models.Source, window models.Window) []models.Reading {
	out := make([]models.Reading, 0)
	switch source {
	case models.SourceSensor:
		for _, r := range e.Sensor(ctx, window) {
			out = append(out, r)
		}
	case models.SourceWeather:
		for _, r := range e.Weather(ctx, window) {
			out = append(out, r)
		}
	default:
		e.logger.Warn().Str("source", string(source)).Msg("Fetch for unknown source")
	}
	return out
}

// Sensor returns sensor readings inside the window, newest first. Never nil.
func (e *Engine) Sensor(ctx context.Context, window models.Window) []models.SensorReading {
	var readings []models.SensorReading
	e.run(ctx, models.SourceSensor, func(ctx context.Context, s Store, now time.Time) error {
		var err error
		readings, err = s.QuerySensor(ctx, window, now)
		return err
	})
	if readings == nil {
		readings = make([]models.SensorReading, 0)
	}
	return readings
}

// Weather returns weather readings inside the window, newest first. Never nil.
func (e *Engine) Weather(ctx context.Context, window models.Window) []models.WeatherReading {
	var readings []models.WeatherReading
	e.run(ctx, models.SourceWeather, func(ctx context.Context, s Store, now time.Time) error {
		var err error
		readings, err = s.QueryWeather(ctx, window, now)
		return err
	})
	if readings == nil {
		readings = make([]models.WeatherReading, 0)
	}
	return readings
}

// TableStats returns row count and time span of a source table, nil when
// the store cannot be read.
func (e *Engine) TableStats(ctx context.Context, source models.Source) *storage.TableStats {
	var stats *storage.TableStats
	ok := e.run(ctx, source, func(ctx context.Context, s Store, _ time.Time) error {
		var err error
		stats, err = s.TableStats(ctx, source)
		return err
	})
	if !ok {
		return nil
	}
	return stats
}

// Close releases the cached connection
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

// run executes fn against the cached connection under the query timeout
func (e *Engine) run(ctx context.Context, source models.Source, fn func(context.Context, Store, time.Time) error) bool {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	store, err := e.acquire(ctx)
	if err == nil {
		err = fn(ctx, store, e.now())
		if err != nil {
			e.drop(store)
		}
	}

	metrics.QueryDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QueriesTotal.WithLabelValues(string(source), "error").Inc()
		e.logger.Error().Err(err).Str("source", string(source)).Msg("Query failed, returning empty result")
		return false
	}
	metrics.QueriesTotal.WithLabelValues(string(source), "ok").Inc()
	return true
}

func (e *Engine) acquire(ctx context.Context) (Store, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return e.store, nil
	}

	store, err := e.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	e.store = store
	return store, nil
}

// drop discards a connection after an error so the next call redials
func (e *Engine) drop(store Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != store {
		return
	}
	if err := e.store.Close(); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to close dropped connection")
	}
	e.store = nil
}
