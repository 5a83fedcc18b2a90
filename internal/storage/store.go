package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/models"
)

// Store defines the interface for telemetry storage
type Store interface {
	Close() error
	EnsureSchema(ctx context.Context, source models.Source) error
	Insert(ctx context.Context, reading models.Reading) bool
	Query(ctx context.Context, source models.Source, window models.Window, now time.Time) ([]models.Reading, error)
	QuerySensor(ctx context.Context, window models.Window, now time.Time) ([]models.SensorReading, error)
	QueryWeather(ctx context.Context, window models.Window, now time.Time) ([]models.WeatherReading, error)
	TableStats(ctx context.Context, source models.Source) (*TableStats, error)
}

// Compile-time interface check
var _ Store = (*Connection)(nil)

// Connection is one handle to the relational store. It is owned by a single
// collector or by the query engine; there is no process-wide connection.
type Connection struct {
	db      *sql.DB
	dialect *dialect
	logger  zerolog.Logger
}

// TableStats contains information about one source table
type TableStats struct {
	Source        models.Source `json:"source"`
	TotalReadings int64         `json:"total_readings"`
	OldestReading time.Time     `json:"oldest_reading,omitempty"`
	NewestReading time.Time     `json:"newest_reading,omitempty"`
}

// Connect opens the configured database and verifies it answers within
// cfg.ConnectTimeout. It never retries; failures wrap models.ErrStoreConnection.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Connection, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreConnection, err)
	}

	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreConnection, err)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", models.ErrStoreConnection, err)
	}

	switch cfg.Driver {
	case DriverSQLite:
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	default:
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
			db.SetMaxIdleConns(cfg.MaxOpenConns)
		}
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", models.ErrStoreConnection, err)
	}

	logger.Debug().Str("driver", cfg.Driver).Msg("Store connection established")

	return &Connection{
		db:      db,
		dialect: d,
		logger:  logger,
	}, nil
}

// buildDSN returns the configured DSN, or a file DSN with sane pragmas for sqlite
func buildDSN(cfg config.DatabaseConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	if cfg.Driver != DriverSQLite {
		return "", fmt.Errorf("dsn is required for driver %q", cfg.Driver)
	}

	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}

	params := []string{
		"_busy_timeout=5000",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + strings.Join(params, "&"), nil
	}
	return fmt.Sprintf("file:%s?%s", path, strings.Join(params, "&")), nil
}

// Close closes the database connection
func (c *Connection) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// EnsureSchema creates the table for the source if it doesn't exist.
// Safe to call on every start.
func (c *Connection) EnsureSchema(ctx context.Context, source models.Source) error {
	stmts, ok := c.dialect.schema[source]
	if !ok {
		return fmt.Errorf("%w: unknown source %q", models.ErrSchema, source)
	}

	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: failed to create %s: %v", models.ErrSchema, source.Table(), err)
		}
	}

	c.logger.Debug().Str("table", source.Table()).Msg("Schema ensured")
	return nil
}

// Insert appends one reading to its source table. Any failure is logged and
// reported as false; callers treat false as a stale connection.
func (c *Connection) Insert(ctx context.Context, reading models.Reading) bool {
	var args []any

	switch r := reading.(type) {
	case models.SensorReading:
		args = c.sensorArgs(r)
	case *models.SensorReading:
		if r == nil {
			c.logger.Error().Msg("Insert called with nil sensor reading")
			return false
		}
		args = c.sensorArgs(*r)
	case models.WeatherReading:
		args = c.weatherArgs(r)
	case *models.WeatherReading:
		if r == nil {
			c.logger.Error().Msg("Insert called with nil weather reading")
			return false
		}
		args = c.weatherArgs(*r)
	default:
		c.logger.Error().Str("type", fmt.Sprintf("%T", reading)).Msg("Insert called with unsupported reading type")
		return false
	}

	source := reading.Source()
	if _, err := c.db.ExecContext(ctx, c.dialect.insert[source], args...); err != nil {
		c.logger.Error().Err(err).Str("table", source.Table()).Msg("Failed to insert reading")
		return false
	}
	return true
}

func (c *Connection) sensorArgs(r models.SensorReading) []any {
	return []any{
		c.dialect.encodeTime(r.Timestamp),
		r.Temperature,
		r.Humidity,
		r.Pressure,
	}
}

func (c *Connection) weatherArgs(r models.WeatherReading) []any {
	args := []any{
		c.dialect.encodeTime(r.Timestamp),
		r.Temperature,
		r.Humidity,
		r.Pressure,
		r.Condition,
		r.WindSpeed,
		r.WindDirection,
		r.Location,
		nullableFloat(r.AQI),
	}
	for _, p := range models.Pollutants {
		if v, ok := r.AirQuality.Concentration(p); ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	var gbDefra *int
	if r.AirQuality != nil {
		gbDefra = r.AirQuality.GBDefraIndex
	}
	return append(args, nullableInt(r.AirQuality.EPAIndex()), nullableInt(gbDefra))
}

// Query returns the readings of a source inside the window, newest first
func (c *Connection) Query(ctx context.Context, source models.Source, window models.Window, now time.Time) ([]models.Reading, error) {
	switch source {
	case models.SourceSensor:
		rows, err := c.QuerySensor(ctx, window, now)
		if err != nil {
			return nil, err
		}
		out := make([]models.Reading, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	case models.SourceWeather:
		rows, err := c.QueryWeather(ctx, window, now)
		if err != nil {
			return nil, err
		}
		out := make([]models.Reading, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}
}

// QuerySensor returns sensor readings inside the window, newest first
func (c *Connection) QuerySensor(ctx context.Context, window models.Window, now time.Time) ([]models.SensorReading, error) {
	rows, err := c.queryWindow(ctx, models.SourceSensor, window, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.SensorReading, 0)
	for rows.Next() {
		var r models.SensorReading
		var ts any
		if err := rows.Scan(&ts, &r.Temperature, &r.Humidity, &r.Pressure); err != nil {
			return nil, fmt.Errorf("failed to scan sensor reading: %w", err)
		}
		if r.Timestamp, err = decodeTime(ts); err != nil {
			return nil, fmt.Errorf("failed to parse timestamp: %w", err)
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return readings, nil
}

// QueryWeather returns weather readings inside the window, newest first
func (c *Connection) QueryWeather(ctx context.Context, window models.Window, now time.Time) ([]models.WeatherReading, error) {
	rows, err := c.queryWindow(ctx, models.SourceWeather, window, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readings := make([]models.WeatherReading, 0)
	for rows.Next() {
		r, err := scanWeather(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return readings, nil
}

// queryWindow picks one of two fixed statements for the window
func (c *Connection) queryWindow(ctx context.Context, source models.Source, window models.Window, now time.Time) (*sql.Rows, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if since, bounded := window.LowerBound(now); bounded {
		rows, err = c.db.QueryContext(ctx, c.dialect.selectSince[source], c.dialect.encodeTime(since))
	} else {
		rows, err = c.db.QueryContext(ctx, c.dialect.selectAll[source])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", source.Table(), err)
	}
	return rows, nil
}

func scanWeather(rows *sql.Rows) (models.WeatherReading, error) {
	var (
		r          models.WeatherReading
		ts         any
		aqi        sql.NullFloat64
		pollutants = make([]sql.NullFloat64, len(models.Pollutants))
		epa, defra sql.NullInt64
	)

	dest := []any{
		&ts, &r.Temperature, &r.Humidity, &r.Pressure,
		&r.Condition, &r.WindSpeed, &r.WindDirection, &r.Location,
		&aqi,
	}
	for i := range pollutants {
		dest = append(dest, &pollutants[i])
	}
	dest = append(dest, &epa, &defra)

	if err := rows.Scan(dest...); err != nil {
		return r, fmt.Errorf("failed to scan weather reading: %w", err)
	}

	var err error
	if r.Timestamp, err = decodeTime(ts); err != nil {
		return r, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	if aqi.Valid {
		v := aqi.Float64
		r.AQI = &v
	}

	aq := &models.AirQuality{Pollutants: make(map[models.Pollutant]float64)}
	for i, p := range models.Pollutants {
		if pollutants[i].Valid {
			aq.Pollutants[p] = pollutants[i].Float64
		}
	}
	if epa.Valid {
		v := int(epa.Int64)
		aq.USEPAIndex = &v
	}
	if defra.Valid {
		v := int(defra.Int64)
		aq.GBDefraIndex = &v
	}
	if len(aq.Pollutants) > 0 || aq.USEPAIndex != nil || aq.GBDefraIndex != nil {
		r.AirQuality = aq
	}

	return r, nil
}

// TableStats returns statistics about a source table
func (c *Connection) TableStats(ctx context.Context, source models.Source) (*TableStats, error) {
	stmt, ok := c.dialect.tableStats[source]
	if !ok {
		return nil, fmt.Errorf("unknown source %q", source)
	}

	stats := &TableStats{Source: source}
	var oldest, newest any
	if err := c.db.QueryRowContext(ctx, stmt).Scan(&stats.TotalReadings, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", source.Table(), err)
	}

	// If no readings, return early with zero values
	if stats.TotalReadings == 0 {
		return stats, nil
	}

	var err error
	if stats.OldestReading, err = decodeTime(oldest); err != nil {
		return nil, fmt.Errorf("failed to decode oldest %s timestamp: %w", source.Table(), err)
	}
	if stats.NewestReading, err = decodeTime(newest); err != nil {
		return nil, fmt.Errorf("failed to decode newest %s timestamp: %w", source.Table(), err)
	}
	return stats, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
