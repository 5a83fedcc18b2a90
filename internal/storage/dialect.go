package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/afroash/envmon/internal/models"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// sqliteTimeFormat is fixed width so that text comparison orders like time
const sqliteTimeFormat = "2006-01-02 15:04:05.000000"

// dialect holds every statement a driver needs. All statements are built once
// from constant templates; nothing from a request is ever spliced in.
type dialect struct {
	driver     string
	encodeTime func(time.Time) any
	schema     map[models.Source][]string
	insert     map[models.Source]string
	// selectAll and selectSince are indexed by source; selectSince takes the
	// inclusive lower bound as its only argument
	selectAll   map[models.Source]string
	selectSince map[models.Source]string
	tableStats  map[models.Source]string
}

var weatherColumns = []string{
	"timestamp", "temperature", "humidity", "pressure",
	"condition", "wind_speed", "wind_direction", "location",
	"aqi", "pm2_5", "pm10", "o3", "no2", "so2", "co",
	"us_epa_index", "gb_defra_index",
}

var sensorColumns = []string{"timestamp", "temperature", "humidity", "pressure"}

func dialectFor(driver string) (*dialect, error) {
	switch driver {
	case DriverSQLite:
		return newDialect(driver, sqliteTypes, func(int) string { return "?" }, func(t time.Time) any {
			return t.UTC().Format(sqliteTimeFormat)
		}), nil
	case DriverPostgres:
		return newDialect(driver, postgresTypes, func(n int) string { return fmt.Sprintf("$%d", n) }, func(t time.Time) any {
			return t.UTC()
		}), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

type columnTypes struct {
	id, timestamp, real, text, integer string
}

var sqliteTypes = columnTypes{
	id:        "INTEGER PRIMARY KEY AUTOINCREMENT",
	timestamp: "TIMESTAMP",
	real:      "REAL",
	text:      "TEXT",
	integer:   "INTEGER",
}

var postgresTypes = columnTypes{
	id:        "BIGSERIAL PRIMARY KEY",
	timestamp: "TIMESTAMPTZ",
	real:      "DOUBLE PRECISION",
	text:      "TEXT",
	integer:   "INTEGER",
}

func newDialect(driver string, ct columnTypes, bind func(int) string, encodeTime func(time.Time) any) *dialect {
	d := &dialect{
		driver:      driver,
		encodeTime:  encodeTime,
		schema:      make(map[models.Source][]string),
		insert:      make(map[models.Source]string),
		selectAll:   make(map[models.Source]string),
		selectSince: make(map[models.Source]string),
		tableStats:  make(map[models.Source]string),
	}

	d.schema[models.SourceSensor] = []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS sensor_readings (
			id %[1]s,
			timestamp %[2]s NOT NULL,
			temperature %[3]s NOT NULL,
			humidity %[3]s NOT NULL,
			pressure %[3]s NOT NULL
		)`, ct.id, ct.timestamp, ct.real),
		`CREATE INDEX IF NOT EXISTS idx_sensor_readings_timestamp ON sensor_readings(timestamp DESC)`,
	}

	d.schema[models.SourceWeather] = []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS weather_api_data (
			id %[1]s,
			timestamp %[2]s NOT NULL,
			temperature %[3]s NOT NULL,
			humidity %[3]s NOT NULL,
			pressure %[3]s NOT NULL,
			condition %[4]s NOT NULL,
			wind_speed %[3]s NOT NULL,
			wind_direction %[4]s NOT NULL,
			location %[4]s NOT NULL,
			aqi %[3]s,
			pm2_5 %[3]s,
			pm10 %[3]s,
			o3 %[3]s,
			no2 %[3]s,
			so2 %[3]s,
			co %[3]s,
			us_epa_index %[5]s,
			gb_defra_index %[5]s
		)`, ct.id, ct.timestamp, ct.real, ct.text, ct.integer),
		`CREATE INDEX IF NOT EXISTS idx_weather_api_data_timestamp ON weather_api_data(timestamp DESC)`,
	}

	for source, cols := range map[models.Source][]string{
		models.SourceSensor:  sensorColumns,
		models.SourceWeather: weatherColumns,
	} {
		table := source.Table()
		list := strings.Join(cols, ", ")

		binds := make([]string, len(cols))
		for i := range cols {
			binds[i] = bind(i + 1)
		}

		d.insert[source] = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, list, strings.Join(binds, ", "))
		d.selectAll[source] = fmt.Sprintf("SELECT %s FROM %s ORDER BY timestamp DESC, id DESC", list, table)
		d.selectSince[source] = fmt.Sprintf("SELECT %s FROM %s WHERE timestamp >= %s ORDER BY timestamp DESC, id DESC", list, table, bind(1))
		d.tableStats[source] = fmt.Sprintf("SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM %s", table)
	}

	return d
}

// parseTimestamp tries multiple formats to parse a stored timestamp
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		sqliteTimeFormat,
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		time.RFC3339Nano,
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}

// decodeTime converts whatever the driver returned for a timestamp column
func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimestamp(t)
	case []byte:
		return parseTimestamp(string(t))
	case nil:
		return time.Time{}, fmt.Errorf("null timestamp")
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}
