package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/afroash/envmon/internal/aggregate"
	"github.com/afroash/envmon/internal/align"
	"github.com/afroash/envmon/internal/models"
)

// comparedFields are the fields both sources measure
var comparedFields = []models.Field{
	models.FieldTemperature,
	models.FieldHumidity,
	models.FieldPressure,
}

// StatsResponse holds window statistics per source; a side is null when it
// has no readings in the window
type StatsResponse struct {
	Window  models.Window           `json:"window"`
	Sensor  *aggregate.SensorStats  `json:"sensor"`
	Weather *aggregate.WeatherStats `json:"weather"`
}

// Comparison is the current-value difference of one field
type Comparison struct {
	Field     models.Field `json:"field"`
	Unit      string       `json:"unit"`
	Delta     float64      `json:"delta"`
	Narrative string       `json:"narrative"`
}

// CompareResponse holds both series of a field plus the current difference
type CompareResponse struct {
	Field      models.Field  `json:"field"`
	Unit       string        `json:"unit"`
	Window     models.Window `json:"window"`
	Sensor     []align.Point `json:"sensor"`
	Weather    []align.Point `json:"weather"`
	Comparison *Comparison   `json:"comparison"`
}

// CollectorStatus reports whether a source is still being written
type CollectorStatus struct {
	Source        models.Source `json:"source"`
	Active        bool          `json:"active"`
	TotalReadings int64         `json:"total_readings"`
	LastReading   *time.Time    `json:"last_reading"`
}

// Dashboard contains all data for one dashboard refresh
type Dashboard struct {
	Window      models.Window           `json:"window"`
	Sensor      *aggregate.SensorStats  `json:"sensor"`
	Weather     *aggregate.WeatherStats `json:"weather"`
	Comparisons []Comparison            `json:"comparisons"`
	Collectors  []CollectorStatus       `json:"collectors"`
	LastUpdate  time.Time               `json:"last_update"`
}

// HandleHealth reports liveness
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// HandleReadings returns raw readings of one source, newest first
func (s *Server) HandleReadings(w http.ResponseWriter, r *http.Request) {
	source, err := models.ParseSource(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, ok := s.window(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, s.reader.Fetch(r.Context(), source, window))
}

// HandleStats returns window statistics for both sources
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Window:  window,
		Sensor:  aggregate.SummarizeSensor(s.reader.Sensor(r.Context(), window)),
		Weather: aggregate.SummarizeWeather(s.reader.Weather(r.Context(), window)),
	})
}

// HandleCompare returns both series of a field for charting
func (s *Server) HandleCompare(w http.ResponseWriter, r *http.Request) {
	field, err := models.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, ok := s.window(w, r)
	if !ok {
		return
	}

	sensor := s.reader.Sensor(r.Context(), window)
	weather := s.reader.Weather(r.Context(), window)

	resp := CompareResponse{
		Field:   field,
		Unit:    field.Unit(),
		Window:  window,
		Sensor:  []align.Point{},
		Weather: []align.Point{},
	}
	if pair, ok := align.Align(sensor, weather, field); ok {
		resp.Sensor, resp.Weather = pair.A, pair.B
	}
	resp.Comparison = compare(aggregate.SummarizeSensor(sensor), aggregate.SummarizeWeather(weather), field)

	writeJSON(w, http.StatusOK, resp)
}

// HandleDashboard returns the combined dashboard snapshot
func (s *Server) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	window, ok := s.window(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot(r.Context(), window))
}

// Snapshot builds one dashboard refresh
func (s *Server) Snapshot(ctx context.Context, window models.Window) Dashboard {
	sensor := aggregate.SummarizeSensor(s.reader.Sensor(ctx, window))
	weather := aggregate.SummarizeWeather(s.reader.Weather(ctx, window))

	d := Dashboard{
		Window:      window,
		Sensor:      sensor,
		Weather:     weather,
		Comparisons: make([]Comparison, 0, len(comparedFields)),
		Collectors:  make([]CollectorStatus, 0, len(models.Sources)),
		LastUpdate:  s.now().UTC(),
	}

	for _, f := range comparedFields {
		if c := compare(sensor, weather, f); c != nil {
			d.Comparisons = append(d.Comparisons, *c)
		}
	}

	for _, source := range models.Sources {
		d.Collectors = append(d.Collectors, s.collectorStatus(ctx, source))
	}
	return d
}

// collectorStatus marks a source active when its newest row is fresher than StaleAfter
func (s *Server) collectorStatus(ctx context.Context, source models.Source) CollectorStatus {
	status := CollectorStatus{Source: source}
	stats := s.reader.TableStats(ctx, source)
	if stats == nil || stats.TotalReadings == 0 {
		return status
	}

	newest := stats.NewestReading
	status.TotalReadings = stats.TotalReadings
	status.LastReading = &newest
	status.Active = s.now().Sub(newest) < s.cfg.StaleAfter
	return status
}

func compare(sensor *aggregate.SensorStats, weather *aggregate.WeatherStats, field models.Field) *Comparison {
	delta, ok := align.Delta(sensor, weather, field)
	if !ok {
		return nil
	}
	return &Comparison{
		Field:     field,
		Unit:      field.Unit(),
		Delta:     delta,
		Narrative: align.Narrate(field, delta),
	}
}

// window parses the window query parameter, writing a 400 when it is unknown
func (s *Server) window(w http.ResponseWriter, r *http.Request) (models.Window, bool) {
	window, err := models.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return window, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorMessage{Code: http.StatusText(status), Message: msg})
}
