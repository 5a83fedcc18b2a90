package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
)

// maxBodyBytes caps how much of a response is read
const maxBodyBytes = 1 << 20

// Client fetches current conditions and air quality from WeatherAPI.com
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	baseURL    string
	apiKey     string
	city       string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewClient creates a weather client from config. httpClient may be nil.
func NewClient(cfg config.WeatherConfig, httpClient *http.Client, logger zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.AcquireTimeout}
	}

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "weatherapi",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
	})

	return &Client{
		httpClient: httpClient,
		breaker:    cb,
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		city:       cfg.City,
		logger:     logger.With().Str("component", "weather").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Acquire fetches one observation. Transport errors, non-2xx answers and an
// open breaker return ErrSourceAcquisition; a body of the wrong shape returns
// ErrMalformedPayload.
func (c *Client) Acquire(ctx context.Context) (models.Reading, error) {
	start := time.Now()
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.fetch(ctx)
	})

	status := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		status = "breaker_open"
	case err != nil:
		status = "error"
	}
	metrics.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	metrics.WeatherAPIDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err != nil {
		if status == "breaker_open" {
			return nil, fmt.Errorf("%w: circuit breaker open: %v", models.ErrSourceAcquisition, err)
		}
		return nil, err
	}

	reading, err := parseCurrent(body, c.now())
	if err != nil {
		return nil, err
	}

	c.logger.Debug().Msgf("read from weather api: %s", reading.String())
	return reading, nil
}

// fetch performs the HTTP call and returns the raw body of a 2xx answer
func (c *Client) fetch(ctx context.Context) ([]byte, error) {
	values := url.Values{}
	values.Set("key", c.apiKey)
	values.Set("q", c.city)
	values.Set("aqi", "yes")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", models.ErrSourceAcquisition, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// url.Error carries the query string, including the key
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: request failed: %v", models.ErrSourceAcquisition, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", models.ErrSourceAcquisition, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrSourceAcquisition, resp.StatusCode)
	}
	return body, nil
}

// Close releases idle HTTP connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// currentPayload mirrors the subset of the current.json answer we use.
// Pointers distinguish missing fields from zero values.
type currentPayload struct {
	Location *struct {
		Name *string `json:"name"`
	} `json:"location"`
	Current *struct {
		TempC      *float64 `json:"temp_c"`
		Humidity   *float64 `json:"humidity"`
		PressureMb *float64 `json:"pressure_mb"`
		WindKph    *float64 `json:"wind_kph"`
		WindDir    *string  `json:"wind_dir"`
		Condition  *struct {
			Text *string `json:"text"`
		} `json:"condition"`
		AirQuality map[string]*float64 `json:"air_quality"`
	} `json:"current"`
}

func parseCurrent(body []byte, at time.Time) (models.WeatherReading, error) {
	var p currentPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: %v", models.ErrMalformedPayload, err)
	}

	if p.Location == nil || p.Location.Name == nil {
		return models.WeatherReading{}, fmt.Errorf("%w: missing location.name", models.ErrMalformedPayload)
	}
	cur := p.Current
	if cur == nil {
		return models.WeatherReading{}, fmt.Errorf("%w: missing current", models.ErrMalformedPayload)
	}

	required := []struct {
		name string
		ok   bool
	}{
		{"current.temp_c", cur.TempC != nil},
		{"current.humidity", cur.Humidity != nil},
		{"current.pressure_mb", cur.PressureMb != nil},
		{"current.wind_kph", cur.WindKph != nil},
		{"current.wind_dir", cur.WindDir != nil},
		{"current.condition.text", cur.Condition != nil && cur.Condition.Text != nil},
	}
	for _, f := range required {
		if !f.ok {
			return models.WeatherReading{}, fmt.Errorf("%w: missing %s", models.ErrMalformedPayload, f.name)
		}
	}

	reading := models.WeatherReading{
		Timestamp:     at,
		Temperature:   *cur.TempC,
		Humidity:      *cur.Humidity,
		Pressure:      *cur.PressureMb,
		Condition:     *cur.Condition.Text,
		WindSpeed:     *cur.WindKph,
		WindDirection: *cur.WindDir,
		Location:      *p.Location.Name,
	}

	if cur.AirQuality != nil {
		reading.AirQuality = parseAirQuality(cur.AirQuality)
		reading.AQI = DeriveAQI(reading.AirQuality)
	}
	return reading, nil
}

func parseAirQuality(raw map[string]*float64) *models.AirQuality {
	aq := &models.AirQuality{Pollutants: make(map[models.Pollutant]float64)}
	for _, p := range models.Pollutants {
		if v := raw[string(p)]; v != nil {
			aq.Pollutants[p] = *v
		}
	}
	aq.USEPAIndex = indexOf(raw["us-epa-index"])
	aq.GBDefraIndex = indexOf(raw["gb-defra-index"])
	return aq
}

func indexOf(v *float64) *int {
	if v == nil {
		return nil
	}
	i := int(*v)
	return &i
}
