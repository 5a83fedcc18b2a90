package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/logging"
	"github.com/afroash/envmon/internal/metrics"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/poller"
	"github.com/afroash/envmon/internal/sensor"
	"github.com/afroash/envmon/internal/storage"
	"github.com/afroash/envmon/internal/weather"
)

const version = "v0.3.0"

// collector pairs a running poller with its static description
type collector struct {
	info   *models.CollectorInfo
	poller *poller.Poller
}

func main() {
	configPath := flag.String("config", "configs/envmon.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	logger = logger.With().Str("service", "collector").Logger()
	logger.Info().Str("version", version).Msg("Starting envmon collector")
	logger.Debug().Msg(cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// each poller dials its own connection
	connect := func(ctx context.Context) (poller.Store, error) {
		conn, err := storage.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	var collectors []collector

	if cfg.Sensor.Enabled {
		// the device is opened on the first tick and retried until it appears
		source := sensor.NewLazySource(func() (sensor.Device, error) {
			device, err := sensor.NewBME280(cfg.Sensor.Bus, cfg.Sensor.Address)
			if err != nil {
				return nil, err
			}
			return device, nil
		}, logger)
		defer source.Close()

		p, err := poller.New(poller.Config{
			Source:         models.SourceSensor,
			Acquirer:       source,
			Connect:        connect,
			Interval:       cfg.Sensor.Interval,
			Backoff:        cfg.Sensor.Backoff,
			AcquireTimeout: cfg.Sensor.AcquireTimeout,
			StoreTimeout:   cfg.Database.StoreTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create sensor poller")
		}
		collectors = append(collectors, collector{
			info:   models.NewCollectorInfo(models.SourceSensor, cfg.Sensor.Location, cfg.Sensor.Device, version, p.Stats().RunID),
			poller: p,
		})
	}

	if cfg.Weather.Enabled {
		client := weather.NewClient(cfg.Weather, nil, logger)
		defer client.Close()

		p, err := poller.New(poller.Config{
			Source:         models.SourceWeather,
			Acquirer:       client,
			Connect:        connect,
			Interval:       cfg.Weather.Interval,
			Backoff:        cfg.Weather.Backoff,
			AcquireTimeout: cfg.Weather.AcquireTimeout,
			StoreTimeout:   cfg.Database.StoreTimeout,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create weather poller")
		}
		collectors = append(collectors, collector{
			info:   models.NewCollectorInfo(models.SourceWeather, cfg.Weather.City, "weatherapi", version, p.Stats().RunID),
			poller: p,
		})
	}

	if len(collectors) == 0 {
		logger.Fatal().Msg("No collectors enabled; set sensor.enabled or weather.enabled")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range collectors {
		c := c
		g.Go(func() error {
			return c.poller.Run(gctx)
		})
	}

	if cfg.Metrics.Enabled {
		startMetrics(gctx, g, cfg.Metrics.Addr, collectors, logger)
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Collector stopped with error")
		return
	}
	logger.Info().Msg("Collector stopped")
}

// startMetrics serves /metrics and /status until ctx ends
func startMetrics(ctx context.Context, g *errgroup.Group, addr string, collectors []collector, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			*models.CollectorInfo
			Uptime string       `json:"uptime"`
			Stats  poller.Stats `json:"stats"`
		}
		out := make([]status, 0, len(collectors))
		for _, c := range collectors {
			out = append(out, status{
				CollectorInfo: c.info,
				Uptime:        c.info.Uptime().Round(time.Second).String(),
				Stats:         c.poller.Stats(),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("Metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
