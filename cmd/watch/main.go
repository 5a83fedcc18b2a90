package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/afroash/envmon/internal/client"
	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/logging"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/server"
)

// watch follows the dashboard stream and prints one line per snapshot
func main() {
	url := flag.String("url", "ws://localhost:8081/api/stream?window=last_hour", "dashboard stream URL")
	origin := flag.String("origin", "", "Origin header to send")
	level := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logger, err := logging.NewWithWriter(config.LoggingConfig{Level: *level, Format: "text"}, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}

	conn := client.NewConnection(client.ConnectionConfig{
		URL:                  *url,
		Origin:               *origin,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = conn.Run(ctx, func(msg *models.Message) {
		if msg.Type != models.MessageTypeSnapshot {
			return
		}
		var d server.Dashboard
		if err := msg.UnmarshalPayload(&d); err != nil {
			logger.Warn().Err(err).Msg("Failed to decode snapshot")
			return
		}
		fmt.Println(summaryLine(d))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Stream stopped")
	}
}

func summaryLine(d server.Dashboard) string {
	line := d.LastUpdate.Local().Format("15:04:05")
	if d.Sensor != nil {
		line += fmt.Sprintf("  sensor %.1f°C %.0f%% %.1fhPa", d.Sensor.Temperature.Current, d.Sensor.Humidity.Current, d.Sensor.Pressure.Current)
	} else {
		line += "  sensor n/a"
	}
	if d.Weather != nil {
		line += fmt.Sprintf("  weather %.1f°C %.0f%% %s [%s]", d.Weather.Temperature.Current, d.Weather.Humidity.Current, d.Weather.Condition, d.Weather.Category.Label)
	} else {
		line += "  weather n/a"
	}
	for _, c := range d.Collectors {
		state := "stale"
		if c.Active {
			state = "active"
		}
		line += fmt.Sprintf("  %s:%s", c.Source, state)
	}
	return line
}
