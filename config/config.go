package config

import (
	"log"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Application struct {
		Name        string        `envconfig:"APPLICATION_NAME" default:"shotgun-exporter"`
		Environment string        `envconfig:"ENVIRONMENT" default:"production"`
		Port        int           `envconfig:"EXPORTER_PORT" default:"9090"`
		Debug       bool          `envconfig:"DEBUG" default:"false"`
		Timeout     time.Duration `envconfig:"APPLICATION_TIMEOUT" default:"120s"`
	}

	Shotgun struct {
		BaseURL               string `envconfig:"SHOTGUN_BASE_URL" default:"https://smartboard-api.shotgun.live/api/shotgun" validate:"required,url"`
		APIKey                string `envconfig:"SHOTGUN_API_KEY" validate:"required"`
		OrganizerID           string `envconfig:"SHOTGUN_ORGANIZER_ID" validate:"required"`
		IncludeCohostedEvents bool   `envconfig:"INCLUDE_COHOSTED_EVENTS" default:"false"`
	}

	Scrape struct {
		Interval            time.Duration `envconfig:"SCRAPE_INTERVAL" default:"60s"`
		FullScanInterval    time.Duration `envconfig:"FULL_SCAN_INTERVAL" default:"24h"`
		EventsFetchInterval time.Duration `envconfig:"EVENTS_FETCH_INTERVAL" default:"1h"`
	}

	DBPath string `envconfig:"DB_PATH" default:"/data/shotgun_tickets.db"`

	VictoriaMetrics struct {
		URL string `envconfig:"VICTORIA_METRICS_URL" default:"http://victoria-metrics:8428"`
	}

	Monitoring struct {
		OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:""`
	}
}

var (
	c    *Config
	once sync.Once
)

// Get loads the configuration from the environment on first call.
// Missing credentials are fatal before any scheduling begins.
func Get() *Config {
	once.Do(func() {
		cfg := &Config{}
		if err := envconfig.Process("", cfg); err != nil {
			log.Fatalf("config: %v", err)
		}

		if err := validator.New().Struct(cfg); err != nil {
			log.Fatalf("config: %v", err)
		}

		c = cfg
	})

	return c
}
