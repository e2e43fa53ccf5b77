package main

import "github.com/ilyakaznacheev/cleanenv"

type ServiceConfig struct {
	Environment string `env:"FLARE_ENVIRONMENT" env-default:"development"`
	Port        string `env:"PORT" env-default:"8080"`

	SentryDSN string `env:"SENTRY_DSN"`

	BytebinURL string `env:"FLARE_BYTEBIN_URL" env-default:"https://bytebin.flarelabs.dev"`
	ViewerURL  string `env:"FLARE_VIEWER_URL" env-default:"https://viewer.flarelabs.dev/"`

	// Saved reports go to a local directory, or to a GCS bucket when one is
	// configured.
	ReportsDir    string `env:"FLARE_REPORTS_DIR" env-default:"flare-reports"`
	ReportsBucket string `env:"FLARE_REPORTS_BUCKET"`

	ActivityLogPath      string   `env:"FLARE_ACTIVITY_LOG" env-default:"flare-activity.jsonl"`
	ActivityKafkaBrokers []string `env:"FLARE_ACTIVITY_KAFKA_BROKERS"`
	ActivityKafkaTopic   string   `env:"FLARE_ACTIVITY_KAFKA_TOPIC" env-default:"flare-activity"`
}

func loadConfig() (ServiceConfig, error) {
	var c ServiceConfig
	err := cleanenv.ReadEnv(&c)
	return c, err
}
