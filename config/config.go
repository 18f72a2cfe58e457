// Package config assembles runtime settings from environment
// variables, with an optional .env file for development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultLiveURL   = "https://api.nationaltransport.ie/gtfsr/v2/TripUpdates"
	defaultStaticURL = "https://www.transportforireland.ie/transitData/Data/GTFS_Realtime.zip"

	defaultHost          = "0.0.0.0"
	defaultPort          = 7341
	defaultDataDir       = "data"
	defaultPollingPeriod = 60 * time.Second
	defaultMaxWait       = 60 * time.Minute
)

type Config struct {
	Host string
	Port int

	LiveURL   string
	StaticURL string
	APIKey    string

	RedisURL string
	DataDir  string

	PollingPeriod time.Duration
	MaxWait       time.Duration
	FilterStops   []string

	SSLCert string
	SSLKey  string

	LogLevel logrus.Level
}

// Load reads the environment, after merging in a .env file when one
// exists. Unset variables fall back to defaults; malformed values warn
// and fall back rather than abort.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		logrus.Debug("loaded settings from .env")
	}

	return Config{
		Host:          getEnv("HOST", defaultHost),
		Port:          getEnvInt("PORT", defaultPort),
		LiveURL:       getEnv("LIVE_URL", defaultLiveURL),
		StaticURL:     getEnv("STATIC_URL", defaultStaticURL),
		APIKey:        os.Getenv("API_KEY"),
		RedisURL:      os.Getenv("REDIS_URL"),
		DataDir:       getEnv("DATA_DIR", defaultDataDir),
		PollingPeriod: time.Duration(getEnvInt("POLLING_PERIOD", 60)) * time.Second,
		MaxWait:       time.Duration(getEnvInt("MAX_MINUTES", 60)) * time.Minute,
		FilterStops:   splitList(os.Getenv("FILTER_STOPS")),
		SSLCert:       os.Getenv("SSL_CERT"),
		SSLKey:        os.Getenv("SSL_KEY"),
		LogLevel:      parseLogLevel(getEnv("LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		logrus.Warnf("ignoring non-integer %s=%q", key, value)
		return fallback
	}
	return n
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	items := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseLogLevel maps a LOG_LEVEL name to a logrus level. Unknown names
// warn and mean INFO.
func parseLogLevel(name string) logrus.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return logrus.DebugLevel
	case "INFO":
		return logrus.InfoLevel
	case "WARNING", "WARN":
		return logrus.WarnLevel
	case "ERROR":
		return logrus.ErrorLevel
	case "CRITICAL":
		return logrus.FatalLevel
	default:
		logrus.Warnf("unknown LOG_LEVEL %q, using INFO", name)
		return logrus.InfoLevel
	}
}
