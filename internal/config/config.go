package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Batch     BatchConfig
	Codec     CodecConfig
	Output    OutputConfig
	Watch     WatchConfig
	Telemetry TelemetryConfig
}

type BatchConfig struct {
	MaxFiles     int
	MaxFileBytes int64
	JobTimeout   time.Duration
}

type CodecConfig struct {
	JPEGQuality float64
	WebPQuality float64
	AVIFQuality float64
	ICOMaxSize  int
	SVGScale    float64
}

type OutputConfig struct {
	Dir             string
	ReportFile      string
	MaxArchiveBytes int64
}

type WatchConfig struct {
	Dir      string
	Debounce time.Duration
}

type TelemetryConfig struct {
	LogLevel      string
	Development   bool
	MetricsFile   string
	TraceExporter string
	OTLPEndpoint  string
	OTLPInsecure  bool
}

// Load reads .env from the working directory when present, then the environment.
// Variables already set in the environment win over .env entries.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, err
	}
	return FromEnv(), nil
}

// FromEnv builds the configuration from the process environment alone.
func FromEnv() Config {
	return Config{
		Batch: BatchConfig{
			MaxFiles:     envInt("CONVERTIFY_MAX_BATCH_FILES", 50),
			MaxFileBytes: envInt64("CONVERTIFY_MAX_FILE_BYTES", 10<<20),
			JobTimeout:   envDuration("CONVERTIFY_JOB_TIMEOUT", 0),
		},
		Codec: CodecConfig{
			JPEGQuality: envFloat("CONVERTIFY_JPEG_QUALITY", 0.92),
			WebPQuality: envFloat("CONVERTIFY_WEBP_QUALITY", 0.92),
			AVIFQuality: envFloat("CONVERTIFY_AVIF_QUALITY", 0.8),
			ICOMaxSize:  envInt("CONVERTIFY_ICO_MAX_SIZE", 256),
			SVGScale:    envFloat("CONVERTIFY_SVG_SCALE", 2),
		},
		Output: OutputConfig{
			Dir:             env("CONVERTIFY_OUTPUT_DIR", "./.convertify-output"),
			ReportFile:      env("CONVERTIFY_REPORT_FILE", ""),
			MaxArchiveBytes: envInt64("CONVERTIFY_MAX_ARCHIVE_BYTES", 0),
		},
		Watch: WatchConfig{
			Dir:      env("CONVERTIFY_WATCH_DIR", "./inbox"),
			Debounce: envDuration("CONVERTIFY_WATCH_DEBOUNCE", 500*time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			LogLevel:      env("CONVERTIFY_LOG_LEVEL", "info"),
			Development:   env("CONVERTIFY_ENV", "production") == "development",
			MetricsFile:   env("CONVERTIFY_METRICS_FILE", ""),
			TraceExporter: env("CONVERTIFY_TRACE_EXPORTER", "none"),
			OTLPEndpoint:  env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure:  envBool("CONVERTIFY_OTLP_INSECURE", false),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
