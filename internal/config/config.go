package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Gateway   GatewayConfig
	Fetch     FetchConfig
	Transform TransformConfig
	Trace     TraceConfig
}

type GatewayConfig struct {
	Addr string

	// Base URL the path-based route prepends to the request path to derive
	// the object URL. When empty, the path-based route is not registered.
	ObjectBaseURL string

	// Regular expression the Host header must match for path-based requests.
	AllowedHostPattern string

	// Cache-Control applied when the upstream supplies none.
	DefaultCacheControl string
}

type FetchConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
}

type TransformConfig struct {
	// Workers caps concurrent transforms process-wide, independent of
	// request concurrency. Immutable after startup.
	Workers int
}

type TraceConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Gateway: GatewayConfig{
			Addr:                ":" + env("PORT", "3000"),
			ObjectBaseURL:       env("GATEWAY_OBJECT_BASE_URL", ""),
			AllowedHostPattern:  env("GATEWAY_ALLOWED_HOST_PATTERN", ""),
			DefaultCacheControl: env("GATEWAY_CACHE_CONTROL", "public, max-age=3600"),
		},
		Fetch: FetchConfig{
			Timeout:      time.Duration(envInt("FETCH_TIMEOUT_MS", 8000)) * time.Millisecond,
			MaxBodyBytes: envInt64("FETCH_MAX_BODY_BYTES", 64<<20),
		},
		Transform: TransformConfig{
			Workers: envInt("TRANSFORM_WORKERS", max(1, runtime.NumCPU())),
		},
		Trace: TraceConfig{
			ServiceName:  env("TRACE_SERVICE_NAME", "pixelgate"),
			Exporter:     env("TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("TRACE_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("TRACE_OTLP_INSECURE", false),
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
