package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	require.Equal(t, ":3000", cfg.Gateway.Addr)
	require.Equal(t, 8*time.Second, cfg.Fetch.Timeout)
	require.Equal(t, int64(64<<20), cfg.Fetch.MaxBodyBytes)
	require.GreaterOrEqual(t, cfg.Transform.Workers, 1)
	require.Equal(t, "public, max-age=3600", cfg.Gateway.DefaultCacheControl)
	require.Equal(t, "none", cfg.Trace.Exporter)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8081")
	t.Setenv("FETCH_TIMEOUT_MS", "250")
	t.Setenv("TRANSFORM_WORKERS", "3")
	t.Setenv("GATEWAY_OBJECT_BASE_URL", "https://objects.internal")

	cfg := Load()

	require.Equal(t, ":8081", cfg.Gateway.Addr)
	require.Equal(t, 250*time.Millisecond, cfg.Fetch.Timeout)
	require.Equal(t, 3, cfg.Transform.Workers)
	require.Equal(t, "https://objects.internal", cfg.Gateway.ObjectBaseURL)
}

func TestMalformedEnvFallsBack(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT_MS", "soon")
	t.Setenv("TRACE_OTLP_INSECURE", "kinda")

	cfg := Load()

	require.Equal(t, 8*time.Second, cfg.Fetch.Timeout)
	require.False(t, cfg.Trace.OTLPInsecure)
}
