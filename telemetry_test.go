package airlock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.25.0"
)

func TestResources(t *testing.T) {
	res, err := resources(context.Background(), TelemetryConfig{Enabled: true})
	require.NoError(t, err)

	name, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "airlock", name.AsString())
}

func TestTelemetryDisabled(t *testing.T) {
	t.Setenv("AIRLOCK_OTEL_ENDPOINT", "")
	shutdown, err := InitTelemetry(context.Background(), TelemetryConfig{Enabled: false, Endpoint: "localhost:4317"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
