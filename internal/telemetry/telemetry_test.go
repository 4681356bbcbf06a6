package telemetry

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/donaldgifford/price-watch/internal/config"
)

func TestSetup_Disabled(t *testing.T) {
	t.Parallel()

	tel, err := Setup(context.Background(), &config.TelemetryConfig{}, "dev", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Nil(t, tel.TracerProvider)
	assert.Nil(t, tel.MeterProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.25, "TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		desc := Sampler(tt.ratio).Description()
		assert.True(t, strings.Contains(desc, tt.want), "ratio %v: %s", tt.ratio, desc)
	}
}

func TestNewResource(t *testing.T) {
	t.Parallel()

	r, err := newResource("price-watch", "1.2.3")
	require.NoError(t, err)

	attrs := map[string]string{}
	for _, kv := range r.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "price-watch", attrs["service.name"])
	assert.Equal(t, "1.2.3", attrs["service.version"])
	assert.Equal(t, resource.Default().SchemaURL(), r.SchemaURL())
}
