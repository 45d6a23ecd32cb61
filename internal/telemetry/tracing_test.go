package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerProviderStdout(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	tp, err := InitTracerProvider(ctx, Config{ServiceName: "s3-test", Exporter: ExporterStdout, Writer: &buf})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "unit")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	assert.Contains(t, buf.String(), `"Name":"unit"`)
	assert.Contains(t, buf.String(), "s3-test")
}

func TestInitTracerProviderRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracerProvider(context.Background(), Config{Exporter: "zipkin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zipkin")
}
