package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func TestInitTracerProviderInstallsGlobal(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()

	tp, err := InitTracerProvider(ctx, Config{ServiceName: "pipeline-test", SampleRatio: 1},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(ctx, "unit")
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "unit", spans[0].Name())
	require.Contains(t, spans[0].Resource().Attributes(), semconv.ServiceName("pipeline-test"))
}

func TestInitTracerProviderZeroRatioDropsRoots(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()

	tp, err := InitTracerProvider(ctx, Config{ServiceName: "pipeline-test"},
		sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(ctx, "dropped")
	span.End()
	require.Empty(t, recorder.Ended())
}

func TestInitTracerProviderExportsToStdout(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	tp, err := InitTracerProvider(ctx, Config{
		ServiceName: "pipeline-test",
		SampleRatio: 1,
		Exporter:    ExporterStdout,
		Writer:      &out,
	})
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(ctx, "exported-span")
	span.End()
	require.NoError(t, tp.Shutdown(ctx))

	require.Contains(t, out.String(), `"Name":"exported-span"`)
	require.Contains(t, out.String(), "pipeline-test")
}

func TestNewExporter(t *testing.T) {
	ctx := context.Background()

	exp, err := NewExporter(ctx, Config{})
	require.NoError(t, err)
	require.Nil(t, exp)

	exp, err = NewExporter(ctx, Config{Exporter: ExporterNone})
	require.NoError(t, err)
	require.Nil(t, exp)

	_, err = NewExporter(ctx, Config{Exporter: ExporterOTLP})
	require.ErrorContains(t, err, "endpoint")

	exp, err = NewExporter(ctx, Config{Exporter: ExporterOTLP, Endpoint: "127.0.0.1:4318", Insecure: true})
	require.NoError(t, err)
	require.NotNil(t, exp)
	require.NoError(t, exp.Shutdown(ctx))

	_, err = NewExporter(ctx, Config{Exporter: "zipkin"})
	require.ErrorContains(t, err, "unknown trace exporter")
}
