package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledReturnsNoopMeters(t *testing.T) {
	shutdown, meters, err := Setup(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, meters)
	require.NotNil(t, meters.DomainEventsTotal)
	require.NotNil(t, meters.MessagesTotal)
	require.NotNil(t, meters.LeadsCreatedTotal)
	require.NotNil(t, meters.LeadsQualifiedTotal)

	// Noop counters must be safe to call and shutdown must be a no-op.
	meters.DomainEventsTotal.Add(context.Background(), 1)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetup_EnabledWithoutEndpointFallsBackToNoop(t *testing.T) {
	shutdown, meters, err := Setup(context.Background(), Config{Enabled: true, Endpoint: ""})
	require.NoError(t, err)
	require.NotNil(t, meters)
	require.NoError(t, shutdown(context.Background()))
}

func TestBuildMeters_ConstructsAllFourCounters(t *testing.T) {
	meters, err := buildMeters(otel.Meter("telemetry-test"))
	require.NoError(t, err)
	require.NotNil(t, meters.DomainEventsTotal)
	require.NotNil(t, meters.MessagesTotal)
	require.NotNil(t, meters.LeadsCreatedTotal)
	require.NotNil(t, meters.LeadsQualifiedTotal)
}
