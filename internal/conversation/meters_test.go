package conversation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"centurion/internal/telemetry"
)

func TestLeadRepository_WithMeters_ReturnsSameInstance(t *testing.T) {
	r := NewLeadRepository(nil)
	m := &telemetry.Meters{}
	got := r.WithMeters(m)
	require.Same(t, r, got)
	require.Same(t, m, r.meters)
}

func TestMessageRepository_WithMeters_ReturnsSameInstance(t *testing.T) {
	r := NewMessageRepository(nil)
	m := &telemetry.Meters{}
	got := r.WithMeters(m)
	require.Same(t, r, got)
	require.Same(t, m, r.meters)
}

func TestMessageRepository_WithMeters_NilIsSafe(t *testing.T) {
	r := NewMessageRepository(nil)
	require.NotPanics(t, func() { r.WithMeters(nil) })
	require.Nil(t, r.meters)
}
