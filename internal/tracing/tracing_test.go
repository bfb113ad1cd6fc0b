package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracer_NoEndpoint(t *testing.T) {
	tp, err := InitTracer(context.Background(), "")
	assert.Error(t, err)
	assert.Nil(t, tp)
}

func TestInitTracer(t *testing.T) {
	// The exporter connects lazily, so an unreachable collector is fine here
	tp, err := InitTracer(context.Background(), "http://127.0.0.1:4318/v1/traces")
	require.NoError(t, err)
	require.NotNil(t, tp)
	assert.NoError(t, tp.Shutdown(context.Background()))
}
