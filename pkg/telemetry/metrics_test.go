package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_DisabledIsNoOp(t *testing.T) {
	p, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordAgentDuration(ctx, "ncm", 10*time.Millisecond)
	p.RecordRetrievalLatency(ctx, "dense", 5*time.Millisecond)

	finish := p.JobStarted(ctx)
	finish("success")

	assert.NoError(t, p.Shutdown(ctx))
}
