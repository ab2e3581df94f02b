package modelclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCallLimiter_ZeroMeansUnlimited(t *testing.T) {
	assert.Nil(t, newCallLimiter(0))
}

func TestWaitForSlot_NilLimiterIsNoOp(t *testing.T) {
	assert.NoError(t, waitForSlot(context.Background(), nil))
}

func TestWaitForSlot_AllowsBurstThenBlocksOnCanceledContext(t *testing.T) {
	limiter := newCallLimiter(1) // 1 request/min, burst of 1
	require := assert.New(t)

	require.NoError(waitForSlot(context.Background(), limiter))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(waitForSlot(ctx, limiter))
}
