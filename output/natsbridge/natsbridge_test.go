package natsbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abossard/vjuniverse/audio"
	"github.com/abossard/vjuniverse/natsclient"
)

func TestBridgeNilClientNeverFails(t *testing.T) {
	b := NewBridge(Deps{Name: "test-bridge"})
	ctx := context.Background()

	require.NoError(t, b.Initialize())
	require.NoError(t, b.Start(ctx))

	assert.NoError(t, b.PublishActivation(ctx, ActivationEvent{Shader: "isf/Plasma"}))
	assert.NoError(t, b.PublishCompileError(ctx, CompileErrorEvent{Shader: "isf/Broken"}))

	sent, err := b.PublishFrame(ctx, FrameSnapshot{Speed: 0.02})
	assert.NoError(t, err)
	assert.True(t, sent, "limiter allows, nil client just counts the skip")

	assert.Equal(t, int64(0), b.Published())
	assert.Greater(t, b.Skipped(), int64(0))
	assert.True(t, b.Health().Healthy)
	require.NoError(t, b.Stop(time.Second))
}

func TestBridgeDisconnectedClientIsSwallowed(t *testing.T) {
	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	b := NewBridge(Deps{Name: "test-bridge", Client: client})
	ctx := context.Background()

	start := time.Now()
	assert.NoError(t, b.PublishActivation(ctx, ActivationEvent{Shader: "isf/Plasma"}))
	assert.Less(t, time.Since(start), 100*time.Millisecond, "must not block on a down broker")
	assert.Equal(t, int64(0), b.Published())
	assert.True(t, b.Health().Healthy, "a down broker is degraded, not unhealthy")
}

func TestBridgeFrameRateLimit(t *testing.T) {
	b := NewBridge(Deps{Name: "test-bridge", FrameRate: 2})
	ctx := context.Background()

	snap := FrameSnapshot{Frame: audio.Frame{Level: 0.5}, Speed: 0.4}

	sentCount := 0
	for i := 0; i < 100; i++ {
		sent, err := b.PublishFrame(ctx, snap)
		require.NoError(t, err)
		if sent {
			sentCount++
		}
	}
	// Burst of 1 at 2/s: a tight loop gets one token, maybe two.
	assert.LessOrEqual(t, sentCount, 2)
	assert.GreaterOrEqual(t, sentCount, 1)
}

func TestBridgeMeta(t *testing.T) {
	b := NewBridge(Deps{})
	meta := b.Meta()
	assert.Equal(t, "nats-bridge", meta.Name)
	assert.Equal(t, "output", meta.Type)
}
