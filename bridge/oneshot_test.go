package bridge_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tailored-agentic-units/labkernel/bridge"
)

func TestOneShot_SingleUse(t *testing.T) {
	slot := bridge.NewOneShot[int]()

	_, status := slot.TryReceive()
	assert.Equal(t, bridge.SlotEmpty, status)

	require.NoError(t, slot.Send(7))
	assert.True(t, slot.Sent())
	assert.ErrorIs(t, slot.Send(8), bridge.ErrSlotUsed)

	v, status := slot.TryReceive()
	assert.Equal(t, bridge.SlotReady, status)
	assert.Equal(t, 7, v)

	_, status = slot.TryReceive()
	assert.Equal(t, bridge.SlotEmpty, status)
}

func TestOneShot_ValueSurvivesClose(t *testing.T) {
	slot := bridge.NewOneShot[string]()
	require.NoError(t, slot.Send("score"))
	slot.Close()
	slot.Close()

	v, err := slot.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "score", v)

	_, status := slot.TryReceive()
	assert.Equal(t, bridge.SlotClosed, status)
	assert.ErrorIs(t, slot.Send("late"), bridge.ErrSlotClosed)
}

func TestOneShot_CloseUnblocksReceiver(t *testing.T) {
	slot := bridge.NewOneShot[float64]()

	errCh := make(chan error, 1)
	go func() {
		_, err := slot.Receive(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	slot.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, bridge.ErrSlotClosed)
	case <-time.After(time.Second):
		t.Fatal("Receive() still blocked after Close()")
	}
	assert.True(t, slot.IsClosed())
}

func TestOneShot_ReceiveContext(t *testing.T) {
	slot := bridge.NewOneShot[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := slot.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlotStatus_String(t *testing.T) {
	tests := []struct {
		status bridge.SlotStatus
		want   string
	}{
		{bridge.SlotEmpty, "empty"},
		{bridge.SlotReady, "ready"},
		{bridge.SlotClosed, "closed"},
		{bridge.SlotStatus(9), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.status.String())
	}
}
