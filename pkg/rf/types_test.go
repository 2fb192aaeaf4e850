package rf

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRxHandleValid(t *testing.T) {
	for h := RxA1; h < rxHandleEnd; h++ {
		assert.True(t, h.Valid(), h.String())
	}
	assert.False(t, InvalidRxHandle.Valid())
	assert.False(t, rxHandleEnd.Valid())
	assert.Equal(t, "RxInvalid", InvalidRxHandle.String())
	assert.Equal(t, 6, NumRxHandles)
}

func TestTxHandleValid(t *testing.T) {
	for h := TxA1; h < txHandleEnd; h++ {
		assert.True(t, h.Valid(), h.String())
	}
	assert.False(t, InvalidTxHandle.Valid())
	assert.Equal(t, "TxInvalid", InvalidTxHandle.String())
	assert.Equal(t, 4, NumTxHandles)
}

func TestRxStreamModeBlockBytes(t *testing.T) {
	assert.Equal(t, uint32(4096), RxStreamHighThroughput.BlockBytes())
	assert.Equal(t, uint32(256), RxStreamLowLatency.BlockBytes())
	assert.Equal(t, uint32(1024), RxStreamBalanced.BlockBytes())
}

func TestFreqTuneModeHopping(t *testing.T) {
	assert.False(t, TuneStandard.Hopping())
	assert.True(t, TuneHopImmediate.Hopping())
	assert.True(t, TuneHopOnTimestamp.Hopping())
}

func TestXportKindHotpluggable(t *testing.T) {
	assert.False(t, XportPCIe.Hotpluggable())
	assert.False(t, XportUSB.Hotpluggable())
	assert.True(t, XportCustom.Hotpluggable())
	assert.True(t, XportNet.Hotpluggable())
}

func TestValidRxTimeout(t *testing.T) {
	cases := []struct {
		us    int32
		valid bool
	}{
		{RxWaitForever, true},
		{RxNoWait, true},
		{MinRxTimeoutUS, true},
		{MaxRxTimeoutUS, true},
		{500, true},
		{-2, false},
		{MinRxTimeoutUS - 1, false},
		{MaxRxTimeoutUS + 1, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, ValidRxTimeout(tc.us), fmt.Sprintf("%d us", tc.us))
	}
}

func TestStringValuesAreStable(t *testing.T) {
	// Spot checks on names that surface in the CLI and logs.
	assert.Equal(t, "RxB2", RxB2.String())
	assert.Equal(t, "TxA2", TxA2.String())
	assert.Equal(t, "1pps", TriggerOnPPS.String())
	assert.Equal(t, "with-timestamps", TxFlowWithTimestamps.String())
	assert.Equal(t, "async", TxTransferAsync.String())
	assert.Equal(t, "low-latency", RxStreamLowLatency.String())
	assert.Equal(t, "hop-on-timestamp", TuneHopOnTimestamp.String())
	assert.Equal(t, "full", LevelFull.String())
	assert.Equal(t, "pcie", XportPCIe.String())
	assert.Equal(t, "overrun", RxOverrun.String())
	assert.Equal(t, "rf", RFTimestamp.String())
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrQueueFull))
	assert.True(t, Retryable(ErrTimeout))
	assert.True(t, Retryable(fmt.Errorf("enqueue: %w", ErrQueueFull)))
	assert.False(t, Retryable(ErrBusy))
	assert.False(t, Retryable(ErrHardware))
	assert.False(t, Retryable(errors.New("other")))
	assert.False(t, Retryable(nil))
}
