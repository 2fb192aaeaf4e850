package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwave/rfplane/pkg/rf"
)

func TestParseKind(t *testing.T) {
	cases := []struct {
		in   string
		want rf.XportKind
	}{
		{"pcie", rf.XportPCIe},
		{"PCIe", rf.XportPCIe},
		{"usb", rf.XportUSB},
		{"custom", rf.XportCustom},
		{"sim", rf.XportCustom},
		{"net", rf.XportNet},
		{"auto", rf.XportAuto},
		{"", rf.XportAuto},
	}
	for _, tc := range cases {
		k, err := parseKind(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, k, tc.in)
	}

	_, err := parseKind("firewire")
	assert.Error(t, err)
}

func TestParseRxHandles(t *testing.T) {
	hs, err := parseRxHandles("RxA1,rxb1")
	require.NoError(t, err)
	assert.Equal(t, []rf.RxHandle{rf.RxA1, rf.RxB1}, hs)

	hs, err = parseRxHandles(" RxA2 , ,")
	require.NoError(t, err)
	assert.Equal(t, []rf.RxHandle{rf.RxA2}, hs)

	_, err = parseRxHandles("RxA1,RxZ9")
	assert.Error(t, err)

	_, err = parseRxHandles(",")
	assert.Error(t, err)
}

func TestParseTxHandle(t *testing.T) {
	h, err := parseTxHandle("txa2")
	require.NoError(t, err)
	assert.Equal(t, rf.TxA2, h)

	_, err = parseTxHandle("TxQ7")
	assert.Error(t, err)
}

func TestParseTrigger(t *testing.T) {
	cases := []struct {
		in   string
		want rf.TriggerSource
	}{
		{"immediate", rf.TriggerImmediate},
		{"pps", rf.TriggerOnPPS},
		{"1pps", rf.TriggerOnPPS},
		{"synced", rf.TriggerSynced},
	}
	for _, tc := range cases {
		tr, err := parseTrigger(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, tr, tc.in)
	}

	_, err := parseTrigger("lunar")
	assert.Error(t, err)
}

func TestParseFlowMode(t *testing.T) {
	cases := []struct {
		in   string
		want rf.TxFlowMode
	}{
		{"immediate", rf.TxFlowImmediate},
		{"", rf.TxFlowImmediate},
		{"timestamps", rf.TxFlowWithTimestamps},
		{"allow-late", rf.TxFlowWithTimestampsAllowLate},
	}
	for _, tc := range cases {
		m, err := parseFlowMode(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, m, tc.in)
	}

	_, err := parseFlowMode("eventually")
	assert.Error(t, err)
}

func TestParseStreamMode(t *testing.T) {
	cases := []struct {
		in   string
		want rf.RxStreamMode
	}{
		{"high-tput", rf.RxStreamHighThroughput},
		{"", rf.RxStreamHighThroughput},
		{"low-latency", rf.RxStreamLowLatency},
		{"balanced", rf.RxStreamBalanced},
	}
	for _, tc := range cases {
		m, err := parseStreamMode(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, m, tc.in)
	}

	_, err := parseStreamMode("turbo")
	assert.Error(t, err)
}
