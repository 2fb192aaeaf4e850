package cmd

import (
	"fmt"
	"strings"

	"github.com/fieldwave/rfplane/pkg/rf"
)

// parseKind maps a transport name to its kind.
func parseKind(s string) (rf.XportKind, error) {
	switch strings.ToLower(s) {
	case "pcie":
		return rf.XportPCIe, nil
	case "usb":
		return rf.XportUSB, nil
	case "custom", "sim":
		return rf.XportCustom, nil
	case "net":
		return rf.XportNet, nil
	case "auto", "":
		return rf.XportAuto, nil
	}
	return 0, fmt.Errorf("unknown transport %q (pcie, usb, custom, net, auto)", s)
}

// parseRxHandles parses a comma-separated receive handle list.
func parseRxHandles(s string) ([]rf.RxHandle, error) {
	var out []rf.RxHandle
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		h, err := parseRxHandle(part)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no receive handles in %q", s)
	}
	return out, nil
}

func parseRxHandle(s string) (rf.RxHandle, error) {
	for h := rf.RxA1; h.Valid(); h++ {
		if strings.EqualFold(s, h.String()) {
			return h, nil
		}
	}
	return rf.InvalidRxHandle, fmt.Errorf("unknown receive handle %q", s)
}

func parseTxHandle(s string) (rf.TxHandle, error) {
	for h := rf.TxA1; h.Valid(); h++ {
		if strings.EqualFold(s, h.String()) {
			return h, nil
		}
	}
	return 0, fmt.Errorf("unknown transmit handle %q", s)
}

// parseTrigger maps a trigger name to its source.
func parseTrigger(s string) (rf.TriggerSource, error) {
	switch strings.ToLower(s) {
	case "immediate", "":
		return rf.TriggerImmediate, nil
	case "pps", "1pps":
		return rf.TriggerOnPPS, nil
	case "synced":
		return rf.TriggerSynced, nil
	}
	return 0, fmt.Errorf("unknown trigger %q (immediate, pps, synced)", s)
}

// parseFlowMode maps a flow mode name for transmit.
func parseFlowMode(s string) (rf.TxFlowMode, error) {
	switch strings.ToLower(s) {
	case "immediate", "":
		return rf.TxFlowImmediate, nil
	case "timestamps":
		return rf.TxFlowWithTimestamps, nil
	case "allow-late":
		return rf.TxFlowWithTimestampsAllowLate, nil
	}
	return 0, fmt.Errorf("unknown flow mode %q (immediate, timestamps, allow-late)", s)
}

// parseStreamMode maps a receive stream mode name.
func parseStreamMode(s string) (rf.RxStreamMode, error) {
	switch strings.ToLower(s) {
	case "high-tput", "":
		return rf.RxStreamHighThroughput, nil
	case "low-latency":
		return rf.RxStreamLowLatency, nil
	case "balanced":
		return rf.RxStreamBalanced, nil
	}
	return 0, fmt.Errorf("unknown stream mode %q (high-tput, low-latency, balanced)", s)
}
