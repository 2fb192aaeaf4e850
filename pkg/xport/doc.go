// Package xport defines the pluggable transport backend contract and the
// process-wide registry that owns backend bindings.
//
// A Backend supplies four operation sets:
//
//   - CardOps: discovery (probe/hotplug), per-card init/exit, private data
//   - RegisterOps: FPGA register access and link up/down bracketing
//   - RxOps: the receive streaming path
//   - TxOps: the transmit streaming path
//
// The Registry is the only owner of backend bindings. Controllers receive a
// Backend by reference from the registry and only ever read it; they never
// register or unregister backends themselves.
//
// # Discovery
//
// Probe is a pure discovery operation and must not alter hardware state.
// For PCIe and USB backends it runs at most once per process; the registry
// caches the result. Custom and network backends support hotplug and may be
// probed repeatedly. Hotplug takes a no-probe set of transport UIDs owned
// by other processes; those UIDs are never touched and never reported, even
// when physically present.
//
// # Testing
//
// MockBackend provides a complete in-memory backend with register storage,
// scripted receive blocks, PPS edge signalling, and per-operation error
// injection.
package xport
