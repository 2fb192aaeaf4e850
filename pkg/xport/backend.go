package xport

import (
	"github.com/fieldwave/rfplane/pkg/rf"
)

// UID uniquely identifies a card at the transport layer. The value is
// opaque to everything above the backend; two backends of different kinds
// may reuse the same UID without collision.
type UID uint64

// InvalidUID is never assigned to a real card.
const InvalidUID = UID(1<<64 - 1)

// TxCompleteFunc is invoked once per submitted block after the block has
// been committed to hardware (or dropped). status is nil on success. The
// callback may run on any transmit worker goroutine and callbacks are not
// ordered relative to submission order.
type TxCompleteFunc func(status error, block *TxBlock, token any)

// TxBlock is one transmit unit: a timestamp and packed IQ payload. Data
// length is fixed at TxOps.Initialize time and is a multiple of
// rf.TxBlockQuantum.
type TxBlock struct {
	Timestamp rf.Timestamp
	Data      []byte
}

// RxResult is one receive poll outcome. Data is only valid when Status is
// rf.RxSuccess; the buffer belongs to the transport and is valid until the
// next Receive call on the same card.
type RxResult struct {
	Status    rf.RxStatus
	Handle    rf.RxHandle
	Timestamp rf.Timestamp
	Data      []byte
}

// CardOps is the card discovery and lifecycle path of a backend.
type CardOps interface {
	// Probe returns the discoverable transport UIDs for this backend.
	// It is idempotent and side-effect-free on hardware state.
	Probe() ([]UID, error)

	// Hotplug re-discovers cards, skipping every UID in noProbe. UIDs in
	// noProbe are owned by other processes; probing them risks corrupting
	// live transfers, so they are neither touched nor reported.
	Hotplug(noProbe []UID) ([]UID, error)

	// Init brings uid to the requested level. It is never called twice on
	// the same uid without an intervening Exit.
	Init(level rf.InitLevel, uid UID) error

	// Exit tears uid back down from the given level.
	Exit(level rf.InitLevel, uid UID) error

	// ReadPrivData returns the persisted per-card metadata blob, which may
	// be empty.
	ReadPrivData(uid UID) ([]byte, error)

	// WritePrivData persists the per-card metadata blob.
	WritePrivData(uid UID, data []byte) error

	// WaitPPS blocks until the next PPS edge on uid. There is no
	// cancellation; the caller owns the blocking contract.
	WaitPPS(uid UID) error

	// ReadTimestamp returns the current free-running counter for src.
	ReadTimestamp(uid UID, src rf.TimestampSource) (rf.Timestamp, error)
}

// RegisterOps is the FPGA register path of a backend. All operations on a
// given card are strictly ordered on the calling goroutine.
type RegisterOps interface {
	Read(uid UID, addr uint32) (uint32, error)
	Write(uid UID, addr uint32, val uint32) error
	Verify(uid UID, addr uint32, val uint32) error
	WriteAndVerify(uid UID, addr uint32, val uint32) error
	Read64(uid UID, addr uint32) (uint64, error)
	Write64(uid UID, addr uint32, val uint64) error

	// LinkDown tears down transport communication ahead of an operation
	// that disrupts the link (FPGA reprogramming).
	LinkDown(uid UID) error

	// LinkDownReload is LinkDown with the intent of reprogramming the FPGA
	// from the bitstream stored at the given flash address.
	LinkDownReload(uid UID, addr uint32) error

	// LinkUp restores transport communication after a disruption.
	LinkUp(uid UID) error
}

// RxOps is the receive streaming path of a backend.
type RxOps interface {
	// Configure informs the transport of the aggregate receive data rate
	// in bytes per second so it can adjust link-layer settings.
	Configure(uid UID, aggregateRate uint32) error

	// SetBlockSize sets the receive block size in bytes for all handles.
	SetBlockSize(uid UID, bytes uint32) error

	// SetBuffered controls whether the transport batches multiple receive
	// blocks per link transaction.
	SetBuffered(uid UID, buffered bool) error

	// Start prepares the receive path for hdl. Called before the FPGA is
	// commanded to collect samples.
	Start(uid UID, hdl rf.RxHandle) error

	// Stop halts the receive path for hdl. Called before the FPGA is
	// commanded to stop. Buffered blocks may still be returned by Receive
	// afterward.
	Stop(uid UID, hdl rf.RxHandle) error

	Pause(uid UID) error
	Resume(uid UID) error

	// Flush discards data buffered while paused.
	Flush(uid UID) error

	// SetTransferTimeout sets the minimum blocking time for Receive, in
	// microseconds. Accepts rf.RxWaitForever, rf.RxNoWait, or a bounded
	// value in [rf.MinRxTimeoutUS, rf.MaxRxTimeoutUS].
	SetTransferTimeout(uid UID, timeoutUS int32) error

	// Receive returns the next available block, honoring the configured
	// transfer timeout.
	Receive(uid UID) (RxResult, error)
}

// TxOps is the transmit streaming path of a backend.
type TxOps interface {
	// Initialize configures the transmit path. blockBytes is the exact
	// payload length of every subsequent Transmit and is a multiple of
	// rf.TxBlockQuantum. threads and complete are meaningful only in
	// async transfer mode.
	Initialize(uid UID, mode rf.TxTransferMode, blockBytes uint32, threads int, priority int, complete TxCompleteFunc) error

	// Start prepares the transmit link. Called after the FPGA has been
	// commanded to transmit.
	Start(uid UID, hdl rf.TxHandle) error

	// PreStop prepares the transmit link to stop. Called before the FPGA
	// is commanded to stop.
	PreStop(uid UID, hdl rf.TxHandle) error

	// Stop halts the transmit link. Called after the FPGA has been
	// commanded to stop.
	Stop(uid UID, hdl rf.TxHandle) error

	// Transmit commits one block to hardware. The call blocks until the
	// hardware has accepted the block.
	Transmit(uid UID, hdl rf.TxHandle, block *TxBlock, token any) error
}

// Capabilities describes what a given card can do. Capabilities are
// queried, never assumed; platform differences (shared oscillator paths,
// late-timestamp support) surface only here.
type Capabilities struct {
	// SharedLO means RX and TX share an oscillator path; a single hop
	// retunes both directions.
	SharedLO bool

	// AllowLateTimestamps means the transmit path supports
	// rf.TxFlowWithTimestampsAllowLate.
	AllowLateTimestamps bool

	// LowLatencyStream means the receive path supports rf.RxStreamLowLatency.
	LowLatencyStream bool

	// PPS means the card has a usable PPS input.
	PPS bool

	// RxConflicts maps each receive handle to the handles it cannot
	// stream alongside.
	RxConflicts map[rf.RxHandle][]rf.RxHandle
}

// ConflictsWith reports whether a and b cannot stream concurrently.
func (c Capabilities) ConflictsWith(a, b rf.RxHandle) bool {
	for _, h := range c.RxConflicts[a] {
		if h == b {
			return true
		}
	}
	return false
}

// Backend is one pluggable transport implementation. The registry owns the
// binding; controllers only read it.
type Backend interface {
	Kind() rf.XportKind
	Card() CardOps
	Registers() RegisterOps
	Rx() RxOps
	Tx() TxOps

	// Capabilities reports what the card identified by uid supports.
	Capabilities(uid UID) Capabilities
}
