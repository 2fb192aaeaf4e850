package rf

// RxHandle identifies a logical receive channel on a card.
type RxHandle int

const (
	RxA1 RxHandle = iota
	RxA2
	RxB1
	RxB2
	RxC1
	RxD1
	rxHandleEnd
)

// InvalidRxHandle is returned when no receive handle applies.
const InvalidRxHandle = RxHandle(-1)

// NumRxHandles is the number of receive handles a card may expose.
const NumRxHandles = int(rxHandleEnd)

func (h RxHandle) String() string {
	switch h {
	case RxA1:
		return "RxA1"
	case RxA2:
		return "RxA2"
	case RxB1:
		return "RxB1"
	case RxB2:
		return "RxB2"
	case RxC1:
		return "RxC1"
	case RxD1:
		return "RxD1"
	}
	return "RxInvalid"
}

// Valid reports whether h names a real receive handle.
func (h RxHandle) Valid() bool { return h >= RxA1 && h < rxHandleEnd }

// TxHandle identifies a logical transmit channel on a card.
type TxHandle int

const (
	TxA1 TxHandle = iota
	TxA2
	TxB1
	TxB2
	txHandleEnd
)

// InvalidTxHandle is returned when no transmit handle applies.
const InvalidTxHandle = TxHandle(-1)

// NumTxHandles is the number of transmit handles a card may expose.
const NumTxHandles = int(txHandleEnd)

func (h TxHandle) String() string {
	switch h {
	case TxA1:
		return "TxA1"
	case TxA2:
		return "TxA2"
	case TxB1:
		return "TxB1"
	case TxB2:
		return "TxB2"
	}
	return "TxInvalid"
}

// Valid reports whether h names a real transmit handle.
func (h TxHandle) Valid() bool { return h >= TxA1 && h < txHandleEnd }

// TriggerSource gates a synchronized multi-handle start or stop.
type TriggerSource int

const (
	// TriggerImmediate starts or stops without synchronization between handles.
	TriggerImmediate TriggerSource = iota
	// TriggerOnPPS waits for the next PPS edge; the call blocks until it occurs.
	TriggerOnPPS
	// TriggerSynced acts immediately but with RF timestamps aligned across
	// the handle set.
	TriggerSynced
)

func (t TriggerSource) String() string {
	switch t {
	case TriggerImmediate:
		return "immediate"
	case TriggerOnPPS:
		return "1pps"
	case TriggerSynced:
		return "synced"
	}
	return "unknown"
}

// TxFlowMode controls whether transmit respects sample timestamps.
type TxFlowMode int

const (
	// TxFlowImmediate transmits blocks as soon as possible, ignoring timestamps.
	TxFlowImmediate TxFlowMode = iota
	// TxFlowWithTimestamps holds each block until its timestamp; blocks whose
	// timestamp has already passed at commit time are dropped and counted.
	TxFlowWithTimestamps
	// TxFlowWithTimestampsAllowLate is like TxFlowWithTimestamps except that
	// late blocks are transmitted anyway and not counted.
	TxFlowWithTimestampsAllowLate
)

func (m TxFlowMode) String() string {
	switch m {
	case TxFlowImmediate:
		return "immediate"
	case TxFlowWithTimestamps:
		return "with-timestamps"
	case TxFlowWithTimestampsAllowLate:
		return "with-timestamps-allow-late"
	}
	return "unknown"
}

// TxTransferMode selects synchronous or asynchronous transmit submission.
type TxTransferMode int

const (
	// TxTransferSync blocks each Transmit call until the hardware accepts the block.
	TxTransferSync TxTransferMode = iota
	// TxTransferAsync queues blocks into a bounded in-flight queue drained by
	// a worker pool; Transmit never blocks.
	TxTransferAsync
)

func (m TxTransferMode) String() string {
	switch m {
	case TxTransferSync:
		return "sync"
	case TxTransferAsync:
		return "async"
	}
	return "unknown"
}

// RxStreamMode trades receive block size against latency. The mode applies
// on the next stream start, never mid-stream.
type RxStreamMode int

const (
	RxStreamHighThroughput RxStreamMode = iota
	RxStreamLowLatency
	RxStreamBalanced
)

func (m RxStreamMode) String() string {
	switch m {
	case RxStreamHighThroughput:
		return "high-throughput"
	case RxStreamLowLatency:
		return "low-latency"
	case RxStreamBalanced:
		return "balanced"
	}
	return "unknown"
}

// BlockBytes returns the receive block size in bytes used by the mode.
func (m RxStreamMode) BlockBytes() uint32 {
	switch m {
	case RxStreamLowLatency:
		return 256
	case RxStreamBalanced:
		return 1024
	default:
		return 4096
	}
}

// FreqTuneMode selects how a channel retunes.
type FreqTuneMode int

const (
	// TuneStandard retunes synchronously with a direct frequency write.
	TuneStandard FreqTuneMode = iota
	// TuneHopImmediate applies a previously armed hop as soon as it is performed.
	TuneHopImmediate
	// TuneHopOnTimestamp applies a previously armed hop at a future RF
	// timestamp; a timestamp already in the past executes immediately.
	TuneHopOnTimestamp
)

func (m FreqTuneMode) String() string {
	switch m {
	case TuneStandard:
		return "standard"
	case TuneHopImmediate:
		return "hop-immediate"
	case TuneHopOnTimestamp:
		return "hop-on-timestamp"
	}
	return "unknown"
}

// Hopping reports whether the mode uses a hop list.
func (m FreqTuneMode) Hopping() bool {
	return m == TuneHopImmediate || m == TuneHopOnTimestamp
}

// InitLevel is the capability level a card is brought to.
type InitLevel int

const (
	// LevelNone means the card is not initialized.
	LevelNone InitLevel = iota
	// LevelBasic brings up only the register path.
	LevelBasic
	// LevelFull brings up the register path and both streaming paths.
	LevelFull
)

func (l InitLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelBasic:
		return "basic"
	case LevelFull:
		return "full"
	}
	return "unknown"
}

// XportKind identifies a transport family.
type XportKind int

const (
	XportPCIe XportKind = iota
	XportUSB
	XportCustom
	XportNet
	// XportAuto selects the preferred available transport.
	XportAuto
)

func (k XportKind) String() string {
	switch k {
	case XportPCIe:
		return "pcie"
	case XportUSB:
		return "usb"
	case XportCustom:
		return "custom"
	case XportNet:
		return "net"
	case XportAuto:
		return "auto"
	}
	return "unknown"
}

// Hotpluggable reports whether the kind may be re-probed after startup.
// PCIe and USB enumeration is a one-shot operation per process.
func (k XportKind) Hotpluggable() bool {
	return k == XportCustom || k == XportNet
}

// RxStatus is the result of one receive poll.
type RxStatus int

const (
	// RxSuccess means a new contiguous block is available.
	RxSuccess RxStatus = iota
	// RxNoData means no block was ready within the wait policy.
	RxNoData
	// RxOverrun means the consumer fell behind and data was overwritten.
	// Overrun is edge-triggered: it is reported once and cleared by the poll.
	RxOverrun
	// RxPacketMalformed means the transport delivered a structurally bad block.
	RxPacketMalformed
	// RxNotStreaming means no receive handle on the card is streaming.
	RxNotStreaming
	// RxError covers transport faults not captured above.
	RxError
)

func (s RxStatus) String() string {
	switch s {
	case RxSuccess:
		return "success"
	case RxNoData:
		return "no-data"
	case RxOverrun:
		return "overrun"
	case RxPacketMalformed:
		return "packet-malformed"
	case RxNotStreaming:
		return "not-streaming"
	case RxError:
		return "error"
	}
	return "unknown"
}

// Hz is a frequency in hertz.
type Hz uint64

// Timestamp is a free-running hardware counter value. RF timestamps advance
// at the sample rate; system timestamps advance at the system clock rate.
type Timestamp uint64

// TimestampSource selects which hardware counter a timestamp refers to.
type TimestampSource int

const (
	RFTimestamp TimestampSource = iota
	SystemTimestamp
)

func (s TimestampSource) String() string {
	switch s {
	case RFTimestamp:
		return "rf"
	case SystemTimestamp:
		return "system"
	}
	return "unknown"
}

// Limits shared across the control plane.
const (
	// MaxCards is the largest number of cards one process may manage.
	MaxCards = 32

	// MaxTxQueuedBlocks caps the asynchronous transmit in-flight queue.
	MaxTxQueuedBlocks = 50

	// MaxFreqHops caps the length of a frequency hop list.
	MaxFreqHops = 512

	// MinTxThreads and MaxTxThreads bound the async transmit worker pool.
	MinTxThreads = 1
	MaxTxThreads = 8

	// TxBlockQuantum is the granularity transmit block sizes must honor.
	TxBlockQuantum = 1024
)

// Receive wait policies, in microseconds. A bounded wait must fall within
// [MinRxTimeoutUS, MaxRxTimeoutUS].
const (
	RxWaitForever  int32 = -1
	RxNoWait       int32 = 0
	MinRxTimeoutUS int32 = 20
	MaxRxTimeoutUS int32 = 1000000
)

// ValidRxTimeout reports whether us is an accepted receive wait policy.
func ValidRxTimeout(us int32) bool {
	if us == RxWaitForever || us == RxNoWait {
		return true
	}
	return us >= MinRxTimeoutUS && us <= MaxRxTimeoutUS
}
