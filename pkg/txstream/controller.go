// Package txstream implements the transmit streaming controller: transfer
// and flow mode configuration, the bounded in-flight queue with its worker
// pool for asynchronous transfers, and the start/stop ordering between the
// transport and the FPGA.
package txstream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fieldwave/rfplane/pkg/fpga"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

// State is the controller's position in its lifecycle.
type State int

const (
	Idle State = iota
	Initialized
	Streaming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initialized:
		return "initialized"
	case Streaming:
		return "streaming"
	}
	return "unknown"
}

// FPGA control addresses for the transmit path.
const (
	regTxCtrlBase uint32 = 0x0200 // + 4*handle

	txCtrlStart uint32 = 1 << 0
	txCtrlStop  uint32 = 0
)

func txCtrlAddr(h rf.TxHandle) uint32 { return regTxCtrlBase + 4*uint32(h) }

// Config fixes the transfer pipeline before streaming starts.
type Config struct {
	FlowMode     rf.TxFlowMode
	TransferMode rf.TxTransferMode
	// BlockBytes is the fixed transmit block size, a multiple of
	// rf.TxBlockQuantum.
	BlockBytes uint32
	// Threads is the worker count for asynchronous transfers, clamped to
	// [rf.MinTxThreads, rf.MaxTxThreads]. Ignored for synchronous mode.
	Threads  int
	Priority int
	// Complete, when set, is invoked once per accepted block after the
	// commit resolves. Callbacks run on worker goroutines in completion
	// order, which is not submission order.
	Complete xport.TxCompleteFunc
}

// Stats is a snapshot of transmit counters.
type Stats struct {
	// Queued is the current depth of the in-flight queue.
	Queued int
	// Sent counts blocks committed to the transport.
	Sent uint64
	// Late counts timestamped blocks dropped for arriving past their
	// scheduled time. Reset on Stop.
	Late uint64
	// Underruns counts the times workers found the queue empty while the
	// hardware pipeline was running. Reset on Start.
	Underruns uint64
	// Completions counts completion callback invocations.
	Completions uint64
}

type queueItem struct {
	hdl   rf.TxHandle
	block *xport.TxBlock
	token any
}

// Controller drives the transmit path of one card.
type Controller struct {
	mu   sync.Mutex
	uid  xport.UID
	be   xport.Backend
	regs *fpga.Registers
	log  *slog.Logger

	state     State
	cfg       Config
	streaming map[rf.TxHandle]bool

	queue chan queueItem
	wg    sync.WaitGroup

	sent        uint64
	late        uint64
	underruns   uint64
	completions uint64
	// underrunLatched makes the counter edge-triggered: one increment per
	// empty period, cleared by the next enqueue.
	underrunLatched bool
}

// New returns a controller for the card identified by uid. logger may be nil.
func New(uid xport.UID, be xport.Backend, regs *fpga.Registers, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		uid:       uid,
		be:        be,
		regs:      regs,
		log:       logger,
		streaming: make(map[rf.TxHandle]bool),
	}
}

// State reports the controller lifecycle position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the transmit counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Sent:        c.sent,
		Late:        c.late,
		Underruns:   c.underruns,
		Completions: c.completions,
	}
	if c.queue != nil {
		s.Queued = len(c.queue)
	}
	return s
}

// Initialize fixes the transfer pipeline. It is rejected while any handle
// is streaming. On any validation failure the previously initialized
// configuration stays in effect.
func (c *Controller) Initialize(cfg Config) error {
	if cfg.BlockBytes == 0 || cfg.BlockBytes%rf.TxBlockQuantum != 0 {
		return fmt.Errorf("block bytes %d: must be a multiple of %d: %w",
			cfg.BlockBytes, rf.TxBlockQuantum, rf.ErrNotSupported)
	}
	if cfg.FlowMode == rf.TxFlowWithTimestampsAllowLate &&
		!c.be.Capabilities(c.uid).AllowLateTimestamps {
		return fmt.Errorf("flow mode %s: %w", cfg.FlowMode, rf.ErrNotSupported)
	}
	if cfg.TransferMode == rf.TxTransferAsync {
		if cfg.Threads < rf.MinTxThreads {
			cfg.Threads = rf.MinTxThreads
		}
		if cfg.Threads > rf.MaxTxThreads {
			cfg.Threads = rf.MaxTxThreads
		}
	}

	c.mu.Lock()
	if c.state == Streaming {
		c.mu.Unlock()
		return fmt.Errorf("initialize while %s: %w", c.state, rf.ErrWrongState)
	}
	prevQueue := c.queue
	c.queue = nil
	c.mu.Unlock()

	// A pool from an earlier initialization is joined before the pipeline
	// is reconfigured.
	if prevQueue != nil {
		close(prevQueue)
		c.wg.Wait()
	}

	if err := c.be.Tx().Initialize(c.uid, cfg.TransferMode, cfg.BlockBytes,
		cfg.Threads, cfg.Priority, cfg.Complete); err != nil {
		return fmt.Errorf("transport initialize: %w", err)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.state = Initialized
	if cfg.TransferMode == rf.TxTransferAsync {
		c.queue = make(chan queueItem, rf.MaxTxQueuedBlocks)
		c.wg.Add(cfg.Threads)
		for i := 0; i < cfg.Threads; i++ {
			go c.worker(c.queue)
		}
	}
	c.mu.Unlock()

	c.log.Info("tx pipeline initialized", "uid", uint64(c.uid),
		"transfer", cfg.TransferMode.String(), "flow", cfg.FlowMode.String(),
		"block_bytes", cfg.BlockBytes, "threads", cfg.Threads)
	return nil
}

// Start begins streaming on hdl. The FPGA is commanded before the
// transport start. Resets the underrun counter.
func (c *Controller) Start(hdl rf.TxHandle) error {
	if !hdl.Valid() {
		return fmt.Errorf("start %s: %w", hdl, rf.ErrNotFound)
	}

	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return fmt.Errorf("start %s before initialize: %w", hdl, rf.ErrWrongState)
	}
	if c.streaming[hdl] {
		c.mu.Unlock()
		return fmt.Errorf("start %s: already streaming: %w", hdl, rf.ErrBusy)
	}
	c.mu.Unlock()

	// Hardware first; the transport start assumes samples are flowing.
	if err := c.regs.Write(txCtrlAddr(hdl), txCtrlStart); err != nil {
		return fmt.Errorf("fpga start %s: %w", hdl, err)
	}
	if err := c.be.Tx().Start(c.uid, hdl); err != nil {
		_ = c.regs.Write(txCtrlAddr(hdl), txCtrlStop)
		return fmt.Errorf("transport start %s: %w", hdl, err)
	}

	c.mu.Lock()
	c.streaming[hdl] = true
	c.state = Streaming
	c.underruns = 0
	c.underrunLatched = false
	c.mu.Unlock()
	c.log.Info("tx streaming started", "uid", uint64(c.uid), "handle", hdl.String())
	return nil
}

// Stop ends streaming on hdl. Blocks accepted before the call are
// committed, not dropped: the in-flight queue drains through the workers
// before the hardware pipeline is torn down. Resets the late counter.
func (c *Controller) Stop(hdl rf.TxHandle) error {
	if !hdl.Valid() {
		return fmt.Errorf("stop %s: %w", hdl, rf.ErrNotFound)
	}

	c.mu.Lock()
	if !c.streaming[hdl] {
		c.mu.Unlock()
		return fmt.Errorf("stop %s: %w", hdl, rf.ErrNotStreaming)
	}
	delete(c.streaming, hdl)
	last := len(c.streaming) == 0
	var q chan queueItem
	if last {
		q = c.queue
		c.queue = nil
	}
	c.mu.Unlock()

	if err := c.be.Tx().PreStop(c.uid, hdl); err != nil {
		if q != nil {
			close(q)
			c.wg.Wait()
		}
		return fmt.Errorf("transport pre-stop %s: %w", hdl, err)
	}
	if q != nil {
		close(q)
		c.wg.Wait()
	}
	if err := c.regs.Write(txCtrlAddr(hdl), txCtrlStop); err != nil {
		return fmt.Errorf("fpga stop %s: %w", hdl, err)
	}
	if err := c.be.Tx().Stop(c.uid, hdl); err != nil {
		return fmt.Errorf("transport stop %s: %w", hdl, err)
	}

	c.mu.Lock()
	if last {
		c.state = Idle
	}
	c.late = 0
	c.mu.Unlock()
	c.log.Info("tx streaming stopped", "uid", uint64(c.uid), "handle", hdl.String())
	return nil
}

// Transmit submits one block. In synchronous mode the call blocks until
// the transport commits the block. In asynchronous mode the block enters
// the bounded in-flight queue; a full queue returns rf.ErrQueueFull,
// which is normal backpressure and retryable.
func (c *Controller) Transmit(hdl rf.TxHandle, block *xport.TxBlock, token any) error {
	c.mu.Lock()
	if !c.streaming[hdl] {
		c.mu.Unlock()
		return fmt.Errorf("transmit %s: %w", hdl, rf.ErrNotStreaming)
	}
	cfg := c.cfg
	q := c.queue
	c.mu.Unlock()

	if len(block.Data) != int(cfg.BlockBytes) {
		return fmt.Errorf("transmit %s: block is %d bytes, pipeline expects %d: %w",
			hdl, len(block.Data), cfg.BlockBytes, rf.ErrNotSupported)
	}

	if cfg.TransferMode == rf.TxTransferSync {
		return c.commit(queueItem{hdl: hdl, block: block, token: token}, cfg)
	}

	select {
	case q <- queueItem{hdl: hdl, block: block, token: token}:
		c.mu.Lock()
		c.underrunLatched = false
		c.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("transmit %s: %w", hdl, rf.ErrQueueFull)
	}
}

func (c *Controller) worker(q chan queueItem) {
	defer c.wg.Done()
	for {
		select {
		case item, ok := <-q:
			if !ok {
				return
			}
			c.asyncCommit(item)
		default:
			c.noteUnderrun()
			item, ok := <-q
			if !ok {
				return
			}
			c.asyncCommit(item)
		}
	}
}

func (c *Controller) asyncCommit(item queueItem) {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()
	if err := c.commit(item, cfg); err != nil && !errors.Is(err, rf.ErrLateTimestamp) {
		c.log.Error("tx commit failed", "uid", uint64(c.uid),
			"handle", item.hdl.String(), "error", err)
	}
}

// commit resolves one block against the flow mode and pushes it to the
// transport. The completion callback fires exactly once per accepted
// block, including late drops.
func (c *Controller) commit(item queueItem, cfg Config) error {
	if cfg.FlowMode == rf.TxFlowWithTimestamps {
		now, err := c.be.Card().ReadTimestamp(c.uid, rf.RFTimestamp)
		if err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		if item.block.Timestamp < now {
			c.mu.Lock()
			c.late++
			c.mu.Unlock()
			c.finish(rf.ErrLateTimestamp, item, cfg)
			return fmt.Errorf("block scheduled for %d, counter at %d: %w",
				item.block.Timestamp, now, rf.ErrLateTimestamp)
		}
	}

	err := c.be.Tx().Transmit(c.uid, item.hdl, item.block, item.token)
	if err != nil {
		c.finish(err, item, cfg)
		return fmt.Errorf("transport transmit: %w", err)
	}

	c.mu.Lock()
	c.sent++
	c.mu.Unlock()
	c.finish(nil, item, cfg)
	return nil
}

func (c *Controller) finish(status error, item queueItem, cfg Config) {
	if cfg.Complete == nil {
		return
	}
	cfg.Complete(status, item.block, item.token)
	c.mu.Lock()
	c.completions++
	c.mu.Unlock()
}

// noteUnderrun records one edge of the queue running dry while the
// pipeline is live. Startup before the first block is not an underrun.
func (c *Controller) noteUnderrun() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Streaming && c.sent > 0 && !c.underrunLatched {
		c.underruns++
		c.underrunLatched = true
		c.log.Warn("tx underrun", "uid", uint64(c.uid))
	}
}

// Reset forces the controller to idle without touching hardware, for use
// after FPGA reprogramming. Any worker pool is joined.
func (c *Controller) Reset() {
	c.mu.Lock()
	q := c.queue
	c.queue = nil
	c.streaming = make(map[rf.TxHandle]bool)
	c.state = Idle
	c.mu.Unlock()
	if q != nil {
		close(q)
		c.wg.Wait()
	}
	c.log.Info("tx controller reset", "uid", uint64(c.uid))
}
