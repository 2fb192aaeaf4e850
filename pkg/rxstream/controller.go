// Package rxstream implements the receive streaming controller: the
// per-handle state machine that sequences transport and FPGA operations
// for starting, stopping, and polling receive streams, including
// multi-handle synchronized triggers.
package rxstream

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldwave/rfplane/pkg/fpga"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

// State is the position of one receive handle in its lifecycle.
type State int

const (
	// Idle: no stream, no buffered data owed to the caller.
	Idle State = iota
	// Configuring: a start is in progress (possibly blocked on a trigger).
	Configuring
	// Streaming: the FPGA is collecting samples for this handle.
	Streaming
	// Draining: the FPGA was commanded to stop but transport buffers may
	// still hold blocks; the caller drains via Receive and finalizes with
	// StopFinal.
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// FPGA control addresses for the receive path. One control word per
// handle; the sync strobe latches pending start/stop bits across handles
// in the same sample clock cycle.
const (
	regRxCtrlBase   uint32 = 0x0100 // + 4*handle
	regRxStopTSBase uint32 = 0x0140 // + 8*handle, 64-bit stop timestamp
	regRxSyncStrobe uint32 = 0x01f0

	rxCtrlStart uint32 = 1 << 0
	rxCtrlStop  uint32 = 0
	rxCtrlArm   uint32 = 1 << 1 // start/stop applies on sync strobe
)

func rxCtrlAddr(h rf.RxHandle) uint32   { return regRxCtrlBase + 4*uint32(h) }
func rxStopTSAddr(h rf.RxHandle) uint32 { return regRxStopTSBase + 8*uint32(h) }

// pollChunkUS bounds one backend receive transfer so a concurrent Stop can
// interrupt bounded and infinite waits promptly.
const pollChunkUS int32 = 20000

// Config is the per-handle stream configuration. Changing it while the
// handle is streaming stores the value; it takes effect on the next start.
type Config struct {
	Mode       rf.RxStreamMode
	SampleRate uint32 // samples per second
}

// Stats is a snapshot of per-handle receive counters.
type Stats struct {
	Blocks   uint64
	Overruns uint64
}

type channel struct {
	state   State
	active  Config
	pending *Config
	stats   Stats
}

// Controller drives the receive path of one card.
type Controller struct {
	mu   sync.Mutex
	uid  xport.UID
	be   xport.Backend
	regs *fpga.Registers
	log  *slog.Logger

	chans map[rf.RxHandle]*channel

	// stopSeq increments on every stop so blocked Receive calls return
	// promptly without data.
	stopSeq uint64
}

// New returns a controller for the card identified by uid. logger may be nil.
func New(uid xport.UID, be xport.Backend, regs *fpga.Registers, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		uid:   uid,
		be:    be,
		regs:  regs,
		log:   logger,
		chans: make(map[rf.RxHandle]*channel),
	}
	for h := rf.RxA1; h.Valid(); h++ {
		c.chans[h] = &channel{active: Config{Mode: rf.RxStreamHighThroughput, SampleRate: 1_000_000}}
	}
	return c
}

// State reports the lifecycle position of h.
func (c *Controller) State(h rf.RxHandle) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chans[h]; ok {
		return ch.state
	}
	return Idle
}

// Stats returns the counters for h.
func (c *Controller) Stats(h rf.RxHandle) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.chans[h]; ok {
		return ch.stats
	}
	return Stats{}
}

// Configure sets the stream mode and sample rate for h. While h is idle
// the configuration takes effect on the next start; while h is active the
// value is stored and deferred until the stream is restarted.
func (c *Controller) Configure(h rf.RxHandle, cfg Config) error {
	if !h.Valid() {
		return fmt.Errorf("configure %s: %w", h, rf.ErrNotFound)
	}
	if cfg.Mode == rf.RxStreamLowLatency && !c.be.Capabilities(c.uid).LowLatencyStream {
		return fmt.Errorf("stream mode %s: %w", cfg.Mode, rf.ErrNotSupported)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.chans[h]
	if ch.state == Idle {
		ch.active = cfg
		ch.pending = nil
		return nil
	}
	// Deferred apply: the in-flight stream keeps its block size.
	cp := cfg
	ch.pending = &cp
	c.log.Debug("stream config deferred until restart", "handle", h.String())
	return nil
}

// ActiveConfig returns the configuration currently in effect for h.
func (c *Controller) ActiveConfig(h rf.RxHandle) Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chans[h].active
}

// StartMulti starts streaming on every handle in handles as one atomic
// operation: either all of them end up streaming or none do.
//
// For rf.TriggerOnPPS the call blocks until the PPS edge occurs; there is
// no cancellation and the caller must not issue conflicting operations on
// the same handles while blocked. ts is ignored for other triggers.
func (c *Controller) StartMulti(handles []rf.RxHandle, trigger rf.TriggerSource, ts rf.Timestamp) error {
	if len(handles) == 0 {
		return fmt.Errorf("start: empty handle set: %w", rf.ErrNotFound)
	}
	for _, h := range handles {
		if !h.Valid() {
			return fmt.Errorf("start %s: %w", h, rf.ErrNotFound)
		}
	}
	caps := c.be.Capabilities(c.uid)

	c.mu.Lock()
	// Validate the whole set before touching anything.
	for i, h := range handles {
		ch := c.chans[h]
		if ch.state != Idle {
			c.mu.Unlock()
			return fmt.Errorf("start %s: handle is %s: %w", h, ch.state, rf.ErrBusy)
		}
		for _, other := range handles[:i] {
			if other == h {
				c.mu.Unlock()
				return fmt.Errorf("start %s: duplicate handle: %w", h, rf.ErrBusy)
			}
			if caps.ConflictsWith(h, other) {
				c.mu.Unlock()
				return fmt.Errorf("start %s: conflicts with requested %s: %w", h, other, rf.ErrConflict)
			}
		}
		for other, oc := range c.chans {
			if oc.state != Idle && caps.ConflictsWith(h, other) {
				c.mu.Unlock()
				return fmt.Errorf("start %s: conflicts with active %s: %w", h, other, rf.ErrConflict)
			}
		}
	}

	// Swap in any pending configuration; the pair is exchanged atomically
	// at start, never mid-stream.
	var aggregate uint32
	for _, h := range handles {
		ch := c.chans[h]
		if ch.pending != nil {
			ch.active = *ch.pending
			ch.pending = nil
		}
		ch.state = Configuring
		aggregate += ch.active.SampleRate * 4 // 16-bit I + 16-bit Q
	}
	mode := c.chans[handles[0]].active.Mode
	c.mu.Unlock()

	fail := func(started []rf.RxHandle, err error) error {
		c.rollback(handles, started)
		return err
	}

	rx := c.be.Rx()
	if err := rx.Configure(c.uid, aggregate); err != nil {
		return fail(nil, fmt.Errorf("configure rate: %w", err))
	}
	// Block size applies to all receive handles on the card; the mode of
	// the first requested handle decides it.
	if err := rx.SetBlockSize(c.uid, mode.BlockBytes()); err != nil {
		return fail(nil, fmt.Errorf("set block size: %w", err))
	}
	if err := rx.SetBuffered(c.uid, mode == rf.RxStreamHighThroughput); err != nil {
		return fail(nil, fmt.Errorf("set buffered: %w", err))
	}

	if trigger == rf.TriggerOnPPS {
		if !caps.PPS {
			return fail(nil, fmt.Errorf("trigger %s: %w", trigger, rf.ErrNotSupported))
		}
		if err := c.be.Card().WaitPPS(c.uid); err != nil {
			return fail(nil, fmt.Errorf("wait pps: %w", err))
		}
	}

	var started []rf.RxHandle
	for _, h := range handles {
		if err := rx.Pause(c.uid); err != nil {
			return fail(started, fmt.Errorf("pause before %s: %w", h, err))
		}
		if err := rx.Resume(c.uid); err != nil {
			return fail(started, fmt.Errorf("resume before %s: %w", h, err))
		}
		if err := rx.Flush(c.uid); err != nil {
			return fail(started, fmt.Errorf("flush before %s: %w", h, err))
		}
		if err := rx.Start(c.uid, h); err != nil {
			return fail(started, fmt.Errorf("transport start %s: %w", h, err))
		}
		ctrl := rxCtrlStart
		if trigger == rf.TriggerSynced {
			ctrl |= rxCtrlArm
		}
		if err := c.regs.Write(rxCtrlAddr(h), ctrl); err != nil {
			// The transport side of h is up but the FPGA never started;
			// h still counts as started for rollback purposes.
			return fail(append(started, h), fmt.Errorf("fpga start %s: %w", h, err))
		}
		started = append(started, h)
	}

	if trigger == rf.TriggerSynced {
		if err := c.regs.Write(regRxSyncStrobe, 1); err != nil {
			return fail(started, fmt.Errorf("sync strobe: %w", err))
		}
	}

	c.mu.Lock()
	for _, h := range handles {
		c.chans[h].state = Streaming
	}
	c.mu.Unlock()
	c.log.Info("rx streaming started", "uid", uint64(c.uid),
		"handles", len(handles), "trigger", trigger.String())
	return nil
}

// rollback returns every requested handle to idle, unwinding transport and
// FPGA state for the ones that had already started.
func (c *Controller) rollback(requested, started []rf.RxHandle) {
	rx := c.be.Rx()
	for _, h := range started {
		// Best effort; the operation already failed.
		_ = c.regs.Write(rxCtrlAddr(h), rxCtrlStop)
		_ = rx.Stop(c.uid, h)
	}
	c.mu.Lock()
	for _, h := range requested {
		c.chans[h].state = Idle
	}
	c.stopSeq++
	c.mu.Unlock()
	if len(started) > 0 {
		c.log.Warn("rx start rolled back", "uid", uint64(c.uid), "started", len(started))
	}
}

// Start starts a single handle immediately.
func (c *Controller) Start(h rf.RxHandle) error {
	return c.StartMulti([]rf.RxHandle{h}, rf.TriggerImmediate, 0)
}

// StopMulti commands the FPGA boundary stop for every handle in handles.
// Buffered blocks may still be returned by Receive afterward; callers
// drain until no data remains and then finalize each handle with
// StopFinal.
//
// With rf.TriggerOnPPS the stop is scheduled for ts and the call blocks
// until the card's counter reaches it.
func (c *Controller) StopMulti(handles []rf.RxHandle, trigger rf.TriggerSource, ts rf.Timestamp) error {
	if len(handles) == 0 {
		return fmt.Errorf("stop: empty handle set: %w", rf.ErrNotFound)
	}

	c.mu.Lock()
	for _, h := range handles {
		if !h.Valid() {
			c.mu.Unlock()
			return fmt.Errorf("stop %s: %w", h, rf.ErrNotFound)
		}
		if c.chans[h].state != Streaming {
			c.mu.Unlock()
			return fmt.Errorf("stop %s: handle is %s: %w", h, c.chans[h].state, rf.ErrNotStreaming)
		}
	}
	c.mu.Unlock()

	if trigger == rf.TriggerOnPPS {
		if err := c.waitTimestamp(ts); err != nil {
			return err
		}
	}

	rx := c.be.Rx()
	for _, h := range handles {
		// Software before hardware, mirroring start.
		if err := rx.Stop(c.uid, h); err != nil {
			return fmt.Errorf("transport stop %s: %w", h, err)
		}
		ctrl := rxCtrlStop
		if trigger == rf.TriggerSynced {
			ctrl |= rxCtrlArm
		}
		if err := c.regs.Write(rxCtrlAddr(h), ctrl); err != nil {
			return fmt.Errorf("fpga stop %s: %w", h, err)
		}
	}
	if trigger == rf.TriggerSynced {
		if err := c.regs.Write(regRxSyncStrobe, 1); err != nil {
			return fmt.Errorf("sync strobe: %w", err)
		}
	}

	c.mu.Lock()
	for _, h := range handles {
		c.chans[h].state = Draining
	}
	c.stopSeq++
	c.mu.Unlock()
	c.log.Info("rx streaming stopped at fpga", "uid", uint64(c.uid), "handles", len(handles))
	return nil
}

// Stop stops a single handle immediately at the FPGA boundary.
func (c *Controller) Stop(h rf.RxHandle) error {
	return c.StopMulti([]rf.RxHandle{h}, rf.TriggerImmediate, 0)
}

// StopFinal finalizes h after draining. Calling it on an already-idle
// handle is a no-op and returns success; callers may finalize twice.
func (c *Controller) StopFinal(h rf.RxHandle) error {
	if !h.Valid() {
		return fmt.Errorf("stop final %s: %w", h, rf.ErrNotFound)
	}

	c.mu.Lock()
	ch := c.chans[h]
	state := ch.state
	if state == Idle {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	rx := c.be.Rx()
	if state == Streaming {
		// Finalizing a live handle performs the FPGA-boundary stop first.
		if err := c.Stop(h); err != nil {
			return err
		}
	}
	_ = rx.Flush(c.uid)

	c.mu.Lock()
	ch.state = Idle
	c.stopSeq++
	c.mu.Unlock()
	c.log.Debug("rx handle finalized", "uid", uint64(c.uid), "handle", h.String())
	return nil
}

// ResetAll forces every handle to idle without touching hardware. The card
// manager calls it from the link-up hook after FPGA reprogramming, when
// the hardware is known to be back in its reset state.
func (c *Controller) ResetAll() {
	c.mu.Lock()
	for _, ch := range c.chans {
		ch.state = Idle
	}
	c.stopSeq++
	c.mu.Unlock()
	c.log.Info("rx channels reset to idle", "uid", uint64(c.uid))
}

// Receive polls for the next receive block. timeoutUS is rf.RxNoWait,
// rf.RxWaitForever, or a bounded wait in microseconds. Bounded and
// infinite waits return promptly with rf.RxNoData when a concurrent stop
// lands on the card; that is the only supported cancellation mechanism.
//
// An overrun result is edge-triggered: it is reported once and cleared by
// the poll, and stale pre-overrun data is never requeued.
func (c *Controller) Receive(timeoutUS int32) (xport.RxResult, error) {
	if !rf.ValidRxTimeout(timeoutUS) {
		return xport.RxResult{Status: rf.RxError},
			fmt.Errorf("receive timeout %d us: %w", timeoutUS, rf.ErrNotSupported)
	}

	c.mu.Lock()
	active := false
	for _, ch := range c.chans {
		if ch.state == Streaming || ch.state == Draining {
			active = true
			break
		}
	}
	seq := c.stopSeq
	c.mu.Unlock()
	if !active {
		return xport.RxResult{Status: rf.RxNotStreaming, Handle: rf.InvalidRxHandle}, nil
	}

	rx := c.be.Rx()

	// One backend transfer is bounded to pollChunkUS so a concurrent stop
	// can interrupt the wait; the requested policy is honored by looping.
	chunk := timeoutUS
	if timeoutUS == rf.RxWaitForever || timeoutUS > pollChunkUS {
		chunk = pollChunkUS
	}
	if err := rx.SetTransferTimeout(c.uid, chunk); err != nil {
		return xport.RxResult{Status: rf.RxError}, fmt.Errorf("set transfer timeout: %w", err)
	}

	var deadline time.Time
	if timeoutUS > 0 {
		deadline = time.Now().Add(time.Duration(timeoutUS) * time.Microsecond)
	}

	for {
		res, err := rx.Receive(c.uid)
		if err != nil {
			return xport.RxResult{Status: rf.RxError}, fmt.Errorf("receive: %w", err)
		}
		if res.Status != rf.RxNoData {
			c.account(res)
			return res, nil
		}
		if timeoutUS == rf.RxNoWait {
			return res, nil
		}
		c.mu.Lock()
		interrupted := c.stopSeq != seq
		c.mu.Unlock()
		if interrupted {
			return xport.RxResult{Status: rf.RxNoData, Handle: rf.InvalidRxHandle}, nil
		}
		if timeoutUS != rf.RxWaitForever && !time.Now().Before(deadline) {
			return res, nil
		}
	}
}

func (c *Controller) account(res xport.RxResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chans[res.Handle]
	switch res.Status {
	case rf.RxSuccess:
		if ok {
			ch.stats.Blocks++
		}
	case rf.RxOverrun:
		// The transport does not attribute overruns to a handle; charge
		// every active one.
		for _, oc := range c.chans {
			if oc.state == Streaming {
				oc.stats.Overruns++
			}
		}
		c.log.Warn("rx overrun", "uid", uint64(c.uid))
	}
}

// waitTimestamp blocks until the card's RF counter reaches ts.
func (c *Controller) waitTimestamp(ts rf.Timestamp) error {
	for {
		now, err := c.be.Card().ReadTimestamp(c.uid, rf.RFTimestamp)
		if err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		if now >= ts {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}
