// Package freqhop implements per-context frequency control: standard
// retunes and the hop-list fast path where frequencies are pre-programmed
// and applied immediately or on an RF timestamp.
package freqhop

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fieldwave/rfplane/pkg/fpga"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

// Direction selects the receive or transmit tuning context.
type Direction int

const (
	Rx Direction = iota
	Tx
)

func (d Direction) String() string {
	if d == Tx {
		return "tx"
	}
	return "rx"
}

// FPGA layout for one tuning context: active frequency, staged hop
// frequency, hop timestamp, and the apply strobe.
const (
	regFreqBase   uint32 = 0x0300
	regFreqStride uint32 = 32

	offActiveFreq uint32 = 0
	offStagedFreq uint32 = 8
	offHopTS      uint32 = 16
	offApply      uint32 = 24
)

func (c *Coordinator) regAddr(off uint32) uint32 {
	ctx := uint32(c.dir)*8 + uint32(c.handle)
	return regFreqBase + ctx*regFreqStride + off
}

// Coordinator owns the tune state of one (card, handle, direction)
// context. It never touches streaming state; retunes and hops are legal
// while the associated stream is live.
type Coordinator struct {
	mu     sync.Mutex
	uid    xport.UID
	dir    Direction
	handle int
	be     xport.Backend
	regs   *fpga.Registers
	log    *slog.Logger

	mode rf.FreqTuneMode
	freq rf.Hz

	hops []rf.Hz
	cur  int
	next int

	// peer is the opposite-direction context on shared-LO hardware; a
	// hop or retune here drags the peer's frequency along.
	peer *Coordinator
}

// New returns a coordinator for one tuning context in standard mode.
// logger may be nil.
func New(uid xport.UID, dir Direction, handle int, be xport.Backend, regs *fpga.Registers, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		uid:    uid,
		dir:    dir,
		handle: handle,
		be:     be,
		regs:   regs,
		log:    logger,
		mode:   rf.TuneStandard,
		cur:    -1,
		next:   -1,
	}
}

// Couple links c and peer as a shared-LO pair. The card manager calls
// this only when the backend reports the SharedLO capability.
func Couple(a, b *Coordinator) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

// Mode reports the current tune mode.
func (c *Coordinator) Mode() rf.FreqTuneMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Frequency reports the last applied frequency for this context.
func (c *Coordinator) Frequency() rf.Hz {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.freq
}

// SetTuneMode switches between standard tuning and the hop fast path.
// Changing mode discards any configured hop list.
func (c *Coordinator) SetTuneMode(mode rf.FreqTuneMode) error {
	switch mode {
	case rf.TuneStandard, rf.TuneHopImmediate, rf.TuneHopOnTimestamp:
	default:
		return fmt.Errorf("tune mode %d: %w", mode, rf.ErrNotSupported)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.hops = nil
	c.cur = -1
	c.next = -1
	c.log.Debug("tune mode changed", "uid", uint64(c.uid),
		"dir", c.dir.String(), "handle", c.handle, "mode", mode.String())
	return nil
}

// Retune is the standard-mode direct tune path.
func (c *Coordinator) Retune(freq rf.Hz) error {
	c.mu.Lock()
	if c.mode != rf.TuneStandard {
		c.mu.Unlock()
		return fmt.Errorf("retune in %s mode: %w", c.mode, rf.ErrWrongMode)
	}
	c.mu.Unlock()

	if err := c.apply(freq); err != nil {
		return err
	}
	c.log.Info("retuned", "uid", uint64(c.uid), "dir", c.dir.String(),
		"handle", c.handle, "freq_hz", uint64(freq))
	return nil
}

// apply writes the active frequency, strobes it, and drags a shared-LO
// peer to the same frequency.
func (c *Coordinator) apply(freq rf.Hz) error {
	if err := c.regs.Write64(c.regAddr(offActiveFreq), uint64(freq)); err != nil {
		return fmt.Errorf("write frequency: %w", err)
	}
	if err := c.regs.Write(c.regAddr(offApply), 1); err != nil {
		return fmt.Errorf("apply strobe: %w", err)
	}

	c.mu.Lock()
	c.freq = freq
	peer := c.peer
	c.mu.Unlock()

	if peer != nil {
		if err := peer.adopt(freq); err != nil {
			return fmt.Errorf("shared lo peer: %w", err)
		}
	}
	return nil
}

// adopt moves this context to freq because its shared-LO peer tuned.
func (c *Coordinator) adopt(freq rf.Hz) error {
	if err := c.regs.Write64(c.regAddr(offActiveFreq), uint64(freq)); err != nil {
		return err
	}
	if err := c.regs.Write(c.regAddr(offApply), 1); err != nil {
		return err
	}
	c.mu.Lock()
	c.freq = freq
	c.mu.Unlock()
	return nil
}

// SetHopList programs the hop frequencies and tunes to initialIdx. Only
// valid in a hopping mode. The list is bounded by rf.MaxFreqHops.
func (c *Coordinator) SetHopList(freqs []rf.Hz, initialIdx int) error {
	c.mu.Lock()
	if !c.mode.Hopping() {
		c.mu.Unlock()
		return fmt.Errorf("hop list in %s mode: %w", c.mode, rf.ErrWrongMode)
	}
	c.mu.Unlock()

	if len(freqs) == 0 || len(freqs) > rf.MaxFreqHops {
		return fmt.Errorf("hop list of %d entries, limit %d: %w",
			len(freqs), rf.MaxFreqHops, rf.ErrNotSupported)
	}
	if initialIdx < 0 || initialIdx >= len(freqs) {
		return fmt.Errorf("initial hop index %d out of [0,%d): %w",
			initialIdx, len(freqs), rf.ErrNotFound)
	}

	if err := c.apply(freqs[initialIdx]); err != nil {
		return err
	}

	c.mu.Lock()
	c.hops = append([]rf.Hz(nil), freqs...)
	c.cur = initialIdx
	c.next = -1
	c.mu.Unlock()
	c.log.Info("hop list programmed", "uid", uint64(c.uid),
		"dir", c.dir.String(), "handle", c.handle,
		"entries", len(freqs), "initial", initialIdx)
	return nil
}

// ArmNextHop stages hop list entry idx as the next hop. The staged
// frequency is pre-programmed so PerformHop is a single strobe.
func (c *Coordinator) ArmNextHop(idx int) error {
	c.mu.Lock()
	if !c.mode.Hopping() {
		c.mu.Unlock()
		return fmt.Errorf("arm hop in %s mode: %w", c.mode, rf.ErrWrongMode)
	}
	if c.hops == nil {
		c.mu.Unlock()
		return fmt.Errorf("arm hop before hop list: %w", rf.ErrWrongState)
	}
	if idx < 0 || idx >= len(c.hops) {
		n := len(c.hops)
		c.mu.Unlock()
		return fmt.Errorf("hop index %d out of [0,%d): %w", idx, n, rf.ErrNotFound)
	}
	freq := c.hops[idx]
	c.mu.Unlock()

	if err := c.regs.Write64(c.regAddr(offStagedFreq), uint64(freq)); err != nil {
		return fmt.Errorf("stage frequency: %w", err)
	}

	c.mu.Lock()
	c.next = idx
	c.mu.Unlock()
	return nil
}

// PerformHop applies the armed hop. In HopImmediate mode ts is ignored.
// In HopOnTimestamp mode the hop is scheduled for ts; a ts at or behind
// the card's RF counter executes immediately rather than failing, so a
// caller that fell behind catches up instead of stalling the schedule.
func (c *Coordinator) PerformHop(ts rf.Timestamp) error {
	c.mu.Lock()
	if !c.mode.Hopping() {
		c.mu.Unlock()
		return fmt.Errorf("hop in %s mode: %w", c.mode, rf.ErrWrongMode)
	}
	if c.next < 0 {
		c.mu.Unlock()
		return fmt.Errorf("hop with nothing armed: %w", rf.ErrWrongState)
	}
	mode := c.mode
	idx := c.next
	freq := c.hops[idx]
	c.mu.Unlock()

	if mode == rf.TuneHopOnTimestamp {
		now, err := c.be.Card().ReadTimestamp(c.uid, rf.RFTimestamp)
		if err != nil {
			return fmt.Errorf("read timestamp: %w", err)
		}
		if ts > now {
			if err := c.regs.Write64(c.regAddr(offHopTS), uint64(ts)); err != nil {
				return fmt.Errorf("write hop timestamp: %w", err)
			}
		} else {
			c.log.Warn("hop timestamp in the past, executing now",
				"uid", uint64(c.uid), "dir", c.dir.String(),
				"scheduled", uint64(ts), "counter", uint64(now))
			// Clear the schedule so the strobe applies immediately.
			if err := c.regs.Write64(c.regAddr(offHopTS), 0); err != nil {
				return fmt.Errorf("write hop timestamp: %w", err)
			}
		}
	}

	if err := c.apply(freq); err != nil {
		return err
	}

	c.mu.Lock()
	c.cur = idx
	c.next = -1
	c.mu.Unlock()
	return nil
}

// CurrentHop reports the last applied hop list index and frequency.
func (c *Coordinator) CurrentHop() (int, rf.Hz, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mode.Hopping() {
		return 0, 0, fmt.Errorf("current hop in %s mode: %w", c.mode, rf.ErrWrongMode)
	}
	if c.hops == nil {
		return 0, 0, fmt.Errorf("current hop before hop list: %w", rf.ErrWrongState)
	}
	return c.cur, c.hops[c.cur], nil
}

// NextHop reports the armed hop, or index -1 when nothing is armed.
func (c *Coordinator) NextHop() (int, rf.Hz, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mode.Hopping() {
		return 0, 0, fmt.Errorf("next hop in %s mode: %w", c.mode, rf.ErrWrongMode)
	}
	if c.next < 0 {
		return -1, 0, nil
	}
	return c.next, c.hops[c.next], nil
}
