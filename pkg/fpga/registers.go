// Package fpga provides the register access facade for one card. It
// serializes register traffic, enforces the link up/down bracket around
// transport disruptions, and notifies listeners when the link comes back
// up after reprogramming.
package fpga

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

// Registers is the per-card register facade. All register operations are
// serialized by an internal mutex, so operations on one card are strictly
// ordered relative to each other; no ordering is implied across cards.
type Registers struct {
	mu  sync.Mutex
	uid xport.UID
	ops xport.RegisterOps
	log *slog.Logger

	linkDown bool
	onLinkUp []func()
}

// New returns a facade over ops for uid. logger may be nil.
func New(uid xport.UID, ops xport.RegisterOps, logger *slog.Logger) *Registers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registers{uid: uid, ops: ops, log: logger}
}

// OnLinkUp registers fn to run after every successful LinkUp. The card
// manager uses this to reset receive channels to idle, which callers of
// reprogramming rely on as a hard post-condition.
func (r *Registers) OnLinkUp(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onLinkUp = append(r.onLinkUp, fn)
}

func (r *Registers) checkLink() error {
	if r.linkDown {
		return rf.ErrLinkDown
	}
	return nil
}

// Read returns the register at addr.
func (r *Registers) Read(addr uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLink(); err != nil {
		return 0, err
	}
	val, err := r.ops.Read(r.uid, addr)
	if err != nil {
		return 0, fmt.Errorf("read reg 0x%08x: %w", addr, errHardware(err))
	}
	return val, nil
}

// Write stores val at addr.
func (r *Registers) Write(addr, val uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLink(); err != nil {
		return err
	}
	if err := r.ops.Write(r.uid, addr, val); err != nil {
		return fmt.Errorf("write reg 0x%08x: %w", addr, errHardware(err))
	}
	return nil
}

// Verify checks that the register at addr holds val without writing it.
func (r *Registers) Verify(addr, val uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLink(); err != nil {
		return err
	}
	if err := r.ops.Verify(r.uid, addr, val); err != nil {
		return fmt.Errorf("verify reg 0x%08x: %w", addr, errHardware(err))
	}
	return nil
}

// WriteAndVerify writes val to addr, reads it back, and fails with
// rf.ErrVerifyMismatch when the read back value differs.
func (r *Registers) WriteAndVerify(addr, val uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLink(); err != nil {
		return err
	}
	if err := r.ops.WriteAndVerify(r.uid, addr, val); err != nil {
		return fmt.Errorf("write reg 0x%08x: %w", addr, errHardware(err))
	}
	got, err := r.ops.Read(r.uid, addr)
	if err != nil {
		return fmt.Errorf("verify reg 0x%08x: %w", addr, errHardware(err))
	}
	if got != val {
		return fmt.Errorf("reg 0x%08x: wrote 0x%08x read 0x%08x: %w",
			addr, val, got, rf.ErrVerifyMismatch)
	}
	return nil
}

// Read64 returns the 64-bit register pair at addr.
func (r *Registers) Read64(addr uint32) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLink(); err != nil {
		return 0, err
	}
	val, err := r.ops.Read64(r.uid, addr)
	if err != nil {
		return 0, fmt.Errorf("read reg64 0x%08x: %w", addr, errHardware(err))
	}
	return val, nil
}

// Write64 stores a 64-bit value at the register pair at addr.
func (r *Registers) Write64(addr uint32, val uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLink(); err != nil {
		return err
	}
	if err := r.ops.Write64(r.uid, addr, val); err != nil {
		return fmt.Errorf("write reg64 0x%08x: %w", addr, errHardware(err))
	}
	return nil
}

// LinkDown tears down transport communication. All register operations
// fail with rf.ErrLinkDown until a successful LinkUp.
func (r *Registers) LinkDown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.linkDown {
		return nil
	}
	if err := r.ops.LinkDown(r.uid); err != nil {
		return fmt.Errorf("link down: %w", errHardware(err))
	}
	r.linkDown = true
	r.log.Info("transport link down", "uid", uint64(r.uid))
	return nil
}

// LinkUp restores transport communication and runs the registered
// link-up hooks.
func (r *Registers) LinkUp() error {
	r.mu.Lock()
	if err := r.ops.LinkUp(r.uid); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("link up: %w", errHardware(err))
	}
	r.linkDown = false
	hooks := make([]func(), len(r.onLinkUp))
	copy(hooks, r.onLinkUp)
	r.mu.Unlock()

	r.log.Info("transport link up", "uid", uint64(r.uid))
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Reprogram brackets an FPGA reload from the bitstream at flashAddr:
// link down with reload intent, then link up. After Reprogram returns
// successfully, every receive channel on the card is idle.
func (r *Registers) Reprogram(flashAddr uint32) error {
	r.mu.Lock()
	if err := r.ops.LinkDownReload(r.uid, flashAddr); err != nil {
		r.mu.Unlock()
		return fmt.Errorf("link down for reload: %w", errHardware(err))
	}
	r.linkDown = true
	r.mu.Unlock()

	r.log.Info("reprogramming fpga", "uid", uint64(r.uid), "flash_addr", flashAddr)
	return r.LinkUp()
}

// errHardware wraps backend failures in the hardware-fault kind unless the
// backend already returned a classified error.
func errHardware(err error) error {
	if err == nil {
		return nil
	}
	for _, sentinel := range []error{
		rf.ErrVerifyMismatch, rf.ErrLinkDown, rf.ErrNotFound,
		rf.ErrNotSupported, rf.ErrTimeout, rf.ErrHardware,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", rf.ErrHardware, err)
}
