// Package card ties the control plane together: the manager owns the
// transport registry, builds the per-card register facade and streaming
// controllers at initialization, and persists discovered card metadata.
package card

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fieldwave/rfplane/pkg/fpga"
	"github.com/fieldwave/rfplane/pkg/freqhop"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/rxstream"
	"github.com/fieldwave/rfplane/pkg/store"
	"github.com/fieldwave/rfplane/pkg/txstream"
	"github.com/fieldwave/rfplane/pkg/xport"
)

// osExit is swapped out in tests of the default critical-fault handler.
var osExit = os.Exit

// Card is one initialized radio card and its channel contexts.
type Card struct {
	ID    string // store row uuid, empty when no store is attached
	UID   xport.UID
	Kind  rf.XportKind
	Level rf.InitLevel

	Backend xport.Backend
	// Regs, Rx, and Tx are nil below rf.LevelFull.
	Regs *fpga.Registers
	Rx   *rxstream.Controller
	Tx   *txstream.Controller

	hopMu sync.Mutex
	hops  map[hopKey]*freqhop.Coordinator
}

type hopKey struct {
	dir    freqhop.Direction
	handle int
}

type cardKey struct {
	kind rf.XportKind
	uid  xport.UID
}

// Manager owns the registry and the set of initialized cards.
type Manager struct {
	mu  sync.Mutex
	reg *xport.Registry
	st  *store.Store // optional
	log *slog.Logger

	cards   map[cardKey]*Card
	onFault func(error)
}

// NewManager returns a manager over reg. st may be nil to skip metadata
// persistence; logger may be nil.
func NewManager(reg *xport.Registry, st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		reg:   reg,
		st:    st,
		log:   logger,
		cards: make(map[cardKey]*Card),
	}
}

// Registry exposes the transport registry for backend registration and
// discovery.
func (m *Manager) Registry() *xport.Registry { return m.reg }

// OnCriticalFault installs the handler invoked when a card reports an
// unrecoverable fault. When no handler is installed the process exits,
// because continuing with a wedged RF pipeline corrupts downstream data.
func (m *Manager) OnCriticalFault(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFault = fn
}

// CriticalFault routes an unrecoverable card fault to the installed
// handler, or exits the process when none is installed.
func (m *Manager) CriticalFault(err error) {
	m.mu.Lock()
	fn := m.onFault
	m.mu.Unlock()

	m.log.Error("critical card fault", "error", err)
	if fn != nil {
		fn(err)
		return
	}
	osExit(1)
}

// Probe discovers cards on the given transport kind.
func (m *Manager) Probe(kind rf.XportKind) ([]xport.UID, error) {
	return m.reg.Probe(kind)
}

// Hotplug discovers cards on a hotpluggable transport, excluding the
// no-probe set.
func (m *Manager) Hotplug(kind rf.XportKind, noProbe []xport.UID) ([]xport.UID, error) {
	return m.reg.Hotplug(kind, noProbe)
}

// Available reports discovered cards on kind that this manager has not
// initialized, the set a caller may claim.
func (m *Manager) Available(kind rf.XportKind) ([]xport.UID, error) {
	uids, err := m.reg.Probe(kind)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	var out []xport.UID
	for _, uid := range uids {
		if _, held := m.cards[cardKey{kind, uid}]; !held {
			out = append(out, uid)
		}
	}
	return out, nil
}

// InitCard initializes a card at level and, at rf.LevelFull, builds its
// register facade, streaming controllers, and link-up recovery hook.
func (m *Manager) InitCard(kind rf.XportKind, uid xport.UID, level rf.InitLevel) (*Card, error) {
	be, err := m.reg.Lookup(kind)
	if err != nil {
		return nil, err
	}
	if err := m.reg.InitCard(kind, uid, level); err != nil {
		return nil, err
	}

	c := &Card{
		UID:     uid,
		Kind:    kind,
		Level:   level,
		Backend: be,
		hops:    make(map[hopKey]*freqhop.Coordinator),
	}
	if level == rf.LevelFull {
		c.Regs = fpga.New(uid, be.Registers(), m.log)
		c.Rx = rxstream.New(uid, be, c.Regs, m.log)
		c.Tx = txstream.New(uid, be, c.Regs, m.log)
		// After reprogramming the FPGA is back in reset: every channel
		// context must return to idle before new streams start.
		rx, tx := c.Rx, c.Tx
		c.Regs.OnLinkUp(func() {
			rx.ResetAll()
			tx.Reset()
		})
	}

	if m.st != nil {
		if err := m.persist(c); err != nil {
			m.log.Warn("failed to persist card metadata",
				"uid", uint64(uid), "error", err)
		}
	}

	m.mu.Lock()
	m.cards[cardKey{kind, uid}] = c
	m.mu.Unlock()
	m.log.Info("card initialized", "uid", uint64(uid),
		"kind", kind.String(), "level", level.String())
	return c, nil
}

func (m *Manager) persist(c *Card) error {
	now := time.Now()
	row := &store.Card{
		UID:      uint64(c.UID),
		Kind:     c.Kind.String(),
		LastSeen: &now,
	}
	if priv, err := c.Backend.Card().ReadPrivData(c.UID); err == nil && len(priv) > 0 {
		row.PrivData = priv
	}
	if err := m.st.SaveCard(row); err != nil {
		return err
	}
	c.ID = row.ID
	return nil
}

// Lookup returns an initialized card.
func (m *Manager) Lookup(kind rf.XportKind, uid xport.UID) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[cardKey{kind, uid}]
	if !ok {
		return nil, fmt.Errorf("card %d on %s: %w", uid, kind, rf.ErrNotFound)
	}
	return c, nil
}

// Cards returns every initialized card.
func (m *Manager) Cards() []*Card {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Card, 0, len(m.cards))
	for _, c := range m.cards {
		out = append(out, c)
	}
	return out
}

// ExitCard tears down a card's channel contexts and releases it.
func (m *Manager) ExitCard(kind rf.XportKind, uid xport.UID) error {
	m.mu.Lock()
	c, ok := m.cards[cardKey{kind, uid}]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("card %d on %s: %w", uid, kind, rf.ErrNotFound)
	}
	delete(m.cards, cardKey{kind, uid})
	m.mu.Unlock()

	if c.Rx != nil {
		for h := rf.RxA1; h.Valid(); h++ {
			if err := c.Rx.StopFinal(h); err != nil {
				m.log.Warn("rx teardown", "uid", uint64(uid),
					"handle", h.String(), "error", err)
			}
		}
	}
	if c.Tx != nil {
		c.Tx.Reset()
	}

	if m.st != nil && c.ID != "" {
		if err := m.st.TouchCard(c.ID, time.Now()); err != nil {
			m.log.Warn("failed to update card metadata",
				"uid", uint64(uid), "error", err)
		}
	}

	if err := m.reg.ExitCard(kind, uid, c.Level); err != nil {
		return err
	}
	m.log.Info("card released", "uid", uint64(uid), "kind", kind.String())
	return nil
}

// Hop returns the frequency coordinator for one channel context,
// creating it on first use. On shared-LO hardware the rx and tx contexts
// of the same handle index are coupled so a hop moves both.
func (c *Card) Hop(dir freqhop.Direction, handle int) (*freqhop.Coordinator, error) {
	if c.Regs == nil {
		return nil, fmt.Errorf("card %d initialized below %s: %w",
			c.UID, rf.LevelFull, rf.ErrWrongState)
	}

	c.hopMu.Lock()
	defer c.hopMu.Unlock()
	key := hopKey{dir, handle}
	if co, ok := c.hops[key]; ok {
		return co, nil
	}

	co := freqhop.New(c.UID, dir, handle, c.Backend, c.Regs, nil)
	c.hops[key] = co

	if c.Backend.Capabilities(c.UID).SharedLO {
		other := freqhop.Rx
		if dir == freqhop.Rx {
			other = freqhop.Tx
		}
		if peer, ok := c.hops[hopKey{other, handle}]; ok {
			freqhop.Couple(co, peer)
		}
	}
	return co, nil
}
