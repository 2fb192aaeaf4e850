package card

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwave/rfplane/pkg/freqhop"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/rxstream"
	"github.com/fieldwave/rfplane/pkg/store"
	"github.com/fieldwave/rfplane/pkg/txstream"
	"github.com/fieldwave/rfplane/pkg/xport"
)

func newTestManager(t *testing.T, opts ...xport.MockOption) (*Manager, *xport.MockBackend) {
	t.Helper()
	opts = append([]xport.MockOption{xport.WithProbeUIDs(1, 2)}, opts...)
	m := xport.NewMockBackend(opts...)
	reg := xport.NewRegistry(nil)
	_, err := reg.Register(m)
	require.NoError(t, err)
	return NewManager(reg, nil, nil), m
}

func TestInitCardBuildsChannelContexts(t *testing.T) {
	mgr, m := newTestManager(t)

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)
	require.NotNil(t, c.Regs)
	require.NotNil(t, c.Rx)
	require.NotNil(t, c.Tx)
	assert.Equal(t, rf.LevelFull, m.Level(1))

	// The contexts are live: a receive stream starts and a transmit
	// pipeline initializes through the same card.
	require.NoError(t, c.Rx.Start(rf.RxA1))
	require.NoError(t, c.Tx.Initialize(txstream.Config{
		FlowMode:     rf.TxFlowImmediate,
		TransferMode: rf.TxTransferSync,
		BlockBytes:   rf.TxBlockQuantum,
	}))
	require.NoError(t, c.Tx.Start(rf.TxA1))
	require.NoError(t, c.Tx.Transmit(rf.TxA1,
		&xport.TxBlock{Data: make([]byte, rf.TxBlockQuantum)}, nil))
	assert.Equal(t, 1, m.TransmitCount())
}

func TestInitCardBasicLevelHasNoContexts(t *testing.T) {
	mgr, _ := newTestManager(t)

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelBasic)
	require.NoError(t, err)
	assert.Nil(t, c.Regs)
	assert.Nil(t, c.Rx)
	assert.Nil(t, c.Tx)

	_, err = c.Hop(freqhop.Rx, 0)
	require.ErrorIs(t, err, rf.ErrWrongState)
}

func TestInitCardUnregisteredKind(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.InitCard(rf.XportPCIe, 1, rf.LevelFull)
	require.ErrorIs(t, err, rf.ErrNotRegistered)
}

func TestAvailableExcludesHeldCards(t *testing.T) {
	mgr, _ := newTestManager(t)

	uids, err := mgr.Available(rf.XportCustom)
	require.NoError(t, err)
	assert.Equal(t, []xport.UID{1, 2}, uids)

	_, err = mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)

	uids, err = mgr.Available(rf.XportCustom)
	require.NoError(t, err)
	assert.Equal(t, []xport.UID{2}, uids)
}

func TestExitCardReleases(t *testing.T) {
	mgr, m := newTestManager(t)

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)
	require.NoError(t, c.Rx.Start(rf.RxA1))

	require.NoError(t, mgr.ExitCard(rf.XportCustom, 1))
	assert.Equal(t, rf.LevelNone, m.Level(1))
	_, err = mgr.Lookup(rf.XportCustom, 1)
	require.ErrorIs(t, err, rf.ErrNotFound)

	// A released card can be claimed again.
	_, err = mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)
}

func TestLinkUpHookResetsChannels(t *testing.T) {
	mgr, _ := newTestManager(t)

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)
	require.NoError(t, c.Rx.Start(rf.RxA1))
	require.Equal(t, rxstream.Streaming, c.Rx.State(rf.RxA1))

	require.NoError(t, c.Regs.Reprogram(0x1000))
	assert.Equal(t, rxstream.Idle, c.Rx.State(rf.RxA1))
	assert.Equal(t, txstream.Idle, c.Tx.State())
}

func TestCriticalFaultHandler(t *testing.T) {
	mgr, _ := newTestManager(t)

	var got error
	mgr.OnCriticalFault(func(err error) { got = err })
	mgr.CriticalFault(rf.ErrHardware)
	require.ErrorIs(t, got, rf.ErrHardware)
}

func TestCriticalFaultDefaultExits(t *testing.T) {
	mgr, _ := newTestManager(t)

	exited := -1
	orig := osExit
	osExit = func(code int) { exited = code }
	defer func() { osExit = orig }()

	mgr.CriticalFault(errors.New("fpga wedged"))
	assert.Equal(t, 1, exited)
}

func TestMetadataPersisted(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "cards.db"))
	require.NoError(t, err)
	defer st.Close()

	m := xport.NewMockBackend(xport.WithProbeUIDs(1))
	reg := xport.NewRegistry(nil)
	_, err = reg.Register(m)
	require.NoError(t, err)
	mgr := NewManager(reg, st, nil)

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)

	row, err := st.GetCard(c.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), row.UID)
	assert.Equal(t, rf.XportCustom.String(), row.Kind)
	require.NotNil(t, row.LastSeen)

	require.NoError(t, mgr.ExitCard(rf.XportCustom, 1))
	row, err = st.GetCard(c.ID)
	require.NoError(t, err)
	require.NotNil(t, row.LastSeen)
}

func TestSharedLOHopContextsCoupled(t *testing.T) {
	mgr, _ := newTestManager(t, xport.WithCapabilities(xport.Capabilities{
		SharedLO: true,
		PPS:      true,
	}))

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)

	rx, err := c.Hop(freqhop.Rx, 0)
	require.NoError(t, err)
	tx, err := c.Hop(freqhop.Tx, 0)
	require.NoError(t, err)

	require.NoError(t, rx.Retune(2_400_000_000))
	assert.Equal(t, rf.Hz(2_400_000_000), tx.Frequency())

	// Same contexts on repeat lookup.
	again, err := c.Hop(freqhop.Rx, 0)
	require.NoError(t, err)
	assert.Same(t, rx, again)
}

func TestConflictingHandlesAcrossManager(t *testing.T) {
	mgr, _ := newTestManager(t, xport.WithRxConflicts(rf.RxA1, rf.RxA2))

	c, err := mgr.InitCard(rf.XportCustom, 1, rf.LevelFull)
	require.NoError(t, err)

	require.NoError(t, c.Rx.Start(rf.RxA1))
	require.ErrorIs(t, c.Rx.Start(rf.RxA2), rf.ErrConflict)
	require.NoError(t, c.Rx.Start(rf.RxB1))
}
