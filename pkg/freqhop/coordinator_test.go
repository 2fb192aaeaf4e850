package freqhop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fieldwave/rfplane/pkg/fpga"
	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

const testUID xport.UID = 11

func newTestCoordinator(t *testing.T, dir Direction) (*Coordinator, *xport.MockBackend) {
	t.Helper()
	m := xport.NewMockBackend(xport.WithProbeUIDs(testUID))
	require.NoError(t, m.Card().Init(rf.LevelFull, testUID))
	regs := fpga.New(testUID, m.Registers(), nil)
	m.ClearCalls()
	return New(testUID, dir, 0, m, regs, nil), m
}

func activeFreq(m *xport.MockBackend, c *Coordinator) rf.Hz {
	lo := uint64(m.Register(testUID, c.regAddr(offActiveFreq)))
	hi := uint64(m.Register(testUID, c.regAddr(offActiveFreq)+4))
	return rf.Hz(hi<<32 | lo)
}

func TestRetuneStandardMode(t *testing.T) {
	c, m := newTestCoordinator(t, Rx)

	require.NoError(t, c.Retune(915_000_000))
	assert.Equal(t, rf.Hz(915_000_000), c.Frequency())
	assert.Equal(t, rf.Hz(915_000_000), activeFreq(m, c))
}

func TestRetuneRejectedWhileHopping(t *testing.T) {
	c, _ := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopImmediate))

	require.ErrorIs(t, c.Retune(915_000_000), rf.ErrWrongMode)
}

func TestHopStateGatedByMode(t *testing.T) {
	c, _ := newTestCoordinator(t, Rx)

	_, _, err := c.CurrentHop()
	require.ErrorIs(t, err, rf.ErrWrongMode)
	_, _, err = c.NextHop()
	require.ErrorIs(t, err, rf.ErrWrongMode)
	require.ErrorIs(t, c.SetHopList([]rf.Hz{100}, 0), rf.ErrWrongMode)
	require.ErrorIs(t, c.ArmNextHop(0), rf.ErrWrongMode)
	require.ErrorIs(t, c.PerformHop(0), rf.ErrWrongMode)
}

func TestSetHopListValidation(t *testing.T) {
	c, _ := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopImmediate))

	require.ErrorIs(t, c.SetHopList(nil, 0), rf.ErrNotSupported)
	require.ErrorIs(t, c.SetHopList(make([]rf.Hz, rf.MaxFreqHops+1), 0), rf.ErrNotSupported)
	require.ErrorIs(t, c.SetHopList([]rf.Hz{100, 200}, 2), rf.ErrNotFound)
	require.ErrorIs(t, c.SetHopList([]rf.Hz{100, 200}, -1), rf.ErrNotFound)
}

func TestSetHopListTunesToInitialEntry(t *testing.T) {
	c, m := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopImmediate))

	hops := []rf.Hz{902_000_000, 915_000_000, 928_000_000}
	require.NoError(t, c.SetHopList(hops, 1))

	idx, freq, err := c.CurrentHop()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, hops[1], freq)
	assert.Equal(t, hops[1], activeFreq(m, c))

	idx, _, err = c.NextHop()
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
}

func TestArmAndPerformImmediateHop(t *testing.T) {
	c, m := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopImmediate))
	hops := []rf.Hz{902_000_000, 915_000_000, 928_000_000}
	require.NoError(t, c.SetHopList(hops, 0))

	require.ErrorIs(t, c.ArmNextHop(3), rf.ErrNotFound)
	require.ErrorIs(t, c.PerformHop(0), rf.ErrWrongState)

	require.NoError(t, c.ArmNextHop(2))
	idx, freq, err := c.NextHop()
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, hops[2], freq)

	require.NoError(t, c.PerformHop(0))
	idx, freq, err = c.CurrentHop()
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	assert.Equal(t, hops[2], freq)
	assert.Equal(t, hops[2], activeFreq(m, c))

	// The armed slot is consumed.
	require.ErrorIs(t, c.PerformHop(0), rf.ErrWrongState)
}

func TestHopOnTimestampSchedulesFuture(t *testing.T) {
	c, m := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopOnTimestamp))
	require.NoError(t, c.SetHopList([]rf.Hz{100, 200}, 0))
	m.SetTimestamp(rf.RFTimestamp, 1000)

	require.NoError(t, c.ArmNextHop(1))
	require.NoError(t, c.PerformHop(5000))

	lo := uint64(m.Register(testUID, c.regAddr(offHopTS)))
	hi := uint64(m.Register(testUID, c.regAddr(offHopTS)+4))
	assert.Equal(t, uint64(5000), hi<<32|lo)

	idx, _, err := c.CurrentHop()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestHopOnTimestampCatchesUpWhenLate(t *testing.T) {
	c, m := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopOnTimestamp))
	hops := []rf.Hz{100, 200}
	require.NoError(t, c.SetHopList(hops, 0))
	m.SetTimestamp(rf.RFTimestamp, 9000)

	require.NoError(t, c.ArmNextHop(1))
	// Scheduled behind the counter: applied immediately, not an error.
	require.NoError(t, c.PerformHop(5000))

	assert.Equal(t, hops[1], activeFreq(m, c))
	lo := uint64(m.Register(testUID, c.regAddr(offHopTS)))
	assert.Equal(t, uint64(0), lo)
}

func TestSharedLOPairHopsTogether(t *testing.T) {
	m := xport.NewMockBackend(xport.WithProbeUIDs(testUID),
		xport.WithCapabilities(xport.Capabilities{SharedLO: true, PPS: true}))
	require.NoError(t, m.Card().Init(rf.LevelFull, testUID))
	regs := fpga.New(testUID, m.Registers(), nil)

	rx := New(testUID, Rx, 0, m, regs, nil)
	tx := New(testUID, Tx, 0, m, regs, nil)
	Couple(rx, tx)

	require.NoError(t, rx.Retune(2_400_000_000))
	assert.Equal(t, rf.Hz(2_400_000_000), tx.Frequency())
	assert.Equal(t, rf.Hz(2_400_000_000), activeFreq(m, tx))

	// And the other way around.
	require.NoError(t, tx.Retune(2_450_000_000))
	assert.Equal(t, rf.Hz(2_450_000_000), rx.Frequency())
}

func TestModeChangeDiscardsHopList(t *testing.T) {
	c, _ := newTestCoordinator(t, Rx)
	require.NoError(t, c.SetTuneMode(rf.TuneHopImmediate))
	require.NoError(t, c.SetHopList([]rf.Hz{100, 200}, 0))

	require.NoError(t, c.SetTuneMode(rf.TuneHopOnTimestamp))
	_, _, err := c.CurrentHop()
	require.ErrorIs(t, err, rf.ErrWrongState)
}

func TestHopIndicesStayInRange(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := xport.NewMockBackend(xport.WithProbeUIDs(testUID))
		if err := m.Card().Init(rf.LevelFull, testUID); err != nil {
			t.Fatal(err)
		}
		c := New(testUID, Rx, 0, m, fpga.New(testUID, m.Registers(), nil), nil)
		if err := c.SetTuneMode(rf.TuneHopImmediate); err != nil {
			t.Fatal(err)
		}

		n := rapid.IntRange(1, rf.MaxFreqHops).Draw(t, "entries")
		hops := make([]rf.Hz, n)
		for i := range hops {
			hops[i] = rf.Hz(902_000_000 + i)
		}
		initial := rapid.IntRange(0, n-1).Draw(t, "initial")
		if err := c.SetHopList(hops, initial); err != nil {
			t.Fatal(err)
		}

		ops := rapid.IntRange(1, 40).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			idx := rapid.IntRange(-2, n+1).Draw(t, "idx")
			err := c.ArmNextHop(idx)
			if idx >= 0 && idx < n {
				if err != nil {
					t.Fatalf("arm %d of %d: %v", idx, n, err)
				}
				if rapid.Bool().Draw(t, "perform") {
					if err := c.PerformHop(0); err != nil {
						t.Fatalf("perform: %v", err)
					}
				}
			} else if err == nil {
				t.Fatalf("arm %d of %d accepted", idx, n)
			}

			cur, freq, err := c.CurrentHop()
			if err != nil {
				t.Fatalf("current hop: %v", err)
			}
			if cur < 0 || cur >= n {
				t.Fatalf("current index %d out of [0,%d)", cur, n)
			}
			if freq != hops[cur] {
				t.Fatalf("frequency %d does not match entry %d", freq, cur)
			}
		}
	})
}
