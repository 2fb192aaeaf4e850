package fpga

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldwave/rfplane/pkg/rf"
	"github.com/fieldwave/rfplane/pkg/xport"
)

const testUID xport.UID = 5

func newTestRegisters(t *testing.T) (*Registers, *xport.MockBackend) {
	t.Helper()
	m := xport.NewMockBackend(xport.WithProbeUIDs(testUID))
	require.NoError(t, m.Card().Init(rf.LevelFull, testUID))
	m.ClearCalls()
	return New(testUID, m.Registers(), nil), m
}

func TestReadWrite(t *testing.T) {
	r, m := newTestRegisters(t)

	require.NoError(t, r.Write(0x10, 0xdead))
	got, err := r.Read(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdead), got)
	assert.Equal(t, uint32(0xdead), m.Register(testUID, 0x10))
}

func TestReadWrite64(t *testing.T) {
	r, _ := newTestRegisters(t)

	require.NoError(t, r.Write64(0x20, 0x1122334455667788))
	got, err := r.Read64(0x20)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1122334455667788), got)

	// The pair is split across two 32-bit registers, low word first.
	lo, err := r.Read(0x20)
	require.NoError(t, err)
	hi, err := r.Read(0x24)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x55667788), lo)
	assert.Equal(t, uint32(0x11223344), hi)
}

func TestWriteAndVerify(t *testing.T) {
	r, _ := newTestRegisters(t)
	require.NoError(t, r.WriteAndVerify(0x30, 42))
}

func TestVerify(t *testing.T) {
	r, m := newTestRegisters(t)
	m.PokeRegister(testUID, 0x30, 42)

	require.NoError(t, r.Verify(0x30, 42))
	require.ErrorIs(t, r.Verify(0x30, 43), rf.ErrVerifyMismatch)
}

func TestWriteAndVerifyMismatch(t *testing.T) {
	r, m := newTestRegisters(t)

	// A register whose readback never matches what was written.
	m.OnCall("reg.read", func() {
		m.PokeRegister(testUID, 0x30, 7)
	})
	err := r.WriteAndVerify(0x30, 42)
	require.ErrorIs(t, err, rf.ErrVerifyMismatch)
}

func TestLinkDownGatesRegisterTraffic(t *testing.T) {
	r, _ := newTestRegisters(t)
	require.NoError(t, r.LinkDown())

	_, err := r.Read(0x10)
	require.ErrorIs(t, err, rf.ErrLinkDown)
	require.ErrorIs(t, r.Write(0x10, 1), rf.ErrLinkDown)
	require.ErrorIs(t, r.WriteAndVerify(0x10, 1), rf.ErrLinkDown)
	_, err = r.Read64(0x10)
	require.ErrorIs(t, err, rf.ErrLinkDown)
	require.ErrorIs(t, r.Write64(0x10, 1), rf.ErrLinkDown)

	require.NoError(t, r.LinkUp())
	_, err = r.Read(0x10)
	require.NoError(t, err)
}

func TestLinkDownIsIdempotent(t *testing.T) {
	r, m := newTestRegisters(t)
	require.NoError(t, r.LinkDown())
	require.NoError(t, r.LinkDown())
	assert.Len(t, m.CallsNamed("link.down"), 1)
}

func TestOnLinkUpHooksRun(t *testing.T) {
	r, _ := newTestRegisters(t)

	var ran []int
	r.OnLinkUp(func() { ran = append(ran, 1) })
	r.OnLinkUp(func() { ran = append(ran, 2) })

	require.NoError(t, r.LinkDown())
	require.NoError(t, r.LinkUp())
	assert.Equal(t, []int{1, 2}, ran)
}

func TestReprogram(t *testing.T) {
	r, m := newTestRegisters(t)

	var resets int
	r.OnLinkUp(func() { resets++ })

	require.NoError(t, r.Reprogram(0x8000))
	assert.Equal(t, []string{"link.down_reload", "link.up"},
		m.CallsNamed("link.down_reload", "link.up"))
	assert.Equal(t, 1, resets)
}

func TestReprogramLinkUpFailureLeavesLinkDown(t *testing.T) {
	r, m := newTestRegisters(t)

	boom := errors.New("bitstream crc")
	m.SetError("link.up", boom)
	require.ErrorIs(t, r.Reprogram(0x8000), boom)

	_, err := r.Read(0x10)
	require.ErrorIs(t, err, rf.ErrLinkDown)
}

func TestBackendFaultsClassifiedAsHardware(t *testing.T) {
	r, m := newTestRegisters(t)

	m.SetError("reg.read", errors.New("pcie completion timeout"))
	_, err := r.Read(0x10)
	require.ErrorIs(t, err, rf.ErrHardware)

	// Already-classified errors pass through unchanged.
	m.SetError("reg.read", rf.ErrTimeout)
	_, err = r.Read(0x10)
	require.ErrorIs(t, err, rf.ErrTimeout)
	require.NotErrorIs(t, err, rf.ErrHardware)
}
