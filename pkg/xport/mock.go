package xport

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/fieldwave/rfplane/pkg/rf"
)

// MockBackend is a complete in-memory Backend for testing. It stores
// registers, scripts receive blocks, records every operation in order, and
// supports per-operation error injection, including failing only the Nth
// call to an operation (for atomicity/rollback tests).
//
// Operation names used by the call log and error injection:
//
//	card.probe card.hotplug card.init card.exit card.pps
//	reg.read reg.write reg.verify reg.write_verify reg.read64 reg.write64
//	link.down link.down_reload link.up
//	rx.configure rx.block_size rx.buffered rx.start rx.stop rx.pause
//	rx.resume rx.flush rx.timeout rx.receive
//	tx.initialize tx.start tx.pre_stop tx.stop tx.transmit
type MockBackend struct {
	mu sync.Mutex

	kind rf.XportKind
	caps Capabilities

	probeUIDs []UID
	// hotplugReportsExcluded simulates a buggy backend that reports UIDs
	// from the no-probe set; the registry must filter them.
	hotplugReportsExcluded bool

	levels   map[UID]rf.InitLevel
	privData map[UID][]byte

	registers map[UID]map[uint32]uint32
	linkDown  map[UID]bool

	timestamps map[rf.TimestampSource]rf.Timestamp
	ppsCh      chan struct{}

	rxQueue     []RxResult
	rxDataReady chan struct{}
	rxTimeoutUS int32
	rxOverrun   bool
	rxBlockSize uint32

	txBlocks  []transmitted
	txLatency time.Duration

	calls []string

	errs   map[string]error
	errAt  map[string]*injectedErr
	onCall map[string]func()
}

type transmitted struct {
	Handle rf.TxHandle
	Block  TxBlock
	Token  any
}

type injectedErr struct {
	nth  int // 1-based call number to fail
	seen int
	err  error
}

// MockOption configures a MockBackend.
type MockOption func(*MockBackend)

// WithKind sets the transport kind (default rf.XportCustom).
func WithKind(kind rf.XportKind) MockOption {
	return func(m *MockBackend) { m.kind = kind }
}

// WithProbeUIDs sets the UIDs returned by Probe and Hotplug.
func WithProbeUIDs(uids ...UID) MockOption {
	return func(m *MockBackend) { m.probeUIDs = slices.Clone(uids) }
}

// WithCapabilities overrides the default capability set.
func WithCapabilities(caps Capabilities) MockOption {
	return func(m *MockBackend) { m.caps = caps }
}

// WithRxConflicts declares handle conflict pairs (both directions).
func WithRxConflicts(a, b rf.RxHandle) MockOption {
	return func(m *MockBackend) {
		if m.caps.RxConflicts == nil {
			m.caps.RxConflicts = make(map[rf.RxHandle][]rf.RxHandle)
		}
		m.caps.RxConflicts[a] = append(m.caps.RxConflicts[a], b)
		m.caps.RxConflicts[b] = append(m.caps.RxConflicts[b], a)
	}
}

// WithTxLatency makes each Transmit commit take d.
func WithTxLatency(d time.Duration) MockOption {
	return func(m *MockBackend) { m.txLatency = d }
}

// WithHotplugReportingExcluded simulates a backend that wrongly reports
// UIDs from the no-probe set during hotplug.
func WithHotplugReportingExcluded() MockOption {
	return func(m *MockBackend) { m.hotplugReportsExcluded = true }
}

// NewMockBackend returns a MockBackend with PPS, low-latency streaming,
// and late-timestamp support enabled and no handle conflicts.
func NewMockBackend(opts ...MockOption) *MockBackend {
	m := &MockBackend{
		kind: rf.XportCustom,
		caps: Capabilities{
			AllowLateTimestamps: true,
			LowLatencyStream:    true,
			PPS:                 true,
		},
		levels:      make(map[UID]rf.InitLevel),
		privData:    make(map[UID][]byte),
		registers:   make(map[UID]map[uint32]uint32),
		linkDown:    make(map[UID]bool),
		timestamps:  make(map[rf.TimestampSource]rf.Timestamp),
		ppsCh:       make(chan struct{}),
		rxDataReady: make(chan struct{}, 1),
		errs:        make(map[string]error),
		errAt:       make(map[string]*injectedErr),
		onCall:      make(map[string]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// record logs the call and returns any injected error. Callers must not
// hold m.mu.
func (m *MockBackend) record(op string) error {
	m.mu.Lock()
	m.calls = append(m.calls, op)
	hook := m.onCall[op]
	err := m.errs[op]
	if inj, ok := m.errAt[op]; ok && err == nil {
		inj.seen++
		if inj.seen == inj.nth {
			err = inj.err
		}
	}
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (m *MockBackend) Kind() rf.XportKind        { return m.kind }
func (m *MockBackend) Card() CardOps             { return (*mockCard)(m) }
func (m *MockBackend) Registers() RegisterOps    { return (*mockRegs)(m) }
func (m *MockBackend) Rx() RxOps                 { return (*mockRx)(m) }
func (m *MockBackend) Tx() TxOps                 { return (*mockTx)(m) }
func (m *MockBackend) Capabilities(UID) Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// --- Test inspection and injection ---

// Calls returns the ordered operation log.
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallsNamed returns the log filtered to the given operation names.
func (m *MockBackend) CallsNamed(names ...string) []string {
	var out []string
	for _, c := range m.Calls() {
		if slices.Contains(names, c) {
			out = append(out, c)
		}
	}
	return out
}

// ClearCalls resets the operation log.
func (m *MockBackend) ClearCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = m.calls[:0]
}

// SetError makes every subsequent call to op fail with err. Pass nil to clear.
func (m *MockBackend) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}

// FailOn makes exactly the nth (1-based) subsequent call to op fail with err.
func (m *MockBackend) FailOn(op string, nth int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errAt[op] = &injectedErr{nth: nth, err: err}
}

// OnCall registers a hook that runs after op is logged, outside the mock
// lock. Useful for firing a PPS edge when a wait begins.
func (m *MockBackend) OnCall(op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCall[op] = fn
}

// Register returns the current value of a register, for assertions.
func (m *MockBackend) Register(uid UID, addr uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers[uid][addr]
}

// PokeRegister sets a register directly, bypassing the op log.
func (m *MockBackend) PokeRegister(uid UID, addr, val uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registers[uid] == nil {
		m.registers[uid] = make(map[uint32]uint32)
	}
	m.registers[uid][addr] = val
}

// FirePPS releases every goroutine blocked in WaitPPS.
func (m *MockBackend) FirePPS() {
	m.mu.Lock()
	close(m.ppsCh)
	m.ppsCh = make(chan struct{})
	m.mu.Unlock()
}

// SetTimestamp sets the free-running counter for src.
func (m *MockBackend) SetTimestamp(src rf.TimestampSource, ts rf.Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timestamps[src] = ts
}

// EnqueueRxBlock scripts one receive block.
func (m *MockBackend) EnqueueRxBlock(hdl rf.RxHandle, ts rf.Timestamp, data []byte) {
	m.mu.Lock()
	m.rxQueue = append(m.rxQueue, RxResult{
		Status:    rf.RxSuccess,
		Handle:    hdl,
		Timestamp: ts,
		Data:      slices.Clone(data),
	})
	m.mu.Unlock()
	select {
	case m.rxDataReady <- struct{}{}:
	default:
	}
}

// SetRxOverrun makes the next Receive report an overrun. Queued blocks
// older than the freshest are discarded, matching the contract that stale
// data is never requeued.
func (m *MockBackend) SetRxOverrun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rxOverrun = true
	if n := len(m.rxQueue); n > 1 {
		m.rxQueue = m.rxQueue[n-1:]
	}
}

// RxQueueDepth reports how many scripted blocks remain undelivered.
func (m *MockBackend) RxQueueDepth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rxQueue)
}

// RxBlockSize reports the block size last pushed through rx.block_size.
func (m *MockBackend) RxBlockSize() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rxBlockSize
}

// TransmittedBlocks returns every block committed through Transmit, in
// commit order.
func (m *MockBackend) TransmittedBlocks() []TxBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TxBlock, len(m.txBlocks))
	for i, t := range m.txBlocks {
		out[i] = t.Block
	}
	return out
}

// TransmitCount reports how many blocks have been committed.
func (m *MockBackend) TransmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txBlocks)
}

// Level reports the init level recorded for uid.
func (m *MockBackend) Level(uid UID) rf.InitLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[uid]
}

// --- CardOps ---

type mockCard MockBackend

func (c *mockCard) m() *MockBackend { return (*MockBackend)(c) }

func (c *mockCard) Probe() ([]UID, error) {
	if err := c.m().record("card.probe"); err != nil {
		return nil, err
	}
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	return slices.Clone(c.m().probeUIDs), nil
}

func (c *mockCard) Hotplug(noProbe []UID) ([]UID, error) {
	if err := c.m().record("card.hotplug"); err != nil {
		return nil, err
	}
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	if c.m().hotplugReportsExcluded {
		return slices.Clone(c.m().probeUIDs), nil
	}
	var out []UID
	for _, uid := range c.m().probeUIDs {
		if !slices.Contains(noProbe, uid) {
			out = append(out, uid)
		}
	}
	return out, nil
}

func (c *mockCard) Init(level rf.InitLevel, uid UID) error {
	if err := c.m().record("card.init"); err != nil {
		return err
	}
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	if !slices.Contains(c.m().probeUIDs, uid) {
		return fmt.Errorf("uid %d: %w", uid, rf.ErrNotFound)
	}
	c.m().levels[uid] = level
	if c.m().registers[uid] == nil {
		c.m().registers[uid] = make(map[uint32]uint32)
	}
	return nil
}

func (c *mockCard) Exit(level rf.InitLevel, uid UID) error {
	if err := c.m().record("card.exit"); err != nil {
		return err
	}
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	delete(c.m().levels, uid)
	return nil
}

func (c *mockCard) ReadPrivData(uid UID) ([]byte, error) {
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	return slices.Clone(c.m().privData[uid]), nil
}

func (c *mockCard) WritePrivData(uid UID, data []byte) error {
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	c.m().privData[uid] = slices.Clone(data)
	return nil
}

func (c *mockCard) WaitPPS(uid UID) error {
	// Subscribe to the edge channel before the call hook runs so a hook
	// that fires the PPS releases this waiter.
	c.m().mu.Lock()
	if !c.m().caps.PPS {
		c.m().mu.Unlock()
		return fmt.Errorf("pps input: %w", rf.ErrNotSupported)
	}
	ch := c.m().ppsCh
	c.m().mu.Unlock()
	if err := c.m().record("card.pps"); err != nil {
		return err
	}
	<-ch
	return nil
}

func (c *mockCard) ReadTimestamp(uid UID, src rf.TimestampSource) (rf.Timestamp, error) {
	c.m().mu.Lock()
	defer c.m().mu.Unlock()
	return c.m().timestamps[src], nil
}

// --- RegisterOps ---

type mockRegs MockBackend

func (r *mockRegs) m() *MockBackend { return (*MockBackend)(r) }

func (r *mockRegs) regMap(uid UID) map[uint32]uint32 {
	if r.m().registers[uid] == nil {
		r.m().registers[uid] = make(map[uint32]uint32)
	}
	return r.m().registers[uid]
}

func (r *mockRegs) Read(uid UID, addr uint32) (uint32, error) {
	if err := r.m().record("reg.read"); err != nil {
		return 0, err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	return r.regMap(uid)[addr], nil
}

func (r *mockRegs) Write(uid UID, addr, val uint32) error {
	if err := r.m().record("reg.write"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.regMap(uid)[addr] = val
	return nil
}

func (r *mockRegs) Verify(uid UID, addr, val uint32) error {
	if err := r.m().record("reg.verify"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	if r.regMap(uid)[addr] != val {
		return rf.ErrVerifyMismatch
	}
	return nil
}

func (r *mockRegs) WriteAndVerify(uid UID, addr, val uint32) error {
	if err := r.m().record("reg.write_verify"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.regMap(uid)[addr] = val
	return nil
}

func (r *mockRegs) Read64(uid UID, addr uint32) (uint64, error) {
	if err := r.m().record("reg.read64"); err != nil {
		return 0, err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	lo := uint64(r.regMap(uid)[addr])
	hi := uint64(r.regMap(uid)[addr+4])
	return hi<<32 | lo, nil
}

func (r *mockRegs) Write64(uid UID, addr uint32, val uint64) error {
	if err := r.m().record("reg.write64"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.regMap(uid)[addr] = uint32(val)
	r.regMap(uid)[addr+4] = uint32(val >> 32)
	return nil
}

func (r *mockRegs) LinkDown(uid UID) error {
	if err := r.m().record("link.down"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.m().linkDown[uid] = true
	return nil
}

func (r *mockRegs) LinkDownReload(uid UID, addr uint32) error {
	if err := r.m().record("link.down_reload"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.m().linkDown[uid] = true
	return nil
}

func (r *mockRegs) LinkUp(uid UID) error {
	if err := r.m().record("link.up"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.m().linkDown[uid] = false
	return nil
}

// --- RxOps ---

type mockRx MockBackend

func (r *mockRx) m() *MockBackend { return (*MockBackend)(r) }

func (r *mockRx) Configure(uid UID, rate uint32) error {
	return r.m().record("rx.configure")
}

func (r *mockRx) SetBlockSize(uid UID, bytes uint32) error {
	if err := r.m().record("rx.block_size"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.m().rxBlockSize = bytes
	return nil
}

func (r *mockRx) SetBuffered(uid UID, buffered bool) error {
	return r.m().record("rx.buffered")
}

func (r *mockRx) Start(uid UID, hdl rf.RxHandle) error {
	return r.m().record("rx.start")
}

func (r *mockRx) Stop(uid UID, hdl rf.RxHandle) error {
	return r.m().record("rx.stop")
}

func (r *mockRx) Pause(uid UID) error  { return r.m().record("rx.pause") }
func (r *mockRx) Resume(uid UID) error { return r.m().record("rx.resume") }

func (r *mockRx) Flush(uid UID) error {
	if err := r.m().record("rx.flush"); err != nil {
		return err
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.m().rxQueue = nil
	return nil
}

func (r *mockRx) SetTransferTimeout(uid UID, timeoutUS int32) error {
	if err := r.m().record("rx.timeout"); err != nil {
		return err
	}
	if !rf.ValidRxTimeout(timeoutUS) {
		return fmt.Errorf("transfer timeout %d us: %w", timeoutUS, rf.ErrNotSupported)
	}
	r.m().mu.Lock()
	defer r.m().mu.Unlock()
	r.m().rxTimeoutUS = timeoutUS
	return nil
}

func (r *mockRx) Receive(uid UID) (RxResult, error) {
	if err := r.m().record("rx.receive"); err != nil {
		return RxResult{Status: rf.RxError}, err
	}

	m := r.m()
	m.mu.Lock()
	if m.rxOverrun {
		m.rxOverrun = false
		m.mu.Unlock()
		return RxResult{Status: rf.RxOverrun}, nil
	}
	if len(m.rxQueue) > 0 {
		res := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		m.mu.Unlock()
		return res, nil
	}
	timeout := m.rxTimeoutUS
	m.mu.Unlock()

	if timeout == rf.RxNoWait {
		return RxResult{Status: rf.RxNoData}, nil
	}

	var timer <-chan time.Time
	if timeout != rf.RxWaitForever {
		timer = time.After(time.Duration(timeout) * time.Microsecond)
	}
	select {
	case <-m.rxDataReady:
		m.mu.Lock()
		defer m.mu.Unlock()
		if len(m.rxQueue) == 0 {
			return RxResult{Status: rf.RxNoData}, nil
		}
		res := m.rxQueue[0]
		m.rxQueue = m.rxQueue[1:]
		return res, nil
	case <-timer:
		return RxResult{Status: rf.RxNoData}, nil
	}
}

// --- TxOps ---

type mockTx MockBackend

func (t *mockTx) m() *MockBackend { return (*MockBackend)(t) }

func (t *mockTx) Initialize(uid UID, mode rf.TxTransferMode, blockBytes uint32, threads, priority int, complete TxCompleteFunc) error {
	return t.m().record("tx.initialize")
}

func (t *mockTx) Start(uid UID, hdl rf.TxHandle) error {
	return t.m().record("tx.start")
}

func (t *mockTx) PreStop(uid UID, hdl rf.TxHandle) error {
	return t.m().record("tx.pre_stop")
}

func (t *mockTx) Stop(uid UID, hdl rf.TxHandle) error {
	return t.m().record("tx.stop")
}

func (t *mockTx) Transmit(uid UID, hdl rf.TxHandle, block *TxBlock, token any) error {
	if err := t.m().record("tx.transmit"); err != nil {
		return err
	}
	if t.m().txLatency > 0 {
		time.Sleep(t.m().txLatency)
	}
	t.m().mu.Lock()
	defer t.m().mu.Unlock()
	t.m().txBlocks = append(t.m().txBlocks, transmitted{Handle: hdl, Block: *block, Token: token})
	return nil
}
