package seclink

// RunFlag is a bit in the connection's run-flag register. Mutation is
// performed only under the connection lock, except for reads taken from
// the reader goroutine's own private progress checks.
type RunFlag uint32

const (
	// FlagRun is cleared to stop the reader loop on its next iteration.
	FlagRun RunFlag = 1 << iota
	// FlagIsConnected mirrors into an atomic.Bool so SendPacket's
	// pre-check stays lock-free; see Connection.connectedAtomic.
	FlagIsConnected
	// FlagLocalHandshakeRequested is level-triggered: at most one
	// outstanding local rekey request (invariant I5).
	FlagLocalHandshakeRequested
	// FlagIsBlocking is set for the duration of any handshake or
	// partial rekey; the reader must not deliver user packets while set
	// (invariant I3).
	FlagIsBlocking
	// FlagDontThrowOnAborted suppresses re-panicking a recovered reader
	// goroutine panic during cooperative Close.
	FlagDontThrowOnAborted
	// FlagDisconnectReceived is kept as a distinct bit rather than
	// reusing 0x30 (IsBlocking|DontThrowOnAborted) as the originating
	// implementation did; see DESIGN.md.
	FlagDisconnectReceived
)

// runFlags is a small bitset with explicit set/clear/test operations.
type runFlags struct {
	bits uint32
}

func (f *runFlags) set(flag RunFlag) {
	f.bits |= uint32(flag)
}

func (f *runFlags) clear(flag RunFlag) {
	f.bits &^= uint32(flag)
}

func (f *runFlags) has(flag RunFlag) bool {
	return f.bits&uint32(flag) != 0
}

// ConfigFlag is a bit in the user-settable configuration register.
// Mutation always goes through the connection lock because changing
// ManualRead performs queue migration.
type ConfigFlag uint32

const (
	// ConfigPassOn causes internally-handled control packets to also
	// surface to the consumer.
	ConfigPassOn ConfigFlag = 1 << iota
	// ConfigManualRead switches delivery from callback-push to a
	// bounded pull queue.
	ConfigManualRead
)

type configFlags struct {
	bits uint32
}

func (f *configFlags) set(flag ConfigFlag) {
	f.bits |= uint32(flag)
}

func (f *configFlags) clear(flag ConfigFlag) {
	f.bits &^= uint32(flag)
}

func (f *configFlags) has(flag ConfigFlag) bool {
	return f.bits&uint32(flag) != 0
}
