package seclink

import (
	"sync"

	"github.com/nullvane/seclink/packet"
)

// deliverable pairs a decoded Packet with the wire byte count ReadPacket
// must also report.
type deliverable struct {
	p    packet.Packet
	wire int
}

// packetQueue is a bounded FIFO shared between the reader goroutine
// (producer) and either ReadPacket (ManualRead) or a later-registered
// callback drain (pending-events). Capacity is fixed at maxQueueCapacity
// for both uses, per §4.F.
type packetQueue struct {
	mu    sync.Mutex
	items []deliverable
	cap   int
}

func newPacketQueue(capacity int) *packetQueue {
	return &packetQueue{items: make([]deliverable, 0, capacity), cap: capacity}
}

// tryPush appends d if there is room and reports whether it succeeded.
// The reader is expected to retry with a short sleep on failure
// (backpressureSleep), which is the spec's intended choke signal.
func (q *packetQueue) tryPush(d deliverable) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.cap {
		return false
	}
	q.items = append(q.items, d)
	return true
}

// pop removes and returns the oldest item, if any.
func (q *packetQueue) pop() (deliverable, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return deliverable{}, false
	}
	d := q.items[0]
	q.items = q.items[1:]
	return d, true
}

func (q *packetQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drainAllInto moves every pending item from q to dst in FIFO order,
// leaving q empty. Used by ManualRead toggling; callback registration
// uses drainAll instead.
func (q *packetQueue) drainAllInto(dst *packetQueue) {
	q.mu.Lock()
	items := q.items
	q.items = make([]deliverable, 0, q.cap)
	q.mu.Unlock()

	dst.mu.Lock()
	defer dst.mu.Unlock()
	dst.items = append(dst.items, items...)
}

// drainAll removes and returns every pending item in FIFO order, leaving
// q empty.
func (q *packetQueue) drainAll() []deliverable {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = make([]deliverable, 0, q.cap)
	return items
}
