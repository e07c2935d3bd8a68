package upcall

// Upcall is one pending callback delivery: which driver raised it, the
// subscription it belongs to, the callback address and userdata captured
// from the subscription, and up to three argument words.
type Upcall struct {
	Driver   uint32
	Sub      uint32
	PC       uint32
	UserData uint32
	Args     [3]uint32
}

// Stats counts queue traffic over the queue's lifetime.
type Stats struct {
	Enqueued uint64 `json:"enqueued"`
	Dequeued uint64 `json:"dequeued"`
	Dropped  uint64 `json:"dropped"`
}

// DefaultCapacity bounds pending upcalls per process unless the board
// configuration says otherwise.
const DefaultCapacity = 8

// Queue is a fixed-capacity FIFO ring. Enqueue at capacity drops the
// new upcall and leaves the queue contents untouched.
type Queue struct {
	buf   []Upcall
	head  int
	count int
	stats Stats
}

// NewQueue builds a queue holding at most capacity upcalls.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{buf: make([]Upcall, capacity)}
}

// Enqueue appends u. It returns false, with the queue unchanged, when
// the queue is full; the caller owes the driver a dropped notification.
func (q *Queue) Enqueue(u Upcall) bool {
	if q.count == len(q.buf) {
		q.stats.Dropped++
		return false
	}
	q.buf[(q.head+q.count)%len(q.buf)] = u
	q.count++
	q.stats.Enqueued++
	return true
}

// Dequeue removes and returns the oldest upcall.
func (q *Queue) Dequeue() (Upcall, bool) {
	if q.count == 0 {
		return Upcall{}, false
	}
	u := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.stats.Dequeued++
	return u, true
}

// Len returns the number of pending upcalls.
func (q *Queue) Len() int { return q.count }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// Empty reports whether nothing is pending.
func (q *Queue) Empty() bool { return q.count == 0 }

// Clear discards every pending upcall. Used on restart; cleared
// entries count as neither dequeued nor dropped.
func (q *Queue) Clear() {
	q.head = 0
	q.count = 0
}

// RemoveMatching discards queued upcalls for which match returns true,
// preserving the order of the rest. It returns how many were removed.
// Used to revoke the deliveries of a replaced subscription.
func (q *Queue) RemoveMatching(match func(Upcall) bool) int {
	removed := 0
	kept := q.count
	for i := 0; i < kept; i++ {
		u := q.buf[q.head]
		q.head = (q.head + 1) % len(q.buf)
		q.count--
		if match(u) {
			removed++
			continue
		}
		q.buf[(q.head+q.count)%len(q.buf)] = u
		q.count++
	}
	return removed
}

// Stats returns lifetime traffic counters.
func (q *Queue) Stats() Stats { return q.stats }
