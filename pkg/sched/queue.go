package sched

const minQueueCap = 8

// pidQueue is a FIFO ring buffer of pids.
type pidQueue struct {
	buf  []Pid
	head int
	n    int
}

func (q *pidQueue) Len() int { return q.n }

// Front returns the pid at the head of the queue, or NoPid when empty.
func (q *pidQueue) Front() Pid {
	if q.n == 0 {
		return NoPid
	}
	return q.buf[q.head]
}

func (q *pidQueue) PushBack(pid Pid) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = pid
	q.n++
}

// PopFront removes and returns the head, or NoPid when empty.
func (q *pidQueue) PopFront() Pid {
	if q.n == 0 {
		return NoPid
	}
	pid := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	if q.n == 0 {
		q.head = 0
	}
	return pid
}

// at returns the i-th element counting from the front.
func (q *pidQueue) at(i int) Pid {
	return q.buf[(q.head+i)%len(q.buf)]
}

func (q *pidQueue) index(pid Pid) int {
	for i := 0; i < q.n; i++ {
		if q.at(i) == pid {
			return i
		}
	}
	return -1
}

func (q *pidQueue) Contains(pid Pid) bool {
	return q.index(pid) >= 0
}

// Remove deletes the first occurrence of pid, keeping the relative order of
// the remaining elements. It reports whether pid was present.
func (q *pidQueue) Remove(pid Pid) bool {
	i := q.index(pid)
	if i < 0 {
		return false
	}
	for ; i < q.n-1; i++ {
		q.buf[(q.head+i)%len(q.buf)] = q.at(i + 1)
	}
	q.n--
	if q.n == 0 {
		q.head = 0
	}
	return true
}

// Slice returns a copy of the queue contents, front first.
func (q *pidQueue) Slice() []Pid {
	out := make([]Pid, q.n)
	for i := range out {
		out[i] = q.at(i)
	}
	return out
}

func (q *pidQueue) grow() {
	size := len(q.buf) * 2
	if size < minQueueCap {
		size = minQueueCap
	}
	buf := make([]Pid, size)
	for i := 0; i < q.n; i++ {
		buf[i] = q.at(i)
	}
	q.buf = buf
	q.head = 0
}
