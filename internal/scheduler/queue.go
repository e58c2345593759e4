package scheduler

// queued is one pending job reference in the priority queue.
type queued struct {
	jobID    string
	priority int

	// seq is a monotonic submission counter; equal priorities dispatch
	// in submission order.
	seq uint64
}

// jobQueue implements container/heap ordering: highest priority first,
// oldest submission first within a priority.
type jobQueue []queued

func (q jobQueue) Len() int { return len(q) }

func (q jobQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *jobQueue) Push(x any) {
	*q = append(*q, x.(queued))
}

func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
