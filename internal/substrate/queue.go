package substrate

// workQueue is the FIFO of store keys whose change has not yet been
// propagated to relations.
//
// Each round drains exactly the keys queued by the previous round
// (breadth-first), so one round is one generation of propagation. A key is
// queued at most once per generation.
type workQueue struct {
	keys   []string
	queued map[string]bool
}

func newWorkQueue(keys ...string) *workQueue {
	q := &workQueue{queued: make(map[string]bool)}
	for _, k := range keys {
		q.Enqueue(k)
	}
	return q
}

// Enqueue adds key to the back of the queue unless it is already waiting.
func (q *workQueue) Enqueue(key string) {
	if q.queued[key] {
		return
	}
	q.queued[key] = true
	q.keys = append(q.keys, key)
}

// Generation removes and returns every queued key, in FIFO order.
func (q *workQueue) Generation() []string {
	gen := q.keys
	q.keys = nil
	q.queued = make(map[string]bool)
	return gen
}

// Len returns the number of waiting keys.
func (q *workQueue) Len() int {
	return len(q.keys)
}
