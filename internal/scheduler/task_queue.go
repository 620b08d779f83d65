package scheduler

// Task is a unit of work executed at the start of a render tick.
type Task func()

// TaskID identifies a queued task for removal.
type TaskID uint64

// TaskQueue is an ordered, cancelable queue of tasks executed once per
// frame. Run executes a snapshot of the queue in insertion order; tasks
// added during a run go to the next run.
//
// A panicking task propagates to Run's caller and aborts the remaining
// tasks of that batch. The batch is consumed either way.
type TaskQueue struct {
	nextID  TaskID
	tasks   []queuedTask
	running []queuedTask
	removed map[TaskID]struct{}
}

type queuedTask struct {
	id TaskID
	fn Task
}

// NewTaskQueue returns an empty queue.
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{removed: make(map[TaskID]struct{})}
}

// Add appends fn and returns an id usable with Remove.
func (q *TaskQueue) Add(fn Task) TaskID {
	q.nextID++
	q.tasks = append(q.tasks, queuedTask{id: q.nextID, fn: fn})
	return q.nextID
}

// Remove excises the task with the given id before it runs. No-op for
// unknown ids and tasks that already ran; stale ids leave no mark
// behind.
func (q *TaskQueue) Remove(id TaskID) {
	if !q.pending(id) {
		return
	}
	q.removed[id] = struct{}{}
}

// pending reports whether id is still waiting in the queue or in the
// batch currently being run.
func (q *TaskQueue) pending(id TaskID) bool {
	for _, t := range q.tasks {
		if t.id == id {
			return true
		}
	}
	for _, t := range q.running {
		if t.id == id {
			return true
		}
	}
	return false
}

// Run executes the currently queued tasks in FIFO order, each exactly
// once, skipping removed ones.
func (q *TaskQueue) Run() {
	batch := q.tasks
	q.tasks = nil
	q.running = batch
	defer func() {
		// Drop removal marks for the consumed batch only; marks against
		// tasks queued for the next run must survive.
		for _, t := range batch {
			delete(q.removed, t.id)
		}
		q.running = nil
	}()
	for _, t := range batch {
		if _, skip := q.removed[t.id]; skip {
			continue
		}
		t.fn()
	}
}

// Clear discards all pending tasks without executing them.
func (q *TaskQueue) Clear() {
	q.tasks = nil
	clear(q.removed)
}

// Len returns the number of pending tasks, including removed ones that
// have not been swept yet.
func (q *TaskQueue) Len() int {
	return len(q.tasks)
}
