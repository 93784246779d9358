package pipeline

import (
	"container/heap"
	"sync"
)

// TaskState is the lifecycle stage of a frame task.
type TaskState int

const (
	TaskPending TaskState = iota
	TaskAssigned
	TaskRendered
	TaskFailed
	TaskTerminal
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskAssigned:
		return "assigned"
	case TaskRendered:
		return "rendered"
	case TaskFailed:
		return "failed"
	case TaskTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// FrameTask is the unit of scheduled work for one output frame.
type FrameTask struct {
	Index    int
	Attempts int
	State    TaskState
}

type taskHeap []*FrameTask

func (h taskHeap) Len() int           { return len(h) }
func (h taskHeap) Less(i, j int) bool { return h[i].Index < h[j].Index }
func (h taskHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)        { *h = append(*h, x.(*FrameTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// workQueue hands out frame tasks lowest index first. A task is dispatched
// only while its index is below cursor+window, where cursor is the next
// frame the assembler waits for.
type workQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	tasks    taskHeap
	window   int
	cursor   int
	inflight int
	closed   bool
}

func newWorkQueue(total, window int) *workQueue {
	q := &workQueue{window: window}
	q.cond = sync.NewCond(&q.mu)
	q.tasks = make(taskHeap, 0, total)
	for i := 0; i < total; i++ {
		q.tasks = append(q.tasks, &FrameTask{Index: i})
	}
	heap.Init(&q.tasks)
	return q
}

// pop blocks until a task is dispatchable. It returns false once the queue
// is closed or every task has finished.
func (q *workQueue) pop() (*FrameTask, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, false
		}
		if len(q.tasks) > 0 && q.tasks[0].Index < q.cursor+q.window {
			t := heap.Pop(&q.tasks).(*FrameTask)
			t.State = TaskAssigned
			q.inflight++
			return t, true
		}
		if len(q.tasks) == 0 && q.inflight == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

// requeue puts a failed task back in index order.
func (q *workQueue) requeue(t *FrameTask) {
	q.mu.Lock()
	t.State = TaskPending
	heap.Push(&q.tasks, t)
	q.inflight--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// finish retires a task that will not be retried.
func (q *workQueue) finish(*FrameTask) {
	q.mu.Lock()
	q.inflight--
	q.mu.Unlock()
	q.cond.Broadcast()
}

// advance moves the dispatch window.
func (q *workQueue) advance(cursor int) {
	q.mu.Lock()
	if cursor > q.cursor {
		q.cursor = cursor
	}
	q.mu.Unlock()
	q.cond.Broadcast()
}

// close wakes every waiter; later pops return false.
func (q *workQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
