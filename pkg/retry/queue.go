package retry

import (
	"container/heap"
	"context"
	"sync"
)

// Queue is an advisory index of pending attempts keyed by their retryAfter
// instant. The store's ListDue query is the source of truth; a queue only
// saves sweepers from scanning, so losing its contents (process restart)
// is harmless.
type Queue interface {
	Push(ctx context.Context, workspaceID, botTaskID string, dueAtMillis int64) error
	// Due pops and returns every entry due at or before the given instant.
	Due(ctx context.Context, workspaceID string, nowMillis int64) ([]string, error)
}

type heapEntry struct {
	botTaskID string
	dueAt     int64
}

type entryHeap []heapEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].dueAt < h[j].dueAt }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)         { *h = append(*h, x.(heapEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}

// MemoryQueue is a per-process min-heap queue for single-instance
// deployments.
type MemoryQueue struct {
	mu    sync.Mutex
	heaps map[string]*entryHeap
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{heaps: make(map[string]*entryHeap)}
}

func (q *MemoryQueue) Push(_ context.Context, workspaceID, botTaskID string, dueAtMillis int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.heaps[workspaceID]
	if !ok {
		h = &entryHeap{}
		q.heaps[workspaceID] = h
	}

	heap.Push(h, heapEntry{botTaskID: botTaskID, dueAt: dueAtMillis})

	return nil
}

func (q *MemoryQueue) Due(_ context.Context, workspaceID string, nowMillis int64) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.heaps[workspaceID]
	if !ok {
		return nil, nil
	}

	due := make([]string, 0)

	for h.Len() > 0 && (*h)[0].dueAt <= nowMillis {
		entry := heap.Pop(h).(heapEntry)
		due = append(due, entry.botTaskID)
	}

	return due, nil
}
