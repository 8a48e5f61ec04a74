package frontier

import (
	"sort"
	"time"
)

// Snapshot is a serializable copy of frontier state used to resume a crawl.
// In-progress URLs are folded back into the queue.
type Snapshot struct {
	Queue     []Item            `json:"queue"`
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed"`
	Stats     Stats             `json:"stats"`
	TakenAt   time.Time         `json:"taken_at"`
}

// Snapshot captures queued, completed and failed state. Items popped but not
// yet completed are passed in via inFlight so they are re-queued on restore.
func (f *Frontier) Snapshot(inFlight ...Item) Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	queue := make([]Item, 0, f.queue.Len()+len(inFlight))
	for _, item := range f.queue {
		if _, done := f.completed[item.URL]; done {
			continue
		}
		queue = append(queue, item)
	}
	queue = append(queue, inFlight...)
	sort.SliceStable(queue, func(i, j int) bool {
		return itemHeap(queue).Less(i, j)
	})

	completed := make([]string, 0, len(f.completed))
	for u := range f.completed {
		completed = append(completed, u)
	}
	sort.Strings(completed)

	failed := make(map[string]string, len(f.failed))
	for k, v := range f.failed {
		failed[k] = v
	}
	return Snapshot{
		Queue:     queue,
		Completed: completed,
		Failed:    failed,
		Stats: Stats{
			Pending:    f.queue.Len(),
			InProgress: len(f.inProgress),
			Completed:  len(f.completed),
			Failed:     len(f.failed),
			TotalSeen:  len(f.seen),
			MaxURLs:    f.cfg.MaxURLs,
		},
		TakenAt: f.now(),
	}
}

// Restore clears the frontier and loads s. Every restored URL is marked seen
// and queued items keep their relative order.
func (f *Frontier) Restore(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset()

	for _, u := range s.Completed {
		f.seen[u] = struct{}{}
		f.completed[u] = struct{}{}
	}
	for u, msg := range s.Failed {
		f.seen[u] = struct{}{}
		f.failed[u] = msg
	}
	for _, item := range s.Queue {
		if _, done := f.completed[item.URL]; done {
			continue
		}
		if _, failed := f.failed[item.URL]; failed {
			continue
		}
		f.seen[item.URL] = struct{}{}
		item.Tier = clampTier(item.Tier)
		item.Metadata = copyMetadata(item.Metadata)
		f.push(item)
	}
}
