package runtime

import (
	"context"
	"sync"
)

type queueEntry struct {
	msg   Message
	route *Route
}

// processingQueue is a bounded FIFO shared by fetchers and workers. The
// unfinished count covers queued and in-flight entries and only drops when a
// worker calls taskDone, which is what join waits on.
type processingQueue struct {
	entries chan queueEntry

	mu         sync.Mutex
	unfinished int
	drained    chan struct{}
}

func newProcessingQueue(size int) *processingQueue {
	drained := make(chan struct{})
	close(drained)
	return &processingQueue{
		entries: make(chan queueEntry, size),
		drained: drained,
	}
}

// put blocks while the queue is full.
func (q *processingQueue) put(ctx context.Context, entry queueEntry) error {
	q.mu.Lock()
	if q.unfinished == 0 {
		q.drained = make(chan struct{})
	}
	q.unfinished++
	q.mu.Unlock()

	select {
	case q.entries <- entry:
		return nil
	case <-ctx.Done():
		q.taskDone()
		return ctx.Err()
	}
}

// get blocks while the queue is empty.
func (q *processingQueue) get(ctx context.Context) (queueEntry, error) {
	select {
	case entry := <-q.entries:
		return entry, nil
	case <-ctx.Done():
		return queueEntry{}, ctx.Err()
	}
}

func (q *processingQueue) taskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.unfinished == 0 {
		panic("workerflow: taskDone called more times than put")
	}
	q.unfinished--
	if q.unfinished == 0 {
		close(q.drained)
	}
}

// join waits until every entry put so far has been marked done.
func (q *processingQueue) join(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of queued entries not yet picked up by a worker.
func (q *processingQueue) Len() int {
	return len(q.entries)
}

func (q *processingQueue) Cap() int {
	return cap(q.entries)
}
