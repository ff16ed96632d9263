package hashpair

import (
	"sync"
	"sync/atomic"
)

// PreHashNum bounds the number of pages a single pre-hash chunk can cover
// (spec.md §4.1, `PRE_HASH_NUM`). A window handed to the pre-hash worker
// must not exceed this many pages.
const PreHashNum = 512

// Status is the pre-hash worker's state word: Ready when idle or after
// finishing a batch, Running while hashing a batch, and Stopped after
// abandoning a batch on request.
type Status int32

const (
	// Ready means the worker is idle and can accept a new batch.
	Ready Status = iota
	// Running means the worker is hashing the current batch.
	Running
	// Stopped means the driver asked the worker to abandon the current
	// batch at the next iteration boundary.
	Stopped
)

// Worker is the pre-hash background task of spec.md §4.1. It walks the
// pages of a batch in ascending index, writing their hash Pairs into a
// chunk array of fixed size PreHashNum. Its memory is one chunk reused
// across batches. In place of a spinlock-guarded STOP flag it uses an
// atomic stop flag and status word, plus a done channel, closed by the
// batch goroutine, that Start and Stop wait on. The notify field is
// allocated but not used.
type Worker struct {
	mu     sync.Mutex
	status atomic.Int32

	// completed is the number of pages of the current batch that have a
	// valid precomputed Pair in chunk. Read via atomic load by hash_pair's
	// callers (HashPage, called from the scan driver), written only by run.
	completed atomic.Int32

	chunk [PreHashNum]Pair
	base  []byte // base pointer of the current batch, nil when idle
	count int    // number of pages in the current batch

	stopRequested atomic.Bool
	notify        chan struct{}
	done          chan struct{}
}

// NewWorker constructs an idle pre-hash worker.
func NewWorker() *Worker {
	w := &Worker{
		notify: make(chan struct{}, 1),
	}
	w.status.Store(int32(Ready))
	return w
}

// Status returns the worker's current status word.
func (w *Worker) Status() Status {
	return Status(w.status.Load())
}

// CompletedIndex returns the number of pages of the current batch that have
// a valid precomputed hash. hash_pair (spec.md §4.1 step 2) compares a
// page's index against this value to decide hit vs miss.
func (w *Worker) CompletedIndex() int {
	return int(w.completed.Load())
}

// Start hands the worker a new batch: base is the address of page 0 and
// count is the number of PageSize pages in the batch (count must be <=
// PreHashNum). If the worker is still running a previous batch it is asked
// to stop at its next iteration boundary and Start blocks until it has
// done so, per spec.md §4.1's stopping condition.
func (w *Worker) Start(base []byte, count int) {
	if count > PreHashNum {
		panic("hashpair: batch exceeds PreHashNum")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.Status() == Running {
		w.stopRequested.Store(true)
		<-w.done
	}

	w.base = base
	w.count = count
	w.completed.Store(0)
	w.stopRequested.Store(false)
	w.status.Store(int32(Running))
	w.done = make(chan struct{})

	go w.run(base, count, w.done)
}

// Stop asks a running worker to abandon its batch at the next iteration
// boundary and waits for it to do so. After Stop returns, Status is Ready
// if the batch finished first, or Stopped if it was abandoned.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.Status() != Running {
		return
	}
	w.stopRequested.Store(true)
	<-w.done
}

func (w *Worker) run(base []byte, count int, done chan struct{}) {
	defer close(done)
	for idx := 0; idx < count; idx++ {
		if w.stopRequested.Load() {
			w.status.Store(int32(Stopped))
			return
		}
		page := base[idx*PageSize : (idx+1)*PageSize]
		w.chunk[idx] = Compute(page)
		w.completed.Store(int32(idx + 1))
	}
	w.status.Store(int32(Ready))
}

// HashPage implements hash_pair(page) from spec.md §4.1: given the same base
// pointer the driver handed to Start and a page within it, it returns the
// precomputed Pair on a hit (page_idx < completed_idx) or computes it on
// demand on a miss. base/pageIdx identify the page the same way the source
// derives page_idx = (page_ptr - base) / PAGE_SIZE.
func (w *Worker) HashPage(base []byte, pageIdx int, page []byte) Pair {
	if w.base != nil && samePage(w.base, base) && pageIdx < w.CompletedIndex() {
		return w.chunk[pageIdx]
	}
	return Compute(page)
}

func samePage(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	return &a[0] == &b[0]
}
