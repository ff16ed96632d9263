// Package eventlog implements the per-cycle decision log of spec.md §4.2:
// a contiguous, amortized-O(1)-append buffer of wire.Record entries with
// power-of-two growth, cleared at the start of every cycle and exposed for
// remote read between a cycle's end and the next cycle's metadata receipt.
package eventlog

import (
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// initialCapacity is the log's capacity immediately after Reset.
const initialCapacity = 64

// Log is an append-only, growable log of wire.Record events. It is not
// safe for concurrent use: within a cycle only the compare-and-merge step
// and reconciliation append to it, and the engine reads it through a
// Snapshot only after every table of the cycle has been scanned.
type Log struct {
	records []wire.Record
}

// New returns an empty Log.
func New() *Log {
	return &Log{records: make([]wire.Record, 0, initialCapacity)}
}

// Append adds one event record to the log, growing the backing array by
// doubling when full.
func (l *Log) Append(r wire.Record) {
	if len(l.records) == cap(l.records) {
		newCap := 2 * cap(l.records)
		if newCap == 0 {
			newCap = initialCapacity
		}
		grown := make([]wire.Record, len(l.records), newCap)
		copy(grown, l.records)
		l.records = grown
	}
	l.records = append(l.records, r)
}

// Len returns the number of records currently in the log.
func (l *Log) Len() int { return len(l.records) }

// Reset clears the log at the start of a new cycle (spec.md §4.2: "start
// empty"). The backing array is kept so repeated cycles amortize
// allocation.
func (l *Log) Reset() {
	l.records = l.records[:0]
}

// Snapshot is an immutable copy of a cycle's decision log, taken by the
// engine at cycle end to encode and expose for remote read. Taking a
// Snapshot does not clear the underlying Log; the engine calls Reset when
// the next cycle's metadata arrives.
type Snapshot struct {
	Records []wire.Record
}

// Snapshot returns a read-only copy of the log's current contents.
func (l *Log) Snapshot() Snapshot {
	out := make([]wire.Record, len(l.records))
	copy(out, l.records)
	return Snapshot{Records: out}
}
