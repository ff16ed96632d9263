package engine

// CycleStats reports what one RunCycle call did, for logging and for the
// CLI's own bookkeeping (SPEC_FULL.md §10.3 per-cycle scan stats).
type CycleStats struct {
	Cycle          uint64
	TablesScanned  int
	PagesScanned   int
	ErrorsReplayed int
	LogRecords     int
}
