// Package engine ties reconcile, scan, eventlog, and transport together
// into the per-cycle loop of spec.md §4.7/§7: receive metadata, replay the
// host's error table, scan every shadow page table, and ship the resulting
// decision log back, halting for good on the first invariant breach.
package engine

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/reconcile"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/scan"
	"github.com/casys-kaist/bask-ae-eurosys26/transport"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Engine drives cycles against a single transport.Conn, owning the merge
// metadata and decision log for the connection's lifetime (spec.md §2: "the
// engine exclusively owns" the rmap metadata).
type Engine struct {
	cfg     Config
	meta    *rmap.Metadata
	log     *eventlog.Log
	driver  *scan.Driver
	metrics *Metrics

	cycle   uint64
	halted  bool
	haltErr error
}

// New returns an Engine with fresh merge metadata, ready to run cycles.
func New(cfg Config, metrics *Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		meta:    rmap.New(),
		log:     eventlog.New(),
		driver:  scan.NewDriver(),
		metrics: metrics,
	}
}

// RunCycle runs exactly one cycle of spec.md §4.7/§4.4 against conn: receive
// metadata, reconcile the previous cycle's error table, scan every table,
// and send the result descriptor. Once a cycle returns a FatalError the
// Engine is halted and every subsequent RunCycle call fails fast with
// ErrHalted, per spec.md §7 ("the reference engine halts").
func (e *Engine) RunCycle(ctx context.Context, conn transport.Conn) (CycleStats, error) {
	if e.halted {
		return CycleStats{}, ErrHalted
	}

	stats, err := e.runCycle(ctx, conn)
	if err != nil && isFatal(err) {
		e.halted = true
		e.haltErr = err
		if e.metrics != nil {
			e.metrics.invariantHalts.Inc()
		}
		log.Error("engine: halting after invariant breach", "cycle", e.cycle, "err", err)
	}
	return stats, err
}

// Halted reports whether a prior cycle's invariant breach has halted this
// Engine, and the error that caused it.
func (e *Engine) Halted() (bool, error) { return e.halted, e.haltErr }

func (e *Engine) runCycle(ctx context.Context, conn transport.Conn) (CycleStats, error) {
	md, err := conn.RecvMetadata(ctx)
	if err != nil {
		return CycleStats{}, fmt.Errorf("engine: receiving metadata: %w", err)
	}
	e.cycle++
	cycle := e.cycle

	// The decision log sent last cycle may only be cleared once the host
	// has moved on to this cycle (spec.md §5: the log is owned by the
	// engine "between send_result and the next recv_metadata"); receiving
	// this cycle's metadata is the proof that happened.
	e.log.Reset()

	stats := CycleStats{Cycle: cycle}

	errRecords, err := e.readErrorTable(ctx, conn, md.ErrTbl)
	if err != nil {
		return stats, fmt.Errorf("engine: reading error table: %w", err)
	}
	stats.ErrorsReplayed = len(errRecords)

	if err := reconcile.Apply(e.meta, e.log, errRecords, cycle, uint64(e.cfg.PruneMargin)); err != nil {
		return stats, fmt.Errorf("engine: reconciling cycle %d: %w", cycle, err)
	}

	t := e.cfg.scanTunables()
	for _, pt := range md.PTs {
		n, err := e.driver.RunTable(ctx, conn, pt, e.meta, e.log, cycle, t)
		stats.PagesScanned += n
		stats.TablesScanned++
		if err != nil {
			return stats, fmt.Errorf("engine: scanning mm %d in cycle %d: %w", pt.MMID, cycle, err)
		}
	}

	if err := e.meta.CheckInvariants(); err != nil {
		return stats, fmt.Errorf("engine: invariant check after cycle %d: %w", cycle, err)
	}

	snap := e.log.Snapshot()
	stats.LogRecords = len(snap.Records)
	if err := e.sendResult(ctx, conn, snap, stats); err != nil {
		return stats, fmt.Errorf("engine: sending result for cycle %d: %w", cycle, err)
	}

	if e.metrics != nil {
		e.metrics.cyclesRun.Inc()
		e.metrics.pagesScanned.Add(float64(stats.PagesScanned))
		e.metrics.logRecords.Add(float64(stats.LogRecords))
	}
	log.Info("engine: cycle complete", "cycle", cycle, "tables", stats.TablesScanned,
		"pages_scanned", stats.PagesScanned, "errors_replayed", stats.ErrorsReplayed,
		"log_records", stats.LogRecords)

	return stats, nil
}

// readErrorTable reads every descriptor in desc and decodes the host's
// error table for the prior cycle. The host splits TotalCnt records across
// DescCnt scatter-gather regions as evenly as possible; splitCounts mirrors
// that layout on the reading side.
func (e *Engine) readErrorTable(ctx context.Context, conn transport.Conn, desc wire.ErrorTableDescriptor) ([]wire.Record, error) {
	if desc.TotalCnt == 0 {
		return nil, nil
	}
	if len(desc.Entries) != int(desc.DescCnt) {
		return nil, fmt.Errorf("error table desc_cnt %d does not match %d entries sent", desc.DescCnt, len(desc.Entries))
	}

	counts := splitCounts(int(desc.TotalCnt), int(desc.DescCnt))
	records := make([]wire.Record, 0, desc.TotalCnt)
	for i, entry := range desc.Entries {
		n := counts[i]
		if n == 0 {
			continue
		}
		buf := make([]byte, n*wire.RecordSize)
		region := transport.MemRegion{RKey: entry.RKey, Addr: entry.Addr, Len: uint64(len(buf))}
		if err := conn.ReadResult(ctx, region, buf); err != nil {
			return nil, fmt.Errorf("reading error table region %d: %w", i, err)
		}
		chunk, err := wire.DecodeRecords(buf, n)
		if err != nil {
			return nil, fmt.Errorf("decoding error table region %d: %w", i, err)
		}
		records = append(records, chunk...)
	}
	return records, nil
}

// sendResult registers the cycle's log snapshot for remote read and ships
// the descriptor describing it (spec.md §4.7 step 4 / §6 result_descriptor).
func (e *Engine) sendResult(ctx context.Context, conn transport.Conn, snap eventlog.Snapshot, stats CycleStats) error {
	buf, err := wire.EncodeRecords(snap.Records)
	if err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}
	rkey, err := conn.RegisterLocal(ctx, buf)
	if err != nil {
		return fmt.Errorf("registering log buffer: %w", err)
	}
	desc := wire.ResultDescriptor{
		TotalScannedCnt: int32(stats.PagesScanned),
		LogCnt:          int32(len(snap.Records)),
		RKey:            rkey,
		ResultTableAddr: 0,
	}
	return conn.SendResult(ctx, desc)
}

// splitCounts distributes total items across parts buckets as evenly as
// possible, front-loading the remainder (the first total%parts buckets get
// one extra item), matching how a simple host-side table writer would lay
// descriptors out.
func splitCounts(total, parts int) []int {
	if parts <= 0 {
		return nil
	}
	base := total / parts
	rem := total % parts
	counts := make([]int, parts)
	for i := range counts {
		counts[i] = base
		if i < rem {
			counts[i]++
		}
	}
	return counts
}
