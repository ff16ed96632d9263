package engine

import (
	"github.com/casys-kaist/bask-ae-eurosys26/merge"
	"github.com/casys-kaist/bask-ae-eurosys26/scan"
)

// Config bundles every knob the cmd/bask-engine CLI surface exposes
// (spec.md §6: legacy, no_skip_opt, no_pre_hash_opt, pruning margin).
type Config struct {
	// Legacy selects the pre-redesign volatility-decay divergence behind
	// the -old flag (DESIGN NOTES §9).
	Legacy bool
	// NoSkipOpt disables the skip-budget heuristic of merge.shouldSkip.
	NoSkipOpt bool
	// NoPreHashOpt disables the background pre-hash worker of hashpair.
	NoPreHashOpt bool
	// MaxPagesInSGL bounds scan window size; zero selects
	// scan.DefaultMaxPagesInSGL.
	MaxPagesInSGL int
	// PruneMargin is how many cycles an rmap_item may go unobserved before
	// reconcile.Apply prunes it (spec.md §4.4).
	PruneMargin uint64
}

// scanTunables translates Config into the scan package's own Tunables.
func (c Config) scanTunables() scan.Tunables {
	return scan.Tunables{
		Merge: merge.Tunables{
			Legacy:    c.Legacy,
			NoSkipOpt: c.NoSkipOpt,
		},
		MaxPagesInSGL: c.MaxPagesInSGL,
		PreHash:       !c.NoPreHashOpt,
	}
}
