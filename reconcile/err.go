package reconcile

import "errors"

// Sentinel errors for conditions spec.md §4.4 marks as invariant breaches:
// each indicates the host's error table disagrees with what the engine
// believes about its own merge metadata, which is a bug rather than an
// ordinary runtime condition.
var (
	// ErrUnknownItem is raised when a host-origin failure record names a
	// key the engine has never created an rmap_item for.
	ErrUnknownItem = errors.New("reconcile: error table references an unknown item")

	// ErrNotStable is raised when HOST_MERGE_ONE_FAILED names an item that
	// is not currently Stable (spec.md §4.4: "it must currently be Stable").
	ErrNotStable = errors.New("reconcile: host-stable-merge-failed names an item that is not Stable")

	// ErrMissingNode is raised when HOST_MERGE_TWO_FAILED names a from-item
	// whose stable_node does not exist (spec.md §4.4: "its stable_node must
	// exist").
	ErrMissingNode = errors.New("reconcile: host-unstable-merge-failed names an item with no stable node")

	// ErrHostStaleStableNode is raised on receipt of a HOST_STALE_STABLE_NODE
	// record. spec.md §4.4: "currently fatal — the host should not see
	// stale nodes that the engine is not also aware of."
	ErrHostStaleStableNode = errors.New("reconcile: host reported a stale stable node the engine never freed")
)

// FatalError marks an error as one the engine must treat as a bug rather
// than a recoverable runtime condition (spec.md §7), recognized by
// engine.FatalError.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string { return "reconcile: " + e.Err.Error() }

// Unwrap allows errors.Is/As to see through to the underlying error.
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal marks this as fatal for engine.FatalError.
func (e *FatalError) Fatal() bool { return true }
