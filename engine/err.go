package engine

import "errors"

// ErrHalted is returned by RunCycle once the engine has halted after an
// invariant breach (spec.md §7: "the reference engine halts"). The caller
// must tear down the connection; RunCycle never scans again on a halted
// Engine.
var ErrHalted = errors.New("engine: halted after an invariant breach, refusing further scans")

// FatalError is implemented by errors that mark an invariant breach rather
// than an ordinary recoverable transport condition (spec.md §7). rmap,
// reconcile, and merge each declare their own concrete type satisfying this;
// Engine recognizes any of them.
type FatalError interface {
	error
	Fatal() bool
}

// isFatal reports whether err (or something it wraps) is a FatalError with
// Fatal() true.
func isFatal(err error) bool {
	var f FatalError
	return errors.As(err, &f) && f.Fatal()
}
