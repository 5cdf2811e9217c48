package btree

import "github.com/pkg/errors"

// ErrDuplicateKey is returned by Insert when the tree already holds a
// cell with the given key (spec.md §7, class 4).
var ErrDuplicateKey = errors.New("btree: duplicate key")

// ErrNotFound is not returned by any function in this package; in
// particular Delete never returns it, since deleting an absent key is
// benign (spec.md §7, class 5).
var ErrNotFound = errors.New("btree: key not found")

// ErrValidation wraps any invariant violation surfaced by Validate.
var ErrValidation = errors.New("btree: invariant violation")

// FatalError marks an error from spec.md §7's classes 1-3 raised by the
// tree itself: a broken invariant or a structural impossibility (e.g. a
// split producing more pages than the format allows). Pager failures are
// passed up unchanged, as the pager's own *pager.FatalError. Tree itself
// never calls os.Exit; cmd/storageinspect is the only caller allowed to
// treat one as process-ending.
type FatalError struct {
	cause error
}

func (e *FatalError) Error() string { return e.cause.Error() }
func (e *FatalError) Unwrap() error { return e.cause }

func fatalf(cause error) error {
	return &FatalError{cause: cause}
}
