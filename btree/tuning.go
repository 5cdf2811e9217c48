package btree

// Tuning knobs. Unlike format.go, these affect fan-out and how quickly
// nodes split/compact, but not on-disk interoperability: two files
// written with different values here still parse correctly under each
// other's settings, because every size is still derived from the page and
// cell bytes actually on disk, never assumed from these constants alone.
//
// The reference implementation keeps these deliberately low "for
// debugging/dev" (original_source/learndb/constants.go's own comment); a
// production deployment would raise them. We keep the same low defaults
// so the split/compact/root-collapse paths are exercised by realistically
// small test fixtures, matching spec.md's seed scenarios (§8).
const (
	// LeafMaxCells bounds the number of cells a leaf may hold even when
	// byte space would allow more, so that splits are exercised well
	// before a page is physically full.
	LeafMaxCells = 3

	// InternalMaxCells bounds the number of (child, key) cells an
	// internal node may hold, not counting the right child.
	InternalMaxCells = 3

	// InternalMaxChildren is InternalMaxCells plus the right child.
	InternalMaxChildren = InternalMaxCells + 1
)
