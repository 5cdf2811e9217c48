// Package btree also houses the tree-level orchestration: find, insert,
// delete, split, compaction and root collapse over the leaf/internal node
// layouts defined in leaf.go and internal.go.
package btree

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spandanb/learndb-go/pager"
)

// Tree is a B+tree rooted at a fixed page number. The root's page number
// never changes for the tree's lifetime (I7); growth and shrinkage are
// expressed by rewriting the root page's contents in place.
type Tree struct {
	pager       *pager.Pager
	rootPageNum uint32
	log         *logrus.Entry
}

// NewTree wraps an existing root page (already initialized, either as a
// leaf or internal node) as a Tree.
func NewTree(p *pager.Pager, rootPageNum uint32) *Tree {
	return &Tree{
		pager:       p,
		rootPageNum: rootPageNum,
		log:         logrus.WithField("component", "btree").WithField("root", rootPageNum),
	}
}

// CreateTree allocates a fresh page and initializes it as an empty leaf
// root, returning the new Tree. Used by the catalog when registering a
// new table.
func CreateTree(p *pager.Pager) (*Tree, error) {
	rootPageNum, err := p.AllocatePage()
	if err != nil {
		return nil, errors.Wrap(err, "btree: allocate root page")
	}
	pg, err := p.GetPage(rootPageNum)
	if err != nil {
		return nil, err
	}
	InitLeaf(pg, true, rootPageNum)
	pg.Dirty = true
	return NewTree(p, rootPageNum), nil
}

// CreateTreeAt initializes pageNum in place as an empty leaf root and
// wraps it as a Tree, without allocating a new page. Used for the
// catalog's reserved page-0 root (spec.md §3 "Catalog"), which is
// referenced out-of-band rather than handed out by AllocatePage.
func CreateTreeAt(p *pager.Pager, pageNum uint32) (*Tree, error) {
	pg, err := p.GetPage(pageNum)
	if err != nil {
		return nil, err
	}
	InitLeaf(pg, true, pageNum)
	pg.Dirty = true
	return NewTree(p, pageNum), nil
}

// NodeChildren reads pageNum directly through the pager and returns its
// children (empty for a leaf) along with whether it is an internal node.
// Exposed for callers above the tree (the catalog's drop-table
// reclamation) that need to walk a tree's pages without an open Tree
// handle for every subtree root.
func NodeChildren(p *pager.Pager, pageNum uint32) (children []uint32, isInternal bool, err error) {
	pg, err := p.GetPage(pageNum)
	if err != nil {
		return nil, false, err
	}
	if nodeType(pg) != NodeTypeInternal {
		return nil, false, nil
	}
	return InternalChildSlots(pg), true, nil
}

// RootPageNum returns the page number the tree was opened with.
func (t *Tree) RootPageNum() uint32 { return t.rootPageNum }

func (t *Tree) getPage(pageNum uint32) (*pager.Page, error) {
	return t.pager.GetPage(pageNum)
}

func (t *Tree) subtreeMaxKey(pageNum uint32) (uint32, error) {
	pg, err := t.getPage(pageNum)
	if err != nil {
		return 0, err
	}
	switch nodeType(pg) {
	case NodeTypeLeaf:
		return LeafMaxKey(pg), nil
	case NodeTypeInternal:
		// An internal node's last inner key is only its second-highest
		// descendant key (I2: the right child's subtree max is strictly
		// greater). The true subtree max lives in the right child, so
		// walk into it rather than reading InternalKeyAt(n-1).
		return t.subtreeMaxKey(InternalRightChild(pg))
	default:
		return 0, fatalf(errors.Errorf("btree: page %d has unknown node type", pageNum))
	}
}

// Find descends from the root to the leaf that would hold key, returning
// the leaf's page number and the slot key occupies (or would occupy).
func (t *Tree) Find(key uint32) (leafPageNum uint32, slot uint32, found bool, err error) {
	pageNum := t.rootPageNum
	for {
		pg, err := t.getPage(pageNum)
		if err != nil {
			return 0, 0, false, err
		}
		if nodeType(pg) == NodeTypeLeaf {
			s, f := LeafFindSlot(pg, key)
			return pageNum, s, f, nil
		}
		pageNum = InternalChildForKey(pg, key)
	}
}

// Insert places cellBytes, whose key is parsed from its documented
// prefix, into the tree. Returns ErrDuplicateKey if the key is already
// present (spec.md §4.4.2).
func (t *Tree) Insert(cellBytes []byte) error {
	key, err := DecodeCellKey(cellBytes)
	if err != nil {
		return err
	}
	if uint32(len(cellBytes)) > LeafMaxCellSize() {
		return errors.Wrapf(ErrCellTooLarge, "cell size %d", len(cellBytes))
	}

	leafPageNum, slot, found, err := t.Find(key)
	if err != nil {
		return err
	}
	if found {
		return ErrDuplicateKey
	}

	pg, err := t.getPage(leafPageNum)
	if err != nil {
		return err
	}

	needed := uint32(len(cellBytes))
	if LeafCanPlace(pg, needed) && LeafNumCells(pg) < LeafMaxCells {
		oldNumCells := LeafNumCells(pg)
		if err := LeafInsertAt(pg, slot, cellBytes); err != nil {
			return err
		}
		pg.Dirty = true
		if oldNumCells > 0 && slot == oldNumCells {
			return t.propagateMaxKey(leafPageNum, LeafMaxKey(pg))
		}
		return nil
	}

	t.log.WithField("leaf", leafPageNum).Debug("leaf full, splitting")

	wasRoot := isRoot(pg)
	parent := parentPageNum(pg)

	newChildren, err := t.leafSplitInsert(leafPageNum, slot, cellBytes)
	if err != nil {
		return err
	}

	if wasRoot {
		return t.createNewRoot(leafPageNum, newChildren)
	}
	return t.internalNodeInsert(parent, leafPageNum, newChildren)
}

// propagateMaxKey implements spec.md §4.4.5: walk up from nodePageNum,
// updating the first ancestor for which nodePageNum is not the right
// child; stop there, or at the root.
func (t *Tree) propagateMaxKey(nodePageNum uint32, newMaxKey uint32) error {
	pg, err := t.getPage(nodePageNum)
	if err != nil {
		return err
	}
	if isRoot(pg) {
		return nil
	}
	parent := parentPageNum(pg)
	ppg, err := t.getPage(parent)
	if err != nil {
		return err
	}
	if InternalHasRightChild(ppg) && InternalRightChild(ppg) == nodePageNum {
		return t.propagateMaxKey(parent, newMaxKey)
	}
	if !InternalUpdateKeyForChild(ppg, nodePageNum, newMaxKey) {
		return fatalf(errors.Errorf("btree: node %d not found under parent %d during key propagation", nodePageNum, parent))
	}
	ppg.Dirty = true
	return nil
}

// siblingSet returns, in left-to-right order, the subset of parentPg's
// children consisting of target and its immediate left/right siblings
// (whichever exist), along with target's index within that subset. Used
// for both leaf and internal underflow checks, since both only ever test
// occupancy against immediate neighbors (spec.md §4.4.8).
func siblingSet(parentPg *pager.Page, target uint32) (siblings []uint32, idx int) {
	all := InternalChildSlots(parentPg)
	pos := -1
	for i, c := range all {
		if c == target {
			pos = i
			break
		}
	}
	lo := pos - 1
	if lo < 0 {
		lo = 0
	}
	hi := pos + 1
	if hi > len(all)-1 {
		hi = len(all) - 1
	}
	return all[lo : hi+1], pos - lo
}

// internalReplaceChildren rewrites pg's full child list, substituting
// newChildren for the contiguous run oldChildren (which must appear in
// pg's current child order), and recomputes every separator key from the
// new children's current subtree max. This implements both the 1-to-2/3
// substitution used by insert splits and the N-to-1/2 substitution used
// by delete compactions with one routine, since both reduce to "replace
// this contiguous run of children, keep everything else, recompute keys".
func (t *Tree) internalReplaceChildren(pg *pager.Page, oldChildren []uint32, newChildren []uint32) error {
	all := InternalChildSlots(pg)
	start := -1
	for i := 0; i+len(oldChildren) <= len(all); i++ {
		match := true
		for j, c := range oldChildren {
			if all[i+j] != c {
				match = false
				break
			}
		}
		if match {
			start = i
			break
		}
	}
	if start < 0 {
		return fatalf(errors.New("btree: old children not found as a contiguous run in parent"))
	}

	newAll := make([]uint32, 0, len(all)-len(oldChildren)+len(newChildren))
	newAll = append(newAll, all[:start]...)
	newAll = append(newAll, newChildren...)
	newAll = append(newAll, all[start+len(oldChildren):]...)

	internalSetNumKeys(pg, 0)
	internalSetHasRightChild(pg, false)
	internalSetRightChild(pg, pager.NullPtr)

	for i, c := range newAll[:len(newAll)-1] {
		key, err := t.subtreeMaxKey(c)
		if err != nil {
			return err
		}
		internalSetChildAt(pg, uint32(i), c)
		internalSetKeyAt(pg, uint32(i), key)
	}
	internalSetNumKeys(pg, uint32(len(newAll)-1))
	internalSetRightChild(pg, newAll[len(newAll)-1])
	internalSetHasRightChild(pg, true)
	return nil
}
