package btree

// Cursor gives an ordered, full-table or range scan over a Tree. The
// on-disk leaf format carries no sibling pointer (spec.md §6.1), so
// advancing past a leaf's last cell climbs parent pointers rather than
// following a leaf-chain link, mirroring the reference cursor's
// first_leaf/next_leaf/advance.
type Cursor struct {
	tree      *Tree
	leaf      uint32
	slot      uint32
	exhausted bool
}

// NewCursor positions a cursor at the first key of the tree. An empty
// tree produces an exhausted cursor.
func (t *Tree) NewCursor() (*Cursor, error) {
	leaf, err := t.firstLeaf(t.rootPageNum)
	if err != nil {
		return nil, err
	}
	c := &Cursor{tree: t, leaf: leaf, slot: 0}
	pg, err := t.getPage(leaf)
	if err != nil {
		return nil, err
	}
	c.exhausted = LeafNumCells(pg) == 0
	return c, nil
}

// Seek positions a cursor at key, or at the slot key would occupy if
// absent. The returned bool reports whether key is present.
func (t *Tree) Seek(key uint32) (*Cursor, bool, error) {
	leaf, slot, found, err := t.Find(key)
	if err != nil {
		return nil, false, err
	}
	pg, err := t.getPage(leaf)
	if err != nil {
		return nil, false, err
	}
	c := &Cursor{tree: t, leaf: leaf, slot: slot}
	c.exhausted = slot >= LeafNumCells(pg)
	return c, found, nil
}

// firstLeaf descends leftmost from pageNum to the first leaf in key
// order.
func (t *Tree) firstLeaf(pageNum uint32) (uint32, error) {
	for {
		pg, err := t.getPage(pageNum)
		if err != nil {
			return 0, err
		}
		if nodeType(pg) == NodeTypeLeaf {
			return pageNum, nil
		}
		if InternalNumKeys(pg) > 0 {
			pageNum = InternalChildAt(pg, 0)
		} else {
			pageNum = InternalRightChild(pg)
		}
	}
}

// Valid reports whether the cursor currently references a live cell.
func (c *Cursor) Valid() bool { return !c.exhausted }

// Key returns the key at the cursor's current position. Valid() must be
// true.
func (c *Cursor) Key() (uint32, error) {
	pg, err := c.tree.getPage(c.leaf)
	if err != nil {
		return 0, err
	}
	return LeafKeyAt(pg, c.slot), nil
}

// Cell returns a copy of the full cell bytes at the cursor's current
// position. Valid() must be true.
func (c *Cursor) Cell() ([]byte, error) {
	pg, err := c.tree.getPage(c.leaf)
	if err != nil {
		return nil, err
	}
	return LeafCellAt(pg, c.slot), nil
}

// Next advances the cursor to the next key in order. It reports false
// (with no error) once the scan is exhausted.
func (c *Cursor) Next() (bool, error) {
	if c.exhausted {
		return false, nil
	}
	pg, err := c.tree.getPage(c.leaf)
	if err != nil {
		return false, err
	}
	if c.slot+1 < LeafNumCells(pg) {
		c.slot++
		return true, nil
	}

	nextLeaf, ok, err := c.tree.nextLeaf(c.leaf)
	if err != nil {
		return false, err
	}
	if !ok {
		c.exhausted = true
		return false, nil
	}
	c.leaf = nextLeaf
	c.slot = 0
	return true, nil
}

// nextLeaf finds the leaf immediately to the right of leafPageNum in key
// order, per original_source/cursor.py's next_leaf: climb parent
// pointers until the current node is not its parent's right child, then
// descend into the next sibling's (or the parent's right child's)
// leftmost leaf.
func (t *Tree) nextLeaf(leafPageNum uint32) (uint32, bool, error) {
	node := leafPageNum
	for {
		pg, err := t.getPage(node)
		if err != nil {
			return 0, false, err
		}
		if isRoot(pg) {
			return 0, false, nil
		}
		parent := parentPageNum(pg)
		ppg, err := t.getPage(parent)
		if err != nil {
			return 0, false, err
		}
		if InternalHasRightChild(ppg) && InternalRightChild(ppg) == node {
			node = parent
			continue
		}

		all := InternalChildSlots(ppg)
		pos := -1
		for i, c := range all {
			if c == node {
				pos = i
				break
			}
		}
		next := all[pos+1]
		leaf, err := t.firstLeaf(next)
		if err != nil {
			return 0, false, err
		}
		return leaf, true, nil
	}
}
