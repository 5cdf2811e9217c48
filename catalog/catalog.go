// Package catalog implements the distinguished B+tree rooted at page 0
// that maps table name to root page number, DDL text, and a catalog-only
// table identifier. Every user table is one row here.
package catalog

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spandanb/learndb-go/btree"
	"github.com/spandanb/learndb-go/pager"
)

// ErrTableExists is returned by CreateTable when name is already
// registered.
var ErrTableExists = errors.New("catalog: table already exists")

// ErrTableNotFound is returned by DropTable (and lookups) when name is
// not registered.
var ErrTableNotFound = errors.New("catalog: table not found")

// catalogRootPageNum is the reserved page holding the catalog's own
// B+tree root (spec.md §3 "Catalog").
const catalogRootPageNum = 0

// Entry is one catalog row: (pkey, name, root_page_num, sql_text,
// table_id). pkey is an internal monotonic counter distinct from the
// user-visible table_id, which exists purely as an opaque external
// identifier (SPEC_FULL.md §3.1) and is never interpreted by the B+tree
// core.
type Entry struct {
	Pkey        uint32
	Name        string
	RootPageNum uint32
	SQLText     string
	TableID     uuid.UUID
}

// Catalog owns the reserved page-0 tree and an in-memory index of open
// tables.
type Catalog struct {
	pager *pager.Pager
	tree  *btree.Tree
	log   *logrus.Entry

	tables  map[string]*btree.Tree
	entries map[string]Entry
	nextPkey uint32
}

// Open loads the catalog tree at page 0 (initializing it if the file is
// new) and registers every table it finds by replaying each row.
func Open(p *pager.Pager) (*Catalog, error) {
	log := logrus.WithField("component", "catalog")

	var tree *btree.Tree
	if p.PageExists(catalogRootPageNum) {
		tree = btree.NewTree(p, catalogRootPageNum)
	} else {
		created, err := btree.CreateTreeAt(p, catalogRootPageNum)
		if err != nil {
			return nil, err
		}
		tree = created
	}

	c := &Catalog{
		pager:   p,
		tree:    tree,
		log:     log,
		tables:  make(map[string]*btree.Tree),
		entries: make(map[string]Entry),
	}

	cursor, err := tree.NewCursor()
	if err != nil {
		return nil, err
	}
	for cursor.Valid() {
		cell, err := cursor.Cell()
		if err != nil {
			return nil, err
		}
		entry, err := decodeEntry(cell)
		if err != nil {
			return nil, err
		}
		c.entries[entry.Name] = entry
		c.tables[entry.Name] = btree.NewTree(p, entry.RootPageNum)
		if entry.Pkey >= c.nextPkey {
			c.nextPkey = entry.Pkey + 1
		}
		if ok, err := cursor.Next(); err != nil {
			return nil, err
		} else if !ok {
			break
		}
	}

	log.WithField("num_tables", len(c.tables)).Debug("loaded catalog")
	return c, nil
}

// Table returns the registered tree for name.
func (c *Catalog) Table(name string) (*btree.Tree, bool) {
	t, ok := c.tables[name]
	return t, ok
}

// Entry returns the catalog row for name.
func (c *Catalog) Entry(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

// TableNames returns every registered table name, in no particular
// order.
func (c *Catalog) TableNames() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	return names
}

// CreateTable allocates a fresh root page, inserts a catalog row
// recording it, and registers the new tree (spec.md §4.5).
func (c *Catalog) CreateTable(name, sqlText string) (*btree.Tree, error) {
	if _, exists := c.tables[name]; exists {
		return nil, errors.Wrapf(ErrTableExists, "table %q", name)
	}

	tree, err := btree.CreateTree(c.pager)
	if err != nil {
		return nil, err
	}

	entry := Entry{
		Pkey:        c.nextPkey,
		Name:        name,
		RootPageNum: tree.RootPageNum(),
		SQLText:     sqlText,
		TableID:     uuid.New(),
	}
	cell := encodeEntry(entry)
	if err := c.tree.Insert(cell); err != nil {
		return nil, errors.Wrapf(err, "catalog: insert row for %q", name)
	}

	c.nextPkey++
	c.entries[name] = entry
	c.tables[name] = tree
	c.log.WithField("table", name).WithField("root", tree.RootPageNum()).Info("created table")
	return tree, nil
}

// DropTable removes name's catalog row, reclaims every page of its tree
// by a pre-order traversal, and deregisters it. Full reclamation beyond
// the engine's insert/delete/find surface is a caller-layer concern per
// spec.md §4.5/§6.2; this is that caller layer.
func (c *Catalog) DropTable(name string) error {
	entry, ok := c.entries[name]
	if !ok {
		return errors.Wrapf(ErrTableNotFound, "table %q", name)
	}

	if err := c.tree.Delete(entry.Pkey); err != nil {
		return err
	}

	if err := c.reclaimTree(entry.RootPageNum); err != nil {
		return err
	}

	delete(c.entries, name)
	delete(c.tables, name)
	c.log.WithField("table", name).Info("dropped table")
	return nil
}

// reclaimTree walks pageNum's subtree pre-order, returning every visited
// page to the pager.
func (c *Catalog) reclaimTree(pageNum uint32) error {
	children, isInternal, err := btree.NodeChildren(c.pager, pageNum)
	if err != nil {
		return err
	}
	if isInternal {
		for _, child := range children {
			if err := c.reclaimTree(child); err != nil {
				return err
			}
		}
	}
	c.pager.ReturnPage(pageNum)
	return nil
}

// --- catalog row wire format ---
//
// A catalog cell's payload is:
//   [pkey: u32] is the cell's own key (per the standard cell prefix).
//   [name_len: u32][name bytes]
//   [root_page_num: u32]
//   [sql_len: u32][sql bytes]
//   [table_id: 16 bytes]

func encodeEntry(e Entry) []byte {
	payload := make([]byte, 0, 4+len(e.Name)+4+4+len(e.SQLText)+16)
	payload = appendU32(payload, uint32(len(e.Name)))
	payload = append(payload, []byte(e.Name)...)
	payload = appendU32(payload, e.RootPageNum)
	payload = appendU32(payload, uint32(len(e.SQLText)))
	payload = append(payload, []byte(e.SQLText)...)
	idBytes, _ := e.TableID.MarshalBinary()
	payload = append(payload, idBytes...)
	return btree.EncodeCell(e.Pkey, payload)
}

func decodeEntry(cell []byte) (Entry, error) {
	key, err := btree.DecodeCellKey(cell)
	if err != nil {
		return Entry{}, err
	}
	data := btree.CellPayload(cell)

	off := 0
	nameLen, err := readU32(data, &off)
	if err != nil {
		return Entry{}, err
	}
	if off+int(nameLen) > len(data) {
		return Entry{}, errors.New("catalog: truncated name")
	}
	name := string(data[off : off+int(nameLen)])
	off += int(nameLen)

	rootPageNum, err := readU32(data, &off)
	if err != nil {
		return Entry{}, err
	}

	sqlLen, err := readU32(data, &off)
	if err != nil {
		return Entry{}, err
	}
	if off+int(sqlLen) > len(data) {
		return Entry{}, errors.New("catalog: truncated sql_text")
	}
	sqlText := string(data[off : off+int(sqlLen)])
	off += int(sqlLen)

	if off+16 > len(data) {
		return Entry{}, errors.New("catalog: truncated table_id")
	}
	var id uuid.UUID
	if err := id.UnmarshalBinary(data[off : off+16]); err != nil {
		return Entry{}, errors.Wrap(err, "catalog: decode table_id")
	}

	return Entry{Pkey: key, Name: name, RootPageNum: rootPageNum, SQLText: sqlText, TableID: id}, nil
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func readU32(data []byte, off *int) (uint32, error) {
	if *off+4 > len(data) {
		return 0, errors.New("catalog: truncated u32 field")
	}
	v := binary.LittleEndian.Uint32(data[*off : *off+4])
	*off += 4
	return v, nil
}
