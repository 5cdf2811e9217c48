package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spandanb/learndb-go/btree"
	"github.com/spandanb/learndb-go/pager"
)

func openTestCatalog(t *testing.T) (*pager.Pager, *Catalog) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog_test.db")
	p, err := pager.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	cat, err := Open(p)
	require.NoError(t, err)
	return p, cat
}

func TestCreateTableRegistersEntry(t *testing.T) {
	_, cat := openTestCatalog(t)

	tree, err := cat.CreateTable("foo", "create table foo (colA integer primary key, colB text)")
	require.NoError(t, err)
	require.NotNil(t, tree)

	got, ok := cat.Table("foo")
	require.True(t, ok)
	require.Equal(t, tree.RootPageNum(), got.RootPageNum())

	entry, ok := cat.Entry("foo")
	require.True(t, ok)
	require.Equal(t, "foo", entry.Name)
	require.NotEqual(t, [16]byte{}, [16]byte(entry.TableID))
}

func TestCreateTableDuplicateNameFails(t *testing.T) {
	_, cat := openTestCatalog(t)
	_, err := cat.CreateTable("foo", "sql")
	require.NoError(t, err)

	_, err = cat.CreateTable("foo", "sql2")
	require.ErrorIs(t, err, ErrTableExists)
}

func TestDropTableRemovesEntryAndReclaimsPages(t *testing.T) {
	p, cat := openTestCatalog(t)
	tree, err := cat.CreateTable("foo", "sql")
	require.NoError(t, err)

	for k := uint32(1); k <= 20; k++ {
		require.NoError(t, tree.Insert(btree.EncodeCell(k, []byte("payload"))))
	}

	require.NoError(t, cat.DropTable("foo"))
	require.Contains(t, p.ReturnedPages(), tree.RootPageNum())

	_, ok := cat.Table("foo")
	require.False(t, ok)
	_, ok = cat.Entry("foo")
	require.False(t, ok)
}

func TestDropTableNotFound(t *testing.T) {
	_, cat := openTestCatalog(t)
	err := cat.DropTable("missing")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestCatalogSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog_reopen_test.db")

	p, err := pager.Open(path)
	require.NoError(t, err)
	cat, err := Open(p)
	require.NoError(t, err)
	_, err = cat.CreateTable("foo", "create table foo (colA integer primary key)")
	require.NoError(t, err)
	_, err = cat.CreateTable("bar", "create table bar (colA integer primary key)")
	require.NoError(t, err)
	require.NoError(t, p.Close())

	p2, err := pager.Open(path)
	require.NoError(t, err)
	defer p2.Close()
	cat2, err := Open(p2)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"foo", "bar"}, cat2.TableNames())
	fooEntry, ok := cat2.Entry("foo")
	require.True(t, ok)
	require.Equal(t, "create table foo (colA integer primary key)", fooEntry.SQLText)
}

func TestTableNamesMatchesCreated(t *testing.T) {
	_, cat := openTestCatalog(t)
	_, err := cat.CreateTable("a", "sql")
	require.NoError(t, err)
	_, err = cat.CreateTable("b", "sql")
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"a", "b"}, cat.TableNames())
}
