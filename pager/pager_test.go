package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestOpenFreshFile(t *testing.T) {
	p, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer p.Close()

	require.False(t, p.PageExists(0))
}

func TestGetPageOutOfBounds(t *testing.T) {
	p, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.GetPage(MaxPages)
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestAllocatePageExtendsFile(t *testing.T) {
	p, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer p.Close()

	a, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, uint32(0), a)

	b, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, uint32(1), b)
}

func TestReturnedPageReusedBeforeExtending(t *testing.T) {
	p, err := Open(tempDBPath(t))
	require.NoError(t, err)
	defer p.Close()

	a, err := p.AllocatePage()
	require.NoError(t, err)
	_, err = p.AllocatePage()
	require.NoError(t, err)

	p.ReturnPage(a)

	reused, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, a, reused, "returned page should be handed out before extending the file")
}

func TestWriteReadRoundTripAcrossReopen(t *testing.T) {
	path := tempDBPath(t)

	p, err := Open(path)
	require.NoError(t, err)

	pn, err := p.AllocatePage()
	require.NoError(t, err)
	pg, err := p.GetPage(pn)
	require.NoError(t, err)
	pg.Data[0] = 0xAB
	pg.Dirty = true

	require.NoError(t, p.Close())

	p2, err := Open(path)
	require.NoError(t, err)
	defer p2.Close()

	require.True(t, p2.PageExists(pn))
	pg2, err := p2.GetPage(pn)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), pg2.Data[0])
}

func TestTruncateReclaimsTrailingReturnedPages(t *testing.T) {
	path := tempDBPath(t)

	p, err := Open(path)
	require.NoError(t, err)
	a, err := p.AllocatePage()
	require.NoError(t, err)
	b, err := p.AllocatePage()
	require.NoError(t, err)
	pga, err := p.GetPage(a)
	require.NoError(t, err)
	pga.Dirty = true
	pgb, err := p.GetPage(b)
	require.NoError(t, err)
	pgb.Dirty = true
	require.NoError(t, p.Close())

	p2, err := Open(path)
	require.NoError(t, err)
	p2.ReturnPage(b)
	p2.ReturnPage(a)
	require.NoError(t, p2.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(fileHeaderSize), fi.Size(), "both trailing pages should have been truncated off")
}

func TestReopenCorruptLengthFails(t *testing.T) {
	path := tempDBPath(t)
	p, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.Error(t, err)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}
