// Package pager translates page numbers to byte ranges in a single
// database file, caches pages in memory, and hands out page numbers for
// allocation, recycling pages returned during a session before extending
// the file.
package pager

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// PageSize is the fixed size, in bytes, of every page in the file.
	// This is a wire-format constant: changing it invalidates existing
	// database files.
	PageSize = 4096

	// MaxPages bounds the page cache. It replaces the reference
	// implementation's ad-hoc "page < 100" assert scattered through
	// node-writing code with one checked limit (spec.md §9).
	MaxPages = 100

	// NullPtr is the sentinel used inside page bodies and the file
	// header to mean "no page".
	NullPtr uint32 = 0

	fileHeaderSize          = 100
	fileHeaderVersionOffset = 0
	fileHeaderVersionSize   = 16
	fileHeaderFreeListOffset = fileHeaderVersionOffset + fileHeaderVersionSize
	fileHeaderFreeListSize   = 4
	filePageAreaOffset       = fileHeaderSize

	// freePageNextOffset is the offset, within a free page, of the u32
	// pointing at the next free page (or NullPtr).
	freePageNextOffset = 0
)

var fileHeaderVersionValue = []byte("learndb v1")

// ErrCorruption is wrapped by any error raised by a structural integrity
// check at open time (spec.md §7, class 1).
var ErrCorruption = errors.New("pager: corrupt file")

// FatalError marks an error from one of spec.md §7's classes 1-3
// (corruption, I/O failure, resource exhaustion): the pager leaves no
// in-memory state it expects the caller to recover from, and the only
// sane response is for the process's front door to abort. The pager
// itself never calls os.Exit; it returns FatalError and lets the caller
// decide.
type FatalError struct {
	cause error
}

func (e *FatalError) Error() string { return e.cause.Error() }
func (e *FatalError) Unwrap() error { return e.cause }

func fatalf(cause error) error {
	return &FatalError{cause: cause}
}

// Page is one fixed-size block of the database file, cached in memory.
type Page struct {
	Data    [PageSize]byte
	PageNum uint32
	Dirty   bool
}

// Pager owns the single underlying file and the page cache above it.
type Pager struct {
	file *os.File
	log  *logrus.Entry

	pages [MaxPages]*Page

	// numPages is a high-water mark: the page count found on disk at Open,
	// raised by any page loaded or allocated past it. Pages below numPages
	// that were never explicitly returned are considered live.
	numPages uint32

	// numPagesOnDisk is the page count observed at Open, used to decide
	// whether a returned page can be truncated off the end of the file
	// at Close.
	numPagesOnDisk uint32

	// nextAllocatablePageNum monotonically increases; it is the page
	// number AllocatePage will hand out once the in-memory and on-disk
	// free lists are exhausted.
	nextAllocatablePageNum uint32

	// returnedPages is the in-memory LIFO free list populated by
	// ReturnPage during this session.
	returnedPages []uint32

	// freePageListHead is the on-disk free list head, read from the file
	// header at Open and consulted (and advanced) by AllocatePage.
	freePageListHead uint32
}

// Open opens or creates the database file at path. If the file is empty, a
// fresh file header is written. If it already exists, the header is read
// back and the file length is validated as a whole multiple of PageSize.
func Open(path string) (*Pager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fatalf(errors.Wrapf(err, "pager: open %s", path))
	}

	log := logrus.WithField("component", "pager").WithField("path", path)

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fatalf(errors.Wrap(err, "pager: stat"))
	}

	p := &Pager{file: f, log: log}

	if fi.Size() == 0 {
		if err := p.writeNewHeader(); err != nil {
			_ = f.Close()
			return nil, err
		}
		log.Debug("initialized new database file")
		return p, nil
	}

	pageAreaLen := fi.Size() - fileHeaderSize
	if pageAreaLen < 0 || pageAreaLen%PageSize != 0 {
		_ = f.Close()
		return nil, fatalf(errors.Wrapf(ErrCorruption, "file length %d is not header+N*pagesize", fi.Size()))
	}

	head, err := p.readHeader()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.freePageListHead = head
	numPages := uint32(pageAreaLen / PageSize)
	p.numPages = numPages
	p.numPagesOnDisk = numPages
	p.nextAllocatablePageNum = numPages

	log.WithField("num_pages", numPages).Debug("opened existing database file")
	return p, nil
}

func (p *Pager) writeNewHeader() error {
	var buf [fileHeaderSize]byte
	copy(buf[fileHeaderVersionOffset:fileHeaderVersionOffset+fileHeaderVersionSize], fileHeaderVersionValue)
	putU32(buf[fileHeaderFreeListOffset:], NullPtr)
	if _, err := p.file.WriteAt(buf[:], 0); err != nil {
		return fatalf(errors.Wrap(err, "pager: write file header"))
	}
	return nil
}

func (p *Pager) readHeader() (uint32, error) {
	var buf [fileHeaderSize]byte
	if _, err := io.ReadFull(io.NewSectionReader(p.file, 0, fileHeaderSize), buf[:]); err != nil {
		return 0, fatalf(errors.Wrapf(ErrCorruption, "read file header: %v", err))
	}
	if string(buf[fileHeaderVersionOffset:fileHeaderVersionOffset+len(fileHeaderVersionValue)]) != string(fileHeaderVersionValue) {
		return 0, fatalf(errors.Wrapf(ErrCorruption, "bad version tag %q", buf[:fileHeaderVersionSize]))
	}
	return getU32(buf[fileHeaderFreeListOffset:]), nil
}

// GetPage returns a mutable reference to the cached page, loading it from
// disk on a cache miss. Requesting a page past end-of-file (i.e. a newly
// allocated page) returns a zero-filled page.
func (p *Pager) GetPage(pageNum uint32) (*Page, error) {
	if pageNum >= MaxPages {
		return nil, fatalf(errors.Errorf("pager: page %d out of bounds (max %d)", pageNum, MaxPages))
	}

	if p.pages[pageNum] == nil {
		pg := &Page{PageNum: pageNum}
		if pageNum < p.numPages {
			off := int64(filePageAreaOffset) + int64(pageNum)*PageSize
			if _, err := p.file.ReadAt(pg.Data[:], off); err != nil && err != io.EOF {
				return nil, fatalf(errors.Wrapf(err, "pager: read page %d", pageNum))
			}
		}
		p.pages[pageNum] = pg

		if pageNum >= p.numPages {
			p.numPages = pageNum + 1
		}
		if p.nextAllocatablePageNum < p.numPages {
			p.nextAllocatablePageNum = p.numPages
		}
	}
	return p.pages[pageNum], nil
}

// PageExists reports whether page_num has been materialized: either it
// was already on disk at Open, or it was loaded or allocated this session.
func (p *Pager) PageExists(pageNum uint32) bool {
	return pageNum < p.numPages
}

// AllocatePage hands out the next page number, sourcing it first from the
// in-memory returned list, then the on-disk free list, then by extending
// the file.
func (p *Pager) AllocatePage() (uint32, error) {
	if n := len(p.returnedPages); n > 0 {
		pageNum := p.returnedPages[n-1]
		p.returnedPages = p.returnedPages[:n-1]
		p.log.WithField("page", pageNum).Debug("allocated page from in-memory returned list")
		return pageNum, nil
	}

	if p.freePageListHead != NullPtr {
		pageNum := p.freePageListHead
		pg, err := p.GetPage(pageNum)
		if err != nil {
			return 0, err
		}
		p.freePageListHead = getU32(pg.Data[freePageNextOffset:])
		p.log.WithField("page", pageNum).Debug("allocated page from on-disk free list")
		return pageNum, nil
	}

	if p.nextAllocatablePageNum >= MaxPages {
		return 0, fatalf(errors.Errorf("pager: out of pages (max %d)", MaxPages))
	}
	pageNum := p.nextAllocatablePageNum
	p.nextAllocatablePageNum++
	if pageNum >= p.numPages {
		p.numPages = pageNum + 1
	}
	p.log.WithField("page", pageNum).Debug("allocated page at end of file")
	return pageNum, nil
}

// ReturnPage releases a page back to the pager. It must never be called
// on the root page of an open tree. The page is queued in memory; it is
// only threaded onto the on-disk free list at Close.
func (p *Pager) ReturnPage(pageNum uint32) {
	p.returnedPages = append(p.returnedPages, pageNum)
}

// FlushPage writes a single dirty page back to disk, if dirty.
func (p *Pager) FlushPage(pageNum uint32) error {
	pg := p.pages[pageNum]
	if pg == nil || !pg.Dirty {
		return nil
	}
	off := int64(filePageAreaOffset) + int64(pageNum)*PageSize
	if _, err := p.file.WriteAt(pg.Data[:], off); err != nil {
		return fatalf(errors.Wrapf(err, "pager: flush page %d", pageNum))
	}
	pg.Dirty = false
	return nil
}

// truncateFile drops any returned pages that form a contiguous suffix at
// end-of-file, shrinking the file rather than persisting them to the
// on-disk free list.
func (p *Pager) truncateFile() error {
	if len(p.returnedPages) == 0 || p.numPagesOnDisk == 0 {
		return nil
	}

	sorted := append([]uint32(nil), p.returnedPages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	kept := make(map[uint32]bool, len(sorted))
	for _, pn := range sorted {
		kept[pn] = true
	}

	for len(sorted) > 0 {
		last := sorted[len(sorted)-1]
		if last == p.numPages-1 && last == p.numPagesOnDisk-1 {
			newLen := int64(filePageAreaOffset) + int64(p.numPagesOnDisk-1)*PageSize
			if err := p.file.Truncate(newLen); err != nil {
				return fatalf(errors.Wrap(err, "pager: truncate file"))
			}
			p.numPages--
			p.numPagesOnDisk--
			p.pages[last] = nil
			delete(kept, last)
			sorted = sorted[:len(sorted)-1]
		} else {
			break
		}
	}

	remaining := p.returnedPages[:0]
	for _, pn := range p.returnedPages {
		if kept[pn] {
			remaining = append(remaining, pn)
		}
	}
	p.returnedPages = remaining
	return nil
}

// Close truncates any reclaimable trailing pages, threads the remaining
// returned pages onto the on-disk free list, writes the final file header,
// flushes every dirty cached page, and closes the file.
func (p *Pager) Close() error {
	if err := p.truncateFile(); err != nil {
		return err
	}

	head := p.freePageListHead
	for len(p.returnedPages) > 0 {
		n := len(p.returnedPages)
		pageNum := p.returnedPages[n-1]
		p.returnedPages = p.returnedPages[:n-1]

		pg, err := p.GetPage(pageNum)
		if err != nil {
			return err
		}
		putU32(pg.Data[freePageNextOffset:], head)
		pg.Dirty = true
		if err := p.FlushPage(pageNum); err != nil {
			return err
		}
		head = pageNum
	}
	p.freePageListHead = head

	var hdr [fileHeaderSize]byte
	copy(hdr[fileHeaderVersionOffset:fileHeaderVersionOffset+fileHeaderVersionSize], fileHeaderVersionValue)
	putU32(hdr[fileHeaderFreeListOffset:], head)
	if _, err := p.file.WriteAt(hdr[:], 0); err != nil {
		return fatalf(errors.Wrap(err, "pager: write final file header"))
	}

	for i := uint32(0); i < p.numPages; i++ {
		if err := p.FlushPage(i); err != nil {
			return err
		}
	}

	p.log.WithField("num_pages", p.numPages).Debug("closing pager")
	return p.file.Close()
}

// FreePageListHead returns the current in-memory on-disk free list head,
// exposed so btree's Tree.Validate can check free-page/live-page disjointness (I6).
func (p *Pager) FreePageListHead() uint32 { return p.freePageListHead }

// ReturnedPages returns a snapshot of the in-memory returned-page list.
func (p *Pager) ReturnedPages() []uint32 {
	return append([]uint32(nil), p.returnedPages...)
}

// FreePageNext reads the "next free page" pointer out of a page known to
// be a free-list node (either linked on disk, or about to be).
func (p *Pager) FreePageNext(pageNum uint32) (uint32, error) {
	pg, err := p.GetPage(pageNum)
	if err != nil {
		return 0, err
	}
	return getU32(pg.Data[freePageNextOffset:]), nil
}

func putU32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }

func getU32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
