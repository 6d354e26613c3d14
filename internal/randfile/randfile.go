// Package randfile implements the random-access reader (FTL component
// C6): an offset-addressed read over a file's page list, with no
// position state of its own.
package randfile

import (
	"encoding/binary"
	"unsafe"

	"ftl/internal/dirapi"
	"ftl/internal/ftlerr"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
	"ftl/internal/ioprim"
)

// Reader is stateless with respect to position: every call names its
// own offset.
type Reader struct {
	file *ftlfile.File
	api  ftlfile.Api
	dev  geometry.Device
	dir  dirapi.Dir
	ch   int
}

// New opens a random-access reader over file.
func New(file *ftlfile.File, api ftlfile.Api, dev geometry.Device, dir dirapi.Dir) *Reader {
	return &Reader{file: file, api: api, dev: dev, ch: 0, dir: dir}
}

// pageAndOffset finds the page index and in-page byte offset covering
// logical offset off, by walking the page list and summing page sizes
// (mirrors seqfile.Reader.repositionFromPointer).
func (r *Reader) pageAndOffset(off int64) (pageIdx int, pagePointer int, err error) {
	remaining := off
	for idx := 0; ; idx++ {
		t, ok := r.file.GetNVMPage(idx)
		if !ok {
			return 0, 0, ftlerr.New(ftlerr.OutOfBounds, "offset %d beyond page list", off)
		}
		pageSize := int64(r.api.Geo.PageSize(t, r.ch))
		if remaining < pageSize {
			return idx, int(remaining), nil
		}
		remaining -= pageSize
	}
}

// Read copies up to n bytes starting at offset into out, using scratch
// as a page-sized staging buffer. Returns an empty read (0, nil) if
// offset >= size; n is clamped to the file's remaining length
// otherwise.
func (r *Reader) Read(offset int64, n int, out []byte, scratch []byte) (int, error) {
	size := r.file.Size()
	if offset >= size {
		return 0, nil
	}
	remaining := int64(n)
	if offset+remaining > size {
		remaining = size - offset
	}
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(out)) < remaining {
		return 0, ftlerr.New(ftlerr.OutOfBounds, "out buffer too small for clamped read")
	}

	pageIdx, pagePointer, err := r.pageAndOffset(offset)
	if err != nil {
		return 0, err
	}

	copied := int64(0)
	for copied < remaining {
		t, ok := r.file.GetNVMPage(pageIdx)
		if !ok {
			return int(copied), ftlerr.New(ftlerr.OutOfBounds, "random read ran past page list")
		}
		pageSize := r.api.Geo.PageSize(t, r.ch)
		if len(scratch) < pageSize {
			return int(copied), ftlerr.New(ftlerr.OutOfBounds, "scratch buffer smaller than page size")
		}
		if err := ioprim.ReadPage(r.dev, r.api.Geo, t, r.ch, scratch); err != nil {
			return int(copied), err
		}
		avail := int64(pageSize - pagePointer)
		take := remaining - copied
		if take > avail {
			take = avail
		}
		copy(out[copied:copied+take], scratch[pagePointer:int64(pagePointer)+take])
		copied += take
		pagePointer += int(take)
		if pagePointer == pageSize {
			pageIdx++
			pagePointer = 0
		}
	}
	return int(copied), nil
}

// GetUniqueId returns a file identity derived from the file's memory
// identity (its pointer value), varint-encoded, the way spec.md §4.6
// says the host engine wants an opaque file key.
func (r *Reader) GetUniqueId() []byte {
	addr := uint64(uintptr(unsafe.Pointer(r.file)))
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, addr)
	return buf[:n]
}

// Hint is a no-op (spec.md §6's "Hint (no-op)").
func (r *Reader) Hint(int) {}

// Close reports this reader's handle as done to the parent directory.
func (r *Reader) Close() error {
	return r.dir.NvmClose("r")
}
