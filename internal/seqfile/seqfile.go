// Package seqfile implements the sequential reader (FTL component
// C5): a streaming read cursor across a file's page list.
package seqfile

import (
	"ftl/internal/dirapi"
	"ftl/internal/ftlerr"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
	"ftl/internal/ioprim"
)

// Reader streams a file's contents from a logical file_pointer that
// only moves forward via Read/Skip.
type Reader struct {
	file *ftlfile.File
	api  ftlfile.Api
	dev  geometry.Device
	dir  dirapi.Dir
	ch   int

	filePointer int64
	pageIdx     int
	pagePointer int
}

// New opens a sequential reader over file, positioned at offset 0.
func New(file *ftlfile.File, api ftlfile.Api, dev geometry.Device, dir dirapi.Dir) *Reader {
	return &Reader{file: file, api: api, dev: dev, dir: dir, ch: 0}
}

// repositionFromPointer recomputes pageIdx/pagePointer from
// filePointer, per spec.md §4.5's "resets page cursor from
// file_pointer by repositioning to (file_pointer/page_size,
// file_pointer mod page_size)". Page size can in principle vary by
// page, so this walks pages summing their sizes rather than assuming a
// single uniform page_size; in the reference geometry every page on
// channel ch shares one gran_write, yet the walk still visits every
// page before the target one.
func (r *Reader) repositionFromPointer() error {
	remaining := r.filePointer
	for idx := 0; ; idx++ {
		t, ok := r.file.GetNVMPage(idx)
		if !ok {
			if remaining == 0 {
				r.pageIdx = idx
				r.pagePointer = 0
				return nil
			}
			return ftlerr.New(ftlerr.OutOfBounds, "file pointer %d beyond page list", r.filePointer)
		}
		pageSize := int64(r.api.Geo.PageSize(t, r.ch))
		if remaining < pageSize {
			r.pageIdx = idx
			r.pagePointer = int(remaining)
			return nil
		}
		remaining -= pageSize
	}
}

// Read copies up to n bytes starting at the current file_pointer into
// out, using scratch as a page-sized staging buffer. n is clamped to
// min(n, size - file_pointer). Returns the number of bytes copied.
func (r *Reader) Read(n int, out []byte, scratch []byte) (int, error) {
	size := r.file.Size()
	remaining := int64(n)
	if r.filePointer+remaining > size {
		remaining = size - r.filePointer
	}
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(out)) < remaining {
		return 0, ftlerr.New(ftlerr.OutOfBounds, "out buffer too small for clamped read")
	}

	if err := r.repositionFromPointer(); err != nil {
		return 0, err
	}

	copied := int64(0)
	for copied < remaining {
		t, ok := r.file.GetNVMPage(r.pageIdx)
		if !ok {
			return int(copied), ftlerr.New(ftlerr.OutOfBounds, "sequential read ran past page list")
		}
		pageSize := r.api.Geo.PageSize(t, r.ch)
		if len(scratch) < pageSize {
			return int(copied), ftlerr.New(ftlerr.OutOfBounds, "scratch buffer smaller than page size")
		}
		if err := ioprim.ReadPage(r.dev, r.api.Geo, t, r.ch, scratch); err != nil {
			return int(copied), err
		}
		avail := int64(pageSize - r.pagePointer)
		take := remaining - copied
		if take > avail {
			take = avail
		}
		copy(out[copied:copied+take], scratch[r.pagePointer:int64(r.pagePointer)+take])
		copied += take
		r.pagePointer += int(take)
		if r.pagePointer == pageSize {
			r.pageIdx++
			r.pagePointer = 0
		}
	}

	r.filePointer += copied
	return int(copied), nil
}

// Skip advances file_pointer by n without reading, failing with
// OutOfBounds if that would move past the file's current size.
func (r *Reader) Skip(n int64) error {
	if r.filePointer+n > r.file.Size() {
		return ftlerr.New(ftlerr.OutOfBounds, "EINVAL file pointer goes out of bounds")
	}
	r.filePointer += n
	return r.repositionFromPointer()
}

// InvalidateCache is a no-op: this reference implementation has no
// page cache to invalidate (spec.md §6).
func (r *Reader) InvalidateCache() {}

// Close reports this reader's handle as done to the parent directory.
func (r *Reader) Close() error {
	return r.dir.NvmClose("r")
}
