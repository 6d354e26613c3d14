// Package rwfile implements the random read-write file (FTL component
// C8): read-modify-write at arbitrary offsets with NAND page-copy
// semantics — a page that already holds data is never overwritten in
// place; instead a new page receives the merged contents and the
// file's page list is updated to point at it (copy-on-write at page
// granularity), honoring NAND's write-once-per-erase constraint while
// still permitting random updates.
package rwfile

import (
	"github.com/sirupsen/logrus"

	"ftl/internal/dirapi"
	"ftl/internal/ftlerr"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
	"ftl/internal/ioprim"
	"ftl/internal/randfile"
)

var log = logrus.WithField("component", "rwfile")

// File supports Write at any offset <= size (offset == size appends)
// and Read mirroring the random-access reader.
type File struct {
	file *ftlfile.File
	api  ftlfile.Api
	dev  geometry.Device
	dir  dirapi.Dir
	ch   int

	pageSize int
	reader   *randfile.Reader
}

// New opens a random read-write adapter over file.
func New(file *ftlfile.File, api ftlfile.Api, dev geometry.Device, dir dirapi.Dir) *File {
	ch := 0
	return &File{
		file:     file,
		api:      api,
		dev:      dev,
		dir:      dir,
		ch:       ch,
		pageSize: api.Geo.Luns[0].Channels[ch].GranWrite,
		reader:   randfile.New(file, api, dev, dir),
	}
}

// Write splices data into the file starting at offset. offset > size
// is an error; offset == size grows the file by claiming new pages.
// Every page the write touches that already held data is copied
// (unchanged bytes preserved, new bytes spliced in) into a freshly
// allocated page, which replaces the old one in the file's page list;
// the old page is reclaimed only after the new page's write succeeds.
func (f *File) Write(offset int64, data []byte) error {
	size := f.file.Size()
	if offset > size {
		return ftlerr.New(ftlerr.OutOfBounds, "offset is out of bounds")
	}

	scratch := make([]byte, f.pageSize)
	pos := offset
	remaining := data

	for len(remaining) > 0 {
		pageIdx := int(pos / int64(f.pageSize))
		pagePointer := int(pos % int64(f.pageSize))

		existing, existed := f.file.GetNVMPage(pageIdx)
		appending := !existed
		if appending && pageIdx != f.file.NumPages() {
			return ftlerr.New(ftlerr.OutOfBounds, "write offset not contiguous with file's page list")
		}

		if existed {
			if err := ioprim.ReadPage(f.dev, f.api.Geo, existing, f.ch, scratch); err != nil {
				return err
			}
		} else {
			for i := range scratch {
				scratch[i] = 0
			}
		}

		n := len(remaining)
		if n > f.pageSize-pagePointer {
			n = f.pageSize - pagePointer
		}
		copy(scratch[pagePointer:pagePointer+n], remaining[:n])

		var target geometry.Triple
		var old geometry.Triple
		haveOld := false
		if appending {
			t, err := f.file.ClaimNewPage(f.api)
			if err != nil {
				return err
			}
			target = t
		} else {
			t, err := f.api.Alloc.RequestPage()
			if err != nil {
				return err
			}
			target = t
			old = existing
			haveOld = true
		}

		ref := target
		result, err := ioprim.WritePage(f.dev, f.api.Geo, f.api.Alloc, &ref, f.ch, scratch, f.pageSize)
		if err != nil {
			return err
		}
		if !appending || result.Replaced {
			if err := f.file.SetPage(pageIdx, ref); err != nil {
				return err
			}
		}
		if haveOld {
			if err := f.file.ReclaimPage(f.api, old); err != nil {
				log.WithError(err).WithField("page", old).Error("reclaim of superseded page failed")
				return err
			}
		}

		newSize := int64(pageIdx)*int64(f.pageSize) + int64(pagePointer+n)
		if newSize > f.file.Size() {
			f.file.SetSize(newSize)
		}
		f.file.Touch()

		pos += int64(n)
		remaining = remaining[n:]
	}
	return nil
}

// Read mirrors the random-access reader (C6).
func (f *File) Read(offset int64, n int, out, scratch []byte) (int, error) {
	return f.reader.Read(offset, n, out, scratch)
}

// Sync is a no-op: every Write already lands its own page synchronously.
func (f *File) Sync() error { return nil }

// Fsync is a no-op, for the same reason as Sync.
func (f *File) Fsync() error { return nil }

// Close reports this adapter's handle as done to the parent directory.
func (f *File) Close() error {
	return f.dir.NvmClose("rw")
}
