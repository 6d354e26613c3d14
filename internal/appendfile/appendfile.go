// Package appendfile implements the append writer (FTL component C7):
// a buffered append that respects the NAND page write granularity,
// flushing on page-full, explicit flush, or close.
package appendfile

import (
	"github.com/sirupsen/logrus"

	"ftl/internal/dirapi"
	"ftl/internal/ftlerr"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
	"ftl/internal/ioprim"
)

var log = logrus.WithField("component", "appendfile")

// Writer buffers appended bytes until a full page's worth has
// accumulated, then writes that page with one physical write — NAND
// pages cannot be partially overwritten, so Append only ever writes
// whole pages. A closing flush (Flush, Close) writes a partially
// filled buffer as a partial page (spec.md §4.7).
type Writer struct {
	file *ftlfile.File
	api  ftlfile.Api
	dev  geometry.Device
	dir  dirapi.Dir
	ch   int

	bytesPerSync int
	buf          []byte
	cursize      int

	lastPage    geometry.Triple
	lastPageIdx int
	armed       bool
	closed      bool
}

// New opens an append writer over file, arming it against the file's
// current last page (or claiming a fresh one for an empty file) and
// recovering any unaligned tail so it is not lost on reopen.
func New(file *ftlfile.File, api ftlfile.Api, dev geometry.Device, dir dirapi.Dir) (*Writer, error) {
	ch := 0
	bytesPerSync := api.Geo.Luns[0].Channels[ch].GranWrite
	w := &Writer{
		file:         file,
		api:          api,
		dev:          dev,
		dir:          dir,
		ch:           ch,
		bytesPerSync: bytesPerSync,
		buf:          make([]byte, bytesPerSync),
	}
	if err := w.updateLastPage(); err != nil {
		return nil, err
	}
	return w, nil
}

// updateLastPage implements spec.md §4.7's UpdateLastPage: once armed,
// each call claims a fresh page and resets cursize_ to zero (rolling
// forward after a full-page flush). The first call instead binds to
// whatever the file's current last page is (claiming one if the file
// is empty) and, if the file's size is not page-aligned, recovers the
// buffered tail by reading the old page and reclaim-and-replacing it.
func (w *Writer) updateLastPage() error {
	if w.armed {
		t, err := w.file.ClaimNewPage(w.api)
		if err != nil {
			return err
		}
		w.lastPage = t
		w.lastPageIdx = w.file.NumPages() - 1
		w.cursize = 0
		return nil
	}

	t, idx, ok := w.file.GetLastPage()
	if !ok {
		t, err := w.file.ClaimNewPage(w.api)
		if err != nil {
			return err
		}
		w.lastPage = t
		w.lastPageIdx = w.file.NumPages() - 1
		w.armed = true
		w.cursize = 0
		return nil
	}

	w.lastPage = t
	w.lastPageIdx = idx
	w.armed = true

	tail := w.file.Size() % int64(w.bytesPerSync)
	if tail == 0 {
		w.cursize = 0
		return nil
	}

	if err := ioprim.ReadPage(w.dev, w.api.Geo, t, w.ch, w.buf); err != nil {
		return err
	}
	fresh, err := w.file.ClearLastPage(w.api)
	if err != nil {
		return err
	}
	w.lastPage = fresh
	w.cursize = int(tail)
	return nil
}

// Append buffers data, flushing a full page at a time. Every physical
// write this produces is exactly one page wide.
func (w *Writer) Append(data []byte) error {
	if w.closed {
		return ftlerr.New(ftlerr.ClosedHandle, "file has been closed")
	}
	for len(data) > 0 {
		space := w.bytesPerSync - w.cursize
		n := len(data)
		if n > space {
			n = space
		}
		copy(w.buf[w.cursize:w.cursize+n], data[:n])
		w.cursize += n
		data = data[n:]
		if w.cursize == w.bytesPerSync {
			if err := w.flush(false); err != nil {
				return err
			}
		}
	}
	return nil
}

// flush implements spec.md §4.7's Flush(closing). It is a no-op unless
// there is buffered data and an armed page, and it only actually
// writes when the buffer is exactly full or closing is true — so the
// public Flush (closing) writes a partial page while Sync and Fsync
// (not closing) leave it buffered, an asymmetry kept as specified
// (SPEC_FULL.md "Open Questions").
func (w *Writer) flush(closing bool) error {
	if w.cursize == 0 || !w.armed {
		return nil
	}
	if w.cursize != w.bytesPerSync && !closing {
		return nil
	}

	dataLen := w.cursize
	result, err := ioprim.WritePage(w.dev, w.api.Geo, w.api.Alloc, &w.lastPage, w.ch, w.buf, dataLen)
	if err != nil {
		return err
	}
	if result.Replaced {
		if err := w.file.SetPage(w.lastPageIdx, w.lastPage); err != nil {
			return err
		}
	}

	newSize := int64(w.lastPageIdx)*int64(w.bytesPerSync) + int64(dataLen)
	if newSize > w.file.Size() {
		w.file.SetSize(newSize)
	}
	w.file.Touch()

	if dataLen == w.bytesPerSync {
		if err := w.updateLastPage(); err != nil {
			return err
		}
	}
	return nil
}

// Flush forces a write of whatever is currently buffered (a closing
// flush, per spec.md §4.7's public-surface behavior).
func (w *Writer) Flush() error {
	return w.flush(true)
}

// Sync runs a non-closing flush: it writes the buffer only when it
// holds a full page (then rotating to a fresh page) and leaves a
// partially filled buffer unwritten.
func (w *Writer) Sync() error {
	return w.flush(false)
}

// Fsync is Sync's durability-barrier twin; this reference
// implementation has no separate write-back cache to barrier against,
// so it behaves identically to Sync.
func (w *Writer) Fsync() error {
	return w.flush(false)
}

// GetFileSize returns the file's current logical length.
func (w *Writer) GetFileSize() int64 {
	return w.file.Size()
}

// Allocate is a no-op (spec.md §6).
func (w *Writer) Allocate(int64, int64) error { return nil }

// RangeSync is a no-op (spec.md §6).
func (w *Writer) RangeSync(int64, int64) error { return nil }

// Close flushes with closing=true, then reports the writer handle done
// to the parent directory. Idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if err := w.flush(true); err != nil {
		return err
	}
	w.closed = true
	if err := w.dir.NvmClose("a"); err != nil {
		log.WithError(err).Warn("directory close callback failed")
		return err
	}
	return nil
}
