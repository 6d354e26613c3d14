// Package ioprim implements the I/O primitives (FTL component C4):
// ReadPage and WritePage against the device file descriptor, computing
// the byte offset from a (LUN, block, page) triple and the geometry,
// and handling EINTR and stale-page replacement exactly as spec.md
// §4.4 prescribes. Every file adapter (C5-C8) routes physical I/O
// through this package.
package ioprim

import (
	"errors"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ftl/internal/alloc"
	"ftl/internal/ftlerr"
	"ftl/internal/geometry"
)

var log = logrus.WithField("component", "ioprim")

// ReadPage performs a positional read of exactly PageSize(t, ch) bytes
// at the offset spec.md §4.4's formula computes for t. On EINTR it
// retries from the beginning of the page (NAND reads are idempotent,
// unlike writes, so no page replacement is needed). Any short read or
// other error is reported as a DeviceIO error.
func ReadPage(dev geometry.Device, geo *geometry.Geometry_t, t geometry.Triple, ch int, dst []byte) error {
	pageSize := geo.PageSize(t, ch)
	if len(dst) < pageSize {
		return ftlerr.New(ftlerr.DeviceIO, "dst buffer (%d bytes) smaller than page size (%d)", len(dst), pageSize)
	}
	offset := geo.Offset(t, ch)
	fd := int(dev.Fd())

	for {
		n, err := unix.Pread(fd, dst[:pageSize], offset)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				log.WithField("page", t).Debug("read EINTR, retrying from page start")
				continue
			}
			return ftlerr.Wrap(ftlerr.DeviceIO, err, "pread page %s", t)
		}
		if n != pageSize {
			return ftlerr.New(ftlerr.DeviceIO, "short read on page %s: got %d want %d", t, n, pageSize)
		}
		return nil
	}
}

// Ref is the mutable page_ref spec.md §4.4 describes: a handle
// WritePage can rebind to a fresh page when EINTR leaves the current
// one stale. Callers pass the address of their own Triple variable;
// WriteResult reports whether a rebind happened so the caller can
// propagate it (e.g. via ftlfile.File.SetPage) without ioprim needing
// to know anything about files.
type Ref = *geometry.Triple

// WriteResult reports what WritePage actually did, so callers can
// update file-level state (size, page list) without WritePage having
// to depend on the file package.
type WriteResult struct {
	// Replaced is true if ref was rebound to a new page mid-call
	// because the original page was left stale by an EINTR.
	Replaced bool
}

// WritePage performs a positional write of exactly dataLen bytes (must
// be <= the page's write granularity) at the offset the triple in *ref
// names. On EINTR the current page is considered stale per spec.md
// §4.4: it is reclaimed through al, a fresh page is requested, *ref is
// rebound, and the write is retried against the new page. dataLen >
// page size is a programmer error and panics, matching the primitive's
// fatal contract ("a programmer error (fatal)").
func WritePage(dev geometry.Device, geo *geometry.Geometry_t, al *alloc.Allocator, ref Ref, ch int, src []byte, dataLen int) (WriteResult, error) {
	pageSize := geo.PageSize(*ref, ch)
	if dataLen > pageSize {
		panic("ioprim.WritePage: dataLen exceeds page size")
	}
	if dataLen > len(src) {
		panic("ioprim.WritePage: dataLen exceeds len(src)")
	}

	var result WriteResult
	fd := int(dev.Fd())

	for {
		offset := geo.Offset(*ref, ch)
		n, err := unix.Pwrite(fd, src[:dataLen], offset)
		if err == nil && n == dataLen {
			return result, nil
		}
		if err != nil && errors.Is(err, unix.EINTR) {
			stale := *ref
			log.WithField("page", stale).Warn("write EINTR, page considered stale, replacing")
			if rerr := al.ReclaimPage(stale); rerr != nil {
				return result, rerr
			}
			fresh, rerr := al.RequestPage()
			if rerr != nil {
				return result, rerr
			}
			*ref = fresh
			result.Replaced = true
			continue
		}
		if err != nil {
			return result, ftlerr.Wrap(ftlerr.DeviceIO, err, "pwrite page %s", *ref)
		}
		return result, ftlerr.New(ftlerr.DeviceIO, "short write on page %s: got %d want %d", *ref, n, dataLen)
	}
}
