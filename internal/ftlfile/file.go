// Package ftlfile implements the FTL page list per file (component
// C3): for each logical file, the ordered list of physical pages that
// make up its contents, a byte size, and name/mtime metadata. It is
// the structure spec.md calls nvm_file.
package ftlfile

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"ftl/internal/alloc"
	"ftl/internal/ftlerr"
	"ftl/internal/geometry"
)

var log = logrus.WithField("component", "ftlfile")

// Api bundles the geometry table and allocator every page operation
// needs — the FTL-internal analogue of the "api" parameter spec.md
// threads through ClaimNewPage/ReclaimPage/ClearLastPage. It is
// distinct from the directory-facing callback interface in
// internal/dirapi, which is the out-of-scope north-side surface.
type Api struct {
	Geo   *geometry.Geometry_t
	Alloc *alloc.Allocator
}

// File is the per-file FTL page list (spec.md's nvm_file). All
// exported methods take whichever of metaMtx/pageMtx the operation
// needs and release it before returning. Delete is the only one that
// holds both: it takes pageMtx while holding metaMtx (spec.md §5 lock
// ordering: meta before page, never the reverse). Unexported *Locked helpers assume the caller already holds
// the matching lock — the "Guard parameter" discipline spec.md §9
// prescribes in place of the teacher's recursive mutexes.
type File struct {
	metaMtx sync.Mutex
	names   []string // most-recently-added name at index 0
	lastMod time.Time
	openedForWrite bool

	pageMtx    sync.Mutex
	pages      []geometry.Triple
	blockPages []geometry.Triple // only populated under alloc.BlockMode
	size       int64
}

// New creates an empty, nameless File. The directory layer is expected
// to AddName it before handing out any adapter.
func New() *File {
	return &File{lastMod: time.Now()}
}

// ---- name operations (meta_mtx) ----

// AddName adds name at the head of the file's name list, so the most
// recently added name comes first.
func (f *File) AddName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	f.names = append([]string{name}, f.names...)
	return nil
}

// HasName reports whether name currently refers to this file.
func (f *File) HasName(name string) bool {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	for _, n := range f.names {
		if n == name {
			return true
		}
	}
	return false
}

// ChangeName renames oldName to newName in place, preserving its
// position in the most-recent-first ordering.
func (f *File) ChangeName(oldName, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	for i, n := range f.names {
		if n == oldName {
			f.names[i] = newName
			return nil
		}
	}
	return ftlerr.New(ftlerr.Corrupt, "no such name %q", oldName)
}

// EnumerateNames returns the file's names, most-recently-added first.
func (f *File) EnumerateNames() []string {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Delete removes one name. If it was the last remaining name, every
// page the file owned is reclaimed, size is zeroed, and Delete returns
// true: the file can now be destroyed by the directory layer.
func (f *File) Delete(api Api, name string) (bool, error) {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()

	idx := -1
	for i, n := range f.names {
		if n == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, ftlerr.New(ftlerr.Corrupt, "no such name %q", name)
	}
	f.names = append(f.names[:idx], f.names[idx+1:]...)
	if len(f.names) > 0 {
		return false, nil
	}

	if err := f.reclaimAllPages(api); err != nil {
		return false, err
	}
	return true, nil
}

// reclaimAllPages reclaims every page the file owns, removing each one
// from pages/blockPages before reclaiming it — reclaimOnePageLocked's
// block-mode same-block scan must never see t still listed as its own
// reference, or it will conclude the block is still live and skip the
// erase.
func (f *File) reclaimAllPages(api Api) error {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	for len(f.pages) > 0 {
		t := f.pages[0]
		f.pages = f.pages[1:]
		if err := f.reclaimOnePageLocked(api, t); err != nil {
			return err
		}
	}
	for len(f.blockPages) > 0 {
		t := f.blockPages[0]
		f.blockPages = f.blockPages[1:]
		if err := f.reclaimOnePageLocked(api, t); err != nil {
			return err
		}
	}
	f.size = 0
	return nil
}

func validateName(name string) error {
	if name == "" {
		return ftlerr.New(ftlerr.Corrupt, "empty name")
	}
	for _, r := range name {
		if r == ':' || r == ',' {
			return ftlerr.New(ftlerr.Corrupt, "name %q contains a reserved character", name)
		}
	}
	return nil
}

// ---- lifecycle (meta_mtx) ----

// CanOpen reports whether mode may open this file right now, and if
// so records that a writer is active. Modes "r" and "l" never fail and
// never alter openedForWrite; any other mode fails if a writer is
// already active, else claims the writer slot.
func (f *File) CanOpen(mode string) bool {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	if mode == "r" || mode == "l" {
		return true
	}
	if f.openedForWrite {
		return false
	}
	f.openedForWrite = true
	return true
}

// Close releases the writer slot that a CanOpen(mode) call with a mode
// other than "r"/"l" acquired.
func (f *File) Close(mode string) {
	if mode == "r" || mode == "l" {
		return
	}
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	f.openedForWrite = false
}

// LastModified returns the file's last-modified time.
func (f *File) LastModified() time.Time {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	return f.lastMod
}

// Touch refreshes last-modified to now; WritePage callers invoke this
// after a successful write (spec.md §4.4: "last_modified is
// refreshed").
func (f *File) Touch() {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	f.lastMod = time.Now()
}

// RestoreLastModified is used only by FTL replay (internal/ftlstate) to
// restore a persisted mtime rather than stamping "now".
func (f *File) RestoreLastModified(t time.Time) {
	f.metaMtx.Lock()
	defer f.metaMtx.Unlock()
	f.lastMod = t
}

// ---- page operations (page_update_mtx) ----

// Size returns the file's current logical length in bytes.
func (f *File) Size() int64 {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	return f.size
}

// SetSize is used by the append/RW adapters to update size after a
// WritePage call grows the file; it does not itself validate the new
// value against the page count since the adapters compute it from the
// page-aligned arithmetic spec.md §4.4 specifies.
func (f *File) SetSize(n int64) {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	f.size = n
}

// NumPages returns len(pages), for adapters computing page/offset math.
func (f *File) NumPages() int {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	return len(f.pages)
}

// ClaimNewPage requests a fresh page from the allocator and appends it
// to the file's page list.
func (f *File) ClaimNewPage(api Api) (geometry.Triple, error) {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	return f.claimNewPageLocked(api)
}

func (f *File) claimNewPageLocked(api Api) (geometry.Triple, error) {
	t, err := api.Alloc.RequestPage()
	if err != nil {
		return geometry.Triple{}, err
	}
	f.pages = append(f.pages, t)
	return t, nil
}

// ClaimNewPageAt is ClaimNewPage's replay counterpart: it claims the
// page at the exact triple the on-disk record names, failing the load
// if that page is not free (spec.md §4.9).
func (f *File) ClaimNewPageAt(api Api, t geometry.Triple) error {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	got, err := api.Alloc.RequestPageAt(t)
	if err != nil {
		return err
	}
	f.pages = append(f.pages, got)
	return nil
}

// RequestPage is the block-mode page handout: it moves the first page
// of block_pages onto pages; when block_pages is empty it reserves the
// lowest free block through RequestBlock and hands out that block's
// first page. It takes no target triple, so it never looks up or
// reserves a specific (lun, block, page). Only meaningful under
// alloc.BlockMode.
func (f *File) RequestPage(api Api) (geometry.Triple, error) {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()

	if len(f.blockPages) > 0 {
		t := f.blockPages[0]
		f.blockPages = f.blockPages[1:]
		f.pages = append(f.pages, t)
		return t, nil
	}

	if err := api.Alloc.RequestBlock(&f.blockPages); err != nil {
		return geometry.Triple{}, err
	}
	if len(f.blockPages) == 0 {
		return geometry.Triple{}, ftlerr.New(ftlerr.OutOfSpace, "out of SSD space")
	}
	t := f.blockPages[0]
	f.blockPages = f.blockPages[1:]
	f.pages = append(f.pages, t)
	return t, nil
}

// GetNVMPage returns the page at idx, or false if idx is out of range.
func (f *File) GetNVMPage(idx int) (geometry.Triple, bool) {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	if idx < 0 || idx >= len(f.pages) {
		return geometry.Triple{}, false
	}
	return f.pages[idx], true
}

// GetLastPage returns the file's last page and its index, or false if
// the file has no pages.
func (f *File) GetLastPage() (geometry.Triple, int, bool) {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	if len(f.pages) == 0 {
		return geometry.Triple{}, 0, false
	}
	idx := len(f.pages) - 1
	return f.pages[idx], idx, true
}

// SetPage replaces the page at idx in place; used when a retry due to
// EINTR (ioprim.WriteResult.Replaced) or a copy-on-write (C8) produces
// a fresh physical page for a logical slot that already existed.
func (f *File) SetPage(idx int, t geometry.Triple) error {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	if idx < 0 || idx >= len(f.pages) {
		return ftlerr.New(ftlerr.OutOfBounds, "page index %d out of range", idx)
	}
	f.pages[idx] = t
	return nil
}

// ClearLastPage reclaims the file's last page and replaces it with a
// fresh one. The append writer uses this when it needs to rewrite a
// partially-filled tail page rather than continue appending to it.
func (f *File) ClearLastPage(api Api) (geometry.Triple, error) {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	if len(f.pages) == 0 {
		return f.claimNewPageLocked(api)
	}
	idx := len(f.pages) - 1
	old := f.pages[idx]
	// old must be removed from pages before it is reclaimed, or the
	// block-mode same-block scan in reclaimOnePageLocked finds old
	// referencing itself and wrongly concludes the block is still live.
	f.pages = f.pages[:idx]
	if err := f.reclaimOnePageLocked(api, old); err != nil {
		f.pages = append(f.pages, old)
		return geometry.Triple{}, err
	}
	fresh, err := api.Alloc.RequestPage()
	if err != nil {
		return geometry.Triple{}, err
	}
	f.pages = append(f.pages, fresh)
	return fresh, nil
}

// ReclaimPage releases t back to the allocator. Under alloc.BlockMode
// it then checks whether any entry in pages or block_pages still
// references t's owning (lun, block), t itself included if the caller
// has not removed it from pages; only when none does it erase the
// whole block via ReclaimBlock (spec.md §4.3).
func (f *File) ReclaimPage(api Api, t geometry.Triple) error {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	return f.reclaimOnePageLocked(api, t)
}

func (f *File) reclaimOnePageLocked(api Api, t geometry.Triple) error {
	if api.Alloc.Mode() != alloc.BlockMode {
		return api.Alloc.ReclaimPage(t)
	}

	if err := api.Alloc.ReclaimPage(t); err != nil {
		return err
	}
	for _, p := range f.pages {
		if p.Lun == t.Lun && p.Block == t.Block {
			return nil
		}
	}
	for _, p := range f.blockPages {
		if p.Lun == t.Lun && p.Block == t.Block {
			return nil
		}
	}
	if err := api.Alloc.ReclaimBlock(t.Lun, t.Block); err != nil {
		log.WithError(err).WithField("lun", t.Lun).WithField("block", t.Block).Error("block reclaim failed")
		return err
	}
	return nil
}

// Pages returns a copy of the file's current page list, for
// persistence (internal/ftlstate) and for tests asserting layout.
func (f *File) Pages() []geometry.Triple {
	f.pageMtx.Lock()
	defer f.pageMtx.Unlock()
	out := make([]geometry.Triple, len(f.pages))
	copy(out, f.pages)
	return out
}
