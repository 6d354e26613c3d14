// Package geometry enumerates and caches the physical shape of an
// Open-Channel SSD: LUNs, channels, blocks, pages, and the per-channel
// read/write/erase granularities. The geometry is queried once at
// device open and is read-only for the remainder of the process.
package geometry

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"ftl/internal/ftlerr"
)

var log = logrus.WithField("component", "geometry")

/// Triple identifies a physical page by LUN, block, and page index.
type Triple struct {
	Lun   int
	Block int
	Page  int
}

func (t Triple) String() string {
	return fmt.Sprintf("%d-%d-%d", t.Lun, t.Block, t.Page)
}

/// Channel_t holds the access granularities of one channel, in bytes.
/// Invariant: GranWrite <= GranErase; GranRead divides GranWrite.
type Channel_t struct {
	GranRead  int
	GranWrite int
	GranErase int
}

/// Page_t is one physical NAND page. Allocated and Erased are mutated
/// only while the allocator's lock is held; every other field is fixed
/// after enumeration.
type Page_t struct {
	Lun       int
	Block     int
	Id        int
	Allocated bool
	Erased    bool
	// Sizes mirrors the owning LUN's per-channel GranWrite, copied at
	// enumeration time so a page's write size is available without a
	// LUN lookup on the read/write hot path.
	Sizes []int
}

/// Block_t is the driver's opaque handle for one physical block plus
/// its page table.
type Block_t struct {
	Token interface{} // opaque driver token, from BLOCK_GET_BY_ID
	Pages []Page_t
}

/// Lun_t is one parallel unit: its channels and the blocks within it.
type Lun_t struct {
	NrPagesPerBlk int
	NrBlocks      int
	NChannels     int
	Channels      []Channel_t
	Blocks        []Block_t
}

/// Geometry_t is the read-only table built at device open.
type Geometry_t struct {
	Luns   []Lun_t
	NrLuns int

	path string
	fd   uintptr
}

/// Device abstracts the ioctl-level geometry/channel/block query
/// protocol (spec.md §6, out of scope as a hard-core concern: only the
/// interface is specified here, concrete implementations live in
/// simdevice.go and iodevice.go).
type Device interface {
	// Path returns the character/block device path this Device was
	// opened against.
	Path() string
	// Fd returns the underlying file descriptor for positional I/O.
	Fd() uintptr
	// NrLUNs queries NR_LUNS_GET.
	NrLUNs() (int, error)
	// LunGeometry queries PAGES_PER_BLK_GET, CHANNELS_NR_GET, and
	// BLOCKS_NR_GET for the given LUN.
	LunGeometry(lun int) (pagesPerBlk, nchannels, nblocks int, err error)
	// ChannelGranularity queries PAGE_SIZE_GET for (lun, channel).
	ChannelGranularity(lun, channel int) (gread, gwrite, gerase int, err error)
	// BlockToken queries BLOCK_GET_BY_ID for (lun, block).
	BlockToken(lun, block int) (interface{}, error)
	// EraseBlock issues BLOCK_ERASE against token. Failure is fatal
	// (spec.md §7, EraseFailure).
	EraseBlock(token interface{}) error
	// Close releases the device.
	Close() error
}

/// Open enumerates the full geometry of dev and returns a read-only
/// Geometry_t. Any enumeration failure is fatal to open: no partial
/// geometry is ever returned (spec.md §4.1), and since every failure
/// here carries ftlerr.GeometryQuery (or ftlerr.DeviceOpen from the
/// caller's own dev construction), ftlerr.MaybeFatal aborts the process
/// rather than let a caller retry against an unenumerated device.
func Open(dev Device) (*Geometry_t, error) {
	g, err := enumerate(dev)
	if err != nil {
		ftlerr.MaybeFatal(err)
		return nil, err
	}
	return g, nil
}

func enumerate(dev Device) (*Geometry_t, error) {
	nrLuns, err := dev.NrLUNs()
	if err != nil {
		return nil, ftlerr.Wrap(ftlerr.GeometryQuery, err, "NR_LUNS_GET")
	}

	g := &Geometry_t{
		NrLuns: nrLuns,
		Luns:   make([]Lun_t, nrLuns),
		path:   dev.Path(),
		fd:     dev.Fd(),
	}

	for l := 0; l < nrLuns; l++ {
		pagesPerBlk, nchannels, nblocks, err := dev.LunGeometry(l)
		if err != nil {
			return nil, ftlerr.Wrap(ftlerr.GeometryQuery, err, "lun %d geometry", l)
		}
		lun := &g.Luns[l]
		lun.NrPagesPerBlk = pagesPerBlk
		lun.NChannels = nchannels
		lun.NrBlocks = nblocks
		lun.Channels = make([]Channel_t, nchannels)

		for c := 0; c < nchannels; c++ {
			gr, gw, ge, err := dev.ChannelGranularity(l, c)
			if err != nil {
				return nil, ftlerr.Wrap(ftlerr.GeometryQuery, err, "lun %d channel %d granularity", l, c)
			}
			if gw > ge {
				return nil, ftlerr.New(ftlerr.GeometryQuery, "lun %d channel %d: gran_write %d > gran_erase %d", l, c, gw, ge)
			}
			if gw%gr != 0 {
				return nil, ftlerr.New(ftlerr.GeometryQuery, "lun %d channel %d: gran_read %d does not divide gran_write %d", l, c, gr, gw)
			}
			lun.Channels[c] = Channel_t{GranRead: gr, GranWrite: gw, GranErase: ge}
		}

		lun.Blocks = make([]Block_t, nblocks)
		for b := 0; b < nblocks; b++ {
			token, err := dev.BlockToken(l, b)
			if err != nil {
				return nil, ftlerr.Wrap(ftlerr.GeometryQuery, err, "lun %d block %d token", l, b)
			}
			blk := &lun.Blocks[b]
			blk.Token = token
			blk.Pages = make([]Page_t, pagesPerBlk)
			for p := 0; p < pagesPerBlk; p++ {
				sizes := make([]int, nchannels)
				for c := range lun.Channels {
					sizes[c] = lun.Channels[c].GranWrite
				}
				blk.Pages[p] = Page_t{
					Lun:    l,
					Block:  b,
					Id:     p,
					Erased: true,
					Sizes:  sizes,
				}
			}
		}
	}

	log.WithField("nr_luns", nrLuns).Info("geometry enumerated")
	return g, nil
}

/// Path returns the device path the geometry was enumerated from.
func (g *Geometry_t) Path() string { return g.path }

/// Fd returns the device file descriptor for positional I/O.
func (g *Geometry_t) Fd() uintptr { return g.fd }

/// Page looks up the mutable page table entry for t.
func (g *Geometry_t) Page(t Triple) (*Page_t, error) {
	if t.Lun < 0 || t.Lun >= len(g.Luns) {
		return nil, ftlerr.New(ftlerr.OutOfBounds, "lun %d out of range", t.Lun)
	}
	lun := &g.Luns[t.Lun]
	if t.Block < 0 || t.Block >= len(lun.Blocks) {
		return nil, ftlerr.New(ftlerr.OutOfBounds, "block %d out of range in lun %d", t.Block, t.Lun)
	}
	blk := &lun.Blocks[t.Block]
	if t.Page < 0 || t.Page >= len(blk.Pages) {
		return nil, ftlerr.New(ftlerr.OutOfBounds, "page %d out of range in lun %d block %d", t.Page, t.Lun, t.Block)
	}
	return &blk.Pages[t.Page], nil
}

/// Block returns the block table entry (and its token) for (lun, block).
func (g *Geometry_t) Block(lun, block int) (*Block_t, error) {
	if lun < 0 || lun >= len(g.Luns) {
		return nil, ftlerr.New(ftlerr.OutOfBounds, "lun %d out of range", lun)
	}
	l := &g.Luns[lun]
	if block < 0 || block >= len(l.Blocks) {
		return nil, ftlerr.New(ftlerr.OutOfBounds, "block %d out of range in lun %d", block, lun)
	}
	return &l.Blocks[block], nil
}

/// PageSize returns gran_write for channel ch on the LUN owning t.
func (g *Geometry_t) PageSize(t Triple, ch int) int {
	return g.Luns[t.Lun].Channels[ch].GranWrite
}

/// Offset computes the byte offset of (L,B,P) on the device's raw
/// address space, per the exact wire-contract formula in spec.md §4.4.
func (g *Geometry_t) Offset(t Triple, ch int) int64 {
	lun := g.Luns[t.Lun]
	pageSize := lun.Channels[ch].GranWrite
	blockSize := lun.NrPagesPerBlk * pageSize
	lunSize := lun.NrBlocks * blockSize
	return int64(t.Lun)*int64(lunSize) + int64(t.Block)*int64(blockSize) + int64(t.Page)*int64(pageSize)
}

/// Describe renders a human-readable geometry summary, the
/// introspection surface SPEC_FULL.md adds for cmd/ftlctl geometry.
func (g *Geometry_t) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "device %s: %d LUN(s)\n", g.path, g.NrLuns)
	for i, lun := range g.Luns {
		fmt.Fprintf(&b, "  lun %d: %d blocks, %d pages/blk, %d channel(s)\n",
			i, lun.NrBlocks, lun.NrPagesPerBlk, lun.NChannels)
		for c, ch := range lun.Channels {
			fmt.Fprintf(&b, "    channel %d: read=%d write=%d erase=%d\n", c, ch.GranRead, ch.GranWrite, ch.GranErase)
		}
	}
	return b.String()
}
