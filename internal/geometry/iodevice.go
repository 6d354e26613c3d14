package geometry

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"ftl/internal/ftlerr"
)

// IoctlCodes carries the platform-specific ioctl request numbers for
// the geometry/channel/block query protocol named in spec.md §6. The
// concrete numbers come from the lightnvm target's header and are
// deliberately not hardcoded here: spec.md §1 scopes "the specific
// ioctl command codes" out of the hard core, naming only the
// DeviceGeometry interface they must satisfy.
type IoctlCodes struct {
	NrLunsGet           uintptr
	PagesPerBlkGet      uintptr
	ChannelsNrGet       uintptr
	BlocksNrGet         uintptr
	PageSizeGet         uintptr
	BlockGetByID        uintptr
	BlockErase          uintptr
}

// lunQuery mirrors the {lun_idx} in / {value} out shape spec.md §6
// describes for PAGES_PER_BLK_GET/CHANNELS_NR_GET/BLOCKS_NR_GET.
type lunQuery struct {
	LunIdx uint64
	Value  uint64
}

// pageSizeQuery mirrors PAGE_SIZE_GET's {lun_idx, chnl_idx} in /
// {gran_read, gran_write, gran_erase} out shape.
type pageSizeQuery struct {
	LunIdx   uint64
	ChnlIdx  uint64
	GranRead uint64
	GranWrite uint64
	GranErase uint64
}

// blockQuery mirrors BLOCK_GET_BY_ID's {id, lun} in / opaque token out
// shape; Token is sized to hold whatever handle the real driver hands
// back.
type blockQuery struct {
	ID    uint64
	Lun   uint64
	Token uint64
}

// IoctlDevice talks to a real character device node via the ioctl
// protocol in spec.md §6, using golang.org/x/sys/unix the way
// other_examples' go-ublk runner drives its own character device.
type IoctlDevice struct {
	path  string
	fd    int
	codes IoctlCodes
}

// OpenIoctlDevice opens path read-write and is ready for geometry.Open
// once the caller has supplied the platform's IoctlCodes. Failure to
// open the node is ftlerr.DeviceOpen, fatal per spec.md §7; it is
// routed through ftlerr.MaybeFatal here, the same way geometry.Open
// does for GeometryQuery.
func OpenIoctlDevice(path string, codes IoctlCodes) (*IoctlDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		wrapped := ftlerr.Wrap(ftlerr.DeviceOpen, err, "open %s", path)
		ftlerr.MaybeFatal(wrapped)
		return nil, wrapped
	}
	return &IoctlDevice{path: path, fd: fd, codes: codes}, nil
}

func (d *IoctlDevice) Path() string { return d.path }
func (d *IoctlDevice) Fd() uintptr  { return uintptr(d.fd) }

func (d *IoctlDevice) NrLUNs() (int, error) {
	var v uint64
	if err := ioctlPtr(d.fd, d.codes.NrLunsGet, unsafe.Pointer(&v)); err != nil {
		return 0, err
	}
	return int(v), nil
}

func (d *IoctlDevice) LunGeometry(lun int) (int, int, int, error) {
	ppb, err := d.lunScalar(d.codes.PagesPerBlkGet, lun)
	if err != nil {
		return 0, 0, 0, err
	}
	nch, err := d.lunScalar(d.codes.ChannelsNrGet, lun)
	if err != nil {
		return 0, 0, 0, err
	}
	nblk, err := d.lunScalar(d.codes.BlocksNrGet, lun)
	if err != nil {
		return 0, 0, 0, err
	}
	return ppb, nch, nblk, nil
}

func (d *IoctlDevice) lunScalar(req uintptr, lun int) (int, error) {
	q := lunQuery{LunIdx: uint64(lun)}
	if err := ioctlPtr(d.fd, req, unsafe.Pointer(&q)); err != nil {
		return 0, err
	}
	return int(q.Value), nil
}

func (d *IoctlDevice) ChannelGranularity(lun, channel int) (int, int, int, error) {
	q := pageSizeQuery{LunIdx: uint64(lun), ChnlIdx: uint64(channel)}
	if err := ioctlPtr(d.fd, d.codes.PageSizeGet, unsafe.Pointer(&q)); err != nil {
		return 0, 0, 0, err
	}
	return int(q.GranRead), int(q.GranWrite), int(q.GranErase), nil
}

func (d *IoctlDevice) BlockToken(lun, block int) (interface{}, error) {
	q := blockQuery{ID: uint64(block), Lun: uint64(lun)}
	if err := ioctlPtr(d.fd, d.codes.BlockGetByID, unsafe.Pointer(&q)); err != nil {
		return nil, err
	}
	return q.Token, nil
}

func (d *IoctlDevice) EraseBlock(token interface{}) error {
	tok, ok := token.(uint64)
	if !ok {
		return fmt.Errorf("erase: unexpected token type %T", token)
	}
	return ioctlPtr(d.fd, d.codes.BlockErase, unsafe.Pointer(&tok))
}

func (d *IoctlDevice) Close() error {
	return unix.Close(d.fd)
}

// ioctlPtr issues a generic ioctl(2) with a pointer argument, the
// primitive golang.org/x/sys/unix exposes for request codes the
// standard library doesn't model (unix.IoctlGetInt only covers the
// plain-int case; ours carry structs).
func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}
