package geometry

import (
	"os"

	"golang.org/x/sys/unix"
)

// SimDevice simulates an Open-Channel SSD backed by a plain host file,
// the same trick the teacher's ufs/driver.go ahci_disk_t uses to test
// the filesystem without real AHCI hardware: geometry is supplied by
// the caller instead of being queried over an ioctl, and all positional
// I/O is pread/pwrite against one *os.File. Good for tests and for
// cmd/ftlctl against a loopback image.
type SimDevice struct {
	path string
	f    *os.File

	nrLuns        int
	pagesPerBlk   int
	nblocks       int
	nchannels     int
	gread, gwrite, gerase int
}

// SimLayout describes the uniform geometry SimDevice reports for
// every LUN/channel; real hardware can vary this per LUN, but a
// simulated device has no reason to.
type SimLayout struct {
	NrLuns        int
	NrBlocks      int
	NrPagesPerBlk int
	NChannels     int
	GranRead      int
	GranWrite     int
	GranErase     int
}

// OpenSimDevice creates (or truncates) path to exactly hold the given
// layout and returns a Device ready for geometry.Open.
func OpenSimDevice(path string, layout SimLayout) (*SimDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	size := int64(layout.NrLuns) * int64(layout.NrBlocks) * int64(layout.NrPagesPerBlk) * int64(layout.GranWrite)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}
	return &SimDevice{
		path:        path,
		f:           f,
		nrLuns:      layout.NrLuns,
		pagesPerBlk: layout.NrPagesPerBlk,
		nblocks:     layout.NrBlocks,
		nchannels:   layout.NChannels,
		gread:       layout.GranRead,
		gwrite:      layout.GranWrite,
		gerase:      layout.GranErase,
	}, nil
}

func (s *SimDevice) Path() string { return s.path }
func (s *SimDevice) Fd() uintptr  { return s.f.Fd() }

func (s *SimDevice) NrLUNs() (int, error) { return s.nrLuns, nil }

func (s *SimDevice) LunGeometry(lun int) (int, int, int, error) {
	return s.pagesPerBlk, s.nchannels, s.nblocks, nil
}

func (s *SimDevice) ChannelGranularity(lun, channel int) (int, int, int, error) {
	return s.gread, s.gwrite, s.gerase, nil
}

// simBlockToken is the opaque driver token BLOCK_GET_BY_ID would
// return on real hardware; the simulator has nothing to hand back but
// the (lun, block) pair itself.
type simBlockToken struct {
	Lun, Block int
}

func (s *SimDevice) BlockToken(lun, block int) (interface{}, error) {
	return simBlockToken{Lun: lun, Block: block}, nil
}

// EraseBlock zero-fills the block's region of the backing file. A real
// driver would issue BLOCK_ERASE; the simulated device approximates
// the post-erase NAND state (all bits one, conventionally zero here
// for test legibility) directly.
func (s *SimDevice) EraseBlock(token interface{}) error {
	t, ok := token.(simBlockToken)
	if !ok {
		return unix.EINVAL
	}
	blockSize := s.pagesPerBlk * s.gwrite
	lunSize := s.nblocks * blockSize
	offset := int64(t.Lun)*int64(lunSize) + int64(t.Block)*int64(blockSize)
	zeros := make([]byte, blockSize)
	_, err := s.f.WriteAt(zeros, offset)
	return err
}

func (s *SimDevice) Close() error {
	return s.f.Close()
}
