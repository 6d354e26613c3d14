package alloc_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftl/internal/alloc"
	"ftl/internal/ftlerr"
	"ftl/internal/geometry"
)

func openGeo(t *testing.T, layout geometry.SimLayout) (*geometry.Geometry_t, *geometry.SimDevice) {
	t.Helper()
	dev, err := geometry.OpenSimDevice(filepath.Join(t.TempDir(), "dev.img"), layout)
	require.NoError(t, err)
	geo, err := geometry.Open(dev)
	require.NoError(t, err)
	return geo, dev
}

func smallLayout() geometry.SimLayout {
	return geometry.SimLayout{NrLuns: 1, NrBlocks: 2, NrPagesPerBlk: 4, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8}
}

func TestRequestPageLowestTripleFirst(t *testing.T) {
	geo, dev := openGeo(t, smallLayout())
	defer dev.Close()
	a := alloc.New(geo, dev, alloc.PageMode)

	t1, err := a.RequestPage()
	require.NoError(t, err)
	assert.Equal(t, geometry.Triple{Lun: 0, Block: 0, Page: 0}, t1)

	t2, err := a.RequestPage()
	require.NoError(t, err)
	assert.Equal(t, geometry.Triple{Lun: 0, Block: 0, Page: 1}, t2)
}

func TestRequestPageExhaustion(t *testing.T) {
	geo, dev := openGeo(t, geometry.SimLayout{NrLuns: 1, NrBlocks: 1, NrPagesPerBlk: 1, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8})
	defer dev.Close()
	a := alloc.New(geo, dev, alloc.PageMode)

	_, err := a.RequestPage()
	require.NoError(t, err)
	_, err = a.RequestPage()
	require.Error(t, err)
}

func TestReclaimPageFreesItForReuse(t *testing.T) {
	geo, dev := openGeo(t, geometry.SimLayout{NrLuns: 1, NrBlocks: 1, NrPagesPerBlk: 1, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8})
	defer dev.Close()
	a := alloc.New(geo, dev, alloc.PageMode)

	t1, err := a.RequestPage()
	require.NoError(t, err)
	require.NoError(t, a.ReclaimPage(t1))

	t2, err := a.RequestPage()
	require.NoError(t, err)
	assert.Equal(t, t1, t2)
}

func TestRequestBlockReservesWholeBlock(t *testing.T) {
	geo, dev := openGeo(t, smallLayout())
	defer dev.Close()
	a := alloc.New(geo, dev, alloc.BlockMode)

	var out []geometry.Triple
	require.NoError(t, a.RequestBlock(&out))
	require.Len(t, out, 4)
	for _, tr := range out {
		assert.Equal(t, 0, tr.Block)
	}

	// The block is fully claimed; a second whole-block request must
	// skip it and land on block 1.
	var out2 []geometry.Triple
	require.NoError(t, a.RequestBlock(&out2))
	require.Len(t, out2, 4)
	for _, tr := range out2 {
		assert.Equal(t, 1, tr.Block)
	}
}

func TestReclaimBlockErasesAndFrees(t *testing.T) {
	geo, dev := openGeo(t, geometry.SimLayout{NrLuns: 1, NrBlocks: 1, NrPagesPerBlk: 2, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8})
	defer dev.Close()
	a := alloc.New(geo, dev, alloc.BlockMode)

	var out []geometry.Triple
	require.NoError(t, a.RequestBlock(&out))
	require.NoError(t, a.ReclaimBlock(0, 0))

	stats := a.Stats()
	require.Len(t, stats.PerLun, 1)
	assert.Equal(t, 2, stats.PerLun[0].FreePages)
	assert.Equal(t, 1, stats.PerLun[0].FreeBlocks)
}

// failingEraseDevice wraps a real SimDevice but fails every erase, so
// ReclaimBlock's erase-failure path can be exercised without a real
// device.
type failingEraseDevice struct {
	*geometry.SimDevice
}

func (failingEraseDevice) EraseBlock(interface{}) error {
	return errors.New("simulated erase failure")
}

// TestReclaimBlockEraseFailureIsFatal is the spec.md §7 EraseFailure
// property: an erase failure must reach ftlerr.MaybeFatal's abort hook,
// not just return an error for a caller to retry past.
func TestReclaimBlockEraseFailureIsFatal(t *testing.T) {
	geo, dev := openGeo(t, geometry.SimLayout{NrLuns: 1, NrBlocks: 1, NrPagesPerBlk: 2, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8})
	defer dev.Close()
	a := alloc.New(geo, failingEraseDevice{dev}, alloc.BlockMode)

	var out []geometry.Triple
	require.NoError(t, a.RequestBlock(&out))

	var exitCode int
	restore := ftlerr.WithExitFuncForTest(func(code int) { exitCode = code })
	defer restore()

	err := a.ReclaimBlock(0, 0)
	require.Error(t, err)
	assert.Equal(t, 1, exitCode, "an erase failure must reach ftlerr.MaybeFatal's abort hook")
}

func TestRequestPageAtReplay(t *testing.T) {
	geo, dev := openGeo(t, smallLayout())
	defer dev.Close()
	a := alloc.New(geo, dev, alloc.PageMode)

	target := geometry.Triple{Lun: 0, Block: 1, Page: 2}
	got, err := a.RequestPageAt(target)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	_, err = a.RequestPageAt(target)
	require.Error(t, err, "re-claiming an already-allocated page during replay must fail")
}
