package ioprim_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftl/internal/alloc"
	"ftl/internal/geometry"
	"ftl/internal/ioprim"
)

func openDevice(t *testing.T) (*geometry.Geometry_t, *geometry.SimDevice, *alloc.Allocator) {
	t.Helper()
	layout := geometry.SimLayout{NrLuns: 1, NrBlocks: 1, NrPagesPerBlk: 2, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8}
	dev, err := geometry.OpenSimDevice(filepath.Join(t.TempDir(), "dev.img"), layout)
	require.NoError(t, err)
	geo, err := geometry.Open(dev)
	require.NoError(t, err)
	return geo, dev, alloc.New(geo, dev, alloc.PageMode)
}

func TestWriteThenReadPageRoundTrip(t *testing.T) {
	geo, dev, al := openDevice(t)
	defer dev.Close()

	tr, err := al.RequestPage()
	require.NoError(t, err)

	ref := tr
	data := []byte("HELLOooo")
	_, err = ioprim.WritePage(dev, geo, al, &ref, 0, data, len(data))
	require.NoError(t, err)
	assert.Equal(t, tr, ref, "no EINTR occurred, so the page ref must not have been rebound")

	out := make([]byte, 8)
	require.NoError(t, ioprim.ReadPage(dev, geo, tr, 0, out))
	assert.Equal(t, data, out)
}

func TestWritePagePanicsOnOversizedData(t *testing.T) {
	geo, dev, al := openDevice(t)
	defer dev.Close()
	tr, err := al.RequestPage()
	require.NoError(t, err)

	ref := tr
	assert.Panics(t, func() {
		ioprim.WritePage(dev, geo, al, &ref, 0, make([]byte, 16), 16)
	})
}

func TestReadPageFailsOnUndersizedScratch(t *testing.T) {
	geo, dev, al := openDevice(t)
	defer dev.Close()
	tr, err := al.RequestPage()
	require.NoError(t, err)

	err = ioprim.ReadPage(dev, geo, tr, 0, make([]byte, 4))
	assert.Error(t, err)
}
