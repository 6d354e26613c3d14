package rwfile_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftl/internal/alloc"
	"ftl/internal/appendfile"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
	"ftl/internal/rwfile"
)

type stubDir struct {
	api  ftlfile.Api
	name string
}

func (s *stubDir) NvmClose(string) error  { return nil }
func (s *stubDir) GetNVMApi() ftlfile.Api { return s.api }
func (s *stubDir) GetName() string        { return s.name }

func newHarness(t *testing.T) (*ftlfile.File, ftlfile.Api, geometry.Device, *stubDir) {
	t.Helper()
	layout := geometry.SimLayout{NrLuns: 1, NrBlocks: 2, NrPagesPerBlk: 4, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8}
	dev, err := geometry.OpenSimDevice(filepath.Join(t.TempDir(), "dev.img"), layout)
	require.NoError(t, err)
	geo, err := geometry.Open(dev)
	require.NoError(t, err)
	api := ftlfile.Api{Geo: geo, Alloc: alloc.New(geo, dev, alloc.PageMode)}
	f := ftlfile.New()
	require.NoError(t, f.AddName("testfile"))
	return f, api, dev, &stubDir{api: api, name: "testfile"}
}

// TestRandomOverwritePreservesSurroundingBytes is the S5 scenario:
// writing into the middle of an existing page must leave the
// unmodified bytes intact and must copy-on-write the touched pages to
// fresh physical triples.
func TestRandomOverwritePreservesSurroundingBytes(t *testing.T) {
	f, api, dev, dir := newHarness(t)

	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("0123456789ABCDEF")))
	require.NoError(t, w.Close())

	before := f.Pages()
	require.Len(t, before, 2)

	rw := rwfile.New(f, api, dev, dir)
	require.NoError(t, rw.Write(4, []byte("xxxx")))

	out := make([]byte, 16)
	scratch := make([]byte, 8)
	n, err := rw.Read(0, 16, out, scratch)
	require.NoError(t, err)
	assert.Equal(t, "0123xxxx89ABCDEF", string(out[:n]))

	after := f.Pages()
	require.Len(t, after, 2)
	assert.NotEqual(t, before[0], after[0], "the overwritten page must be copy-on-written to a fresh triple")
	assert.Equal(t, before[1], after[1], "the untouched page must keep its triple")
}

// TestWriteAtSizeAppends exercises offset == size, which must grow the
// file rather than error.
func TestWriteAtSizeAppends(t *testing.T) {
	f, api, dev, dir := newHarness(t)
	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("AB")))
	require.NoError(t, w.Close())

	rw := rwfile.New(f, api, dev, dir)
	require.NoError(t, rw.Write(2, []byte("CD")))
	assert.Equal(t, int64(4), f.Size())

	out := make([]byte, 4)
	scratch := make([]byte, 8)
	n, err := rw.Read(0, 4, out, scratch)
	require.NoError(t, err)
	assert.Equal(t, "ABCD", string(out[:n]))
}

func TestWriteBeyondSizeFails(t *testing.T) {
	f, api, dev, dir := newHarness(t)
	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("AB")))
	require.NoError(t, w.Close())

	rw := rwfile.New(f, api, dev, dir)
	assert.Error(t, rw.Write(10, []byte("x")))
}
