package seqfile_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftl/internal/alloc"
	"ftl/internal/appendfile"
	"ftl/internal/ftlfile"
	"ftl/internal/geometry"
	"ftl/internal/seqfile"
)

// stubDir is the minimal dirapi.Dir a file adapter needs in isolation
// from a real directory tree (spec.md §1 scopes the directory layer
// out of the hard core).
type stubDir struct {
	api  ftlfile.Api
	name string
}

func (s *stubDir) NvmClose(string) error        { return nil }
func (s *stubDir) GetNVMApi() ftlfile.Api        { return s.api }
func (s *stubDir) GetName() string               { return s.name }

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

func TestSequentialReadAcrossPages(t *testing.T) {
	f, api, dev, dir := newHarness(t)

	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("HELLO")))
	require.NoError(t, w.Append([]byte(" WORLD")))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(11), f.Size())

	r := seqfile.New(f, api, dev, dir)
	out := make([]byte, 100)
	scratch := make([]byte, 8)
	n, err := r.Read(100, out, scratch)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", string(out[:n]))
}

func TestSkipPastEndFails(t *testing.T) {
	f, api, dev, dir := newHarness(t)
	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("ABCD")))
	require.NoError(t, w.Close())

	r := seqfile.New(f, api, dev, dir)
	assert.Error(t, r.Skip(100))
	assert.NoError(t, r.Skip(2))
}
