package appendfile_test

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

// TestAppendAndReadBack is the round-trip property (spec.md §8 #1) for
// the S1 scenario: two appends spanning a page boundary, read back
// whole.
func TestAppendAndReadBack(t *testing.T) {
	f, api, dev, dir := newHarness(t)

	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("HELLO")))
	require.NoError(t, w.Append([]byte(" WORLD")))
	require.NoError(t, w.Close())

	assert.Equal(t, int64(11), f.Size())
	assert.Len(t, f.Pages(), 2)

	r := seqfile.New(f, api, dev, dir)
	out := make([]byte, 11)
	scratch := make([]byte, 8)
	n, err := r.Read(11, out, scratch)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", string(out[:n]))
}

// TestExactPageFillArmsFreshPage is the S2 scenario: writing exactly
// one page's worth and flushing without closing leaves a single
// committed page and a freshly armed one, cursize reset to zero.
func TestExactPageFillArmsFreshPage(t *testing.T) {
	f, api, dev, dir := newHarness(t)

	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("ABCDEFGH")))
	require.NoError(t, w.Flush())

	assert.Equal(t, int64(8), f.Size())
	assert.Len(t, f.Pages(), 1)
	assert.Equal(t, int64(8), w.GetFileSize())
}

func TestAppendAfterCloseFails(t *testing.T) {
	f, api, dev, dir := newHarness(t)
	w, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = w.Append([]byte("x"))
	assert.Error(t, err)
}

// TestReopenRecoversUnalignedTail exercises S8 (page-alignment
// invariant): appending a partial page, closing, then reopening a new
// writer must recover the buffered tail so further appends continue
// from the right offset instead of overwriting it.
func TestReopenRecoversUnalignedTail(t *testing.T) {
	f, api, dev, dir := newHarness(t)

	w1, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w1.Append([]byte("ABC")))
	require.NoError(t, w1.Close())
	require.Equal(t, int64(3), f.Size())

	w2, err := appendfile.New(f, api, dev, dir)
	require.NoError(t, err)
	require.NoError(t, w2.Append([]byte("DE")))
	require.NoError(t, w2.Close())

	assert.Equal(t, int64(5), f.Size())

	r := seqfile.New(f, api, dev, dir)
	out := make([]byte, 5)
	scratch := make([]byte, 8)
	n, err := r.Read(5, out, scratch)
	require.NoError(t, err)
	assert.Equal(t, "ABCDE", string(out[:n]))
}
