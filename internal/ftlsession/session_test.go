package ftlsession_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ftl/internal/alloc"
	"ftl/internal/appendfile"
	"ftl/internal/dirapi"
	"ftl/internal/ftlfile"
	"ftl/internal/ftlsession"
	"ftl/internal/geometry"
)

// sessionDir is the dirapi.Dir a file opened through a Session hands
// to its adapters.
type sessionDir struct {
	sess *ftlsession.Session
	name string
}

func (d *sessionDir) NvmClose(string) error  { return nil }
func (d *sessionDir) GetNVMApi() ftlfile.Api { return d.sess.Api }
func (d *sessionDir) GetName() string        { return d.name }

var _ dirapi.Dir = (*sessionDir)(nil)

func TestSessionOpenWithNoStateFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	layout := geometry.SimLayout{NrLuns: 1, NrBlocks: 1, NrPagesPerBlk: 4, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8}

	sess, err := ftlsession.Open(filepath.Join(dir, "ftl.img"), filepath.Join(dir, "ftl.state"), layout, alloc.PageMode)
	require.NoError(t, err)
	defer sess.Close()

	assert.Empty(t, sess.Files)
	assert.Nil(t, sess.FindNamed("anything"))
}

// TestSaveThenReopenReplaysFiles is the persistence round-trip
// property (spec.md §8 #3) exercised end to end through the session
// the CLI actually uses: write a file, Save, close, reopen a fresh
// Session over the same paths, and confirm the file reloads intact.
func TestSaveThenReopenReplaysFiles(t *testing.T) {
	dir := t.TempDir()
	devPath := filepath.Join(dir, "ftl.img")
	statePath := filepath.Join(dir, "ftl.state")
	layout := geometry.SimLayout{NrLuns: 1, NrBlocks: 2, NrPagesPerBlk: 4, NChannels: 1, GranRead: 8, GranWrite: 8, GranErase: 8}

	sess, err := ftlsession.Open(devPath, statePath, layout, alloc.PageMode)
	require.NoError(t, err)

	f := ftlfile.New()
	require.NoError(t, f.AddName("greeting"))
	w, err := appendfile.New(f, sess.Api, sess.Dev, &sessionDir{sess: sess, name: "greeting"})
	require.NoError(t, err)
	require.NoError(t, w.Append([]byte("hi")))
	require.NoError(t, w.Close())
	sess.Files = append(sess.Files, f)

	require.NoError(t, sess.Save())
	require.NoError(t, sess.Close())

	reopened, err := ftlsession.Open(devPath, statePath, layout, alloc.PageMode)
	require.NoError(t, err)
	defer reopened.Close()

	require.Len(t, reopened.Files, 1)
	got := reopened.FindNamed("greeting")
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.Size())
	assert.Equal(t, []string{"greeting"}, got.EnumerateNames())
}
