package statefile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/expression.report/internal/expression"
	"github.com/banshee-data/expression.report/internal/expression/codec"
	"github.com/banshee-data/expression.report/internal/expression/features"
	"github.com/banshee-data/expression.report/internal/fsutil"
	"github.com/banshee-data/expression.report/internal/testutil"
)

func engineWithSamples(t *testing.T) *expression.Engine {
	t.Helper()
	e := expression.New(expression.Options{Settings: expression.Settings{
		Label:     "smile",
		Selection: features.AllSelected(),
	}})
	e.Flags.Recording = true
	for i := 1; i <= 4; i++ {
		f := testutil.Frame(0, float64(i), 1)
		require.NoError(t, e.Record(&f))
	}
	return e
}

func TestSaveLoad(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	src := engineWithSamples(t)

	n, err := Save(fsys, "state/engine.expr", src)
	require.NoError(t, err)
	assert.Positive(t, n)

	dst := expression.New(expression.Options{})
	require.NoError(t, Load(fsys, "state/engine.expr", dst))
	assert.Equal(t, 4, dst.Store().Count("smile"))
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	dst := expression.New(expression.Options{})
	err := Load(fsutil.NewMemoryFileSystem(), "none.expr", dst)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadCorrupt(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, fsys.WriteFile("bad.expr", []byte("junk"), 0o600))
	dst := engineWithSamples(t)
	err := Load(fsys, "bad.expr", dst)
	assert.ErrorIs(t, err, codec.ErrFormat)
	assert.Equal(t, 4, dst.Store().Count("smile"))
}

func TestSaveRejectsExtension(t *testing.T) {
	t.Parallel()
	_, err := Save(fsutil.NewMemoryFileSystem(), "engine.json", engineWithSamples(t))
	assert.Error(t, err)
}
