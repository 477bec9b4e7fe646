package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/internal/testutil"
	"github.com/meigma/fieldarchive/section"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	iso := testutil.BuildISO([]testutil.ISOFile{{Dir: "FIELD", Name: "A.DAT", Data: testutil.Envelope([]byte("a"))}})
	archive := testutil.BuildTOC([]testutil.TOCRecord{{Name: "a", Data: testutil.Envelope([]byte("a"))}}, nil)

	tests := []struct {
		path string
		want any
	}{
		{dir, &Dir{}},
		{testutil.WriteFile(t, dir, "disc.iso", iso.Data), &Disk{}},
		{testutil.WriteFile(t, dir, "disc.BIN", iso.Data), &Disk{}},
		{testutil.WriteFile(t, dir, "md1stin.dat", testutil.Envelope(nil)), &Flat{}},
		{testutil.WriteFile(t, dir, "flevel.lgp", archive), &TOC{}},
	}
	for _, tc := range tests {
		b, err := Detect(tc.path)
		require.NoError(t, err, tc.path)
		assert.IsType(t, tc.want, b, tc.path)
		require.NoError(t, b.Close())
	}

	_, err := Detect(filepath.Join(dir, "missing.lgp"))
	require.Error(t, err)
}

func TestDirEnumerate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ZZ.DAT", testutil.Envelope([]byte("zz")))
	testutil.WriteFile(t, dir, "ab.dat", testutil.Envelope([]byte("ab")))
	testutil.WriteFile(t, dir, "AB.MIM", []byte("mim"))
	testutil.WriteFile(t, dir, "readme.txt", []byte("no"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "SUB.DAT"), 0o750))
	require.NoError(t, os.Symlink(filepath.Join(dir, "ZZ.DAT"), filepath.Join(dir, "LINK.DAT")))

	d, err := OpenDir(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	recs, err := d.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "ab", recs[0].Name)
	assert.Equal(t, DirLocator{File: "ab.dat"}, recs[0].Loc)
	assert.Equal(t, "zz", recs[1].Name)
	assert.Equal(t, section.DatLayout{}, d.SectionLayout())

	data, err := d.ReadEntry(recs[0].Loc, fatype.PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, testutil.Envelope([]byte("ab")), data)

	mim, err := d.ReadEntry(recs[0].Loc, fatype.PayloadAux1)
	require.NoError(t, err)
	assert.Equal(t, []byte("mim"), mim)

	_, err = d.ReadEntry(recs[0].Loc, fatype.PayloadAux2)
	require.ErrorIs(t, err, fatype.ErrNotFound)
	_, err = d.ReadEntry(FlatLocator{}, fatype.PayloadPrimary)
	require.ErrorIs(t, err, fatype.ErrNotFound)
}

func TestDirSaveInPlace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "A.DAT", testutil.Envelope([]byte("old a")))
	testutil.WriteFile(t, dir, "B.DAT", testutil.Envelope([]byte("old b")))

	d, err := OpenDir(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	recs, err := d.Enumerate(context.Background())
	require.NoError(t, err)

	tx, err := d.BeginSave("")
	require.NoError(t, err)
	_, err = tx.WriteEntry(recs[0].Loc, testutil.Envelope([]byte("new a")))
	require.NoError(t, err)
	assert.Equal(t, testutil.Envelope([]byte("old a")), testutil.ReadFile(t, filepath.Join(dir, "A.DAT")), "nothing visible before commit")
	require.NoError(t, tx.Commit(context.Background()))

	assert.Equal(t, testutil.Envelope([]byte("new a")), testutil.ReadFile(t, filepath.Join(dir, "A.DAT")))
	assert.Equal(t, testutil.Envelope([]byte("old b")), testutil.ReadFile(t, filepath.Join(dir, "B.DAT")))
	assertNoTemps(t, dir)
}

func TestDirSaveAs(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")
	testutil.WriteFile(t, src, "A.DAT", testutil.Envelope([]byte("old a")))
	testutil.WriteFile(t, src, "A.MIM", []byte("background"))
	testutil.WriteFile(t, src, "B.DAT", testutil.Envelope([]byte("old b")))

	d, err := OpenDir(src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	recs, err := d.Enumerate(context.Background())
	require.NoError(t, err)

	tx, err := d.BeginSave(dst)
	require.NoError(t, err)
	_, err = tx.WriteEntry(recs[1].Loc, testutil.Envelope([]byte("new b")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	assert.Equal(t, testutil.Envelope([]byte("old b")), testutil.ReadFile(t, filepath.Join(src, "B.DAT")))
	assert.Equal(t, testutil.Envelope([]byte("new b")), testutil.ReadFile(t, filepath.Join(dst, "B.DAT")))
	assert.Equal(t, testutil.Envelope([]byte("old a")), testutil.ReadFile(t, filepath.Join(dst, "A.DAT")))
	assert.Equal(t, []byte("background"), testutil.ReadFile(t, filepath.Join(dst, "A.MIM")))
	assert.Equal(t, dst, d.Path())
}

func TestDirRollback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "A.DAT", testutil.Envelope([]byte("a")))
	d, err := OpenDir(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	tx, err := d.BeginSave("")
	require.NoError(t, err)
	_, err = tx.WriteEntry(DirLocator{File: "A.DAT"}, testutil.Envelope([]byte("b")))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	assert.Equal(t, testutil.Envelope([]byte("a")), testutil.ReadFile(t, filepath.Join(dir, "A.DAT")))
	assertNoTemps(t, dir)
}

func TestFlat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "MD1STIN.DAT", testutil.Envelope([]byte("field")))
	testutil.WriteFile(t, dir, "MD1STIN.BSX", []byte("models"))

	f, err := OpenFlat(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	recs, err := f.Enumerate(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Record{{Name: "md1stin", Loc: FlatLocator{}}}, recs)

	bsx, err := f.ReadEntry(FlatLocator{}, fatype.PayloadAux2)
	require.NoError(t, err)
	assert.Equal(t, []byte("models"), bsx)

	tx, err := f.BeginSave("")
	require.NoError(t, err)
	_, err = tx.WriteEntry(FlatLocator{}, testutil.Envelope([]byte("edited")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))

	data, err := f.ReadEntry(FlatLocator{}, fatype.PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, testutil.Envelope([]byte("edited")), data)
	assertNoTemps(t, dir)
}

func TestFlatSaveLocked(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, t.TempDir(), "A.DAT", testutil.Envelope([]byte("a")))

	f, err := OpenFlat(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	reader, err := OpenFlat(path)
	require.NoError(t, err)

	tx, err := f.BeginSave("")
	require.NoError(t, err)
	_, err = tx.WriteEntry(FlatLocator{}, testutil.Envelope([]byte("b")))
	require.NoError(t, err)
	require.ErrorIs(t, tx.Commit(context.Background()), fatype.ErrLocked)
	assert.Equal(t, testutil.Envelope([]byte("a")), testutil.ReadFile(t, path))

	require.NoError(t, reader.Close())
	tx, err = f.BeginSave("")
	require.NoError(t, err)
	_, err = tx.WriteEntry(FlatLocator{}, testutil.Envelope([]byte("b")))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, testutil.Envelope([]byte("b")), testutil.ReadFile(t, path))
}

func TestFlatSaveCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "A.DAT", testutil.Envelope([]byte("a")))
	f, err := OpenFlat(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tx, err := f.BeginSave("")
	require.NoError(t, err)
	_, err = tx.WriteEntry(FlatLocator{}, testutil.Envelope([]byte("b")))
	require.NoError(t, err)
	require.ErrorIs(t, tx.Commit(ctx), context.Canceled)

	assert.Equal(t, testutil.Envelope([]byte("a")), testutil.ReadFile(t, path))
	assertNoTemps(t, dir)
}

func assertNoTemps(t *testing.T, dir string) {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, tempPrefix+"*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSamePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "a", nil)
	assert.True(t, samePath(path, filepath.Join(dir, ".", "a")))
	assert.False(t, samePath(path, filepath.Join(dir, "b")))
	assert.True(t, samePath(filepath.Join(dir, "x"), filepath.Join(dir, "y", "..", "x")))
}
