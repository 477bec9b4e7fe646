package fieldarchive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/fieldarchive/backend"
	"github.com/meigma/fieldarchive/internal/isofs"
	"github.com/meigma/fieldarchive/internal/testutil"
	"github.com/meigma/fieldarchive/section"
)

// countingCodec records how often Decompress runs.
type countingCodec struct {
	testutil.IdentityCodec
	calls atomic.Int32
}

func (c *countingCodec) Decompress(src []byte) ([]byte, error) {
	c.calls.Add(1)
	return c.IdentityCodec.Decompress(src)
}

func datEntry(seed uint64) []byte {
	return testutil.Envelope(testutil.DatPayload(0x80100000, testutil.Sections(seed, section.DatSections)...))
}

func openCatalog(t *testing.T, path string, opts ...Option) *Catalog {
	t.Helper()
	opts = append([]Option{WithCodec(testutil.IdentityCodec{})}, opts...)
	c, err := OpenPath(path, opts...)
	require.NoError(t, err)
	_, err = c.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// editSection opens name, replaces section id, and returns the new data.
func editSection(t *testing.T, c *Catalog, name string, id int, size int) []byte {
	t.Helper()
	e, err := c.Lookup(name)
	require.NoError(t, err)
	_, err = c.OpenEntry(e)
	require.NoError(t, err)
	data := bytes.Repeat([]byte{0x5A}, size)
	require.NoError(t, e.SetSection(id, data))
	assert.True(t, e.IsModified())
	return data
}

func requireSection(t *testing.T, path, name string, id int, want []byte) {
	t.Helper()
	c, err := OpenPath(path, WithCodec(testutil.IdentityCodec{}))
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Open(context.Background())
	require.NoError(t, err)
	e, err := c.Lookup(name)
	require.NoError(t, err)
	_, err = c.OpenEntry(e)
	require.NoError(t, err)
	got, err := e.Section(id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCatalogDirRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	untouched := datEntry(2)
	testutil.WriteFile(t, dir, "MD1_1.DAT", untouched)

	c := openCatalog(t, dir)
	require.Len(t, c.Entries(), 2)
	want := editSection(t, c, "md1stin", section.DatWalkmesh, 300)
	require.NoError(t, c.Save(context.Background(), ""))

	e, err := c.Lookup("MD1STIN")
	require.NoError(t, err)
	assert.False(t, e.IsModified())
	requireSection(t, dir, "md1stin", section.DatWalkmesh, want)
	assert.Equal(t, untouched, testutil.ReadFile(t, filepath.Join(dir, "MD1_1.DAT")))
}

func TestCatalogDirSaveAs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	original := datEntry(2)
	testutil.WriteFile(t, dir, "MD1_1.DAT", original)

	c := openCatalog(t, dir)
	want := editSection(t, c, "md1_1", section.DatScripts, 10)
	target := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, c.Save(context.Background(), target))

	requireSection(t, target, "md1_1", section.DatScripts, want)
	assert.Equal(t, original, testutil.ReadFile(t, filepath.Join(dir, "MD1_1.DAT")))
}

func TestCatalogFlatSizeMismatch(t *testing.T) {
	t.Parallel()

	bad := datEntry(3)
	bad[0]++
	path := testutil.WriteFile(t, t.TempDir(), "MD1STIN.DAT", bad)

	cc := &countingCodec{}
	c := openCatalog(t, path, WithCodec(cc))
	e, err := c.Lookup("md1stin")
	require.NoError(t, err)

	_, err = c.Payload(e, PayloadPrimary)
	require.ErrorIs(t, err, ErrSizeMismatch)
	assert.Zero(t, cc.calls.Load(), "decompress must not run on a bad prefix")

	raw, err := c.RawPayload(e, PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, bad, raw)
}

func TestCatalogFlatRoundTrip(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, t.TempDir(), "MD1STIN.DAT", datEntry(4))
	c := openCatalog(t, path)
	want := editSection(t, c, "md1stin", section.DatModelLoader, 0)
	require.NoError(t, c.Save(context.Background(), ""))
	requireSection(t, path, "md1stin", section.DatModelLoader, want)
}

func TestCatalogPayloadCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	testutil.WriteFile(t, dir, "MD1_1.DAT", datEntry(2))

	cc := &countingCodec{}
	c := openCatalog(t, dir, WithCodec(cc))
	a, err := c.Lookup("md1stin")
	require.NoError(t, err)
	b, err := c.Lookup("md1_1")
	require.NoError(t, err)

	first, err := c.Payload(a, PayloadPrimary)
	require.NoError(t, err)
	first[0] ^= 0xFF
	second, err := c.Payload(a, PayloadPrimary)
	require.NoError(t, err)
	assert.NotEqual(t, first[0], second[0], "callers get copies")
	assert.Equal(t, int32(1), cc.calls.Load())

	_, err = c.Payload(b, PayloadPrimary)
	require.NoError(t, err)
	_, err = c.Payload(a, PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, int32(3), cc.calls.Load(), "one slot per kind")

	_, err = c.OpenEntry(a)
	require.NoError(t, err)
	require.NoError(t, a.SetSection(section.DatScripts, []byte("new")))
	_, err = c.Payload(a, PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, int32(4), cc.calls.Load(), "edit drops cached payload")

	hits, misses := c.cache.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(4), misses)
}

func TestCatalogSharedCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	pc := NewPayloadCache()

	one := openCatalog(t, dir, WithCache(pc))
	a, err := one.Lookup("md1stin")
	require.NoError(t, err)
	_, err = one.Payload(a, PayloadPrimary)
	require.NoError(t, err)

	two := openCatalog(t, dir, WithCache(pc))
	b, err := two.Lookup("md1stin")
	require.NoError(t, err)
	_, ok := pc.Get(a, PayloadPrimary)
	assert.False(t, ok, "opening another catalog invalidates the shared cache")
	_, ok = pc.Get(b, PayloadPrimary)
	assert.False(t, ok)
}

func TestCatalogSaveCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	original := datEntry(1)
	path := testutil.WriteFile(t, dir, "MD1STIN.DAT", original)

	c := openCatalog(t, dir)
	editSection(t, c, "md1stin", section.DatCamera, 64)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, c.Save(ctx, ""), context.Canceled)

	e, err := c.Lookup("md1stin")
	require.NoError(t, err)
	assert.True(t, e.IsModified())
	assert.Equal(t, original, testutil.ReadFile(t, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestCatalogEmptyArchive(t *testing.T) {
	t.Parallel()

	c, err := OpenPath(t.TempDir())
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Open(context.Background())
	require.ErrorIs(t, err, ErrEmptyArchive)

	_, err = c.Lookup("md1stin")
	require.ErrorIs(t, err, ErrNotOpen)
}

func TestCatalogDuplicateNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first := datEntry(1)
	testutil.WriteFile(t, dir, "MD1.DAT", first)
	testutil.WriteFile(t, dir, "md1.dat", datEntry(2))

	c := openCatalog(t, dir)
	require.Len(t, c.Entries(), 1)
	e, err := c.Lookup("Md1")
	require.NoError(t, err)
	raw, err := c.RawPayload(e, PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, first, raw)
}

func TestCatalogEntryErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	c := openCatalog(t, dir)
	e, err := c.Lookup("md1stin")
	require.NoError(t, err)

	require.ErrorIs(t, e.SetSection(0, nil), ErrNotOpen)
	_, err = e.Section(0)
	require.ErrorIs(t, err, ErrNotOpen)

	_, err = c.OpenEntry(e)
	require.NoError(t, err)
	require.ErrorIs(t, e.SetSection(section.DatSections, nil), ErrOutOfRange)
	assert.False(t, e.IsModified(), "failed edit leaves the entry clean")
	assert.False(t, e.Container().Editing())

	_, err = c.Lookup("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogTOCRoundTrip(t *testing.T) {
	t.Parallel()

	pcEntry := func(seed uint64) []byte {
		return testutil.Envelope(testutil.PCPayload(testutil.Sections(seed, section.PCSections)...))
	}
	archive := testutil.BuildTOC([]testutil.TOCRecord{
		{Name: "md1stin", Data: pcEntry(1)},
		{Name: "maplist", Data: []byte("md1stin\nmd1_1\n")},
		{Name: "md1_1", Data: pcEntry(2)},
		{Name: "md1stin.tut", Data: []byte("tutorial")},
	}, []byte("lookup"))
	path := testutil.WriteFile(t, t.TempDir(), "flevel.lgp", archive)

	var events []ProgressEvent
	c := openCatalog(t, path, WithProgress(func(ev ProgressEvent) { events = append(events, ev) }))
	require.Len(t, c.Entries(), 2)

	want := editSection(t, c, "md1stin", section.PCTriggers, 200)
	e, err := c.Lookup("md1stin")
	require.NoError(t, err)
	tut, err := c.Resource(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("tutorial"), tut)
	require.NoError(t, c.SetResource(e, []byte("new tutorial")))

	require.NoError(t, c.Save(context.Background(), ""))
	assert.NotEmpty(t, events)

	requireSection(t, path, "md1stin", section.PCTriggers, want)
	after := openCatalog(t, path)
	e, err = after.Lookup("md1stin")
	require.NoError(t, err)
	tut, err = after.Resource(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("new tutorial"), tut)

	other, err := after.Lookup("md1_1")
	require.NoError(t, err)
	raw, err := after.RawPayload(other, PayloadPrimary)
	require.NoError(t, err)
	assert.Equal(t, pcEntry(2), raw)
}

func TestCatalogDiskRoundTrip(t *testing.T) {
	t.Parallel()

	entryA := datEntry(1)
	entryB := datEntry(2)
	files := []testutil.ISOFile{
		{Name: "SYSTEM.CNF", Data: []byte("BOOT")},
		{Dir: "FIELD", Name: "MD1STIN.DAT", Data: entryA},
		{Dir: "FIELD", Name: "MD1STIN.MIM", Data: testutil.Envelope([]byte("background"))},
		{Dir: "FIELD", Name: "MD1_1.DAT", Data: entryB},
		{Dir: "FIELD", Name: "FIELD.BIN", Data: testutil.FieldBin(t, make([]byte, 64))},
	}
	first := testutil.BuildISO(files)
	index := bytes.Repeat([]byte{0xEE}, 0x100)
	copy(index[0x10:], testutil.Ref(first.Location["FIELD/MD1STIN.DAT"], uint32(len(entryA))))
	copy(index[0x18:], testutil.Ref(first.Location["FIELD/MD1_1.DAT"], uint32(len(entryB))))
	files[len(files)-1].Data = testutil.FieldBin(t, index)
	iso := testutil.BuildISO(files)
	path := testutil.WriteFile(t, t.TempDir(), "disc.iso", iso.Data)

	c := openCatalog(t, path)
	e, err := c.Lookup("md1stin")
	require.NoError(t, err)
	mim, err := c.Payload(e, PayloadAux1)
	require.NoError(t, err)
	assert.Equal(t, []byte("background"), mim)
	_, err = c.Payload(e, PayloadAux2)
	require.ErrorIs(t, err, ErrNotFound)

	want := editSection(t, c, "md1stin", section.DatTileMap, 3000)
	require.NoError(t, c.Save(context.Background(), ""))
	requireSection(t, path, "md1stin", section.DatTileMap, want)

	out := testutil.ReadFile(t, path)
	img, err := isofs.Read(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	node, err := img.Find("FIELD/MD1STIN.DAT")
	require.NoError(t, err)
	assert.NotEqual(t, iso.Location["FIELD/MD1STIN.DAT"], node.Location, "grown entry relocated")

	indexNode, err := img.Find("FIELD/FIELD.BIN")
	require.NoError(t, err)
	indexFile, err := img.ReadFile(bytes.NewReader(out), indexNode)
	require.NoError(t, err)
	patched := testutil.UnFieldBin(t, indexFile)
	assert.Equal(t, testutil.Ref(node.Location, node.Size), patched[0x10:0x18])
	assert.Equal(t, index[0x18:0x20], patched[0x18:0x20], "unmoved reference kept")
}

func TestCatalogVerify(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	bad := testutil.Envelope([]byte("not a field"))
	testutil.WriteFile(t, dir, "MD1_1.DAT", bad)
	short := datEntry(3)
	short[0] = 0
	testutil.WriteFile(t, dir, "MD2.DAT", short)

	var done atomic.Int32
	c := openCatalog(t, dir,
		WithVerifyWorkers(2),
		WithVerifyMemory(64),
		WithProgress(func(ev ProgressEvent) {
			if ev.Stage == StageVerifying {
				done.Add(1)
			}
		}),
	)
	results, err := c.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := make(map[string]VerifyResult)
	for _, r := range results {
		byName[r.Name] = r
	}
	require.NoError(t, byName["md1stin"].Err)
	assert.Positive(t, byName["md1stin"].Size)
	require.ErrorIs(t, byName["md1_1"].Err, ErrFormat)
	require.ErrorIs(t, byName["md2"].Err, ErrSizeMismatch)
	assert.Equal(t, int32(3), done.Load())

	hits, misses := c.cache.Stats()
	assert.Zero(t, hits+misses, "verify bypasses the cache")
}

// sizedBackend records the stored bytes being loaded at once.
type sizedBackend struct {
	backend.Backend
	mu      sync.Mutex
	loading int64
	peak    int64
}

func (b *sizedBackend) EntrySize(loc backend.Locator, kind PayloadKind) (int64, error) {
	return b.Backend.(backend.Sizer).EntrySize(loc, kind)
}

func (b *sizedBackend) ReadEntry(loc backend.Locator, kind PayloadKind) ([]byte, error) {
	n, err := b.EntrySize(loc, kind)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.loading += n
	b.peak = max(b.peak, b.loading)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.loading -= n
		b.mu.Unlock()
	}()
	time.Sleep(time.Millisecond)
	return b.Backend.ReadEntry(loc, kind)
}

func TestCatalogVerifyBoundsLoadedBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var largest int64
	for i, name := range []string{"MD1.DAT", "MD2.DAT", "MD3.DAT", "MD4.DAT"} {
		data := datEntry(uint64(i + 1))
		largest = max(largest, int64(len(data)))
		testutil.WriteFile(t, dir, name, data)
	}
	d, err := backend.OpenDir(dir)
	require.NoError(t, err)
	sb := &sizedBackend{Backend: d}

	c := New(sb, WithCodec(testutil.IdentityCodec{}), WithVerifyWorkers(4), WithVerifyMemory(largest))
	t.Cleanup(func() { _ = c.Close() })
	_, err = c.Open(context.Background())
	require.NoError(t, err)

	results, err := c.Verify(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		require.NoError(t, r.Err, r.Name)
	}
	assert.LessOrEqual(t, sb.peak, largest, "reads wait for the memory budget")
	assert.Positive(t, sb.peak)
}

func TestCatalogRejectsStaleEntries(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	c := openCatalog(t, dir)
	old, err := c.Lookup("md1stin")
	require.NoError(t, err)
	_, err = c.Payload(old, PayloadPrimary)
	require.NoError(t, err)

	_, err = c.Open(context.Background())
	require.NoError(t, err)

	_, err = c.Payload(old, PayloadPrimary)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.RawPayload(old, PayloadPrimary)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.OpenEntry(old)
	require.ErrorIs(t, err, ErrNotFound)

	fresh, err := c.Lookup("md1stin")
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
	_, err = c.Payload(fresh, PayloadPrimary)
	require.NoError(t, err)
}

func TestCatalogVerifyCanceled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "MD1STIN.DAT", datEntry(1))
	c := openCatalog(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Verify(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestOpenPathBackendOptions(t *testing.T) {
	t.Parallel()

	path := testutil.WriteFile(t, t.TempDir(), "flevel.lgp", testutil.BuildTOC([]testutil.TOCRecord{
		{Name: "a", Data: testutil.Envelope([]byte("x"))},
		{Name: "b", Data: testutil.Envelope([]byte("y"))},
	}, nil))

	c, err := OpenPath(path, WithBackendOptions(backend.WithMaxRecords(1)))
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Open(context.Background())
	require.ErrorIs(t, err, ErrCorruptTOC)
}
