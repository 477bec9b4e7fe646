package fieldarchive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/meigma/fieldarchive/backend"
	"github.com/meigma/fieldarchive/codec"
	"github.com/meigma/fieldarchive/codec/lzs"
	"github.com/meigma/fieldarchive/internal/envelope"
	"github.com/meigma/fieldarchive/internal/fatype"
	"github.com/meigma/fieldarchive/section"
)

// Catalog is the entry list of one archive together with its payload cache.
// A catalog is used by one goroutine at a time; Verify is the only method
// that works concurrently internally.
type Catalog struct {
	b             backend.Backend
	codec         codec.Codec
	cache         *PayloadCache
	logger        *slog.Logger
	progress      ProgressFunc
	verifyWorkers int
	verifyMemory  int64
	backendOpts   []backend.Option

	entries   []*Entry
	byName    map[string]*Entry
	resources []*resource
	open      bool

	// gen counts Open and Close calls; entries of another generation are
	// stale.
	gen uint64
}

// resource is an auxiliary record of a table-of-contents archive.
type resource struct {
	key      string
	loc      backend.Locator
	data     []byte
	modified bool
}

// New returns a catalog over b. Call Open before anything else.
func New(b backend.Backend, opts ...Option) *Catalog {
	c := &Catalog{b: b}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.codec == nil {
		c.codec = lzs.Codec{}
	}
	if c.cache == nil {
		c.cache = NewPayloadCache()
	}
	return c
}

// OpenPath detects the backend for path and returns a catalog over it.
// The catalog's logger and progress callback are passed to the backend.
func OpenPath(path string, opts ...Option) (*Catalog, error) {
	c := New(nil, opts...)
	bopts := append([]backend.Option{backend.WithLogger(c.logger), backend.WithProgress(c.progress)}, c.backendOpts...)
	b, err := backend.Detect(path, bopts...)
	if err != nil {
		return nil, err
	}
	c.b = b
	return c, nil
}

// Backend returns the catalog's backend.
func (c *Catalog) Backend() backend.Backend { return c.b }

// Open enumerates the backend. Names are unique ignoring case; a later
// record with a known name is dropped.
func (c *Catalog) Open(ctx context.Context) ([]*Entry, error) {
	c.cache.Invalidate()
	c.open = false
	c.gen++

	recs, err := c.b.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	c.entries = c.entries[:0]
	c.byName = make(map[string]*Entry, len(recs))
	for _, r := range recs {
		key := strings.ToLower(r.Name)
		if _, dup := c.byName[key]; dup {
			c.logger.Warn("skipping duplicate entry", "name", r.Name)
			continue
		}
		e := &Entry{name: r.Name, loc: r.Loc, cat: c, gen: c.gen}
		c.byName[key] = e
		c.entries = append(c.entries, e)
	}
	if len(c.entries) == 0 {
		return nil, fmt.Errorf("open catalog: %w", ErrEmptyArchive)
	}

	c.resources = nil
	if rl, ok := c.b.(backend.ResourceLister); ok {
		for _, r := range rl.Resources() {
			c.resources = append(c.resources, &resource{key: r.Name, loc: r.Loc})
		}
		slices.SortStableFunc(c.resources, func(a, b *resource) int {
			return strings.Compare(strings.ToLower(a.key), strings.ToLower(b.key))
		})
	}

	c.open = true
	c.logger.Debug("catalog opened", "entries", len(c.entries), "resources", len(c.resources))
	return slices.Clone(c.entries), nil
}

// Entries returns the entries in backend order.
func (c *Catalog) Entries() []*Entry { return slices.Clone(c.entries) }

// Lookup finds an entry by name, ignoring case.
func (c *Catalog) Lookup(name string) (*Entry, error) {
	if !c.open {
		return nil, fmt.Errorf("lookup %s: %w", name, ErrNotOpen)
	}
	e, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", name, ErrNotFound)
	}
	return e, nil
}

func (c *Catalog) owns(e *Entry) error {
	if !c.open {
		return ErrNotOpen
	}
	if e == nil || e.cat != c || e.gen != c.gen {
		return ErrNotFound
	}
	return nil
}

// Payload returns the decompressed payload of kind for e. The stored
// length prefix is checked before decompression. The result is cached
// until the entry is edited or the catalog is reopened, saved, or closed.
func (c *Catalog) Payload(e *Entry, kind PayloadKind) ([]byte, error) {
	if err := c.owns(e); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if data, ok := c.cache.Get(e, kind); ok {
		c.logger.Debug("payload cache hit", "entry", e.name, "kind", kind)
		return bytes.Clone(data), nil
	}
	c.logger.Debug("payload cache miss", "entry", e.name, "kind", kind)

	data, err := c.decode(e, kind)
	if err != nil {
		return nil, err
	}
	c.cache.Put(e, kind, data)
	return bytes.Clone(data), nil
}

// decode reads, validates, and decompresses a payload without the cache.
func (c *Catalog) decode(e *Entry, kind PayloadKind) ([]byte, error) {
	raw, err := c.b.ReadEntry(e.loc, kind)
	if err != nil {
		return nil, fmt.Errorf("payload %s of %s: %w", kind, e.name, err)
	}
	return c.unwrap(e, kind, raw)
}

// unwrap checks the length prefix of raw and decompresses the rest.
func (c *Catalog) unwrap(e *Entry, kind PayloadKind, raw []byte) ([]byte, error) {
	inner, err := envelope.Strip(raw)
	if err != nil {
		return nil, fmt.Errorf("payload %s of %s: %w", kind, e.name, err)
	}
	data, err := c.codec.Decompress(inner)
	if err != nil {
		if !errors.Is(err, ErrCodec) {
			err = fmt.Errorf("%w: %w", ErrCodec, err)
		}
		return nil, fmt.Errorf("payload %s of %s: %w", kind, e.name, err)
	}
	return data, nil
}

// RawPayload returns the stored bytes of kind for e, length prefix
// included, without decompressing or caching them.
func (c *Catalog) RawPayload(e *Entry, kind PayloadKind) ([]byte, error) {
	if err := c.owns(e); err != nil {
		return nil, fmt.Errorf("raw payload: %w", err)
	}
	raw, err := c.b.ReadEntry(e.loc, kind)
	if err != nil {
		return nil, fmt.Errorf("raw payload %s of %s: %w", kind, e.name, err)
	}
	return raw, nil
}

// OpenEntry decodes the sections of e. Opening an open entry returns its
// current container.
func (c *Catalog) OpenEntry(e *Entry) (*section.Container, error) {
	if err := c.owns(e); err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	if e.container != nil {
		return e.container, nil
	}
	data, err := c.Payload(e, PayloadPrimary)
	if err != nil {
		return nil, err
	}
	container, err := section.Open(c.layout(), data)
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", e.name, err)
	}
	e.container = container
	return container, nil
}

func (c *Catalog) layout() section.Layout {
	if l, ok := c.b.(backend.Layouter); ok {
		return l.SectionLayout()
	}
	return section.DatLayout{}
}

// Resource returns the auxiliary resource whose name prefixes the name of
// e, ignoring case.
func (c *Catalog) Resource(e *Entry) ([]byte, error) {
	r, err := c.resourceFor(e)
	if err != nil {
		return nil, err
	}
	if r.modified {
		return bytes.Clone(r.data), nil
	}
	data, err := c.b.ReadEntry(r.loc, PayloadPrimary)
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", r.key, err)
	}
	return data, nil
}

// SetResource replaces the auxiliary resource of e on the next save.
func (c *Catalog) SetResource(e *Entry, data []byte) error {
	r, err := c.resourceFor(e)
	if err != nil {
		return err
	}
	r.data = bytes.Clone(data)
	r.modified = true
	return nil
}

func (c *Catalog) resourceFor(e *Entry) (*resource, error) {
	if err := c.owns(e); err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}
	name := strings.ToLower(e.name)
	for _, r := range c.resources {
		if strings.HasPrefix(name, strings.ToLower(r.key)) {
			return r, nil
		}
	}
	return nil, fmt.Errorf("resource of %s: %w", e.name, ErrNotFound)
}

// Save writes the archive to target, or over itself when target is empty.
// Open and modified entries are re-encoded; everything else is copied
// as stored. On any failure, including cancellation, nothing is committed
// and the entries keep their modified state.
func (c *Catalog) Save(ctx context.Context, target string) error {
	if !c.open {
		return fmt.Errorf("save: %w", ErrNotOpen)
	}
	c.cache.Invalidate()

	var dirty []*Entry
	for _, e := range c.entries {
		if e.IsOpen() && e.IsModified() {
			dirty = append(dirty, e)
		}
	}

	tx, err := c.b.BeginSave(target)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}

	locs, err := c.stage(ctx, tx, dirty)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("save: %w", err)
	}

	for i, e := range dirty {
		e.loc = locs[i]
		e.modified = false
	}
	for _, r := range c.resources {
		r.data = nil
		r.modified = false
	}
	c.cache.Invalidate()
	c.logger.Info("catalog saved", "entries", len(dirty), "target", target)
	return nil
}

// stage compresses and writes every dirty entry and modified resource.
func (c *Catalog) stage(ctx context.Context, tx backend.Tx, dirty []*Entry) ([]backend.Locator, error) {
	locs := make([]backend.Locator, len(dirty))
	for i, e := range dirty {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		z, err := c.codec.Compress(e.container.Bytes())
		if err != nil {
			if !errors.Is(err, ErrCodec) {
				err = fmt.Errorf("%w: %w", ErrCodec, err)
			}
			return nil, fmt.Errorf("compress %s: %w", e.name, err)
		}
		data, err := envelope.Wrap(z)
		if err != nil {
			return nil, fmt.Errorf("wrap %s: %w", e.name, err)
		}
		loc, err := tx.WriteEntry(e.loc, data)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", e.name, err)
		}
		locs[i] = loc
		c.report(fatype.ProgressEvent{Stage: StageCompressing, Name: e.name, Done: i + 1, Total: len(dirty)})
	}

	for _, r := range c.resources {
		if !r.modified {
			continue
		}
		if _, err := tx.WriteEntry(r.loc, r.data); err != nil {
			return nil, fmt.Errorf("write resource %s: %w", r.key, err)
		}
	}
	return locs, nil
}

func (c *Catalog) report(ev ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}

// Close drops decoded state and the cache, then closes the backend.
func (c *Catalog) Close() error {
	c.cache.Invalidate()
	for _, e := range c.entries {
		e.container = nil
	}
	c.entries = nil
	c.byName = nil
	c.resources = nil
	c.open = false
	c.gen++
	if c.b == nil {
		return nil
	}
	return c.b.Close()
}
