package fieldarchive

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/fieldarchive/backend"
	"github.com/meigma/fieldarchive/section"
)

// VerifyResult is the outcome of decoding one entry.
type VerifyResult struct {
	Name string

	// Size is the decompressed payload size, zero when Err is set.
	Size int

	// Err is the first failure found for the entry.
	Err error
}

// Verify decodes the primary payload and section table of every entry.
// Decoding runs in parallel and does not touch the payload cache. Entry
// failures are reported per entry; the returned error is only set when
// ctx is canceled or the catalog is not open.
func (c *Catalog) Verify(ctx context.Context) ([]VerifyResult, error) {
	if !c.open {
		return nil, fmt.Errorf("verify: %w", ErrNotOpen)
	}

	workers := c.verifyWorkers
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	var budget *semaphore.Weighted
	if c.verifyMemory > 0 {
		budget = semaphore.NewWeighted(c.verifyMemory)
	}

	entries := c.entries
	layout := c.layout()
	results := make([]VerifyResult, len(entries))

	var (
		mu   sync.Mutex
		done int
	)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, e := range entries {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.verifyEntry(ctx, e, layout, budget)
			if err := ctx.Err(); err != nil {
				return err
			}

			mu.Lock()
			done++
			c.report(ProgressEvent{Stage: StageVerifying, Name: e.name, Done: done, Total: len(entries)})
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.logger.Info("catalog verified", "entries", len(results), "failed", failed)
	return results, nil
}

func (c *Catalog) verifyEntry(ctx context.Context, e *Entry, layout section.Layout, budget *semaphore.Weighted) VerifyResult {
	res := VerifyResult{Name: e.name}

	// The budget is taken before the stored bytes are loaded when the
	// backend can size them, otherwise right after.
	var held int64
	defer func() {
		if held > 0 {
			budget.Release(held)
		}
	}()
	acquire := func(n int64) error {
		n = min(n, c.verifyMemory)
		if err := budget.Acquire(ctx, n); err != nil {
			return err
		}
		held = n
		return nil
	}

	sizer, sized := c.b.(backend.Sizer)
	if budget != nil && sized {
		n, err := sizer.EntrySize(e.loc, PayloadPrimary)
		if err == nil {
			err = acquire(n)
		}
		if err != nil {
			res.Err = err
			return res
		}
	}
	raw, err := c.b.ReadEntry(e.loc, PayloadPrimary)
	if err != nil {
		res.Err = err
		return res
	}
	if budget != nil && !sized {
		if err := acquire(int64(len(raw))); err != nil {
			res.Err = err
			return res
		}
	}

	data, err := c.unwrap(e, PayloadPrimary, raw)
	if err != nil {
		res.Err = err
		return res
	}
	if _, err := section.Open(layout, data); err != nil {
		res.Err = fmt.Errorf("sections of %s: %w", e.name, err)
		return res
	}
	res.Size = len(data)
	return res
}
