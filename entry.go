package fieldarchive

import (
	"fmt"

	"github.com/meigma/fieldarchive/backend"
	"github.com/meigma/fieldarchive/section"
)

// Entry is one field of a catalog. Its decoded sections are owned by the
// entry once opened with Catalog.OpenEntry.
type Entry struct {
	name      string
	loc       backend.Locator
	cat       *Catalog
	gen       uint64
	container *section.Container
	modified  bool
}

// Name returns the entry name.
func (e *Entry) Name() string { return e.name }

// Locator returns where the backend stores the entry.
func (e *Entry) Locator() backend.Locator { return e.loc }

// IsOpen reports whether the entry's sections are decoded.
func (e *Entry) IsOpen() bool { return e.container != nil }

// IsModified reports whether the entry changed since it was opened or saved.
func (e *Entry) IsModified() bool { return e.modified }

// Container returns the decoded sections, or nil if the entry is not open.
func (e *Entry) Container() *section.Container { return e.container }

// Section returns a copy of section id.
func (e *Entry) Section(id int) ([]byte, error) {
	if e.container == nil {
		return nil, fmt.Errorf("section %d of %s: %w", id, e.name, ErrNotOpen)
	}
	return e.container.Section(id)
}

// SetSection replaces section id in a single edit.
func (e *Entry) SetSection(id int, data []byte) error {
	return e.Edit(func(c *section.Container) error {
		return c.SetSection(id, data)
	})
}

// Edit runs fn inside an edit of the entry's container. The edit is
// dropped if fn fails; otherwise the entry is marked modified.
func (e *Entry) Edit(fn func(*section.Container) error) error {
	if e.container == nil {
		return fmt.Errorf("edit %s: %w", e.name, ErrNotOpen)
	}
	if err := e.container.BeginEdit(); err != nil {
		return fmt.Errorf("edit %s: %w", e.name, err)
	}
	if err := fn(e.container); err != nil {
		e.container.AbortEdit()
		return fmt.Errorf("edit %s: %w", e.name, err)
	}
	if _, err := e.container.EndEdit(); err != nil {
		e.container.AbortEdit()
		return fmt.Errorf("edit %s: %w", e.name, err)
	}
	e.MarkModified()
	return nil
}

// MarkModified flags the entry for re-encoding on the next save and drops
// its cached payloads.
func (e *Entry) MarkModified() {
	e.modified = true
	if e.cat != nil {
		e.cat.cache.Forget(e)
	}
}
