// Package fieldarchive reads, edits, and repacks field archives.
//
// A field archive stores one compressed payload per field. Every payload
// holds a fixed number of variable-length sections behind a position table
// (see the section package). Archives come in four physical forms, each
// served by a backend:
//   - a directory of loose NAME.DAT files
//   - a single NAME.DAT flat file
//   - a table-of-contents archive with a trailing marker
//   - an ISO9660 disk image whose FIELD directory holds the files and a
//     consolidated index, FIELD.BIN
//
// # Quick Start
//
// Open an archive and change a section:
//
//	cat, err := fieldarchive.OpenPath("flevel.lgp")
//	if err != nil {
//	    return err
//	}
//	defer cat.Close()
//
//	if _, err := cat.Open(ctx); err != nil {
//	    return err
//	}
//	e, err := cat.Lookup("md1stin")
//	if err != nil {
//	    return err
//	}
//	if _, err := cat.OpenEntry(e); err != nil {
//	    return err
//	}
//	if err := e.SetSection(section.PCScripts, scripts); err != nil {
//	    return err
//	}
//	err = cat.Save(ctx, "")
//
// Saving re-encodes modified entries only. Archives and disk images are
// written to a temp file and renamed into place; a disk image also gets its
// consolidated index rewritten for every file that moved.
//
// # Caching
//
// Decompressed payloads are cached, one slot per payload kind. A
// [PayloadCache] can be shared by several catalogs with [WithCache]; every
// catalog invalidates it on open, save, and close.
package fieldarchive
