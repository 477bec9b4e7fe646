package backend

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// staged is a temp file waiting to be renamed over its target.
type staged struct {
	tmp    string
	target string
}

// stageFile writes data to a temp file next to target.
func stageFile(target string, data []byte) (staged, error) {
	return stageStream(target, func(w *os.File) error {
		_, err := w.Write(data)
		return err
	})
}

// stageCopy copies src to a temp file next to target.
func stageCopy(target, src string) (staged, error) {
	f, err := os.Open(src) //nolint:gosec // path comes from the container being saved
	if err != nil {
		return staged{}, err
	}
	defer f.Close()
	return stageStream(target, func(w *os.File) error {
		_, err := io.Copy(w, f)
		return err
	})
}

// stageStream lets fill write a temp file next to target.
func stageStream(target string, fill func(*os.File) error) (staged, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), tempPrefix+"*")
	if err != nil {
		return staged{}, err
	}
	tmpPath := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return staged{}, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return staged{}, err
	}
	return staged{tmp: tmpPath, target: target}, nil
}

// commit renames the temp file over its target.
func (s staged) commit() error {
	if err := os.Rename(s.tmp, s.target); err != nil {
		os.Remove(s.tmp)
		return fmt.Errorf("replace %s: %w", s.target, err)
	}
	return nil
}

func (s staged) discard() error {
	if s.tmp == "" {
		return nil
	}
	if err := os.Remove(s.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// discardAll removes every temp file, returning the first failure.
func discardAll(files []staged) error {
	var first error
	for _, s := range files {
		if err := s.discard(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// samePath reports whether a and b name the same file. Paths that do not
// exist are compared by their absolute form.
func samePath(a, b string) bool {
	ai, aerr := os.Stat(a)
	bi, berr := os.Stat(b)
	if aerr == nil && berr == nil {
		return os.SameFile(ai, bi)
	}
	aa, err1 := filepath.Abs(a)
	ba, err2 := filepath.Abs(b)
	return err1 == nil && err2 == nil && aa == ba
}
