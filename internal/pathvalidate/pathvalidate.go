// Package pathvalidate confines filesystem paths to the project root: every
// path that crosses a component boundary (file reads/writes proposed by a
// backend, attachments offered to the tool surface) is resolved and checked
// here before anything touches the disk.
package pathvalidate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/githubnext/gh-aw-core/internal/errs"
)

// MaxFileSize is the largest a validated file may be.
const MaxFileSize = 10 * 1024 * 1024

// Validator bounds every path it validates to root.
type Validator struct {
	root string
}

func New(root string) *Validator {
	return &Validator{root: root}
}

// Root returns the project root this Validator confines paths to.
func (v *Validator) Root() string {
	return v.root
}

// Validate resolves path (relative paths are taken relative to root),
// rejects any ".." path component before resolution, resolves symlinks, and
// rejects the result if it falls outside root, does not exist, or exceeds
// MaxFileSize.
func (v *Validator) Validate(path string) (string, error) {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return "", errs.New(errs.KindValidation, fmt.Sprintf("path contains '..': %s", path))
		}
	}

	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(v.root, candidate)
	}

	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.New(errs.KindValidation, fmt.Sprintf("path does not exist: %s", path))
		}
		return "", errs.Wrap(errs.KindValidation, fmt.Sprintf("cannot resolve path: %s", path), err)
	}

	rootResolved, err := filepath.EvalSymlinks(v.root)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, "cannot resolve project root", err)
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errs.New(errs.KindValidation, fmt.Sprintf("path escapes project root: %s", path))
	}

	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.New(errs.KindValidation, fmt.Sprintf("path does not exist: %s", path))
		}
		return "", errs.Wrap(errs.KindValidation, fmt.Sprintf("cannot stat path: %s", path), err)
	}
	if info.Size() > MaxFileSize {
		return "", errs.New(errs.KindValidation, fmt.Sprintf("file exceeds %d bytes: %s", MaxFileSize, path))
	}

	return resolved, nil
}

// ValidateAll validates every path in paths, stopping at the first failure.
func (v *Validator) ValidateAll(paths []string) ([]string, error) {
	resolved := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := v.Validate(p)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}
	return resolved, nil
}
