package pathvalidate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/githubnext/gh-aw-core/pkg/testutil"
)

func TestValidate_RejectsDotDotComponent(t *testing.T) {
	root := testutil.TempDir(t, "pathvalidate")
	v := New(root)
	_, err := v.Validate("../etc/passwd")
	assert.Error(t, err)
}

func TestValidate_AcceptsFileWithinRoot(t *testing.T) {
	root := testutil.TempDir(t, "pathvalidate")
	file := filepath.Join(root, "ok.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0644))

	v := New(root)
	resolved, err := v.Validate("ok.txt")
	require.NoError(t, err)
	assert.Equal(t, file, resolved)
}

func TestValidate_RejectsSymlinkEscapingRoot(t *testing.T) {
	root := testutil.TempDir(t, "pathvalidate-root")
	outside := testutil.TempDir(t, "pathvalidate-outside")

	outsideFile := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(outsideFile, []byte("secret"), 0644))

	link := filepath.Join(root, "link.txt")
	require.NoError(t, os.Symlink(outsideFile, link))

	v := New(root)
	_, err := v.Validate("link.txt")
	assert.Error(t, err)
}

func TestValidate_RejectsMissingFile(t *testing.T) {
	root := testutil.TempDir(t, "pathvalidate")
	v := New(root)
	_, err := v.Validate("does-not-exist.txt")
	assert.Error(t, err)
}

func TestValidate_RejectsOversizeFile(t *testing.T) {
	root := testutil.TempDir(t, "pathvalidate")
	file := filepath.Join(root, "big.bin")
	require.NoError(t, os.WriteFile(file, make([]byte, MaxFileSize+1), 0644))

	v := New(root)
	_, err := v.Validate("big.bin")
	assert.Error(t, err)
}

func TestValidateAll_StopsAtFirstFailure(t *testing.T) {
	root := testutil.TempDir(t, "pathvalidate")
	ok := filepath.Join(root, "ok.txt")
	require.NoError(t, os.WriteFile(ok, []byte("x"), 0644))

	v := New(root)
	_, err := v.ValidateAll([]string{"ok.txt", "missing.txt"})
	assert.Error(t, err)
}
