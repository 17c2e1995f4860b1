package share

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mctier/lanlobby/internal/core"
)

func tempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func tempFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "maps"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maps", "arena.map"), []byte("arena data"), 0o644))
	return dir
}

func TestOfferFileAndDownload(t *testing.T) {
	r := NewRegistry()
	path := tempFile(t, "save.dat", "save bytes")

	sh, err := r.Offer("p1", "alice", path, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "save.dat", sh.Name)
	assert.False(t, sh.Protected)
	assert.True(t, sh.ExpiresAt.IsZero())

	files, err := r.Files(sh.ID, "")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "save.dat", files[0].Path)
	assert.Equal(t, int64(len("save bytes")), files[0].Size)

	f, entry, err := r.Open(sh.ID, "", "")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "save.dat", entry.Path)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "save bytes", string(data))
}

func TestOfferFolder(t *testing.T) {
	r := NewRegistry()
	sh, err := r.Offer("p1", "alice", tempFolder(t), "", 0)
	require.NoError(t, err)

	files, err := r.Files(sh.ID, "")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "maps/arena.map", files[0].Path)
	assert.Equal(t, "readme.txt", files[1].Path)

	f, _, err := r.Open(sh.ID, "", "maps/arena.map")
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "arena data", string(data))

	// A folder share needs a file path.
	_, _, err = r.Open(sh.ID, "", "")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestOpenRefusesEscape(t *testing.T) {
	r := NewRegistry()
	sh, err := r.Offer("p1", "alice", tempFolder(t), "", 0)
	require.NoError(t, err)

	for _, rel := range []string{"../secret", "maps/../../secret", "/etc/passwd"} {
		_, _, err := r.Open(sh.ID, "", rel)
		assert.Error(t, err, rel)
	}
}

func TestPasswordProtection(t *testing.T) {
	r := NewRegistry()
	sh, err := r.Offer("p1", "alice", tempFolder(t), "hunter2", 0)
	require.NoError(t, err)
	assert.True(t, sh.Protected)

	assert.ErrorIs(t, r.Verify(sh.ID, "wrong"), core.ErrValidation)
	assert.NoError(t, r.Verify(sh.ID, "hunter2"))

	_, err = r.Files(sh.ID, "wrong")
	assert.ErrorIs(t, err, core.ErrValidation)
	_, _, err = r.Open(sh.ID, "", "readme.txt")
	assert.ErrorIs(t, err, core.ErrValidation)

	files, err := r.Files(sh.ID, "hunter2")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestExpirySweptOnAccess(t *testing.T) {
	r := NewRegistry()
	sh, err := r.Offer("p1", "alice", tempFile(t, "a.txt", "a"), "", time.Millisecond)
	require.NoError(t, err)
	assert.False(t, sh.ExpiresAt.IsZero())

	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, r.List())
	_, err = r.Files(sh.ID, "")
	assert.ErrorIs(t, err, core.ErrPeerNotFound)
}

func TestOfferRejectsBadPaths(t *testing.T) {
	r := NewRegistry()
	_, err := r.Offer("p1", "alice", filepath.Join(t.TempDir(), "missing.bin"), "", 0)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestRevoke(t *testing.T) {
	r := NewRegistry()
	sh, err := r.Offer("p1", "alice", tempFile(t, "a.txt", "a"), "", 0)
	require.NoError(t, err)

	// Someone else cannot withdraw the offer.
	assert.ErrorIs(t, r.Revoke("p2", sh.ID), core.ErrValidation)

	require.NoError(t, r.Revoke("p1", sh.ID))
	assert.Empty(t, r.List())
	assert.ErrorIs(t, r.Revoke("p1", sh.ID), core.ErrPeerNotFound)
}

func TestDropOwner(t *testing.T) {
	r := NewRegistry()
	_, err := r.Offer("p1", "alice", tempFile(t, "a.txt", "a"), "", 0)
	require.NoError(t, err)
	_, err = r.Offer("p1", "alice", tempFile(t, "b.txt", "b"), "", 0)
	require.NoError(t, err)
	keep, err := r.Offer("p2", "bob", tempFile(t, "c.txt", "c"), "", 0)
	require.NoError(t, err)

	assert.Equal(t, 2, r.DropOwner("p1"))
	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
}
