package hosts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempHosts(t *testing.T, content string) *Patcher {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return NewPatcherAt(path)
}

func read(t *testing.T, p *Patcher) string {
	t.Helper()
	data, err := os.ReadFile(p.path)
	require.NoError(t, err)
	return string(data)
}

const baseHosts = "127.0.0.1\tlocalhost\n::1\tlocalhost\n"

func TestApplyWritesFencedBlock(t *testing.T) {
	p := tempHosts(t, baseHosts)

	err := p.Apply("game night", []Entry{
		{Name: "Bob", IP: "10.144.144.2"},
		{Name: "Alice", IP: "10.144.144.3"},
	})
	require.NoError(t, err)

	got := read(t, p)
	assert.Contains(t, got, "127.0.0.1\tlocalhost")
	assert.Contains(t, got, "# LanLobby Magic DNS - game night")
	assert.Contains(t, got, "# LanLobby Magic DNS End")
	assert.Contains(t, got, "10.144.144.3\talice")
	assert.Contains(t, got, "10.144.144.2\tbob")

	// Sorted by name: alice before bob.
	assert.Less(t, strings.Index(got, "alice"), strings.Index(got, "bob"))
}

func TestApplyIsIdempotent(t *testing.T) {
	p := tempHosts(t, baseHosts)

	require.NoError(t, p.Apply("lobby one", []Entry{{Name: "alice", IP: "10.1.1.2"}}))
	require.NoError(t, p.Apply("lobby one", []Entry{{Name: "alice", IP: "10.1.1.9"}}))

	got := read(t, p)
	assert.Equal(t, 1, strings.Count(got, "# LanLobby Magic DNS - lobby one"))
	assert.Contains(t, got, "10.1.1.9\talice")
	assert.NotContains(t, got, "10.1.1.2")
}

func TestRemoveBlockLeavesOtherLobbies(t *testing.T) {
	p := tempHosts(t, baseHosts)
	require.NoError(t, p.Apply("lobby one", []Entry{{Name: "alice", IP: "10.1.1.2"}}))
	require.NoError(t, p.Apply("lobby two", []Entry{{Name: "bob", IP: "10.1.1.3"}}))

	require.NoError(t, p.RemoveBlock("lobby one"))

	got := read(t, p)
	assert.NotContains(t, got, "lobby one")
	assert.NotContains(t, got, "alice")
	assert.Contains(t, got, "lobby two")
	assert.Contains(t, got, "10.1.1.3\tbob")
	assert.Contains(t, got, "127.0.0.1\tlocalhost")
}

func TestCleanupAllRemovesEveryBlock(t *testing.T) {
	p := tempHosts(t, baseHosts)
	require.NoError(t, p.Apply("lobby one", []Entry{{Name: "alice", IP: "10.1.1.2"}}))
	require.NoError(t, p.Apply("lobby two", []Entry{{Name: "bob", IP: "10.1.1.3"}}))

	require.NoError(t, p.CleanupAll())

	got := read(t, p)
	assert.NotContains(t, got, "LanLobby")
	assert.Contains(t, got, "127.0.0.1\tlocalhost")
}

func TestCleanupAllMissingFile(t *testing.T) {
	p := NewPatcherAt(filepath.Join(t.TempDir(), "nope", "hosts"))
	// Missing file reads as empty; the write then fails because the
	// directory does not exist either, which callers treat as fatal.
	err := p.CleanupAll()
	assert.Error(t, err)
}

func TestSanitizeHostname(t *testing.T) {
	assert.Equal(t, "alice", sanitizeHostname("Alice"))
	assert.Equal(t, "player-one", sanitizeHostname("Player One"))
	assert.Equal(t, "b0b-42", sanitizeHostname("  b0b_42!  "))
	assert.Equal(t, "", sanitizeHostname("!!!"))
}

func TestApplySkipsUnusableEntries(t *testing.T) {
	p := tempHosts(t, baseHosts)
	require.NoError(t, p.Apply("lobby", []Entry{
		{Name: "!!!", IP: "10.1.1.2"},
		{Name: "alice", IP: ""},
		{Name: "bob", IP: "10.1.1.3"},
	}))
	got := read(t, p)
	assert.Contains(t, got, "10.1.1.3\tbob")
	assert.NotContains(t, got, "10.1.1.2")
	assert.NotContains(t, got, "\talice")
}
