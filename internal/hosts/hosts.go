// Package hosts rewrites the system hosts file so lobby members can be
// reached by player name. Entries live inside marker-fenced blocks, one
// block per lobby, so repeated writes stay idempotent and cleanup never
// touches lines we did not create.
package hosts

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/core"
)

const (
	markerPrefix = "# LanLobby Magic DNS - "
	markerEnd    = "# LanLobby Magic DNS End"
)

// Entry maps one player name to their overlay address.
type Entry struct {
	Name string
	IP   string
}

// Patcher edits a hosts file in place. Path is injectable for tests;
// zero value is not usable, construct with NewPatcher.
type Patcher struct {
	path string
}

func NewPatcher() *Patcher {
	return &Patcher{path: defaultPath()}
}

func NewPatcherAt(path string) *Patcher {
	return &Patcher{path: path}
}

func defaultPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return root + `\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// Apply replaces the lobby's block with the given entries. Names are
// sanitized to a hostname-safe form and sorted for stable output.
func (p *Patcher) Apply(lobby string, entries []Entry) error {
	lines, err := p.readStripped(lobby)
	if err != nil {
		return err
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	lines = append(lines, markerPrefix+lobby)
	for _, e := range sorted {
		name := sanitizeHostname(e.Name)
		if name == "" || e.IP == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s\t%s", e.IP, name))
	}
	lines = append(lines, markerEnd)

	if err := p.write(lines); err != nil {
		return err
	}
	log.Info().Str("module", "hosts").Str("lobby", lobby).Int("entries", len(sorted)).Msg("hosts block applied")
	p.flushDNS()
	return nil
}

// RemoveBlock deletes the lobby's block, leaving the rest of the file
// untouched.
func (p *Patcher) RemoveBlock(lobby string) error {
	lines, err := p.readStripped(lobby)
	if err != nil {
		return err
	}
	if err := p.write(lines); err != nil {
		return err
	}
	log.Info().Str("module", "hosts").Str("lobby", lobby).Msg("hosts block removed")
	p.flushDNS()
	return nil
}

// CleanupAll deletes every block we ever wrote, whatever lobby it was
// for. Run on startup to clear leftovers from a crashed session.
func (p *Patcher) CleanupAll() error {
	lines, err := p.readStripped("")
	if err != nil {
		return err
	}
	return p.write(lines)
}

// readStripped returns the file's lines with our blocks removed: blocks
// for the named lobby, or every block when lobby is empty.
func (p *Patcher) readStripped(lobby string) ([]string, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", core.ErrProcess, p.path, err)
	}

	var out []string
	skipping := false
	for _, line := range strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, markerPrefix) {
			if lobby == "" || trimmed == markerPrefix+lobby {
				skipping = true
				continue
			}
		}
		if skipping {
			if trimmed == markerEnd {
				skipping = false
			}
			continue
		}
		out = append(out, line)
	}

	// Drop trailing blank lines so blocks do not accrete whitespace.
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (p *Patcher) write(lines []string) error {
	content := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(p.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", core.ErrProcess, p.path, err)
	}
	return nil
}

func (p *Patcher) flushDNS() {
	if runtime.GOOS != "windows" {
		return
	}
	if err := exec.Command("ipconfig", "/flushdns").Run(); err != nil {
		log.Debug().Err(err).Str("module", "hosts").Msg("flushdns failed")
	}
}

// sanitizeHostname lowercases the player name and squeezes everything
// that is not letter, digit or hyphen into single hyphens.
func sanitizeHostname(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
