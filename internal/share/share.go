// Package share is the lobby file-sharing registry. A player offers a
// local file or folder, optionally password-guarded and with an expiry;
// peers browse the listing and pull bytes over the HTTP surface.
// Nothing is copied until a peer downloads.
package share

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/domain"
)

type Share struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	OwnerName string    `json:"ownerName"`
	Protected bool      `json:"protected"`
	SharedAt  time.Time `json:"sharedAt"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// Local filesystem root, never serialized to peers.
	path  string
	isDir bool

	password string
}

// FileEntry is one downloadable file inside a share, with a
// slash-separated path relative to the share root.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type Registry struct {
	mu     sync.Mutex
	shares map[string]*Share
}

func NewRegistry() *Registry {
	return &Registry{shares: make(map[string]*Share)}
}

// Offer registers a local file or directory. password "" means open to
// everyone; ttl 0 means no expiry.
func (r *Registry) Offer(ownerID domain.PlayerID, ownerName, path, password string, ttl time.Duration) (*Share, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: bad path: %v", core.ErrValidation, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrValidation, path, err)
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is neither a file nor a directory", core.ErrValidation, path)
	}

	sh := &Share{
		ID:        uuid.NewString(),
		Name:      filepath.Base(abs),
		OwnerID:   string(ownerID),
		OwnerName: ownerName,
		Protected: password != "",
		SharedAt:  time.Now().UTC(),
		path:      abs,
		isDir:     info.IsDir(),
		password:  password,
	}
	if ttl > 0 {
		sh.ExpiresAt = sh.SharedAt.Add(ttl)
	}

	r.mu.Lock()
	r.shares[sh.ID] = sh
	r.mu.Unlock()

	log.Info().Str("module", "share").Str("share_id", sh.ID).Str("name", sh.Name).Bool("dir", sh.isDir).Msg("share offered")
	cp := *sh
	return &cp, nil
}

// get sweeps the expired entries it trips over, then resolves the id.
// Callers hold no lock.
func (r *Registry) get(shareID string) (*Share, error) {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, sh := range r.shares {
		if !sh.ExpiresAt.IsZero() && sh.ExpiresAt.Before(now) {
			delete(r.shares, id)
		}
	}
	sh, ok := r.shares[shareID]
	if !ok {
		return nil, fmt.Errorf("%w: share %s", core.ErrPeerNotFound, shareID)
	}
	return sh, nil
}

// Verify checks a password attempt against a protected share.
func (r *Registry) Verify(shareID, password string) error {
	sh, err := r.get(shareID)
	if err != nil {
		return err
	}
	if sh.password != "" && sh.password != password {
		return fmt.Errorf("%w: wrong share password", core.ErrValidation)
	}
	return nil
}

// Revoke withdraws an offer. Only the owner may revoke their own share.
func (r *Registry) Revoke(ownerID domain.PlayerID, shareID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sh, ok := r.shares[shareID]
	if !ok {
		return fmt.Errorf("%w: share %s", core.ErrPeerNotFound, shareID)
	}
	if sh.OwnerID != string(ownerID) {
		return fmt.Errorf("%w: share %s belongs to another player", core.ErrValidation, shareID)
	}
	delete(r.shares, shareID)
	return nil
}

// List returns every live offer, newest first. Expired shares are
// swept first.
func (r *Registry) List() []Share {
	now := time.Now()
	r.mu.Lock()
	out := make([]Share, 0, len(r.shares))
	for id, sh := range r.shares {
		if !sh.ExpiresAt.IsZero() && sh.ExpiresAt.Before(now) {
			delete(r.shares, id)
			continue
		}
		out = append(out, *sh)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SharedAt.After(out[j].SharedAt) })
	return out
}

// Files lists the downloadable entries of a share. A single-file share
// lists exactly itself.
func (r *Registry) Files(shareID, password string) ([]FileEntry, error) {
	sh, err := r.get(shareID)
	if err != nil {
		return nil, err
	}
	if sh.password != "" && sh.password != password {
		return nil, fmt.Errorf("%w: wrong share password", core.ErrValidation)
	}

	if !sh.isDir {
		info, err := os.Stat(sh.path)
		if err != nil {
			return nil, fmt.Errorf("%w: stat %s: %v", core.ErrProcess, sh.Name, err)
		}
		return []FileEntry{{Path: sh.Name, Size: info.Size()}}, nil
	}

	var entries []FileEntry
	err = filepath.WalkDir(sh.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(sh.path, p)
		if err != nil {
			return err
		}
		entries = append(entries, FileEntry{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk %s: %v", core.ErrProcess, sh.Name, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Open hands the HTTP layer a reader for one file of the share. The
// relative path must stay inside the share root; the caller closes the
// file.
func (r *Registry) Open(shareID, password, relPath string) (*os.File, *FileEntry, error) {
	sh, err := r.get(shareID)
	if err != nil {
		return nil, nil, err
	}
	if sh.password != "" && sh.password != password {
		return nil, nil, fmt.Errorf("%w: wrong share password", core.ErrValidation)
	}

	target := sh.path
	name := sh.Name
	if sh.isDir {
		if relPath == "" {
			return nil, nil, fmt.Errorf("%w: file path required for a folder share", core.ErrValidation)
		}
		clean := filepath.Clean(filepath.FromSlash(relPath))
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
			return nil, nil, fmt.Errorf("%w: path escapes the share", core.ErrValidation)
		}
		target = filepath.Join(sh.path, clean)
		name = filepath.ToSlash(clean)
	}

	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return nil, nil, fmt.Errorf("%w: no such file in share", core.ErrPeerNotFound)
	}
	f, err := os.Open(target)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %v", core.ErrProcess, name, err)
	}
	return f, &FileEntry{Path: name, Size: info.Size()}, nil
}

// DropOwner withdraws every share of a departing player.
func (r *Registry) DropOwner(ownerID domain.PlayerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, sh := range r.shares {
		if sh.OwnerID == string(ownerID) {
			delete(r.shares, id)
			n++
		}
	}
	return n
}
