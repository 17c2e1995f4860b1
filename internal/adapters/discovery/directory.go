package discovery

import (
	"net"
	"sort"
	"sync"
	"time"
)

// PeerRecord is one live peer as seen over the discovery port. Addr is
// the peer's source address rewritten with the port it announced, so
// unicast replies land on the right socket even behind a port scan.
type PeerRecord struct {
	ID         string
	Name       string
	Addr       *net.UDPAddr
	MicEnabled bool
	LastSeen   time.Time
}

// Directory is the threadsafe peer table. All mutation goes through the
// receive loop; reads come from anywhere.
type Directory struct {
	mu    sync.RWMutex
	peers map[string]*PeerRecord
}

func NewDirectory() *Directory {
	return &Directory{peers: make(map[string]*PeerRecord)}
}

// Upsert inserts or refreshes a peer and reports whether it was new.
// Callers use wasNew to fire the joined notification exactly once.
func (d *Directory) Upsert(id, name string, addr *net.UDPAddr, mic bool) (wasNew bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers[id]
	if !ok {
		d.peers[id] = &PeerRecord{ID: id, Name: name, Addr: addr, MicEnabled: mic, LastSeen: time.Now()}
		return true
	}
	rec.Name = name
	rec.Addr = addr
	rec.MicEnabled = mic
	rec.LastSeen = time.Now()
	return false
}

func (d *Directory) Touch(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers[id]
	if !ok {
		return false
	}
	rec.LastSeen = time.Now()
	return true
}

func (d *Directory) SetMic(id string, mic bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers[id]
	if !ok {
		return false
	}
	rec.MicEnabled = mic
	rec.LastSeen = time.Now()
	return true
}

func (d *Directory) Remove(id string) (*PeerRecord, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.peers[id]
	if ok {
		delete(d.peers, id)
	}
	return rec, ok
}

func (d *Directory) Get(id string) (*PeerRecord, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rec, ok := d.peers[id]
	if !ok {
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// Snapshot returns a copy of every peer, ordered by ID for stable
// output.
func (d *Directory) Snapshot() []PeerRecord {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]PeerRecord, 0, len(d.peers))
	for _, rec := range d.peers {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.peers)
}

// Clear drops every peer. Concurrent readers keep seeing a valid,
// empty table.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.peers = make(map[string]*PeerRecord)
}

// Sweep evicts every peer silent for longer than maxAge and returns the
// evicted records.
func (d *Directory) Sweep(maxAge time.Duration) []PeerRecord {
	cutoff := time.Now().Add(-maxAge)
	d.mu.Lock()
	defer d.mu.Unlock()
	var gone []PeerRecord
	for id, rec := range d.peers {
		if rec.LastSeen.Before(cutoff) {
			gone = append(gone, *rec)
			delete(d.peers, id)
		}
	}
	return gone
}
