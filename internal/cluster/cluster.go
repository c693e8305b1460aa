package cluster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// StateDescriptor is the per-peer descriptor returned by GET /state and
// by Cluster.StateDict, matching sync.py's peer-to-dict serialisation.
type StateDescriptor struct {
	Address         string `json:"address"`
	Sequence        uint64 `json:"sequence"`
	Checksum        string `json:"checksum"`
	Reachable       bool   `json:"reachable"`
	LastReachableAt string `json:"last_reachable_at,omitempty"`
	LastPushAt      string `json:"last_push_at,omitempty"`
}

// timestampLayout matches spec.md §4.5's YYYYMMDDTHHMMSS formatting.
const timestampLayout = "20060102T150405"

// Cluster owns the set of PeerMonitors for this instance, keyed by
// normalised address. self is never added as a peer of itself.
type Cluster struct {
	self  string
	store StoreView

	mu      sync.Mutex
	peers   map[string]*PeerMonitor
	ctx     context.Context
	cancels []func()
}

// New creates a Cluster for self (this instance's own address) backed by
// store for PeerMonitor snapshot reads and remote-push acceptance.
func New(ctx context.Context, self string, store StoreView) *Cluster {
	normSelf, err := normalizeAddress(self)
	if err != nil {
		normSelf = self
	}
	return &Cluster{
		self:  normSelf,
		store: store,
		peers: make(map[string]*PeerMonitor),
		ctx:   ctx,
	}
}

// AddPeer normalises addrRaw and, if it is new and not self, creates and
// starts a PeerMonitor for it. Returns false only if the address fails to
// normalise; re-adding self or an already-known peer is a no-op success.
func (c *Cluster) AddPeer(addrRaw string) bool {
	addr, err := normalizeAddress(addrRaw)
	if err != nil {
		return false
	}
	if addr == c.self {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[addr]; ok {
		return true
	}

	monitor := NewPeerMonitor(addr, c.store, c)
	c.peers[addr] = monitor
	log.Infof("added peer %s", addr)
	go monitor.Run(c.ctx)
	return true
}

// SignalPushAll raises the force-push flag on every known peer monitor.
func (c *Cluster) SignalPushAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.peers {
		m.SignalPush()
	}
}

// Integrate merges a gossip payload (the "cluster" array of a /state
// response) into the registry, producing transitive peer discovery.
func (c *Cluster) Integrate(descriptors []StateDescriptor) {
	for _, d := range descriptors {
		if d.Address == "" {
			continue
		}
		c.AddPeer(d.Address)
	}
}

// StateDict returns a sorted snapshot of every known peer's descriptor.
func (c *Cluster) StateDict() []StateDescriptor {
	c.mu.Lock()
	monitors := make([]*PeerMonitor, 0, len(c.peers))
	for _, m := range c.peers {
		monitors = append(monitors, m)
	}
	c.mu.Unlock()

	sort.Slice(monitors, func(i, j int) bool { return monitors[i].address < monitors[j].address })

	out := make([]StateDescriptor, 0, len(monitors))
	for _, m := range monitors {
		r := m.Record()
		out = append(out, StateDescriptor{
			Address:         r.Address,
			Sequence:        r.LastSeenVersion.Sequence,
			Checksum:        r.LastSeenVersion.Checksum,
			Reachable:       r.Reachable,
			LastReachableAt: formatTimestamp(r.LastReachableAt),
			LastPushAt:      formatTimestamp(r.LastPushAt),
		})
	}
	return out
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}

// Self returns this instance's own normalised address.
func (c *Cluster) Self() string {
	return c.self
}
