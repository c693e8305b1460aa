// Package cluster implements anti-entropy replication: one PeerMonitor per
// peer address, running a ping/pull/push cycle, and a Cluster registry that
// owns the monitors and fans out gossip-driven peer discovery.
//
// Grounded on original_source/lighthouse/monitor.py (Monitor._cycle/_pull/
// _push, PING_PERIOD/REACTION_VAR) and sync.py's peer registry and address
// normalisation.
package cluster

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/logger"
	"github.com/rapid7/lighthouse/internal/version"
)

// PingPeriod is how often a monitor pings its peer absent a forced push.
const PingPeriod = 500 * time.Millisecond

// ReactionVar bounds the jitter a monitor sleeps after each cycle, to
// avoid push storms when many monitors wake at once.
const ReactionVar = 10 * time.Millisecond

// DefaultPort is used when a peer address carries no explicit port.
const DefaultPort = 8001

var log = logger.GetLogger("cluster")

// PeerRecord is the externally visible state of one monitored peer.
type PeerRecord struct {
	Address         string
	LastSeenVersion version.Version
	Reachable       bool
	LastReachableAt time.Time
	LastPushAt      time.Time
}

// StoreView is the subset of *store.Store a PeerMonitor needs. Declared
// here (rather than imported) to avoid a cluster<->store import cycle,
// matching the injected-callback style used by internal/store.
type StoreView interface {
	CurrentVersion() version.Version
	Snapshot() (version.Version, *document.Document)
	PushRemote(v version.Version, d *document.Document) bool
}

// PeerMonitor runs the ping/pull/push cycle against one peer, created when
// the peer's address is first seen and running until the process shuts
// down (spec.md §4.4: "never joined").
type PeerMonitor struct {
	address string
	store   StoreView
	cluster *Cluster
	client  *http.Client

	forcePush chan struct{}

	mu        sync.Mutex
	record    PeerRecord
	rngSource *rand.Rand
}

// NewPeerMonitor constructs a monitor for address. Call Run in its own
// goroutine to start the cycle.
func NewPeerMonitor(address string, store StoreView, cl *Cluster) *PeerMonitor {
	m := &PeerMonitor{
		address:   address,
		store:     store,
		cluster:   cl,
		client:    &http.Client{Timeout: 2 * time.Second},
		forcePush: make(chan struct{}, 1),
		rngSource: rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(len(address)))),
	}
	m.record = PeerRecord{Address: address}
	return m
}

func (m *PeerMonitor) lock()   { m.mu.Lock() }
func (m *PeerMonitor) unlock() { m.mu.Unlock() }

// SignalPush requests that the next cycle perform a push instead of a
// ping/pull, without blocking if one is already pending.
func (m *PeerMonitor) SignalPush() {
	select {
	case m.forcePush <- struct{}{}:
	default:
	}
}

// Record returns a consistent snapshot of the monitor's observed state.
func (m *PeerMonitor) Record() PeerRecord {
	m.lock()
	defer m.unlock()
	return m.record
}

// Run executes the ping/pull/push cycle until ctx is cancelled. Unhandled
// faults in a single cycle are caught and logged; the loop continues
// (spec.md §4.4).
func (m *PeerMonitor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		m.safeCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.jitter()):
		}
	}
}

func (m *PeerMonitor) jitter() time.Duration {
	return time.Duration(m.rngSource.Int63n(int64(ReactionVar) + 1))
}

func (m *PeerMonitor) safeCycle(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s: unhandled panic in monitor cycle: %v", m.address, r)
		}
	}()
	m.cycle(ctx)
}

func (m *PeerMonitor) cycle(ctx context.Context) {
	select {
	case <-m.forcePush:
		m.push(ctx)
	case <-time.After(PingPeriod):
		m.pullOrPing(ctx)
	case <-ctx.Done():
	}
}

// pullOrPing implements the PING/PULL action of spec.md §4.4.
func (m *PeerMonitor) pullOrPing(ctx context.Context) {
	state, ok := fetchState(ctx, m.client, m.address)
	if !ok {
		log.Debugf("%s: /state request failed; marking unreachable", m.address)
		m.lock()
		m.record.Reachable = false
		m.unlock()
		return
	}

	m.lock()
	m.record.Reachable = true
	m.record.LastReachableAt = time.Now()
	m.record.LastSeenVersion = state.Version
	m.unlock()

	if m.cluster != nil {
		m.cluster.Integrate(state.Cluster)
	}

	if !state.Version.GreaterThan(m.store.CurrentVersion()) {
		return
	}

	copyResp, ok := fetchCopy(ctx, m.client, m.address)
	if !ok {
		return
	}
	if !copyResp.Version.GreaterThan(m.store.CurrentVersion()) {
		return
	}
	m.store.PushRemote(copyResp.Version, &document.Document{Root: copyResp.Data})
}

// push implements the PUSH action of spec.md §4.4.
func (m *PeerMonitor) push(ctx context.Context) {
	m.lock()
	lastSeen := m.record.LastSeenVersion
	m.unlock()

	v, d := m.store.Snapshot()
	if !v.GreaterThan(lastSeen) {
		return
	}

	ok := pushCopy(ctx, m.client, m.address, v, d)
	m.lock()
	defer m.unlock()
	if ok {
		m.record.Reachable = true
		m.record.LastPushAt = time.Now()
	} else {
		log.Debugf("%s: /copy push failed; marking unreachable", m.address)
		m.record.Reachable = false
	}
}

// normalizeAddress resolves addr to host:port form with DefaultPort
// applied and hostnames resolved to their first IPv4 address, matching
// sync.py's peer-address normalisation.
func normalizeAddress(addr string) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
		port = strconv.Itoa(DefaultPort)
	}
	if net.ParseIP(host) == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return "", err
		}
		for _, ip := range ips {
			if ip4 := ip.To4(); ip4 != nil {
				host = ip4.String()
				break
			}
		}
	}
	return fmt.Sprintf("%s:%s", host, port), nil
}
