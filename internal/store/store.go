// Package store implements the single-writer/multi-reader document store:
// committed document, staged edit buffer, time-bounded lease, and the
// atomic commit that advances a (sequence, checksum) version.
//
// Grounded on original_source/lighthouse/data.py (lock/try_acquire_lock,
// the _data/_update swap) and concurrency-shaped after
// coredhcp/plugins/leasestorage/transient/leases.go's single-struct-mutex
// state machine.
package store

import (
	"sync"
	"time"

	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/lherr"
	"github.com/rapid7/lighthouse/internal/version"
)

// LeaseTTL is how long a lease survives without being refreshed.
const LeaseTTL = 30 * time.Second

// Lease is a client-chosen opaque lock code granting exclusive write
// access to the staged buffer.
type Lease struct {
	Code       string
	AcquiredAt time.Time
	// BaseVersion is the committedVersion observed when the lease was
	// first acquired (not updated on refresh). Commit rejects with
	// Conflict if the committed version has moved since, meaning a peer
	// push landed during the lease window.
	BaseVersion version.Version
}

func (l *Lease) expired(now time.Time) bool {
	return now.Sub(l.AcquiredAt) > LeaseTTL
}

// Store holds the committed document, the in-flight staged edit buffer,
// and the current lease. All public methods are atomic with respect to
// each other under mu; no method performs I/O while holding it.
type Store struct {
	mu sync.Mutex

	committed        *document.Document
	committedVersion version.Version
	staged           *document.Document
	lease            *Lease
	unavailable      bool

	// onCommit fires after every successful commit or accepted remote
	// push, wired to snapshot persistence by the caller.
	onCommit func(version.Version, *document.Document)
	// onPushAll fires only after a local commit, wired to
	// cluster.Cluster.SignalPushAll so peers are nudged immediately.
	onPushAll func()

	// now is the clock used for lease expiry. Defaults to time.Now, which
	// on Go carries a monotonic reading so expiry checks via Time.Sub
	// are immune to wall-clock/NTP steps (spec.md §9). Overridable in
	// tests via NewWithClock.
	now func() time.Time
}

// New creates an empty Store. onCommit and onPushAll may be nil.
func New(onCommit func(version.Version, *document.Document), onPushAll func()) *Store {
	return NewWithClock(onCommit, onPushAll, time.Now)
}

// NewWithClock is New with an injectable clock, used by tests to exercise
// lease expiry deterministically.
func NewWithClock(onCommit func(version.Version, *document.Document), onPushAll func(), now func() time.Time) *Store {
	return &Store{
		committed:        document.New(),
		committedVersion: version.Zero,
		onCommit:         onCommit,
		onPushAll:        onPushAll,
		now:              now,
	}
}

// SetOnPushAll installs the post-commit cluster fan-out callback. Exists
// separately from New/NewWithClock because the callback (cluster.Cluster)
// is itself constructed from a StoreView over this Store, so the two
// must be wired together after both exist.
func (s *Store) SetOnPushAll(onPushAll func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPushAll = onPushAll
}

// SetUnavailable toggles degraded mode, entered at startup when no fresh
// snapshot could be loaded (see internal/snapshot) and cleared on the
// first successful commit or accepted push.
func (s *Store) SetUnavailable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = v
}

// Unavailable reports whether the store is in degraded mode.
func (s *Store) Unavailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unavailable
}

// LoadInitial installs v/d as the committed state without going through
// the commit protocol, used once at startup after a snapshot load.
func (s *Store) LoadInitial(v version.Version, d *document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committedVersion = v
	s.committed = d
	s.unavailable = false
}

func (s *Store) expireLeaseLocked(now time.Time) {
	if s.lease != nil && s.lease.expired(now) {
		s.lease = nil
		s.staged = nil
	}
}

// Read performs a pure traversal of the committed document.
func (s *Store) Read(path document.Path) (document.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return nil, lherr.New(lherr.Unavailable, "store has no fresh snapshot")
	}
	return s.committed.Get(path)
}

// ReadStaged reads from the edit buffer of the lease identified by code.
func (s *Store) ReadStaged(code string, path document.Path) (document.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLeaseLocked(s.now())

	if s.unavailable {
		return nil, lherr.New(lherr.Unavailable, "store has no fresh snapshot")
	}
	if s.lease == nil {
		return nil, lherr.New(lherr.NotFound, "no active lease")
	}
	if s.lease.Code != code {
		return nil, lherr.New(lherr.Forbidden, "lease held by another code")
	}
	return s.staged.Get(path)
}

// TryAcquireLease attempts to acquire or refresh the lease for code.
// acquired reports true for a brand-new acquisition (which deep-copies
// committed into staged) and false for an idempotent refresh.
func (s *Store) TryAcquireLease(code string) (acquired bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.expireLeaseLocked(now)

	if s.lease != nil && s.lease.Code != code {
		return false, lherr.New(lherr.Forbidden, "lease held by another client")
	}
	if s.lease != nil {
		s.lease.AcquiredAt = now
		return false, nil
	}

	s.staged = s.committed.Clone()
	s.lease = &Lease{Code: code, AcquiredAt: now, BaseVersion: s.committedVersion}
	return true, nil
}

// StageSet stages a set at path, requiring a matching live lease.
func (s *Store) StageSet(code string, path document.Path, value document.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLeaseLocked(s.now())

	if s.lease == nil || s.lease.Code != code {
		return lherr.New(lherr.Forbidden, "no matching active lease")
	}
	return s.staged.Set(path, value)
}

// StageDelete stages a delete at path, requiring a matching live lease.
func (s *Store) StageDelete(code string, path document.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLeaseLocked(s.now())

	if s.lease == nil || s.lease.Code != code {
		return lherr.New(lherr.Forbidden, "no matching active lease")
	}
	return s.staged.Delete(path)
}

// Commit promotes staged to committed, advancing the version. It fails
// with Conflict if a peer push has advanced committedVersion past the
// lease's base version since acquisition.
func (s *Store) Commit(code string) (version.Version, error) {
	s.mu.Lock()
	s.expireLeaseLocked(s.now())

	if s.lease == nil || s.lease.Code != code {
		s.mu.Unlock()
		return version.Version{}, lherr.New(lherr.NotFound, "no matching active lease")
	}
	if s.committedVersion != s.lease.BaseVersion {
		s.mu.Unlock()
		return version.Version{}, lherr.New(lherr.Conflict, "committed version advanced during lease")
	}

	nextChecksum, err := s.staged.Checksum()
	if err != nil {
		s.mu.Unlock()
		return version.Version{}, err
	}

	newVersion := s.committedVersion.Next(nextChecksum)
	s.committed = s.staged
	s.committedVersion = newVersion
	s.staged = nil
	s.lease = nil
	s.unavailable = false

	onCommit, onPushAll, committed := s.onCommit, s.onPushAll, s.committed
	s.mu.Unlock()

	// Triggers run outside the critical section: snapshot I/O and cluster
	// fan-out both perform I/O and must never happen while mu is held.
	if onCommit != nil {
		onCommit(newVersion, committed)
	}
	if onPushAll != nil {
		onPushAll()
	}
	return newVersion, nil
}

// Abort discards the staged buffer and releases the lease.
func (s *Store) Abort(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLeaseLocked(s.now())

	if s.lease == nil || s.lease.Code != code {
		return lherr.New(lherr.NotFound, "no matching active lease")
	}
	s.lease = nil
	s.staged = nil
	return nil
}

// CurrentVersion returns the committed version.
func (s *Store) CurrentVersion() version.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committedVersion
}

// ActiveLeaseCode returns the live lease's code, if any.
func (s *Store) ActiveLeaseCode() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLeaseLocked(s.now())
	if s.lease == nil {
		return "", false
	}
	return s.lease.Code, true
}

// Snapshot returns the committed version and document as a shared,
// immutable-once-published pair: the document is never mutated again
// after this call returns, only replaced wholesale by a later commit.
func (s *Store) Snapshot() (version.Version, *document.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committedVersion, s.committed
}

// PushRemote is the anti-entropy merge point: it accepts a remote
// (version, document) pair iff it strictly exceeds the local committed
// version. A lease held at that moment is kept, so its holder's next
// Commit reports Conflict (its base version is now behind).
func (s *Store) PushRemote(v version.Version, d *document.Document) (accepted bool) {
	s.mu.Lock()
	if !v.GreaterThan(s.committedVersion) {
		s.mu.Unlock()
		return false
	}

	s.committed = d
	s.committedVersion = v
	s.unavailable = false

	onCommit, committed := s.onCommit, s.committed
	s.mu.Unlock()
	if onCommit != nil {
		onCommit(v, committed)
	}
	return true
}
