package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/lherr"
	"github.com/rapid7/lighthouse/internal/store"
	"github.com/rapid7/lighthouse/internal/version"
)

func val(t *testing.T, s string) document.Value {
	t.Helper()
	v, err := document.ParseValue([]byte(s))
	require.NoError(t, err)
	return v
}

func TestAcquireStageCommitRoundTrip(t *testing.T) {
	s := store.New(nil, nil)

	acquired, err := s.TryAcquireLease("L1")
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, s.StageSet("L1", document.Path{"a"}, val(t, "1")))

	v, err := s.Commit("L1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v.Sequence)

	got, err := s.Read(document.Path{"a"})
	require.NoError(t, err)
	assert.Equal(t, val(t, "1"), got)
}

func TestAbortDiscardsStagedChanges(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.TryAcquireLease("L1")
	require.NoError(t, err)
	require.NoError(t, s.StageSet("L1", document.Path{"a"}, val(t, "1")))

	require.NoError(t, s.Abort("L1"))

	_, err = s.Read(document.Path{"a"})
	require.Error(t, err)
	assert.Equal(t, uint64(0), s.CurrentVersion().Sequence)
}

func TestLeaseHeldByOtherIsForbidden(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.TryAcquireLease("L1")
	require.NoError(t, err)

	_, err = s.TryAcquireLease("L2")
	require.Error(t, err)
	kind, ok := lherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lherr.Forbidden, kind)
}

func TestReacquireSameCodeRefreshesExpiry(t *testing.T) {
	s := store.New(nil, nil)
	acquired, err := s.TryAcquireLease("L1")
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.TryAcquireLease("L1")
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestPushRemoteAcceptsOnlyStrictlyNewerVersions(t *testing.T) {
	s := store.New(nil, nil)
	doc := document.New()
	require.NoError(t, doc.Set(document.Path{"x"}, true))

	v := s.CurrentVersion().Next("abc")
	accepted := s.PushRemote(v, doc)
	assert.True(t, accepted)

	got, err := s.Read(document.Path{"x"})
	require.NoError(t, err)
	assert.Equal(t, true, got)

	// Re-push of the same version changes nothing.
	accepted = s.PushRemote(v, document.New())
	assert.False(t, accepted)
	_, err = s.Read(document.Path{"x"})
	require.NoError(t, err)
}

func TestPushRemoteRejectsStaleVersion(t *testing.T) {
	s := store.New(nil, nil)
	doc := document.New()
	v10 := version.Version{Sequence: 10, Checksum: "feedface"}
	accepted := s.PushRemote(v10, doc)
	require.True(t, accepted)

	stale := version.Version{Sequence: 5, Checksum: "aaaa"}
	accepted = s.PushRemote(stale, document.New())
	assert.False(t, accepted)
	assert.Equal(t, uint64(10), s.CurrentVersion().Sequence)
}

func TestCommitFailsWithNoLease(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.Commit("L1")
	require.Error(t, err)
	kind, ok := lherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lherr.NotFound, kind)
}

func TestCommitConflictsWhenPushedDuringLease(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.TryAcquireLease("L1")
	require.NoError(t, err)
	require.NoError(t, s.StageSet("L1", document.Path{"a"}, val(t, "1")))

	// A peer push advances the committed version mid-lease.
	pushed := document.New()
	require.NoError(t, pushed.Set(document.Path{"z"}, true))
	accepted := s.PushRemote(s.CurrentVersion().Next("deadbeef"), pushed)
	require.True(t, accepted)

	_, err = s.Commit("L1")
	require.Error(t, err)
	kind, ok := lherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lherr.Conflict, kind)
}

func TestStageRequiresMatchingLease(t *testing.T) {
	s := store.New(nil, nil)
	_, err := s.TryAcquireLease("L1")
	require.NoError(t, err)

	err = s.StageSet("wrong", document.Path{"a"}, val(t, "1"))
	require.Error(t, err)
	kind, ok := lherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lherr.Forbidden, kind)
}

func TestOnCommitAndOnPushAllFireOnCommit(t *testing.T) {
	var commits int
	var pushes int
	s := store.New(func(v version.Version, d *document.Document) {
		commits++
	}, func() {
		pushes++
	})

	_, err := s.TryAcquireLease("L1")
	require.NoError(t, err)
	require.NoError(t, s.StageSet("L1", document.Path{"a"}, val(t, "1")))
	_, err = s.Commit("L1")
	require.NoError(t, err)

	assert.Equal(t, 1, commits)
	assert.Equal(t, 1, pushes)
}

func TestLeaseExpiryUnlocksAfterTTL(t *testing.T) {
	s := store.NewWithClock(nil, nil, func() time.Time {
		return fakeNow
	})
	_, err := s.TryAcquireLease("L1")
	require.NoError(t, err)

	fakeNow = fakeNow.Add(store.LeaseTTL + time.Millisecond)

	err = s.StageSet("L1", document.Path{"a"}, val(t, "1"))
	require.Error(t, err)
	kind, ok := lherr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, lherr.Forbidden, kind)
}

var fakeNow = time.Now()
