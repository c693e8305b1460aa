package version_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapid7/lighthouse/internal/version"
)

func TestCompareBySequenceFirst(t *testing.T) {
	low := version.Version{Sequence: 1, Checksum: "ffffffffffffffffffffffffffffffff"}
	high := version.Version{Sequence: 2, Checksum: "00000000000000000000000000000000"}

	assert.True(t, high.GreaterThan(low))
	assert.True(t, low.Less(high))
}

func TestCompareTieBreaksOnChecksum(t *testing.T) {
	a := version.Version{Sequence: 5, Checksum: "aaaa"}
	b := version.Version{Sequence: 5, Checksum: "bbbb"}

	assert.True(t, b.GreaterThan(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestNextAdvancesSequence(t *testing.T) {
	v := version.Version{Sequence: 3, Checksum: "x"}
	next := v.Next("y")

	assert.Equal(t, uint64(4), next.Sequence)
	assert.Equal(t, "y", next.Checksum)
	assert.True(t, next.GreaterThan(v))
}
