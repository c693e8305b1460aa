package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddressAppliesDefaultPort(t *testing.T) {
	got, err := normalizeAddress("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8001", got)
}

func TestNormalizeAddressKeepsExplicitPort(t *testing.T) {
	got, err := normalizeAddress("127.0.0.1:9100")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", got)
}

func TestNormalizeAddressResolvesLocalhost(t *testing.T) {
	got, err := normalizeAddress("localhost:8001")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8001", got)
}
