package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapid7/lighthouse/internal/config"
	"github.com/rapid7/lighthouse/internal/document"
	"github.com/rapid7/lighthouse/internal/snapshot"
	"github.com/rapid7/lighthouse/internal/version"
)

func TestMakeOnCommitPersistsSnapshot(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{DataDir: dir, RmLimit: -time.Hour}
	onCommit := makeOnCommit(cfg)

	d := document.New()
	require.NoError(t, d.Set(document.Path{"a"}, true))
	onCommit(version.Version{Sequence: 1, Checksum: "abc"}, d)

	loaded, loadedD, ok := snapshot.Load(dir, time.Now().Add(-time.Hour))
	require.True(t, ok)
	assert.Equal(t, uint64(1), loaded.Sequence)
	_ = loadedD
}

func TestRunFailsWithoutDataDir(t *testing.T) {
	code := run([]string{})
	assert.Equal(t, 2, code)
}

func TestRunPrintsHelp(t *testing.T) {
	code := run([]string{"--help"})
	assert.Equal(t, 1, code)
}
