package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPoolsContainBaseline(t *testing.T) {
	pools := DefaultPools()

	black, err := pools.Expand("black")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rb", "hc", "i", "j", "jm"}, black)

	metal, err := pools.Expand("metal")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"cu", "al", "zn", "pb", "ni", "sn"}, metal)

	precious, err := pools.Expand("precious_metal")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"au", "ag"}, precious)
}

func TestExpandAll(t *testing.T) {
	pools := DefaultPools()

	all, err := pools.Expand("all")
	require.NoError(t, err)

	assert.Contains(t, all, "rb")
	assert.Contains(t, all, "cu")
	assert.Contains(t, all, "au")

	// Union must be deduplicated
	seen := make(map[string]int)
	for _, c := range all {
		seen[c]++
	}
	for c, n := range seen {
		assert.Equal(t, 1, n, "commodity %s appears %d times", c, n)
	}
}

func TestExpandUnknownPool(t *testing.T) {
	pools := DefaultPools()

	_, err := pools.Expand("energy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown commodity pool")
}

func TestSectorOf(t *testing.T) {
	pools := DefaultPools()

	assert.Equal(t, "black", pools.SectorOf("rb"))
	assert.Equal(t, "metal", pools.SectorOf("cu"))
	assert.Equal(t, "precious_metal", pools.SectorOf("ag"))
	assert.Equal(t, "other", pools.SectorOf("xyz"))
}

func TestLoadPoolsFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.yaml")

	content := "black:\n  - rb\n  - hc\nenergy:\n  - sc\n  - fu\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	pools, err := LoadPools(path)
	require.NoError(t, err)

	black, err := pools.Expand("black")
	require.NoError(t, err)
	assert.Equal(t, []string{"rb", "hc"}, black)

	energy, err := pools.Expand("energy")
	require.NoError(t, err)
	assert.Equal(t, []string{"sc", "fu"}, energy)

	// File replaces the defaults entirely
	_, err = pools.Expand("metal")
	assert.Error(t, err)
}

func TestLoadPoolsRejectsReservedName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pools.yaml")

	content := "all:\n  - rb\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadPools(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestLoadPoolsEmptyPathUsesDefaults(t *testing.T) {
	pools, err := LoadPools("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPools(), pools)
}
