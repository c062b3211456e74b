package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Pools maps named commodity pools to their member commodities. Pool
// names double as sector names for concentration accounting, except
// "all" which is a shorthand for the union of every other pool.
type Pools map[string][]string

// DefaultPools returns the built-in commodity pool mapping. A pools
// file given in trading.pools_file replaces this mapping entirely.
func DefaultPools() Pools {
	return Pools{
		"black":          {"rb", "hc", "i", "j", "jm"},
		"metal":          {"cu", "al", "zn", "pb", "ni", "sn"},
		"precious_metal": {"au", "ag"},
		"agriculture":    {"a", "m", "y", "p", "c", "cs", "sr"},
		"chemical":       {"ta", "ma", "pp", "l", "v", "eg"},
		"financial":      {"if", "ih", "ic", "im"},
	}
}

// LoadPools reads a pool mapping from a YAML file, or returns the
// defaults when path is empty.
func LoadPools(path string) (Pools, error) {
	if path == "" {
		return DefaultPools(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pools file: %w", err)
	}

	var pools Pools
	if err := yaml.Unmarshal(data, &pools); err != nil {
		return nil, fmt.Errorf("failed to parse pools file: %w", err)
	}

	if len(pools) == 0 {
		return nil, fmt.Errorf("pools file %s defines no pools", path)
	}
	for name, members := range pools {
		if name == "all" {
			return nil, fmt.Errorf("pool name %q is reserved", name)
		}
		if len(members) == 0 {
			return nil, fmt.Errorf("pool %q has no commodities", name)
		}
	}

	return pools, nil
}

// Expand resolves a pool name to its commodities. "all" expands to the
// union of every pool. Unknown names are a validation error.
func (p Pools) Expand(name string) ([]string, error) {
	if name == "all" {
		seen := make(map[string]bool)
		var all []string
		for _, members := range p {
			for _, c := range members {
				if !seen[c] {
					seen[c] = true
					all = append(all, c)
				}
			}
		}
		sort.Strings(all)
		return all, nil
	}

	members, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("unknown commodity pool %q", name)
	}
	out := make([]string, len(members))
	copy(out, members)
	return out, nil
}

// SectorOf returns the pool (sector) a commodity belongs to, or
// "other" when the commodity is not in any pool.
func (p Pools) SectorOf(commodity string) string {
	for name, members := range p {
		for _, c := range members {
			if c == commodity {
				return name
			}
		}
	}
	return "other"
}
