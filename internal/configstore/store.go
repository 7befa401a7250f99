// Package configstore persists arena definitions and player statistics.
//
// Persistence is best effort: callers log failures and keep running on the
// in-memory state. Three backends exist: YAML files for single-server
// installs, PostgreSQL, and memory for tests and the sandbox.
package configstore

import (
	"context"
	"sort"
	"time"

	"github.com/mbd888/duelyard/internal/world"
)

// ArenaDef is the persisted form of one arena. The group is the map key it
// is stored under.
type ArenaDef struct {
	Name   string          `yaml:"name" json:"name"`
	Bounds world.Bounds    `yaml:"bounds" json:"bounds"`
	Spawn1 *world.Location `yaml:"spawn1,omitempty" json:"spawn1,omitempty"`
	Spawn2 *world.Location `yaml:"spawn2,omitempty" json:"spawn2,omitempty"`
}

// StatsRecord is the persisted form of a player's duel statistics.
type StatsRecord struct {
	Wins       int       `yaml:"wins" json:"wins"`
	Losses     int       `yaml:"losses" json:"losses"`
	TotalDuels int       `yaml:"totalDuels" json:"totalDuels"`
	LastDuelAt time.Time `yaml:"lastDuelAt,omitempty" json:"lastDuelAt,omitempty"`
}

// Store loads and saves plain records. Save replaces everything stored.
type Store interface {
	LoadArenaDefinitions(ctx context.Context) (map[string][]ArenaDef, error)
	SaveArenaDefinitions(ctx context.Context, groups map[string][]ArenaDef) error
	LoadStats(ctx context.Context) (map[world.PlayerID]StatsRecord, error)
	SaveStats(ctx context.Context, stats map[world.PlayerID]StatsRecord) error
}

func cloneGroups(in map[string][]ArenaDef) map[string][]ArenaDef {
	out := make(map[string][]ArenaDef, len(in))
	for group, defs := range in {
		cp := make([]ArenaDef, len(defs))
		for i, d := range defs {
			cp[i] = d
			if d.Spawn1 != nil {
				s := *d.Spawn1
				cp[i].Spawn1 = &s
			}
			if d.Spawn2 != nil {
				s := *d.Spawn2
				cp[i].Spawn2 = &s
			}
		}
		out[group] = cp
	}
	return out
}

func cloneStats(in map[world.PlayerID]StatsRecord) map[world.PlayerID]StatsRecord {
	out := make(map[world.PlayerID]StatsRecord, len(in))
	for id, rec := range in {
		out[id] = rec
	}
	return out
}

func sortedGroups(groups map[string][]ArenaDef) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
