// Package session is the core's view of connected players: the capability
// set the game server exposes, the queue of teleports owed to players who
// were offline, and an in-memory implementation for the sandbox.
package session

import (
	"errors"

	"github.com/mbd888/duelyard/internal/world"
)

var (
	ErrPlayerOffline = errors.New("player is offline")
	ErrUnknownPlayer = errors.New("unknown player")
)

// Mode is a player's game mode.
type Mode string

const (
	ModeSurvival  Mode = "survival"
	ModeAdventure Mode = "adventure"
)

// Vitals are the health values set at fight start.
type Vitals struct {
	Health     float64 `json:"health"`
	Food       int     `json:"food"`
	Saturation float64 `json:"saturation"`
}

// FullVitals restores a player completely.
var FullVitals = Vitals{Health: 20, Food: 20, Saturation: 20}

// Players is implemented by the game server bridge. Teleport is fire-and-forget.
// Give hands items to an online player and returns what did not fit; for an
// offline player everything is returned.
//
// The core never takes staked items out of an inventory. Items a player bets
// are removed by the bridge before they reach the escrow, and only come back
// through Give. MemoryPlayers follows the same contract, so sandbox tests
// that stake items without removing them will see them returned on top.
type Players interface {
	IsOnline(id world.PlayerID) bool
	Location(id world.PlayerID) (world.Location, bool)
	Teleport(id world.PlayerID, loc world.Location) error
	SetVitals(id world.PlayerID, v Vitals) error
	SetMode(id world.PlayerID, m Mode) error
	Inventory(id world.PlayerID) []world.Item
	ClearInventory(id world.PlayerID) error
	Give(id world.PlayerID, items []world.Item) (leftover []world.Item)
}
