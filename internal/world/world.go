// Package world holds the value types shared by every duel component:
// player identities, positions, region bounds and item stacks.
package world

import (
	"fmt"
	"math"
)

// PlayerID identifies a player. It is normally the player's UUID string.
type PlayerID string

// Location is a position inside a named world.
type Location struct {
	World string  `json:"world" yaml:"world"`
	X     float64 `json:"x" yaml:"x"`
	Y     float64 `json:"y" yaml:"y"`
	Z     float64 `json:"z" yaml:"z"`
	Yaw   float32 `json:"yaw,omitempty" yaml:"yaw,omitempty"`
	Pitch float32 `json:"pitch,omitempty" yaml:"pitch,omitempty"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s(%.1f, %.1f, %.1f)", l.World, l.X, l.Y, l.Z)
}

// Vec is a block coordinate.
type Vec struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
	Z int `json:"z" yaml:"z"`
}

// Bounds is an axis-aligned box of blocks in one world. Both corners are inclusive.
type Bounds struct {
	World string `json:"world" yaml:"world"`
	Min   Vec    `json:"min" yaml:"min"`
	Max   Vec    `json:"max" yaml:"max"`
}

// NewBounds builds bounds from two arbitrary corners.
func NewBounds(worldName string, a, b Vec) Bounds {
	return Bounds{
		World: worldName,
		Min:   Vec{X: min(a.X, b.X), Y: min(a.Y, b.Y), Z: min(a.Z, b.Z)},
		Max:   Vec{X: max(a.X, b.X), Y: max(a.Y, b.Y), Z: max(a.Z, b.Z)},
	}
}

// Normalized returns the bounds with Min <= Max on every axis.
func (b Bounds) Normalized() Bounds {
	return NewBounds(b.World, b.Min, b.Max)
}

// Contains reports whether loc lies inside the bounds, using block coordinates.
func (b Bounds) Contains(loc Location) bool {
	if loc.World != b.World {
		return false
	}
	n := b.Normalized()
	x, y, z := blockCoord(loc.X), blockCoord(loc.Y), blockCoord(loc.Z)
	return x >= n.Min.X && x <= n.Max.X &&
		y >= n.Min.Y && y <= n.Max.Y &&
		z >= n.Min.Z && z <= n.Max.Z
}

// Volume returns the number of blocks inside the bounds.
func (b Bounds) Volume() int {
	n := b.Normalized()
	return (n.Max.X - n.Min.X + 1) * (n.Max.Y - n.Min.Y + 1) * (n.Max.Z - n.Min.Z + 1)
}

func blockCoord(v float64) int {
	return int(math.Floor(v))
}

// Item is a stack of one kind of item. Meta carries the serialized item
// metadata (name, enchantments) and takes part in stack similarity.
type Item struct {
	Kind   string `json:"kind" yaml:"kind"`
	Amount int    `json:"amount" yaml:"amount"`
	Meta   string `json:"meta,omitempty" yaml:"meta,omitempty"`
}

// Similar reports whether two stacks can be merged, ignoring the amount.
func (i Item) Similar(o Item) bool {
	return i.Kind == o.Kind && i.Meta == o.Meta
}

// Valid reports whether the stack holds at least one item of a named kind.
func (i Item) Valid() bool {
	return i.Kind != "" && i.Amount > 0
}

// Count returns the total number of items across stacks.
func Count(items []Item) int {
	n := 0
	for _, it := range items {
		n += it.Amount
	}
	return n
}

// Clone deep-copies an item slice. A nil slice stays nil.
func Clone(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Compact drops empty stacks.
func Compact(items []Item) []Item {
	out := items[:0:0]
	for _, it := range items {
		if it.Valid() {
			out = append(out, it)
		}
	}
	return out
}
