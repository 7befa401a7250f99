// Package blocksnap captures arena regions block by block into compressed,
// immutable snapshots.
package blocksnap

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/mbd888/duelyard/internal/arena"
	"github.com/mbd888/duelyard/internal/world"
)

const formatVersion = 1

var (
	ErrEmptySnapshot  = errors.New("snapshot is empty")
	ErrBoundsMismatch = errors.New("snapshot was captured for different bounds")
	ErrBadVersion     = errors.New("unsupported snapshot version")
)

// Block is one block position and its state.
type Block struct {
	Pos      world.Vec
	Material string
	Data     string
}

// World reads and writes blocks.
type World interface {
	ReadBlocks(ctx context.Context, bounds world.Bounds) ([]Block, error)
	WriteBlocks(ctx context.Context, worldName string, blocks []Block) error
}

type payload struct {
	Version int
	Bounds  world.Bounds
	Blocks  []Block
}

// Service implements arena.SnapshotService over a World.
type Service struct {
	world World
	level zstd.EncoderLevel
}

// New creates a snapshot service.
func New(w World) *Service {
	return &Service{world: w, level: zstd.SpeedDefault}
}

var _ arena.SnapshotService = (*Service)(nil)

// Capture reads every block in bounds and returns them gob-encoded and zstd-compressed.
func (s *Service) Capture(ctx context.Context, bounds world.Bounds) (arena.Snapshot, error) {
	bounds = bounds.Normalized()
	blocks, err := s.world.ReadBlocks(ctx, bounds)
	if err != nil {
		return arena.Snapshot{}, fmt.Errorf("read blocks: %w", err)
	}

	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(s.level))
	if err != nil {
		return arena.Snapshot{}, err
	}
	if err := gob.NewEncoder(enc).Encode(payload{Version: formatVersion, Bounds: bounds, Blocks: blocks}); err != nil {
		_ = enc.Close()
		return arena.Snapshot{}, fmt.Errorf("gob encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return arena.Snapshot{}, fmt.Errorf("zstd close: %w", err)
	}
	return arena.NewSnapshot(buf.Bytes()), nil
}

// Restore writes the captured blocks back. The snapshot must have been
// captured for the same bounds.
func (s *Service) Restore(ctx context.Context, bounds world.Bounds, snap arena.Snapshot) error {
	if snap.IsZero() || snap.Size() == 0 {
		return ErrEmptySnapshot
	}
	p, err := decode(snap.Payload())
	if err != nil {
		return err
	}
	if p.Bounds != bounds.Normalized() {
		return ErrBoundsMismatch
	}
	if err := s.world.WriteBlocks(ctx, p.Bounds.World, p.Blocks); err != nil {
		return fmt.Errorf("write blocks: %w", err)
	}
	return nil
}

func decode(raw []byte) (payload, error) {
	var p payload
	dec, err := zstd.NewReader(bytes.NewReader(raw))
	if err != nil {
		return p, err
	}
	defer dec.Close()

	if err := gob.NewDecoder(dec).Decode(&p); err != nil {
		return p, fmt.Errorf("gob decode: %w", err)
	}
	if p.Version != formatVersion {
		return p, fmt.Errorf("%w: %d", ErrBadVersion, p.Version)
	}
	return p, nil
}
