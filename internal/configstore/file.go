package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mbd888/duelyard/internal/world"
)

const (
	arenasFile = "arenas.yml"
	statsFile  = "stats.yml"
)

type arenasDoc struct {
	Groups map[string][]ArenaDef `yaml:"groups"`
}

type statsDoc struct {
	Players map[world.PlayerID]StatsRecord `yaml:"players"`
}

// FileStore keeps arenas.yml and stats.yml in a data directory. A missing
// file loads as empty. Writes go to a temp file that is renamed into place.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the data directory.
func (f *FileStore) Dir() string { return f.dir }

func (f *FileStore) LoadArenaDefinitions(_ context.Context) (map[string][]ArenaDef, error) {
	var doc arenasDoc
	if err := f.read(arenasFile, &doc); err != nil {
		return nil, err
	}
	if doc.Groups == nil {
		doc.Groups = make(map[string][]ArenaDef)
	}
	return doc.Groups, nil
}

func (f *FileStore) SaveArenaDefinitions(_ context.Context, groups map[string][]ArenaDef) error {
	return f.write(arenasFile, arenasDoc{Groups: groups})
}

func (f *FileStore) LoadStats(_ context.Context) (map[world.PlayerID]StatsRecord, error) {
	var doc statsDoc
	if err := f.read(statsFile, &doc); err != nil {
		return nil, err
	}
	if doc.Players == nil {
		doc.Players = make(map[world.PlayerID]StatsRecord)
	}
	return doc.Players, nil
}

func (f *FileStore) SaveStats(_ context.Context, stats map[world.PlayerID]StatsRecord) error {
	return f.write(statsFile, statsDoc{Players: stats})
}

func (f *FileStore) read(name string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(f.dir, name)) // #nosec G304 -- fixed file names under the configured data dir
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (f *FileStore) write(name string, doc any) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(f.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
