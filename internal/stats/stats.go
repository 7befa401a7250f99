// Package stats keeps per-player duel records.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/duelyard/internal/configstore"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/retry"
	"github.com/mbd888/duelyard/internal/world"
)

// PlayerStats is one player's record.
type PlayerStats struct {
	Player     world.PlayerID `json:"player"`
	Wins       int            `json:"wins"`
	Losses     int            `json:"losses"`
	TotalDuels int            `json:"totalDuels"`
	LastDuelAt time.Time      `json:"lastDuelAt,omitzero"`
}

// WinRate returns wins as a percentage of duels played, 0 with no duels.
func (p PlayerStats) WinRate() float64 {
	if p.TotalDuels == 0 {
		return 0
	}
	return float64(p.Wins) / float64(p.TotalDuels) * 100
}

// Service records results and persists them through a config store.
type Service struct {
	store  configstore.Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	records map[world.PlayerID]configstore.StatsRecord

	flushMu sync.Mutex
}

// NewService creates an empty stats service. Call Load to read saved records.
func NewService(store configstore.Store) *Service {
	return &Service{
		store:   store,
		logger:  slog.Default(),
		now:     time.Now,
		records: make(map[world.PlayerID]configstore.StatsRecord),
	}
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Load replaces in-memory records with the stored ones.
func (s *Service) Load(ctx context.Context) error {
	recs, err := s.store.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("load stats: %w", err)
	}
	s.mu.Lock()
	s.records = recs
	if s.records == nil {
		s.records = make(map[world.PlayerID]configstore.StatsRecord)
	}
	s.mu.Unlock()
	s.logger.Info("player stats loaded", "players", len(recs))
	return nil
}

// RecordResult counts a win for winner and a loss for loser.
func (s *Service) RecordResult(ctx context.Context, winner, loser world.PlayerID) {
	now := s.now()
	s.mu.Lock()
	w := s.records[winner]
	w.Wins++
	w.TotalDuels++
	w.LastDuelAt = now
	s.records[winner] = w

	l := s.records[loser]
	l.Losses++
	l.TotalDuels++
	l.LastDuelAt = now
	s.records[loser] = l
	s.mu.Unlock()

	s.logger.Debug("duel result recorded", "winner", winner, "loser", loser)
}

// Get returns a player's stats. Unknown players have a zero record.
func (s *Service) Get(player world.PlayerID) PlayerStats {
	s.mu.RLock()
	rec := s.records[player]
	s.mu.RUnlock()
	return toStats(player, rec)
}

// Top returns up to n players ordered by wins, then win rate, then id.
func (s *Service) Top(n int) []PlayerStats {
	s.mu.RLock()
	all := make([]PlayerStats, 0, len(s.records))
	for id, rec := range s.records {
		if rec.TotalDuels > 0 {
			all = append(all, toStats(id, rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Wins != b.Wins {
			return a.Wins > b.Wins
		}
		if ra, rb := a.WinRate(), b.WinRate(); ra != rb {
			return ra > rb
		}
		return a.Player < b.Player
	})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// Flush saves every record, retrying briefly. Failures are logged and
// returned; in-memory records are kept either way.
func (s *Service) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[world.PlayerID]configstore.StatsRecord, len(s.records))
	for id, rec := range s.records {
		snapshot[id] = rec
	}
	s.mu.RUnlock()

	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		return s.store.SaveStats(ctx, snapshot)
	})
	if err != nil {
		metrics.StoreSaveFailuresTotal.WithLabelValues("stats").Inc()
		s.logger.Warn("failed to save player stats", "error", err)
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

func toStats(id world.PlayerID, rec configstore.StatsRecord) PlayerStats {
	return PlayerStats{
		Player:     id,
		Wins:       rec.Wins,
		Losses:     rec.Losses,
		TotalDuels: rec.TotalDuels,
		LastDuelAt: rec.LastDuelAt,
	}
}
