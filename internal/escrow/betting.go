package escrow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/duelyard/internal/logging"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/prize"
	"github.com/mbd888/duelyard/internal/tick"
	"github.com/mbd888/duelyard/internal/traces"
	"github.com/mbd888/duelyard/internal/world"
)

// Config sets the escrow timings.
type Config struct {
	Timeout          time.Duration
	ReminderInterval time.Duration
	// StageInterval is the number of ticks per commit stage.
	StageInterval uint64
}

// DefaultConfig returns the stock timings: five minutes to agree, a reminder
// every five seconds, one commit stage per second at 20 ticks per second.
func DefaultConfig() Config {
	return Config{
		Timeout:          300 * time.Second,
		ReminderInterval: 5 * time.Second,
		StageInterval:    20,
	}
}

// Hooks receive the two outcomes that hand control back to the duel. They are
// called from tick callbacks with the duel's key lock held.
type Hooks interface {
	BettingFinalized(ctx context.Context, duelID string)
	BettingTimedOut(ctx context.Context, duelID string)
}

// ViewChecker reports whether a player has the betting view open.
type ViewChecker interface {
	BettingViewOpen(player world.PlayerID) bool
}

// Crediter stores items in the prize ledger.
type Crediter interface {
	Credit(ctx context.Context, owner world.PlayerID, items []world.Item, source prize.Source, duelID string) (*prize.Batch, error)
}

// Returner hands staked items back to their owner.
type Returner interface {
	Return(ctx context.Context, owner world.PlayerID, items []world.Item, duelID string)
}

// Service owns every betting book. Except for Snapshot and Active, callers
// must hold the duel's key lock; timer callbacks take it themselves.
type Service struct {
	loop     *tick.Loop
	cfg      Config
	delivery Returner
	prizes   Crediter
	notifier notify.Notifier
	hooks    Hooks
	views    ViewChecker
	logger   *slog.Logger

	mu    sync.RWMutex
	books map[string]*book
}

// NewService creates an escrow service scheduling on loop.
func NewService(loop *tick.Loop, cfg Config, delivery Returner, prizes Crediter) *Service {
	if cfg.StageInterval == 0 {
		cfg.StageInterval = uint64(loop.Rate())
	}
	return &Service{
		loop:     loop,
		cfg:      cfg,
		delivery: delivery,
		prizes:   prizes,
		notifier: notify.Nop{},
		logger:   slog.Default(),
		books:    make(map[string]*book),
	}
}

// WithNotifier sets the notification sink.
func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
}

// WithHooks sets the duel callbacks.
func (s *Service) WithHooks(h Hooks) *Service {
	s.hooks = h
	return s
}

// WithViews sets the betting view checker used by reminders.
func (s *Service) WithViews(v ViewChecker) *Service {
	s.views = v
	return s
}

// WithLogger sets the logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

func (s *Service) get(duelID string) (*book, error) {
	s.mu.RLock()
	b, ok := s.books[duelID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNoBook
	}
	return b, nil
}

// Active reports whether duelID has a book.
func (s *Service) Active(duelID string) bool {
	_, err := s.get(duelID)
	return err == nil
}

// Len returns the number of open books.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

// Snapshot returns a copy of the duel's book.
func (s *Service) Snapshot(duelID string) (Book, bool) {
	b, err := s.get(duelID)
	if err != nil {
		return Book{}, false
	}
	return b.snapshot(), true
}

// Initialize opens an empty book and starts the timeout and reminder timers.
func (s *Service) Initialize(ctx context.Context, duelID string, challenger, target world.PlayerID) error {
	s.mu.Lock()
	if _, ok := s.books[duelID]; ok {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	b := newBook(duelID, challenger, target)
	s.books[duelID] = b
	s.mu.Unlock()

	b.timers.Set(timerTimeout, s.loop.After(duelID, s.loop.Ticks(s.cfg.Timeout), func() {
		s.timeout(b)
	}))
	reminder := s.loop.Ticks(s.cfg.ReminderInterval)
	b.timers.Set(timerReminder, s.loop.Every(duelID, reminder, reminder, func() {
		s.remind(b)
	}))

	logging.L(ctx).Info("betting initialized", "duel_id", duelID)
	s.emitState(ctx, b)
	return nil
}

// UpdateItems replaces party's stake. Both confirmations are cleared and a
// running commit countdown is aborted.
//
// The stake is taken as given: the caller must already have removed the
// items from the party's inventory (the bridge does this when they are put
// in the betting view). Refunds and winnings are handed back through Give,
// so a stake that was never removed would be duplicated.
func (s *Service) UpdateItems(ctx context.Context, duelID string, party world.PlayerID, items []world.Item) error {
	b, err := s.editable(duelID, party)
	if err != nil {
		return err
	}
	b.items[party] = world.Compact(world.Clone(items))
	clear(b.confirmed)
	s.abortCommit(ctx, b)
	s.emitState(ctx, b)
	return nil
}

// Confirm marks party as agreeing to the current stakes. When both parties
// have confirmed the commit countdown starts.
func (s *Service) Confirm(ctx context.Context, duelID string, party world.PlayerID) error {
	b, err := s.editable(duelID, party)
	if err != nil {
		return err
	}
	b.confirmed[party] = true
	if b.bothConfirmed() && !b.timers.Active(timerCommit) {
		s.startCommit(b)
	}
	s.emitState(ctx, b)
	return nil
}

// Unconfirm withdraws party's agreement and aborts a running countdown.
func (s *Service) Unconfirm(ctx context.Context, duelID string, party world.PlayerID) error {
	b, err := s.editable(duelID, party)
	if err != nil {
		return err
	}
	b.confirmed[party] = false
	s.abortCommit(ctx, b)
	s.emitState(ctx, b)
	return nil
}

func (s *Service) editable(duelID string, party world.PlayerID) (*book, error) {
	b, err := s.get(duelID)
	if err != nil {
		return nil, err
	}
	if !b.isParty(party) {
		return nil, ErrNotParty
	}
	if b.finalized {
		return nil, ErrFinalized
	}
	return b, nil
}

func (s *Service) startCommit(b *book) {
	b.stage = 0
	b.timers.Set(timerCommit, s.loop.Every(b.duelID, s.cfg.StageInterval, s.cfg.StageInterval, func() {
		s.advanceCommit(b)
	}))
}

func (s *Service) advanceCommit(b *book) {
	ctx := logging.WithDuelID(context.Background(), b.duelID)
	b.stage++
	if b.stage > CommitStages {
		s.finalize(ctx, b)
		return
	}
	s.notifier.Notify(ctx, notify.New(notify.BetCommitStage, b.duelID, map[string]any{
		"stage": b.stage,
	}, b.parties()...))
}

func (s *Service) abortCommit(ctx context.Context, b *book) {
	if !b.timers.Cancel(timerCommit) {
		return
	}
	b.stage = 0
	metrics.EscrowCommitAbortsTotal.Inc()
	s.notifier.Notify(ctx, notify.New(notify.BetCommitStage, b.duelID, map[string]any{
		"stage": 0,
	}, b.parties()...))
}

func (s *Service) finalize(ctx context.Context, b *book) {
	if b.finalized {
		return
	}
	ctx, span := traces.StartSpan(ctx, "escrow.finalize",
		traces.DuelID(b.duelID),
		traces.ItemCount(world.Count(b.items[b.challenger])+world.Count(b.items[b.target])),
	)
	defer span.End()

	b.finalized = true
	b.stage = CommitStages
	b.timers.CancelAll()
	s.closeViews(ctx, b)
	metrics.EscrowFinalizedTotal.Inc()
	s.logger.Info("betting finalized", "duel_id", b.duelID,
		"challenger_items", world.Count(b.items[b.challenger]),
		"target_items", world.Count(b.items[b.target]))

	if s.hooks != nil {
		s.hooks.BettingFinalized(ctx, b.duelID)
	}
}

func (s *Service) timeout(b *book) {
	ctx := logging.WithDuelID(context.Background(), b.duelID)
	if b.finalized {
		return
	}
	s.returnAll(ctx, b)
	s.teardown(ctx, b)
	metrics.EscrowTimeoutsTotal.Inc()
	s.logger.Info("betting timed out, stakes returned", "duel_id", b.duelID)

	if s.hooks != nil {
		s.hooks.BettingTimedOut(ctx, b.duelID)
	}
}

func (s *Service) remind(b *book) {
	ctx := logging.WithDuelID(context.Background(), b.duelID)
	for _, p := range b.parties() {
		if s.views != nil && s.views.BettingViewOpen(p) {
			continue
		}
		s.notifier.Notify(ctx, notify.New(notify.BetReminder, b.duelID, nil, p))
	}
}

// SettleWin credits both stakes to winner as one prize batch, tells the loser
// what they lost, and closes the book.
func (s *Service) SettleWin(ctx context.Context, duelID string, winner world.PlayerID) error {
	b, err := s.get(duelID)
	if err != nil {
		return err
	}
	if !b.isParty(winner) {
		return ErrNotParty
	}
	loser := b.challenger
	if winner == b.challenger {
		loser = b.target
	}

	snap := b.snapshot()
	staked := snap.Staked()
	s.teardown(ctx, b)

	var creditErr error
	if len(staked) > 0 {
		if _, creditErr = s.prizes.Credit(ctx, winner, staked, prize.SourceBetWinnings, duelID); creditErr != nil {
			s.logger.Error("CRITICAL: bet winnings not credited", "duel_id", duelID, "winner", winner,
				"items", staked, "error", creditErr)
		}
	}
	s.notifier.Notify(ctx, notify.New(notify.BetLost, duelID, map[string]any{
		"items":     snap.Items[loser],
		"itemCount": world.Count(snap.Items[loser]),
		"winner":    winner,
	}, loser))
	return creditErr
}

// Refund returns every stake to its owner and closes the book.
func (s *Service) Refund(ctx context.Context, duelID string) error {
	b, err := s.get(duelID)
	if err != nil {
		return err
	}
	s.returnAll(ctx, b)
	s.teardown(ctx, b)
	s.logger.Info("betting refunded", "duel_id", duelID)
	return nil
}

func (s *Service) returnAll(ctx context.Context, b *book) {
	for _, p := range b.parties() {
		if items := b.items[p]; len(items) > 0 {
			s.delivery.Return(ctx, p, world.Clone(items), b.duelID)
			b.items[p] = nil
		}
	}
}

func (s *Service) teardown(ctx context.Context, b *book) {
	b.timers.CancelAll()
	s.mu.Lock()
	if s.books[b.duelID] == b {
		delete(s.books, b.duelID)
	}
	s.mu.Unlock()
	if !b.finalized {
		s.closeViews(ctx, b)
	}
}

func (s *Service) closeViews(ctx context.Context, b *book) {
	s.notifier.Notify(ctx, notify.New(notify.ViewClosed, b.duelID, map[string]any{
		"view": "betting",
	}, b.parties()...))
}

func (s *Service) emitState(ctx context.Context, b *book) {
	s.notifier.Notify(ctx, notify.New(notify.BetStateChanged, b.duelID, map[string]any{
		"book": b.snapshot(),
	}, b.parties()...))
}
