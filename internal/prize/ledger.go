package prize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/duelyard/internal/idgen"
	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/syncutil"
	"github.com/mbd888/duelyard/internal/world"
)

// DefaultExpiration is how long a batch stays claimable.
const DefaultExpiration = time.Hour

// Presence reports whether a player is online.
type Presence interface {
	IsOnline(id world.PlayerID) bool
}

// Ledger credits, lists and drains prize batches. Operations on one owner
// are serialized.
type Ledger struct {
	store    Store
	expiry   time.Duration
	presence Presence
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
	locks    *syncutil.KeyedMutex
}

// NewLedger creates a ledger whose batches expire after expiry.
func NewLedger(store Store, expiry time.Duration) *Ledger {
	if expiry <= 0 {
		expiry = DefaultExpiration
	}
	return &Ledger{
		store:    store,
		expiry:   expiry,
		notifier: notify.Nop{},
		logger:   slog.Default(),
		now:      time.Now,
		locks:    syncutil.NewKeyedMutex(),
	}
}

// WithPresence lets the ledger tell online players about credits and reminders.
func (l *Ledger) WithPresence(p Presence) *Ledger {
	l.presence = p
	return l
}

// WithNotifier sets where prize notifications go.
func (l *Ledger) WithNotifier(n notify.Notifier) *Ledger {
	l.notifier = n
	return l
}

// WithLogger sets the logger.
func (l *Ledger) WithLogger(logger *slog.Logger) *Ledger {
	l.logger = logger
	return l
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) online(id world.PlayerID) bool {
	return l.presence != nil && l.presence.IsOnline(id)
}

// Credit stores items as a new batch for owner. Empty stacks are dropped; if
// nothing is left no batch is created and Credit returns nil, nil.
func (l *Ledger) Credit(ctx context.Context, owner world.PlayerID, items []world.Item, source Source, duelID string) (*Batch, error) {
	items = world.Compact(world.Clone(items))
	if len(items) == 0 {
		return nil, nil
	}

	now := l.now()
	b := &Batch{
		ID:        idgen.WithPrefix("prz_"),
		Owner:     owner,
		Items:     items,
		Source:    source,
		DuelID:    duelID,
		CreatedAt: now,
		ExpiresAt: now.Add(l.expiry),
	}

	unlock := l.locks.Lock(string(owner))
	err := l.store.Add(ctx, b)
	unlock()
	if err != nil {
		l.logger.Error("CRITICAL: failed to store prize batch, items not credited",
			"owner", owner, "source", source, "items", items, "error", err)
		return nil, fmt.Errorf("store prize: %w", err)
	}

	metrics.PrizesCreditedTotal.WithLabelValues(string(source)).Inc()
	l.logger.Info("prize credited", "owner", owner, "batch", b.ID, "source", source, "items", world.Count(items))
	l.notifier.Notify(ctx, notify.New(notify.PrizeCredited, duelID, map[string]any{
		"batchId":   b.ID,
		"source":    string(source),
		"itemCount": world.Count(items),
		"expiresAt": b.ExpiresAt,
		"online":    l.online(owner),
	}, owner))
	return b.clone(), nil
}

// Claim returns the owner's unexpired batches, oldest first.
func (l *Ledger) Claim(ctx context.Context, owner world.PlayerID) ([]*Batch, error) {
	all, err := l.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}
	now := l.now()
	out := all[:0]
	for _, b := range all {
		if !b.Expired(now) {
			out = append(out, b)
		}
	}
	return out, nil
}

// Withdraw removes item.Amount units of item from one batch, across stacks if
// needed. A batch left empty is deleted. If the batch is gone, expired, or
// short of the amount, nothing changes and ErrReconciliation is returned.
func (l *Ledger) Withdraw(ctx context.Context, owner world.PlayerID, batchID string, item world.Item) error {
	return l.Reconcile(ctx, owner, []Withdrawal{{BatchID: batchID, Item: item}})
}

// Reconcile applies a list of withdrawals all-or-nothing.
func (l *Ledger) Reconcile(ctx context.Context, owner world.PlayerID, withdrawals []Withdrawal) error {
	if len(withdrawals) == 0 {
		return nil
	}
	unlock := l.locks.Lock(string(owner))
	defer unlock()

	now := l.now()
	touched := make(map[string]*Batch)
	var order []string
	for _, w := range withdrawals {
		b, ok := touched[w.BatchID]
		if !ok {
			got, err := l.store.Get(ctx, owner, w.BatchID)
			if errors.Is(err, ErrBatchNotFound) {
				return l.reject(owner, w, ErrBatchNotFound)
			}
			if err != nil {
				return err
			}
			if got.Expired(now) {
				return l.reject(owner, w, errors.New("batch expired"))
			}
			b = got
			touched[w.BatchID] = b
			order = append(order, w.BatchID)
		}
		rest, err := take(b.Items, w.Item)
		if err != nil {
			return l.reject(owner, w, err)
		}
		b.Items = rest
	}

	for _, id := range order {
		b := touched[id]
		var err error
		if len(b.Items) == 0 {
			err = l.store.Delete(ctx, owner, id)
		} else {
			err = l.store.Update(ctx, b)
		}
		if err != nil {
			l.logger.Error("CRITICAL: prize store write failed mid-reconcile", "owner", owner, "batch", id, "error", err)
			return fmt.Errorf("persist batch %s: %w", id, err)
		}
	}
	return nil
}

func (l *Ledger) reject(owner world.PlayerID, w Withdrawal, cause error) error {
	metrics.PrizeReconcileFailuresTotal.Inc()
	l.logger.Error("prize withdrawal rejected: ledger cannot account for item",
		"owner", owner, "batch", w.BatchID, "item", w.Item, "cause", cause)
	if errors.Is(cause, ErrReconciliation) {
		return cause
	}
	return fmt.Errorf("%w: %w", ErrReconciliation, cause)
}

// PurgeExpired deletes every batch past its deadline.
func (l *Ledger) PurgeExpired(ctx context.Context) (int, error) {
	n, err := l.store.DeleteExpired(ctx, l.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.PrizesPurgedTotal.Add(float64(n))
		l.logger.Info("expired prizes purged", "count", n)
	}
	return n, nil
}

// RemindUnclaimed notifies every online owner holding unclaimed batches and
// returns how many were notified.
func (l *Ledger) RemindUnclaimed(ctx context.Context) (int, error) {
	owners, err := l.store.Owners(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, owner := range owners {
		if !l.online(owner) {
			continue
		}
		batches, err := l.Claim(ctx, owner)
		if err != nil {
			l.logger.Warn("prize reminder lookup failed", "owner", owner, "error", err)
			continue
		}
		if len(batches) == 0 {
			continue
		}
		l.notifier.Notify(ctx, notify.New(notify.PrizeReminder, "", map[string]any{
			"batches": len(batches),
		}, owner))
		sent++
	}
	return sent, nil
}
