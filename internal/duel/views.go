package duel

import (
	"context"
	"sync"

	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/world"
)

// ViewKind names one of the player-facing menus.
type ViewKind string

const (
	KindSetup   ViewKind = "setup"
	KindBetting ViewKind = "betting"
	KindPrizes  ViewKind = "prizes"
)

// View is the menu a player has open. It is one of SetupView, BettingView or
// PrizesView.
type View interface {
	Kind() ViewKind
}

// SetupView is the challenger's duel options menu.
type SetupView struct{ DuelID string }

// BettingView is a party's stake editor.
type BettingView struct{ DuelID string }

// PrizesView lists unclaimed prizes, one page at a time.
type PrizesView struct{ Page int }

func (SetupView) Kind() ViewKind   { return KindSetup }
func (BettingView) Kind() ViewKind { return KindBetting }
func (PrizesView) Kind() ViewKind  { return KindPrizes }

// ViewTracker remembers the one view each player has open.
type ViewTracker struct {
	notifier notify.Notifier

	mu   sync.Mutex
	open map[world.PlayerID]View
}

// NewViewTracker creates a tracker announcing opens and forced closes on n.
func NewViewTracker(n notify.Notifier) *ViewTracker {
	if n == nil {
		n = notify.Nop{}
	}
	return &ViewTracker{notifier: n, open: make(map[world.PlayerID]View)}
}

// Open replaces whatever p had open with v.
func (t *ViewTracker) Open(ctx context.Context, p world.PlayerID, v View) {
	t.mu.Lock()
	t.open[p] = v
	t.mu.Unlock()
	t.notifier.Notify(ctx, notify.New(notify.ViewOpened, viewDuelID(v), viewData(v), p))
}

// Current returns p's open view.
func (t *ViewTracker) Current(p world.PlayerID) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.open[p]
	return v, ok
}

// Close removes and returns p's open view. The player closed it, so nothing
// is announced.
func (t *ViewTracker) Close(p world.PlayerID) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.open[p]
	delete(t.open, p)
	return v, ok
}

// Dismiss closes p's view if it is of kind and announces the close.
func (t *ViewTracker) Dismiss(ctx context.Context, p world.PlayerID, kind ViewKind) bool {
	v, ok := t.forget(p, kind)
	if ok {
		t.notifier.Notify(ctx, notify.New(notify.ViewClosed, viewDuelID(v), viewData(v), p))
	}
	return ok
}

// Forget closes p's view if it is of kind without announcing it.
func (t *ViewTracker) Forget(p world.PlayerID, kind ViewKind) bool {
	_, ok := t.forget(p, kind)
	return ok
}

func (t *ViewTracker) forget(p world.PlayerID, kind ViewKind) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.open[p]
	if !ok || v.Kind() != kind {
		return nil, false
	}
	delete(t.open, p)
	return v, true
}

// BettingViewOpen reports whether p is looking at the betting view.
func (t *ViewTracker) BettingViewOpen(p world.PlayerID) bool {
	v, ok := t.Current(p)
	return ok && v.Kind() == KindBetting
}

// OpenPrizes records that p opened the prizes view.
func (t *ViewTracker) OpenPrizes(p world.PlayerID, page int) {
	t.Open(context.Background(), p, PrizesView{Page: page})
}

// Len returns the number of open views.
func (t *ViewTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}

func viewDuelID(v View) string {
	switch v := v.(type) {
	case SetupView:
		return v.DuelID
	case BettingView:
		return v.DuelID
	}
	return ""
}

func viewData(v View) map[string]any {
	data := map[string]any{"view": string(v.Kind())}
	if pv, ok := v.(PrizesView); ok {
		data["page"] = pv.Page
	}
	return data
}
