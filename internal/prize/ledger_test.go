package prize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbd888/duelyard/internal/metrics"
	"github.com/mbd888/duelyard/internal/notify"
	"github.com/mbd888/duelyard/internal/world"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type onlineSet map[world.PlayerID]bool

func (o onlineSet) IsOnline(id world.PlayerID) bool { return o[id] }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Add(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestLedger(online onlineSet) (*Ledger, *notify.Recorder, *fakeClock) {
	rec := &notify.Recorder{}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewLedger(NewMemoryStore(), time.Hour).
		WithPresence(online).
		WithNotifier(rec).
		WithClock(clock.Now)
	return l, rec, clock
}

func diamonds(n int) world.Item { return world.Item{Kind: "minecraft:diamond", Amount: n} }
func arrows(n int) world.Item   { return world.Item{Kind: "minecraft:arrow", Amount: n} }

func TestCredit_StoresBatchAndNotifies(t *testing.T) {
	l, rec, clock := newTestLedger(onlineSet{"alice": true})
	ctx := context.Background()

	b, err := l.Credit(ctx, "alice", []world.Item{diamonds(3), arrows(16)}, SourceBetWinnings, "duel-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, SourceBetWinnings, b.Source)
	assert.Equal(t, clock.Now().Add(time.Hour), b.ExpiresAt)

	evs := rec.OfType(notify.PrizeCredited)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Concerns("alice"))
	assert.Equal(t, true, evs[0].Data["online"])
	assert.Equal(t, 19, evs[0].Data["itemCount"])
	assert.Equal(t, b.ID, evs[0].Data["batchId"])
}

func TestCredit_OfflineOwnerStillNotified(t *testing.T) {
	l, rec, _ := newTestLedger(onlineSet{})

	_, err := l.Credit(context.Background(), "bob", []world.Item{diamonds(1)}, SourceDuelDrops, "")
	require.NoError(t, err)

	evs := rec.OfType(notify.PrizeCredited)
	require.Len(t, evs, 1)
	assert.Equal(t, false, evs[0].Data["online"])
}

func TestCredit_EmptyIgnored(t *testing.T) {
	l, rec, _ := newTestLedger(nil)
	ctx := context.Background()

	b, err := l.Credit(ctx, "alice", nil, SourceDuelDrops, "")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = l.Credit(ctx, "alice", []world.Item{{Kind: "minecraft:dirt", Amount: 0}}, SourceDuelDrops, "")
	require.NoError(t, err)
	assert.Nil(t, b)

	batches, err := l.Claim(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, batches)
	assert.Empty(t, rec.Events())
}

func TestCredit_IncrementsMetric(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	before := promtest.ToFloat64(metrics.PrizesCreditedTotal.WithLabelValues(string(SourceEscrowReturn)))

	_, err := l.Credit(context.Background(), "alice", []world.Item{diamonds(1)}, SourceEscrowReturn, "")
	require.NoError(t, err)

	after := promtest.ToFloat64(metrics.PrizesCreditedTotal.WithLabelValues(string(SourceEscrowReturn)))
	assert.Equal(t, before+1, after)
}

func TestClaim_OldestFirstAndSkipsExpired(t *testing.T) {
	l, _, clock := newTestLedger(nil)
	ctx := context.Background()

	first, err := l.Credit(ctx, "alice", []world.Item{diamonds(1)}, SourceDuelDrops, "")
	require.NoError(t, err)
	clock.Add(50 * time.Minute)
	second, err := l.Credit(ctx, "alice", []world.Item{arrows(2)}, SourceBetWinnings, "")
	require.NoError(t, err)

	batches, err := l.Claim(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, first.ID, batches[0].ID)
	assert.Equal(t, second.ID, batches[1].ID)

	clock.Add(10 * time.Minute)
	batches, err = l.Claim(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, second.ID, batches[0].ID)
}

func TestClaim_ReturnsCopies(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	_, err := l.Credit(ctx, "alice", []world.Item{diamonds(5)}, SourceDuelDrops, "")
	require.NoError(t, err)

	batches, _ := l.Claim(ctx, "alice")
	batches[0].Items[0].Amount = 999

	again, _ := l.Claim(ctx, "alice")
	assert.Equal(t, 5, again[0].Items[0].Amount)
}

func TestWithdraw_PartialStack(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(10)}, SourceDuelDrops, "")

	require.NoError(t, l.Withdraw(ctx, "alice", b.ID, diamonds(4)))

	batches, _ := l.Claim(ctx, "alice")
	require.Len(t, batches, 1)
	assert.Equal(t, []world.Item{diamonds(6)}, batches[0].Items)
}

func TestWithdraw_AcrossSimilarStacks(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(3), arrows(1), diamonds(5)}, SourceBetWinnings, "")

	require.NoError(t, l.Withdraw(ctx, "alice", b.ID, diamonds(6)))

	batches, _ := l.Claim(ctx, "alice")
	require.Len(t, batches, 1)
	assert.Equal(t, []world.Item{arrows(1), diamonds(2)}, batches[0].Items)
}

func TestWithdraw_EmptyBatchDeleted(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(2)}, SourceDuelDrops, "")

	require.NoError(t, l.Withdraw(ctx, "alice", b.ID, diamonds(2)))

	batches, _ := l.Claim(ctx, "alice")
	assert.Empty(t, batches)

	err := l.Withdraw(ctx, "alice", b.ID, diamonds(1))
	assert.ErrorIs(t, err, ErrReconciliation)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestWithdraw_MoreThanHeldMutatesNothing(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(2)}, SourceDuelDrops, "")
	before := promtest.ToFloat64(metrics.PrizeReconcileFailuresTotal)

	err := l.Withdraw(ctx, "alice", b.ID, diamonds(3))
	require.ErrorIs(t, err, ErrReconciliation)
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.PrizeReconcileFailuresTotal))

	batches, _ := l.Claim(ctx, "alice")
	require.Len(t, batches, 1)
	assert.Equal(t, []world.Item{diamonds(2)}, batches[0].Items)
}

func TestWithdraw_WrongOwner(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(2)}, SourceDuelDrops, "")

	err := l.Withdraw(ctx, "mallory", b.ID, diamonds(1))
	assert.ErrorIs(t, err, ErrReconciliation)
}

func TestWithdraw_ExpiredRejected(t *testing.T) {
	l, _, clock := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(2)}, SourceDuelDrops, "")
	clock.Add(time.Hour)

	err := l.Withdraw(ctx, "alice", b.ID, diamonds(1))
	assert.ErrorIs(t, err, ErrReconciliation)
}

func TestWithdraw_InvalidItem(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(2)}, SourceDuelDrops, "")

	err := l.Withdraw(ctx, "alice", b.ID, world.Item{Kind: "minecraft:diamond"})
	assert.True(t, errors.Is(err, ErrInvalidItem))
}

func TestReconcile_AllOrNothing(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b1, _ := l.Credit(ctx, "alice", []world.Item{diamonds(2)}, SourceDuelDrops, "")
	b2, _ := l.Credit(ctx, "alice", []world.Item{arrows(8)}, SourceBetWinnings, "")

	err := l.Reconcile(ctx, "alice", []Withdrawal{
		{BatchID: b1.ID, Item: diamonds(2)},
		{BatchID: b2.ID, Item: arrows(9)},
	})
	require.ErrorIs(t, err, ErrReconciliation)

	batches, _ := l.Claim(ctx, "alice")
	require.Len(t, batches, 2)

	require.NoError(t, l.Reconcile(ctx, "alice", []Withdrawal{
		{BatchID: b1.ID, Item: diamonds(1)},
		{BatchID: b1.ID, Item: diamonds(1)},
		{BatchID: b2.ID, Item: arrows(3)},
	}))
	batches, _ = l.Claim(ctx, "alice")
	require.Len(t, batches, 1)
	assert.Equal(t, []world.Item{arrows(5)}, batches[0].Items)
}

func TestPurgeExpired(t *testing.T) {
	l, _, clock := newTestLedger(nil)
	ctx := context.Background()
	_, _ = l.Credit(ctx, "alice", []world.Item{diamonds(1)}, SourceDuelDrops, "")
	_, _ = l.Credit(ctx, "bob", []world.Item{diamonds(1)}, SourceDuelDrops, "")
	clock.Add(30 * time.Minute)
	_, _ = l.Credit(ctx, "bob", []world.Item{arrows(1)}, SourceDuelDrops, "")

	clock.Add(31 * time.Minute)
	n, err := l.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	owners, _ := l.store.Owners(ctx)
	assert.Equal(t, []world.PlayerID{"bob"}, owners)
}

func TestRemindUnclaimed_OnlyOnlineOwners(t *testing.T) {
	l, rec, _ := newTestLedger(onlineSet{"alice": true})
	ctx := context.Background()
	_, _ = l.Credit(ctx, "alice", []world.Item{diamonds(1)}, SourceDuelDrops, "")
	_, _ = l.Credit(ctx, "bob", []world.Item{diamonds(1)}, SourceDuelDrops, "")
	rec.Reset()

	n, err := l.RemindUnclaimed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	evs := rec.OfType(notify.PrizeReminder)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Concerns("alice"))
}

func TestLedger_ConcurrentWithdrawals(t *testing.T) {
	l, _, _ := newTestLedger(nil)
	ctx := context.Background()
	b, _ := l.Credit(ctx, "alice", []world.Item{diamonds(10)}, SourceDuelDrops, "")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Withdraw(ctx, "alice", b.ID, diamonds(1)) == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	batches, _ := l.Claim(ctx, "alice")
	assert.Empty(t, batches)
}
