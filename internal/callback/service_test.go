package callback

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketchat/internal/apperr"
	"github.com/marketchat/internal/model"
	"github.com/marketchat/internal/notify"
	"github.com/marketchat/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (f *fakeNotifier) Notify(_ context.Context, req notify.Request) (*model.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &model.Notification{}, nil
}

func (f *fakeNotifier) ofType(t string) []notify.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.Request
	for _, r := range f.reqs {
		if r.Type == t {
			out = append(out, r)
		}
	}
	return out
}

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store, *fakeNotifier, *time.Time) {
	t.Helper()
	store := memory.NewStore()
	store.PutShop(model.Shop{ID: "shop1", SellerID: "seller1", Name: "Tea House"})
	store.PutUser(model.UserProfile{ID: "cust1", Name: "Anna"})
	n := &fakeNotifier{}
	clock := now
	svc := NewService(store, store, n, WithClock(func() time.Time { return clock }))
	return svc, store, n, &clock
}

func TestScheduleRequiresFutureTime(t *testing.T) {
	svc, _, n, _ := newService(t)
	ctx := context.Background()

	for name, at := range map[string]time.Time{"past": now.Add(-time.Minute), "now": now} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: at})
			assert.ErrorIs(t, err, apperr.ErrInvalidSchedule)
		})
	}
	assert.Empty(t, n.reqs)

	cb, err := svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: now.Add(time.Hour),
		Reason: model.ReasonShopUnavailable, Note: "  after lunch "})
	require.NoError(t, err)
	assert.Equal(t, model.CallbackPending, cb.Status)
	assert.Equal(t, "seller1", cb.SellerID)
	assert.Equal(t, "after lunch", cb.Note)

	scheduled := n.ofType(model.NotificationCallbackScheduled)
	require.Len(t, scheduled, 1)
	assert.Equal(t, "seller1", scheduled[0].UserID)
	assert.Contains(t, scheduled[0].Body, "Anna")
}

func TestScheduleValidation(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	future := now.Add(time.Hour)

	_, err := svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: future, Reason: "bored"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: future, Note: strings.Repeat("a", maxNoteLength+1)})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)

	_, err = svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "nope", ScheduledAt: future})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Schedule(ctx, ScheduleInput{CustomerID: "seller1", ShopID: "shop1", ScheduledAt: future})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestListsArePerSide(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: now.Add(2 * time.Hour)})
	require.NoError(t, err)
	_, err = svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: now.Add(time.Hour)})
	require.NoError(t, err)

	seller, err := svc.ListForSeller(ctx, "seller1")
	require.NoError(t, err)
	require.Len(t, seller, 2)
	assert.True(t, seller[0].ScheduledAt.Before(seller[1].ScheduledAt))

	customer, err := svc.ListForCustomer(ctx, "cust1")
	require.NoError(t, err)
	assert.Len(t, customer, 2)

	other, err := svc.ListForSeller(ctx, "cust1")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRemindDueOnlyOnce(t *testing.T) {
	svc, store, n, clock := newService(t)
	ctx := context.Background()
	cb, err := svc.Schedule(ctx, ScheduleInput{CustomerID: "cust1", ShopID: "shop1", ScheduledAt: now.Add(time.Minute)})
	require.NoError(t, err)

	count, err := svc.RemindDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count)

	*clock = now.Add(2 * time.Minute)
	count, err = svc.RemindDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = svc.RemindDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count)

	due := n.ofType(model.NotificationCallbackDue)
	require.Len(t, due, 1)
	assert.Equal(t, cb.ID, due[0].Data["callbackId"])

	store.SetCallbackStatus(cb.ID, model.CallbackCompleted)
	pending, _ := svc.ListForSeller(ctx, "seller1")
	assert.Empty(t, pending)
}

func TestConcurrentSweepsRemindOnce(t *testing.T) {
	svc, store, n, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCallback(ctx, &model.ScheduledCallback{ID: "cb1", ShopID: "shop1", SellerID: "seller1",
		CustomerID: "cust1", ScheduledAt: now.Add(-time.Minute), Status: model.CallbackPending}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RemindDue(ctx, 10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, n.ofType(model.NotificationCallbackDue), 1)
}

func TestReminderRejectsBadCron(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := NewReminder(svc, "every minute", nil)
	assert.Error(t, err)

	r, err := NewReminder(svc, "", nil)
	require.NoError(t, err)
	assert.Zero(t, r.RunOnce(context.Background()))
}
