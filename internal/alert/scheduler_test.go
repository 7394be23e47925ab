package alert

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/svezina/internal/clock"
	"github.com/erazemk/svezina/internal/jobs"
	"github.com/erazemk/svezina/internal/model"
)

type entry struct {
	runAt   time.Time
	policy  jobs.Policy
	payload []byte
}

// memExecutor applies the keep/replace policies in memory.
type memExecutor struct {
	clock     clock.Clock
	entries   map[string]entry
	fired     map[string]time.Time
	cancelled []string
	failKey   string
}

func newMemExecutor(c clock.Clock) *memExecutor {
	return &memExecutor{clock: c, entries: make(map[string]entry), fired: make(map[string]time.Time)}
}

func (m *memExecutor) Enqueue(_ context.Context, key string, delay time.Duration, policy jobs.Policy, payload []byte) (bool, error) {
	if key == m.failKey {
		return false, errors.New("queue unavailable")
	}
	if _, ok := m.entries[key]; ok && policy == jobs.KeepIfPending {
		return false, nil
	}
	m.entries[key] = entry{runAt: m.clock.Now().Add(delay), policy: policy, payload: payload}
	return true, nil
}

func (m *memExecutor) RunOnce(ctx context.Context, key string, due time.Time, _ []byte, fn func(context.Context) error) (bool, error) {
	if key == m.failKey {
		return false, errors.New("queue unavailable")
	}
	if at, ok := m.fired[key]; ok && at.Equal(due) {
		return false, nil
	}
	delete(m.entries, key)
	if err := fn(ctx); err != nil {
		return true, err
	}
	m.fired[key] = due
	return true, nil
}

func (m *memExecutor) Cancel(_ context.Context, key string) error {
	delete(m.entries, key)
	m.cancelled = append(m.cancelled, key)
	return nil
}

type delivery struct {
	title, body, key string
}

type memSink struct {
	delivered []delivery
	err       error
}

func (s *memSink) Deliver(_ context.Context, title, body, dedupeKey string) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, delivery{title, body, dedupeKey})
	return nil
}

type memRepo map[int64]model.Item

func (r memRepo) List(context.Context) ([]model.Item, error) {
	var items []model.Item
	for _, it := range r {
		items = append(items, it)
	}
	return items, nil
}

func (r memRepo) Get(_ context.Context, id int64) (model.Item, bool, error) {
	it, ok := r[id]
	return it, ok, nil
}

type fixture struct {
	clock *clock.Manual
	exec  *memExecutor
	sink  *memSink
	repo  memRepo
	s     *Scheduler
}

func newFixture(now time.Time) *fixture {
	c := clock.NewManual(now)
	f := &fixture{
		clock: c,
		exec:  newMemExecutor(c),
		sink:  &memSink{},
		repo:  memRepo{},
	}
	f.s = New(f.exec, f.sink, f.repo, c, Options{Location: time.UTC})
	return f
}

func day(s string) time.Time {
	t, err := time.ParseInLocation(model.DefaultDateLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestKeyRoundTrip(t *testing.T) {
	assert.Equal(t, "reminder:7", Key(Reminder, 7))
	assert.Equal(t, "expired:7", Key(Expired, 7))

	kind, id, err := ParseKey("expired:42")
	require.NoError(t, err)
	assert.Equal(t, Expired, kind)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "expired", "soon:1", "expired:x", "reminder:0", "reminder:-3"} {
		_, _, err := ParseKey(bad)
		assert.Error(t, err, "key %q", bad)
	}
}

func TestReminderKeepsExistingSchedule(t *testing.T) {
	f := newFixture(day("2025-03-01"))
	ctx := context.Background()
	item := model.Item{ID: 1, Name: "Milk", ExpiryDate: "2025-03-03"}

	require.NoError(t, f.s.ScheduleReminder(ctx, item))
	e, ok := f.exec.entries["reminder:1"]
	require.True(t, ok)
	assert.Equal(t, jobs.KeepIfPending, e.policy)
	assert.True(t, e.runAt.Equal(day("2025-03-02")))

	// Rescheduling later the same day must not move it.
	f.clock.Advance(3 * time.Hour)
	require.NoError(t, f.s.ScheduleReminder(ctx, item))
	assert.True(t, f.exec.entries["reminder:1"].runAt.Equal(day("2025-03-02")))
	assert.Empty(t, f.sink.delivered)
}

func TestExpiredFiresImmediatelyWhenPast(t *testing.T) {
	now := day("2025-03-01")
	f := newFixture(now)
	ctx := context.Background()

	// Expiry date one hour before now.
	f.clock.Set(day("2025-02-28").Add(time.Hour))
	item := model.Item{ID: 3, Name: "Yogurt", ExpiryDate: "2025-02-28"}

	require.NoError(t, f.s.ScheduleExpiredAlert(ctx, item))
	assert.Empty(t, f.exec.entries)
	require.Len(t, f.sink.delivered, 1)
	assert.Equal(t, delivery{"Item expired", "Yogurt has expired (2025-02-28)", "expired:3"}, f.sink.delivered[0])
}

func TestImmediateAlertFiresOncePerDate(t *testing.T) {
	f := newFixture(day("2025-03-05"))
	ctx := context.Background()
	item := model.Item{ID: 9, Name: "Fish", ExpiryDate: "2025-03-03"}

	for i := 0; i < 3; i++ {
		require.NoError(t, f.s.Schedule(ctx, item))
	}
	require.Len(t, f.sink.delivered, 2)

	item.ExpiryDate = "2025-03-04"
	require.NoError(t, f.s.Schedule(ctx, item))
	require.Len(t, f.sink.delivered, 4)
	assert.Equal(t, "Fish has expired (2025-03-04)", f.sink.delivered[3].body)
}

func TestTriggerEqualToNowFiresImmediately(t *testing.T) {
	f := newFixture(day("2025-03-02"))
	ctx := context.Background()
	item := model.Item{ID: 4, Name: "Cheese", ExpiryDate: "2025-03-03"}

	require.NoError(t, f.s.ScheduleReminder(ctx, item))
	assert.Empty(t, f.exec.entries)
	require.Len(t, f.sink.delivered, 1)
	assert.Equal(t, delivery{"Item expiring tomorrow", "Cheese expires tomorrow (2025-03-03)", "reminder:4"}, f.sink.delivered[0])
}

func TestExpiredFollowsEditedDate(t *testing.T) {
	f := newFixture(day("2025-03-01"))
	ctx := context.Background()
	item := model.Item{ID: 5, Name: "Chicken", ExpiryDate: "2025-03-06"}

	require.NoError(t, f.s.ScheduleExpiredAlert(ctx, item))
	item.ExpiryDate = "2025-03-11"
	require.NoError(t, f.s.ScheduleExpiredAlert(ctx, item))

	require.Len(t, f.exec.entries, 1)
	e := f.exec.entries["expired:5"]
	assert.Equal(t, jobs.ReplaceExisting, e.policy)
	assert.True(t, e.runAt.Equal(day("2025-03-11")))
}

func TestCancelThenLateFiringIsNoop(t *testing.T) {
	f := newFixture(day("2025-03-01"))
	ctx := context.Background()
	item := model.Item{ID: 6, Name: "Beef", ExpiryDate: "2025-03-10"}
	f.repo[6] = item

	require.NoError(t, f.s.Schedule(ctx, item))
	require.Len(t, f.exec.entries, 2)
	reminder := f.exec.entries["reminder:6"].payload
	expired := f.exec.entries["expired:6"].payload

	require.NoError(t, f.s.Cancel(ctx, 6))
	delete(f.repo, 6)
	assert.Empty(t, f.exec.entries)
	assert.ElementsMatch(t, []string{"reminder:6", "expired:6"}, f.exec.cancelled)

	// The executor raced the delete and fires anyway.
	assert.NoError(t, f.s.Execute(ctx, "reminder:6", reminder))
	assert.NoError(t, f.s.Execute(ctx, "expired:6", expired))
	assert.Empty(t, f.sink.delivered)

	// Cancelling an item with nothing scheduled is fine.
	assert.NoError(t, f.s.Cancel(ctx, 999))
}

func TestScenarioItemSeven(t *testing.T) {
	f := newFixture(day("2025-01-01"))
	ctx := context.Background()
	item := model.Item{ID: 7, Name: "Milk", ExpiryDate: "2025-01-10"}

	require.NoError(t, f.s.ScheduleReminder(ctx, item))
	require.NoError(t, f.s.ScheduleExpiredAlert(ctx, item))

	check := func() {
		t.Helper()
		require.Len(t, f.exec.entries, 2)
		assert.True(t, f.exec.entries["reminder:7"].runAt.Equal(day("2025-01-09")))
		assert.True(t, f.exec.entries["expired:7"].runAt.Equal(day("2025-01-10")))
	}
	check()

	require.NoError(t, f.s.ScheduleReminder(ctx, item))
	require.NoError(t, f.s.ScheduleExpiredAlert(ctx, item))
	check()
	assert.Empty(t, f.sink.delivered)

	var p payload
	require.NoError(t, json.Unmarshal(f.exec.entries["reminder:7"].payload, &p))
	assert.Equal(t, payload{ItemID: 7, Kind: Reminder}, p)
}

func TestUnparseableDateSkipsScheduling(t *testing.T) {
	f := newFixture(day("2025-01-01"))
	ctx := context.Background()

	for _, date := range []string{"", "10/01/2025", "2025-13-40"} {
		err := f.s.Schedule(ctx, model.Item{ID: 8, Name: "Bread", ExpiryDate: date})
		assert.NoError(t, err)
	}
	assert.Empty(t, f.exec.entries)
	assert.Empty(t, f.sink.delivered)
}

func TestScheduleRequiresID(t *testing.T) {
	f := newFixture(day("2025-01-01"))
	err := f.s.Schedule(context.Background(), model.Item{Name: "Ghost", ExpiryDate: "2025-01-05"})
	assert.Error(t, err)
	assert.Empty(t, f.exec.entries)
}

func TestExecute(t *testing.T) {
	f := newFixture(day("2025-01-09"))
	ctx := context.Background()
	f.repo[7] = model.Item{ID: 7, Name: "Milk", ExpiryDate: "2025-01-10"}

	data, _ := json.Marshal(payload{ItemID: 7, Kind: Reminder})
	require.NoError(t, f.s.Execute(ctx, "reminder:7", data))
	require.Len(t, f.sink.delivered, 1)
	assert.Equal(t, delivery{"Item expiring tomorrow", "Milk expires tomorrow (2025-01-10)", "reminder:7"}, f.sink.delivered[0])

	// Payload must agree with the key.
	assert.NoError(t, f.s.Execute(ctx, "expired:7", data))
	assert.NoError(t, f.s.Execute(ctx, "reminder:7", []byte("{not json")))
	assert.Len(t, f.sink.delivered, 1)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, f.s.Execute(cctx, "reminder:7", data), context.Canceled)
	assert.Len(t, f.sink.delivered, 1)
}

func TestFireSinkError(t *testing.T) {
	f := newFixture(day("2025-01-01"))
	f.sink.err = errors.New("smtp down")

	err := f.s.Fire(context.Background(), Expired, model.Item{ID: 1, Name: "Milk", ExpiryDate: "2025-01-01"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired:1")
}

func TestRescheduleAllContinuesPastFailures(t *testing.T) {
	f := newFixture(day("2025-01-01"))
	f.repo[1] = model.Item{ID: 1, Name: "Milk", ExpiryDate: "2025-01-10"}
	f.repo[2] = model.Item{ID: 2, Name: "Bread", ExpiryDate: "someday"}
	f.repo[3] = model.Item{ID: 3, Name: "Ham", ExpiryDate: "2024-12-30"}
	f.repo[4] = model.Item{ID: 4, Name: "Eggs", ExpiryDate: "2025-01-20"}
	f.exec.failKey = "expired:4"

	err := f.s.RescheduleAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired:4")

	assert.Contains(t, f.exec.entries, "reminder:1")
	assert.Contains(t, f.exec.entries, "expired:1")
	assert.Contains(t, f.exec.entries, "reminder:4")
	assert.Len(t, f.exec.entries, 3)

	// Item 3 is long expired: both alerts fire right away.
	keys := make([]string, 0, len(f.sink.delivered))
	for _, d := range f.sink.delivered {
		keys = append(keys, d.key)
	}
	assert.ElementsMatch(t, []string{"reminder:3", "expired:3"}, keys)
}

func TestTriggerUsesConfiguredLayoutAndZone(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	c := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, loc))
	s := New(newMemExecutor(c), &memSink{}, memRepo{}, c, Options{DateLayout: "02.01.2006", Location: loc})

	at, ok := s.Trigger(Reminder, model.Item{ExpiryDate: "10.01.2025"})
	require.True(t, ok)
	assert.True(t, at.Equal(time.Date(2025, 1, 9, 0, 0, 0, 0, loc)))

	_, ok = s.Trigger(Expired, model.Item{ExpiryDate: "2025-01-10"})
	assert.False(t, ok)
}
