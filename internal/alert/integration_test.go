package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/svezina/internal/clock"
	"github.com/erazemk/svezina/internal/db"
	"github.com/erazemk/svezina/internal/jobs"
	"github.com/erazemk/svezina/internal/model"
	"github.com/erazemk/svezina/internal/store"
)

func TestSchedulerWithPersistentQueue(t *testing.T) {
	ctx := context.Background()
	database := db.NewTestDB(t)
	c := clock.NewManual(day("2025-01-01"))
	queue := jobs.NewQueue(database, c, nil)
	sink := &memSink{}
	s := New(queue, sink, store.Items{DB: database}, c, Options{Location: time.UTC})
	runner := jobs.NewRunner(queue, s.Execute, jobs.RunnerOptions{})

	milk, err := store.CreateItem(ctx, database, model.Item{Name: "Milk", ExpiryDate: "2025-01-10"})
	require.NoError(t, err)
	ham, err := store.CreateItem(ctx, database, model.Item{Name: "Ham", ExpiryDate: "2025-01-05"})
	require.NoError(t, err)

	// Bulk reschedule twice, as two process starts would.
	require.NoError(t, s.RescheduleAll(ctx))
	first, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, first, 4)
	require.NoError(t, s.RescheduleAll(ctx))
	second, err := queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, second, 4)

	byKey := func(list []jobs.Job) map[string]jobs.Job {
		m := make(map[string]jobs.Job)
		for _, j := range list {
			m[j.Key] = j
		}
		return m
	}
	before, after := byKey(first), byKey(second)
	reminderKey := Key(Reminder, milk.ID)
	assert.Equal(t, before[reminderKey].ID, after[reminderKey].ID)
	assert.True(t, after[reminderKey].RunAt.Equal(day("2025-01-09")))
	assert.True(t, after[Key(Expired, milk.ID)].RunAt.Equal(day("2025-01-10")))

	// Ham is deleted before its alerts are due.
	require.NoError(t, s.Cancel(ctx, ham.ID))
	_, err = store.DeleteItem(ctx, database, ham.ID)
	require.NoError(t, err)

	c.Set(day("2025-01-09"))
	n, err := runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, "Milk expires tomorrow (2025-01-10)", sink.delivered[0].body)

	c.Set(day("2025-01-11"))
	n, err = runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.delivered, 2)
	assert.Equal(t, Key(Expired, milk.ID), sink.delivered[1].key)

	pending, err := queue.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRestartsDoNotRepeatDeliveredAlerts(t *testing.T) {
	ctx := context.Background()
	database := db.NewTestDB(t)
	c := clock.NewManual(day("2025-01-01"))
	queue := jobs.NewQueue(database, c, nil)
	sink := &memSink{}
	s := New(queue, sink, store.Items{DB: database}, c, Options{Location: time.UTC})
	runner := jobs.NewRunner(queue, s.Execute, jobs.RunnerOptions{})

	milk, err := store.CreateItem(ctx, database, model.Item{Name: "Milk", ExpiryDate: "2025-01-10"})
	require.NoError(t, err)
	require.NoError(t, s.RescheduleAll(ctx))

	// The reminder goes out through the runner.
	c.Set(day("2025-01-09").Add(time.Hour))
	n, err := runner.RunDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// Each process start reschedules everything; the reminder is now past due.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RescheduleAll(ctx))
	}
	require.Len(t, sink.delivered, 1)

	// The expired alert fires immediately on the first start after the
	// expiry date and never again.
	c.Set(day("2025-01-12"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RescheduleAll(ctx))
	}
	require.Len(t, sink.delivered, 2)
	assert.Equal(t, Key(Expired, milk.ID), sink.delivered[1].key)

	n, err = runner.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, sink.delivered, 2)

	// A corrected date is a new alert.
	milk.ExpiryDate = "2025-01-11"
	require.NoError(t, s.Cancel(ctx, milk.ID))
	require.NoError(t, s.Schedule(ctx, *milk))
	require.Len(t, sink.delivered, 4)
	assert.Equal(t, "Milk has expired (2025-01-11)", sink.delivered[3].body)
}

func TestImmediateFireRetriedAfterFailure(t *testing.T) {
	ctx := context.Background()
	database := db.NewTestDB(t)
	c := clock.NewManual(day("2025-01-12"))
	queue := jobs.NewQueue(database, c, nil)
	sink := &memSink{err: assert.AnError}
	s := New(queue, sink, store.Items{DB: database}, c, Options{Location: time.UTC})

	ham, err := store.CreateItem(ctx, database, model.Item{Name: "Ham", ExpiryDate: "2025-01-05"})
	require.NoError(t, err)

	require.Error(t, s.Schedule(ctx, *ham))
	job, err := queue.Get(ctx, Key(Expired, ham.ID))
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)

	sink.err = nil
	require.NoError(t, s.RescheduleAll(ctx))
	require.NoError(t, s.RescheduleAll(ctx))
	assert.Len(t, sink.delivered, 2)
}
