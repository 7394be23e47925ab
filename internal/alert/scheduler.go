// Package alert decides when each tracked item must alert and registers that
// decision with a deferred-work executor.
//
// Every item has two alerts, a reminder the day before it expires and an
// expired alert on the expiry date. Each is addressed only by its key
// ("reminder:{id}", "expired:{id}"), so the scheduler keeps no state of its
// own and any number of processes may drive it. Reminders are registered
// keep-if-pending so repeated rescheduling never moves them; expired alerts
// are registered replace-existing so they always follow the latest date.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/erazemk/svezina/internal/clock"
	"github.com/erazemk/svezina/internal/jobs"
	"github.com/erazemk/svezina/internal/model"
)

// Executor runs keyed work after a delay. RunOnce runs work that is already
// due, at most once per key and due time, and reports whether it ran.
type Executor interface {
	Enqueue(ctx context.Context, key string, delay time.Duration, policy jobs.Policy, payload []byte) (bool, error)
	RunOnce(ctx context.Context, key string, due time.Time, payload []byte, fn func(context.Context) error) (bool, error)
	Cancel(ctx context.Context, key string) error
}

// Sink delivers a rendered notification. dedupeKey is stable per item and
// kind.
type Sink interface {
	Deliver(ctx context.Context, title, body, dedupeKey string) error
}

// Repository reads tracked items.
type Repository interface {
	List(ctx context.Context) ([]model.Item, error)
	Get(ctx context.Context, id int64) (model.Item, bool, error)
}

// Options configures date handling and logging.
type Options struct {
	// DateLayout parses expiry dates. Default model.DefaultDateLayout.
	DateLayout string
	// Location the dates are in. Default time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// Scheduler computes trigger times and registers or fires alerts.
type Scheduler struct {
	exec   Executor
	sink   Sink
	repo   Repository
	clock  clock.Clock
	layout string
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Scheduler.
func New(exec Executor, sink Sink, repo Repository, c clock.Clock, opts Options) *Scheduler {
	if opts.DateLayout == "" {
		opts.DateLayout = model.DefaultDateLayout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		exec:   exec,
		sink:   sink,
		repo:   repo,
		clock:  c,
		layout: opts.DateLayout,
		loc:    opts.Location,
		logger: opts.Logger,
	}
}

// payload is what a deferred alert carries to Execute.
type payload struct {
	ItemID int64 `json:"item_id"`
	Kind   Kind  `json:"kind"`
}

// Trigger returns when the alert of kind fires for item. ok is false when
// the expiry date does not parse.
func (s *Scheduler) Trigger(kind Kind, item model.Item) (time.Time, bool) {
	expiry, err := model.ParseDate(item.ExpiryDate, s.layout, s.loc)
	if err != nil {
		return time.Time{}, false
	}
	if kind == Reminder {
		return expiry.AddDate(0, 0, -1), true
	}
	return expiry, true
}

// ScheduleReminder registers the day-before reminder for item, or fires it
// now if that day has already begun and it has not fired for this date yet.
// An existing pending reminder is kept.
func (s *Scheduler) ScheduleReminder(ctx context.Context, item model.Item) error {
	return s.schedule(ctx, Reminder, item, jobs.KeepIfPending)
}

// ScheduleExpiredAlert registers the expired alert for item, or fires it now
// if the expiry date has arrived and it has not fired for this date yet. Any
// pending expired alert is replaced.
func (s *Scheduler) ScheduleExpiredAlert(ctx context.Context, item model.Item) error {
	return s.schedule(ctx, Expired, item, jobs.ReplaceExisting)
}

// Schedule registers both alerts for item.
func (s *Scheduler) Schedule(ctx context.Context, item model.Item) error {
	return errors.Join(
		s.ScheduleReminder(ctx, item),
		s.ScheduleExpiredAlert(ctx, item),
	)
}

func (s *Scheduler) schedule(ctx context.Context, kind Kind, item model.Item, policy jobs.Policy) error {
	if item.ID <= 0 {
		return fmt.Errorf("scheduling %s alert: item has no id", kind)
	}

	trigger, ok := s.Trigger(kind, item)
	if !ok {
		s.logger.Warn("unparseable expiry date, not scheduling",
			"item", item.ID, "kind", kind, "expiry_date", item.ExpiryDate)
		return nil
	}

	data, err := json.Marshal(payload{ItemID: item.ID, Kind: kind})
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	key := Key(kind, item.ID)

	now := s.clock.Now()
	if !trigger.After(now) {
		// Restarts reschedule every item; an alert already delivered for
		// this trigger must not go out again.
		fired, err := s.exec.RunOnce(ctx, key, trigger, data, func(ctx context.Context) error {
			return s.Fire(ctx, kind, item)
		})
		if err != nil {
			return err
		}
		if !fired {
			s.logger.Debug("alert already fired", "key", key, "at", trigger)
		}
		return nil
	}

	added, err := s.exec.Enqueue(ctx, key, trigger.Sub(now), policy, data)
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", key, err)
	}
	if added {
		s.logger.Debug("alert scheduled", "key", key, "at", trigger)
	}
	return nil
}

// Cancel withdraws both alerts of an item. Alerts that were never scheduled
// are ignored.
func (s *Scheduler) Cancel(ctx context.Context, itemID int64) error {
	var errs []error
	for _, kind := range Kinds {
		errs = append(errs, s.CancelKind(ctx, kind, itemID))
	}
	return errors.Join(errs...)
}

// CancelKind withdraws a single alert of an item.
func (s *Scheduler) CancelKind(ctx context.Context, kind Kind, itemID int64) error {
	key := Key(kind, itemID)
	if err := s.exec.Cancel(ctx, key); err != nil {
		return fmt.Errorf("cancelling %s: %w", key, err)
	}
	return nil
}

// Message returns the notification text of the alert of kind for item.
func Message(kind Kind, item model.Item) (title, body string) {
	expiry := strings.TrimSpace(item.ExpiryDate)
	if kind == Reminder {
		return "Item expiring tomorrow", fmt.Sprintf("%s expires tomorrow (%s)", item.Name, expiry)
	}
	return "Item expired", fmt.Sprintf("%s has expired (%s)", item.Name, expiry)
}

// Fire delivers the alert of kind for item. Immediate and deferred alerts
// both go through here.
func (s *Scheduler) Fire(ctx context.Context, kind Kind, item model.Item) error {
	title, body := Message(kind, item)
	key := Key(kind, item.ID)
	if err := s.sink.Deliver(ctx, title, body, key); err != nil {
		return fmt.Errorf("delivering %s: %w", key, err)
	}
	s.logger.Info("alert fired", "key", key)
	return nil
}

// Execute runs a deferred alert. It is the executor's handler. Alerts whose
// item no longer exists are dropped.
func (s *Scheduler) Execute(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil || !p.Kind.Valid() || Key(p.Kind, p.ItemID) != key {
		// Retrying cannot fix a malformed payload.
		s.logger.Error("dropping alert with invalid payload", "key", key)
		return nil
	}

	item, found, err := s.repo.Get(ctx, p.ItemID)
	if err != nil {
		return fmt.Errorf("loading item %d: %w", p.ItemID, err)
	}
	if !found {
		s.logger.Info("alert for deleted item dropped", "key", key)
		return nil
	}

	return s.Fire(ctx, p.Kind, item)
}

// RescheduleAll schedules both alerts for every item in the repository. A
// failing item does not stop the others; all failures are returned joined.
func (s *Scheduler) RescheduleAll(ctx context.Context) error {
	items, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("listing items: %w", err)
	}

	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.Schedule(ctx, item); err != nil {
			s.logger.Error("rescheduling item", "item", item.ID, "error", err)
			errs = append(errs, err)
		}
	}

	s.logger.Info("rescheduled alerts", "items", len(items), "failed", len(errs))
	return errors.Join(errs...)
}
