// Package tracker ties item storage to alert scheduling: every change to an
// item is followed by the matching change to its alerts.
package tracker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/erazemk/svezina/internal/alert"
	"github.com/erazemk/svezina/internal/clock"
	"github.com/erazemk/svezina/internal/model"
	"github.com/erazemk/svezina/internal/store"
)

var (
	// ErrNotFound is returned for operations on a missing item.
	ErrNotFound = errors.New("item not found")
	// ErrInvalid wraps item validation failures.
	ErrInvalid = errors.New("invalid item")
)

// Sort orders for List.
const (
	SortNone = ""
	SortAsc  = "asc"
	SortDesc = "desc"
)

// Options configures date handling for sorting.
type Options struct {
	DateLayout string
	Location   *time.Location
	Logger     *slog.Logger
}

// Service manages items and their alerts.
type Service struct {
	db     *sql.DB
	alerts *alert.Scheduler
	clock  clock.Clock
	layout string
	loc    *time.Location
	logger *slog.Logger
}

// New creates a Service.
func New(db *sql.DB, alerts *alert.Scheduler, c clock.Clock, opts Options) *Service {
	if opts.DateLayout == "" {
		opts.DateLayout = model.DefaultDateLayout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		db:     db,
		alerts: alerts,
		clock:  c,
		layout: opts.DateLayout,
		loc:    opts.Location,
		logger: opts.Logger,
	}
}

func (s *Service) validate(item model.Item) error {
	if err := model.ValidateItem(item); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := model.ParseDate(item.ExpiryDate, s.layout, s.loc); err != nil {
		return fmt.Errorf("%w: expiry date must look like %s", ErrInvalid, s.layout)
	}
	if strings.TrimSpace(item.PurchaseDate) != "" {
		if _, err := model.ParseDate(item.PurchaseDate, s.layout, s.loc); err != nil {
			return fmt.Errorf("%w: purchase date must look like %s", ErrInvalid, s.layout)
		}
	}
	return nil
}

// Start schedules the alerts of every stored item. Run it once per process
// start; existing registrations are kept or replaced per alert kind.
func (s *Service) Start(ctx context.Context) error {
	return s.alerts.RescheduleAll(ctx)
}

// Create stores a new item and schedules its alerts.
func (s *Service) Create(ctx context.Context, item model.Item) (*model.Item, error) {
	if err := s.validate(item); err != nil {
		return nil, err
	}

	created, err := store.CreateItem(ctx, s.db, item)
	if err != nil {
		return nil, err
	}

	// The item is saved either way; a failed registration is retried on
	// the next start.
	if err := s.alerts.Schedule(ctx, *created); err != nil {
		s.logger.Error("scheduling alerts", "item", created.ID, "error", err)
	}
	return created, nil
}

// Get returns an item.
func (s *Service) Get(ctx context.Context, id int64) (*model.Item, error) {
	item, err := store.GetItem(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

// List returns items matching filter. sort is SortNone, SortAsc (soonest to
// expire first) or SortDesc; sorted output is grouped by category.
func (s *Service) List(ctx context.Context, filter model.ItemFilter, sort string) ([]model.Item, error) {
	items, err := store.ListItems(ctx, s.db, filter)
	if err != nil {
		return nil, err
	}
	switch sort {
	case SortNone:
	case SortAsc, SortDesc:
		model.SortByTimeLeft(items, s.clock.Now(), s.layout, s.loc, sort == SortAsc)
	default:
		return nil, fmt.Errorf("%w: unknown sort order %q", ErrInvalid, sort)
	}
	return items, nil
}

// Update replaces an item's fields and brings its alerts up to date. When
// the expiry date changes both alerts are withdrawn first, so the reminder
// follows the new date instead of keeping the old schedule.
func (s *Service) Update(ctx context.Context, id int64, item model.Item) (*model.Item, error) {
	if err := s.validate(item); err != nil {
		return nil, err
	}

	old, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	found, err := store.UpdateItem(ctx, s.db, id, item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(old.ExpiryDate) != strings.TrimSpace(updated.ExpiryDate) {
		if err := s.alerts.Cancel(ctx, id); err != nil {
			s.logger.Error("cancelling alerts for edited item", "item", id, "error", err)
		}
	}
	if err := s.alerts.Schedule(ctx, *updated); err != nil {
		s.logger.Error("scheduling alerts", "item", id, "error", err)
	}
	return updated, nil
}

// Delete withdraws an item's alerts and removes it. A failed cancellation
// is logged; a late alert for the deleted item is dropped when it fires.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.alerts.Cancel(ctx, id); err != nil {
		s.logger.Error("cancelling alerts for deleted item", "item", id, "error", err)
	}

	found, err := store.DeleteItem(ctx, s.db, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	s.logger.Info("item deleted", "item", id)
	return nil
}

// ClearAll withdraws every alert and deletes all items and notifications.
func (s *Service) ClearAll(ctx context.Context) error {
	items, err := store.ListItems(ctx, s.db, model.ItemFilter{})
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.alerts.Cancel(ctx, item.ID); err != nil {
			s.logger.Error("cancelling alerts", "item", item.ID, "error", err)
		}
	}

	if err := store.ClearAll(ctx, s.db); err != nil {
		return err
	}
	s.logger.Warn("all items cleared", "items", len(items))
	return nil
}
