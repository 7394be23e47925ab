package notify

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/erazemk/svezina/internal/store"
)

// Inbox stores notifications in the database for the API to list.
// Repeated deliveries with the same fingerprint are stored once.
type Inbox struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// Deliver inserts the notification unless it is already in the inbox.
func (in Inbox) Deliver(ctx context.Context, title, body, dedupeKey string) error {
	added, err := store.InsertNotification(ctx, in.DB, dedupeKey, Fingerprint(dedupeKey, title, body), title, body)
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	if !added && in.Logger != nil {
		in.Logger.Debug("duplicate notification ignored", "key", dedupeKey)
	}
	return nil
}
