// Package notify delivers rendered alerts.
//
// Sinks can be combined: Multi fans out to several sinks and Dedupe drops
// deliveries already seen within a TTL.
package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
)

// Sink delivers one notification.
type Sink interface {
	Deliver(ctx context.Context, title, body, dedupeKey string) error
}

// Fingerprint identifies a notification by its dedupe key and content. A
// repeated alert has the same fingerprint; an alert whose text changed, such
// as after an expiry date edit, does not.
func Fingerprint(dedupeKey, title, body string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return dedupeKey + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Log writes notifications to a logger.
type Log struct {
	Logger *slog.Logger
}

// Deliver logs the notification at INFO.
func (l Log) Deliver(ctx context.Context, title, body, dedupeKey string) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification", "key", dedupeKey, "title", title, "body", body)
	return nil
}

// Multi delivers to every sink in order. All sinks are tried even if one
// fails; the failures are returned joined.
type Multi []Sink

// Deliver fans out to all sinks.
func (m Multi) Deliver(ctx context.Context, title, body, dedupeKey string) error {
	var errs []error
	for _, s := range m {
		if err := s.Deliver(ctx, title, body, dedupeKey); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
