package model

import "time"

// Notification is a delivered alert kept in the inbox.
type Notification struct {
	ID        int64      `json:"id"`
	DedupeKey string     `json:"dedupe_key"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}
