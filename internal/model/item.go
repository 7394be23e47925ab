package model

import (
	"errors"
	"strings"
	"time"
)

// DefaultDateLayout is the layout shared by every date field.
const DefaultDateLayout = "2006-01-02"

// Item is a tracked perishable item. Dates are calendar dates stored as text
// in the configured layout.
type Item struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	PurchaseDate string    `json:"purchase_date"`
	ExpiryDate   string    `json:"expiry_date"`
	Quantity     int       `json:"quantity"`
	Notes        string    `json:"notes,omitempty"`
	ImageMime    string    `json:"image_mime,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ItemFilter narrows an item listing. Empty fields match everything.
type ItemFilter struct {
	// Query matches a case-insensitive substring of the name.
	Query string
	// Category matches the category exactly, ignoring case.
	Category string
}

// ValidateItem checks the fields a client must supply.
func ValidateItem(item Item) error {
	if strings.TrimSpace(item.Name) == "" {
		return errors.New("name is required")
	}
	if strings.TrimSpace(item.ExpiryDate) == "" {
		return errors.New("expiry date is required")
	}
	if item.Quantity < 0 {
		return errors.New("quantity must not be negative")
	}
	return nil
}

// ParseDate parses a date field in loc. A nil loc means time.Local.
func ParseDate(value, layout string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(layout, strings.TrimSpace(value), loc)
}
