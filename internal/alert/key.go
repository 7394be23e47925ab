package alert

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies one of the two alerts every item gets.
type Kind string

// Alert kinds.
const (
	// Reminder fires the day before the expiry date.
	Reminder Kind = "reminder"
	// Expired fires on the expiry date.
	Expired Kind = "expired"
)

// Kinds lists every alert kind.
var Kinds = []Kind{Reminder, Expired}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == Reminder || k == Expired
}

// Key returns the deferred-work key of the alert of kind for an item,
// e.g. "reminder:7".
func Key(kind Kind, itemID int64) string {
	return string(kind) + ":" + strconv.FormatInt(itemID, 10)
}

// ParseKey splits a key produced by Key.
func ParseKey(key string) (Kind, int64, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok || !Kind(kind).Valid() {
		return "", 0, fmt.Errorf("invalid alert key %q", key)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return "", 0, fmt.Errorf("invalid alert key %q", key)
	}
	return Kind(kind), n, nil
}
