// Package ratewindow tracks sliding windows of message timestamps per key,
// used for flood detection, and per-key cooldowns.
package ratewindow

import (
	"context"
	"strconv"
	"time"
)

// Tracker records events per key in a sliding window.
type Tracker interface {
	// Record appends now to the key's window, drops every entry with
	// now-t >= window and returns the remaining count (including now).
	Record(ctx context.Context, key string, now time.Time) int

	// Evict forgets a key.
	Evict(ctx context.Context, key string)

	// Sweep drops keys whose newest entry has left the window and returns
	// how many were dropped.
	Sweep(ctx context.Context, now time.Time) int
}

// Key builds the chat:user window key.
func Key(chatID, userID int64) string {
	return strconv.FormatInt(chatID, 10) + ":" + strconv.FormatInt(userID, 10)
}
