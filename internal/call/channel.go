package call

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChannelName builds the media channel for a call between a and b: participants
// are sorted so both sides derive the same prefix, the millisecond timestamp
// separates repeated calls.
func ChannelName(a, b string, at time.Time) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("call_%s_%s_%d", a, b, at.UnixMilli())
}

// fallbackChannelName is used when two calls for the same pair land on one millisecond.
func fallbackChannelName(a, b string, at time.Time) string {
	return ChannelName(a, b, at) + "_" + uuid.NewString()[:8]
}

func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
