// Package notify is the change-notification bus: per-entity monotonic
// version counters in a shared store plus best-effort publish, the sole
// trigger for streaming notifications.
package notify

import "context"

// Counter keys. Every watchable entity gets its own key.
func TranslationKey(id string) string    { return "translation:" + id }
func LineageKey(lineageID string) string { return "lineage:" + lineageID }
func DeviceKey(deviceCode string) string { return "device:" + deviceCode }
func PreviewKey(token string) string     { return "preview:" + token }

// Event is one published change notification.
type Event struct {
	Topic   string
	Payload []byte
}

// Bus couples atomic version counters with fire-and-forget publish and
// short-TTL result slots for notify-once outcomes. Bump, Publish, and
// SetResult are best-effort: failures are logged and swallowed so they
// can never fail or roll back the mutating operation that triggered them.
type Bus interface {
	// Bump atomically increments the counters for the given keys and
	// publishes a change event per key.
	Bump(ctx context.Context, keys ...string)

	// Current returns the counter value for a key; 0 if never bumped.
	Current(ctx context.Context, key string) (int64, error)

	// Publish fires an event at a topic without touching any counter.
	Publish(ctx context.Context, topic string, payload []byte)

	// Subscribe delivers events for a topic until cancel is called.
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)

	// SetResult stores a terminal outcome in a short-TTL slot so a
	// subscriber that connects after the event fired can still observe it.
	SetResult(ctx context.Context, key string, payload []byte)

	// TakeResult reads and clears a result slot. Returns nil when the
	// slot is empty or expired.
	TakeResult(ctx context.Context, key string) ([]byte, error)
}
