package ingest

import (
	"strings"

	"engagement-tracker-go/internal/model"
)

// Canonical event types
const (
	EventOpened       = "subscriber.opened"
	EventClicked      = "subscriber.clicked"
	EventConfirmed    = "subscriber.confirmed"
	EventDelivered    = "subscriber.delivered"
	EventUnsubscribed = "subscriber.unsubscribed"
	EventBounced      = "subscriber.bounced"
	EventComplained   = "subscriber.complained"
	EventRejected     = "subscriber.rejected"
	EventReplied      = "subscriber.replied"
	EventSent         = "email.sent"
	EventAttempted    = "email.attempted"
	EventUnknown      = "unknown"
)

// suffixes is checked in order; the first match wins.
var suffixes = []struct {
	suffix     string
	normalized string
}{
	{"opened", EventOpened},
	{"clicked", EventClicked},
	{"confirmed", EventConfirmed},
	{"delivered", EventDelivered},
	{"sent", EventSent},
	{"unsubscribed", EventUnsubscribed},
	{"bounced", EventBounced},
	{"complained", EventComplained},
	{"rejected", EventRejected},
	{"replied", EventReplied},
	{"attempted", EventAttempted},
}

// NormalizeEventType maps a provider event type onto the canonical dotted
// taxonomy. Types with no known suffix are returned unchanged.
func NormalizeEventType(raw string) string {
	if raw == "" {
		return EventUnknown
	}
	for _, s := range suffixes {
		if strings.HasSuffix(raw, s.suffix) {
			return s.normalized
		}
	}
	return raw
}

// InferStatus returns the subscriber status implied by a normalized event
// type. ok is false when the type says nothing about status.
func InferStatus(eventType string) (model.SubscriberStatus, bool) {
	switch eventType {
	case EventUnsubscribed:
		return model.StatusUnsubscribed, true
	case EventBounced, EventComplained, EventRejected:
		return model.StatusBounced, true
	case EventOpened, EventClicked, EventConfirmed, EventDelivered, EventSent, EventAttempted:
		return model.StatusActive, true
	default:
		return "", false
	}
}
