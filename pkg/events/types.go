// Package events delivers external event triggers (news, price-spike,
// volume-spike) to the scheduler via PostgreSQL NOTIFY/LISTEN, so that
// accelerated polling stamps can be raised by producers running in a
// different process or pod than the orchestrator.
package events

// EventTypeTrigger identifies a persisted + broadcast trigger notification.
const EventTypeTrigger = "event.trigger"

// TriggersChannel is the global NOTIFY channel carrying every trigger,
// used by consumers (e.g. the scheduler) that want the full stream.
const TriggersChannel = "event_triggers"

// EntityTriggerChannel returns the NOTIFY channel scoped to a single
// ticker, used by consumers that only care about one entity.
func EntityTriggerChannel(ticker string) string {
	return "event_triggers:" + ticker
}
