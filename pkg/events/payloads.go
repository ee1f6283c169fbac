package events

// TriggerPayload is the payload for event.trigger notifications: a news
// mention, a reddit/social mention, a price spike, or a volume spike
// observed for a tracked entity. The scheduler consumes these to raise
// an entity's accelerated_polling_until stamp.
type TriggerPayload struct {
	Type      string `json:"type"` // always EventTypeTrigger
	Ticker    string `json:"ticker"`
	Kind      string `json:"kind"` // config.TriggerKind value: news, price_spike, volume_spike
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339Nano

	// DBEventID is injected at publish time, identifying the durable row
	// in event_triggers for catch-up paging. Absent on direct local dispatch.
	DBEventID *int64 `json:"db_event_id,omitempty"`
}
