// Package answer composes streamed answers from retrieved chunks and
// maintains the durable answer cache.
package answer

// Event types emitted on the answer stream, in protocol order.
const (
	EventConfidence = "data-confidence"
	EventSources    = "data-sources"
	EventResponseID = "data-response-id"
	EventTextStart  = "text-start"
	EventTextDelta  = "text-delta"
	EventTextEnd    = "text-end"
)

// Event is one frame of the answer stream. The transport layer owns the
// wire framing; the composer only guarantees ordering.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// TextStartData accompanies text-start and text-end events.
type TextStartData struct {
	ID string `json:"id"`
}

// TextDeltaData accompanies text-delta events.
type TextDeltaData struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

// EmitFunc receives stream events sequentially from a single goroutine.
type EmitFunc func(Event) error
