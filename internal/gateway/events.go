package gateway

import (
	"encoding/json"
	"time"

	"github.com/gavel-io/gavel/internal/auction/events"
)

// AuctionEvent is the envelope pushed to WebSocket clients.
type AuctionEvent struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Session UUID
	Type      EventType       `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// EventType represents the type of auction event.
type EventType string

const (
	EventTypeRoundStarted     EventType = "RoundStarted"
	EventTypeBidPlaced        EventType = "BidPlaced"
	EventTypeBidUndone        EventType = "BidUndone"
	EventTypeRoundSold        EventType = "RoundSold"
	EventTypeRoundUnsold      EventType = "RoundUnsold"
	EventTypeAuctionPaused    EventType = "AuctionPaused"
	EventTypeAuctionResumed   EventType = "AuctionResumed"
	EventTypeSessionCompleted EventType = "SessionCompleted"
)

// ParseEventPayload parses event data into the appropriate payload struct.
func ParseEventPayload(event *AuctionEvent) (interface{}, error) {
	switch event.Type {
	case EventTypeRoundStarted:
		var payload events.RoundStartedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeBidPlaced:
		var payload events.BidPlacedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeBidUndone:
		var payload events.BidUndonePayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundSold:
		var payload events.RoundSoldPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundUnsold:
		var payload events.RoundUnsoldPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAuctionPaused:
		var payload events.AuctionPausedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeAuctionResumed:
		var payload events.AuctionResumedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeSessionCompleted:
		var payload events.SessionCompletedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}
