package gateway

import (
	"encoding/json"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/gavel-io/gavel/internal/auction/events"
)

func TestParseEventPayloadRoundStarted(t *testing.T) {
	data, err := json.Marshal(events.RoundStartedPayload{
		LedgerID:  "5f1c0b36-9a1e-4a7e-b6fa-04c8f7f8b001",
		PlayerID:  "5f1c0b36-9a1e-4a7e-b6fa-04c8f7f8b002",
		BasePrice: decimal.NewFromInt(2),
	})
	assert.Nil(t, err)

	event := &AuctionEvent{Type: EventTypeRoundStarted, Data: data}
	payload, err := ParseEventPayload(event)
	assert.Nil(t, err)

	started, ok := payload.(events.RoundStartedPayload)
	assert.True(t, ok)
	check.Equal(t, "5f1c0b36-9a1e-4a7e-b6fa-04c8f7f8b002", started.PlayerID)
	check.True(t, started.BasePrice.Equal(decimal.NewFromInt(2)))
}

func TestParseEventPayloadUnknownTypeIsIgnored(t *testing.T) {
	event := &AuctionEvent{Type: EventType("Mystery"), Data: json.RawMessage(`{"x":1}`)}
	payload, err := ParseEventPayload(event)
	check.Nil(t, err)
	check.Nil(t, payload)
}

func TestExtractSessionIDFromPath(t *testing.T) {
	check.Equal(t, "abc-123", extractSessionIDFromPath("/api/sessions/abc-123/state"))
	check.Equal(t, "", extractSessionIDFromPath("/api/sessions/abc-123"))
	check.Equal(t, "", extractSessionIDFromPath("/api/sessions//state"))
	check.Equal(t, "", extractSessionIDFromPath("/api/sessions/a/b/state"))
	check.Equal(t, "", extractSessionIDFromPath("/other/abc/state"))
}
