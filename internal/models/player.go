package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Player is an auctionable player. Registry management is out of scope;
// the engine only needs identity and base price.
type Player struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Role      string          `json:"role,omitempty"`
	BasePrice decimal.Decimal `json:"base_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
