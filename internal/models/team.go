package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Team is a franchise participating in an auction. PurseRemaining is the
// authoritative spendable budget; it only decreases through finalized sales.
type Team struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	ShortName      string          `json:"short_name"`
	TotalPurse     decimal.Decimal `json:"total_purse"`
	PurseRemaining decimal.Decimal `json:"purse_remaining"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CanAfford reports whether the team's remaining purse covers amount.
func (t *Team) CanAfford(amount decimal.Decimal) bool {
	return t.PurseRemaining.GreaterThanOrEqual(amount)
}
