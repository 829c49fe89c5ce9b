// Package bidding implements the pure bid validation rules: slab-based
// minimum increments and affordability checks. Nothing here touches the
// round state machine or storage.
package bidding

import (
	"github.com/gavel-io/gavel/internal/models"
	"github.com/shopspring/decimal"
)

// NextIncrement returns the minimum raise over currentBid: the increment of
// the first slab whose upper bound exceeds currentBid, or of the unbounded
// slab. Pure function of its inputs.
func NextIncrement(currentBid decimal.Decimal, slabs models.SlabTable) decimal.Decimal {
	for _, slab := range slabs {
		if slab.Unbounded || currentBid.LessThan(slab.UpTo) {
			return slab.Increment
		}
	}
	// Validate() guarantees an unbounded tail slab; an empty table has no
	// sensible increment.
	return decimal.Zero
}

// MinimumRaise returns the exact amount a standard raise must carry.
func MinimumRaise(currentBid decimal.Decimal, slabs models.SlabTable) decimal.Decimal {
	return currentBid.Add(NextIncrement(currentBid, slabs))
}

// Validate checks a proposed bid against the current bid, the slab table and
// the bidding team's remaining purse. A standard raise must equal the current
// bid plus the slab increment exactly. A jump bid only has to exceed the
// current bid: jump bids deliberately bypass stepwise slab discipline in
// favor of auctioneer flexibility, and are gated by the allowJump policy.
// Both forms must be affordable.
func Validate(proposed, currentBid decimal.Decimal, slabs models.SlabTable, purse decimal.Decimal, isJump, allowJump bool) error {
	minRaise := MinimumRaise(currentBid, slabs)

	if isJump && allowJump {
		if proposed.LessThanOrEqual(currentBid) {
			return &Rejection{
				Reason:         ReasonBidTooLow,
				Message:        "jump bid must exceed the current bid",
				CurrentBid:     currentBid,
				NextValidBid:   minRaise,
				PurseRemaining: purse,
			}
		}
	} else if !proposed.Equal(minRaise) {
		return &Rejection{
			Reason:         ReasonBidTooLow,
			Message:        "raise must equal current bid plus slab increment",
			CurrentBid:     currentBid,
			NextValidBid:   minRaise,
			PurseRemaining: purse,
		}
	}

	if purse.LessThan(proposed) {
		return &Rejection{
			Reason:         ReasonInsufficientFunds,
			Message:        "remaining purse does not cover the bid",
			CurrentBid:     currentBid,
			NextValidBid:   minRaise,
			PurseRemaining: purse,
		}
	}
	return nil
}
