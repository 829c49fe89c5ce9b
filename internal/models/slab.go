package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BidSlab is one price range with its minimum bid increment. UpTo is an
// exclusive upper bound; the last slab of a table must be unbounded.
type BidSlab struct {
	UpTo      decimal.Decimal `json:"up_to"`
	Unbounded bool            `json:"unbounded,omitempty"`
	Increment decimal.Decimal `json:"increment"`
}

// SlabTable is an ordered set of slabs partitioning [0, inf).
type SlabTable []BidSlab

// Validate checks that the table is ordered ascending, ends with an
// unbounded slab and carries strictly positive increments.
func (t SlabTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("slab table is empty")
	}
	prev := decimal.Zero
	for i, slab := range t {
		if !slab.Increment.IsPositive() {
			return fmt.Errorf("slab %d: increment %s is not positive", i, slab.Increment)
		}
		last := i == len(t)-1
		if slab.Unbounded != last {
			if slab.Unbounded {
				return fmt.Errorf("slab %d: unbounded slab must come last", i)
			}
			return fmt.Errorf("slab table must end with an unbounded slab")
		}
		if last {
			continue
		}
		if slab.UpTo.LessThanOrEqual(prev) {
			return fmt.Errorf("slab %d: upper bound %s does not exceed previous bound %s", i, slab.UpTo, prev)
		}
		prev = slab.UpTo
	}
	return nil
}
