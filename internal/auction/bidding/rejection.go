package bidding

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Reason classifies why a bid or auctioneer action was refused. These are
// expected business outcomes, returned to the caller, never fatal.
type Reason string

const (
	ReasonAuctionNotLive    Reason = "AUCTION_NOT_LIVE"
	ReasonInsufficientFunds Reason = "INSUFFICIENT_FUNDS"
	ReasonBidTooLow         Reason = "BID_TOO_LOW"
	ReasonRoundNotActive    Reason = "ROUND_NOT_ACTIVE"
	ReasonUndoWindowExpired Reason = "UNDO_WINDOW_EXPIRED"
	ReasonNoBidToUndo       Reason = "NO_BID_TO_UNDO"
	ReasonNotHighestBidder  Reason = "NOT_HIGHEST_BIDDER_ELIGIBLE"
	ReasonQueueExhausted    Reason = "QUEUE_EXHAUSTED"
)

// Rejection is a typed refusal. It carries enough context for the caller to
// retry with a corrected value without another state query.
type Rejection struct {
	Reason         Reason          `json:"reason"`
	Message        string          `json:"message"`
	CurrentBid     decimal.Decimal `json:"current_bid"`
	NextValidBid   decimal.Decimal `json:"next_valid_bid"`
	PurseRemaining decimal.Decimal `json:"purse_remaining"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// AsRejection unwraps err into a *Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Reject builds a bare rejection with a formatted message.
func Reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
