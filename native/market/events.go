package market

import (
	"strconv"

	"openrate/core/types"
	"openrate/crypto"
)

const (
	EventTypeMintRegistered  = "ledger.mint.registered"
	EventTypeAccountCredited = "ledger.account.credited"
	EventTypeMarketCreated   = "market.created"
	EventTypeBidPlaced       = "market.bid.placed"
	EventTypeBidCancelled    = "market.bid.cancelled"
	EventTypeProceedsClaimed = "market.bid.proceeds_claimed"
	EventTypeBorrowed        = "market.borrowed"
	EventTypeRepaid          = "market.repaid"
	EventTypeMarketHalted    = "market.halted"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

func account(raw [20]byte) string { return crypto.AccountAddress(raw).String() }

func mintString(raw [20]byte) string { return crypto.MintAddress(raw).String() }

func amountString(v uint64) string { return strconv.FormatUint(v, 10) }

// NewMintRegisteredEvent returns the payload emitted when a mint is registered.
func NewMintRegisteredEvent(m *Mint) *types.Event {
	return &types.Event{
		Type: EventTypeMintRegistered,
		Attributes: map[string]string{
			"mint":     mintString(m.ID),
			"symbol":   m.Symbol,
			"decimals": strconv.FormatUint(uint64(m.Decimals), 10),
		},
	}
}

// NewAccountCreditedEvent returns the payload emitted for faucet credits.
func NewAccountCreditedEvent(owner, mint [20]byte, amount uint64) *types.Event {
	return &types.Event{
		Type: EventTypeAccountCredited,
		Attributes: map[string]string{
			"owner":  account(owner),
			"mint":   mintString(mint),
			"amount": amountString(amount),
		},
	}
}

// NewMarketCreatedEvent returns the payload emitted after InitializeMarket.
func NewMarketCreatedEvent(m *Market, v *Vault) *types.Event {
	return &types.Event{
		Type: EventTypeMarketCreated,
		Attributes: map[string]string{
			"market":         FormatID(m.ID),
			"mint":           mintString(m.Mint),
			"authority":      account(m.Authority),
			"vault":          FormatID(v.ID),
			"vaultAuthority": account(v.Authority),
		},
	}
}

func newBidEvent(eventType string, b *BidOrder) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"bid":       FormatID(b.ID),
			"market":    FormatID(b.Market),
			"lender":    account(b.Lender),
			"original":  amountString(b.Original),
			"remaining": amountString(b.Remaining),
			"rateBps":   strconv.FormatUint(uint64(b.RateBps), 10),
			"status":    b.Status.String(),
		},
	}
}

// NewBidPlacedEvent returns the payload emitted after PlaceBid.
func NewBidPlacedEvent(b *BidOrder) *types.Event { return newBidEvent(EventTypeBidPlaced, b) }

// NewBidCancelledEvent returns the payload emitted after CancelBid. refunded is
// the liquidity returned to the lender.
func NewBidCancelledEvent(b *BidOrder, refunded uint64) *types.Event {
	evt := newBidEvent(EventTypeBidCancelled, b)
	evt.Attributes["refunded"] = amountString(refunded)
	return evt
}

// NewProceedsClaimedEvent returns the payload emitted after ClaimProceeds.
func NewProceedsClaimedEvent(b *BidOrder, amount uint64) *types.Event {
	evt := newBidEvent(EventTypeProceedsClaimed, b)
	evt.Attributes["amount"] = amountString(amount)
	evt.Attributes["claimed"] = amountString(b.Claimed)
	return evt
}

func newBorrowEvent(eventType string, r *BorrowRecord) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"record":    FormatID(r.ID),
			"bid":       FormatID(r.Bid),
			"market":    FormatID(r.Market),
			"borrower":  account(r.Borrower),
			"principal": amountString(r.Principal),
			"rateBps":   strconv.FormatUint(uint64(r.RateBps), 10),
			"status":    r.Status.String(),
		},
	}
}

// NewBorrowedEvent returns the payload emitted after Borrow.
func NewBorrowedEvent(r *BorrowRecord) *types.Event { return newBorrowEvent(EventTypeBorrowed, r) }

// NewRepaidEvent returns the payload emitted after Repay.
func NewRepaidEvent(r *BorrowRecord) *types.Event {
	evt := newBorrowEvent(EventTypeRepaid, r)
	evt.Attributes["amountRepaid"] = amountString(r.AmountRepaid)
	evt.Attributes["interest"] = amountString(r.Interest)
	return evt
}

// NewMarketHaltedEvent returns the payload emitted when a consistency fault
// halts a market.
func NewMarketHaltedEvent(market [32]byte, reason string) *types.Event {
	return &types.Event{
		Type: EventTypeMarketHalted,
		Attributes: map[string]string{
			"market": FormatID(market),
			"reason": reason,
		},
	}
}
