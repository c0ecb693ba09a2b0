// Package api holds the JSON bodies exchanged with openrated. Token amounts are
// decimal strings in base units so no client loses precision above 2^53.
package api

import "time"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

type InitializeMarketRequest struct {
	Mint string `json:"mint"`
}

type PlaceBidRequest struct {
	Amount  string `json:"amount"`
	RateBps uint16 `json:"rateBps"`
}

type BorrowRequest struct {
	Amount string `json:"amount"`
}

type RegisterMintRequest struct {
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type CreditRequest struct {
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

type Mint struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Decimals  uint8     `json:"decimals"`
	CreatedAt time.Time `json:"createdAt"`
}

type Market struct {
	ID            string    `json:"id"`
	Mint          string    `json:"mint"`
	Authority     string    `json:"authority"`
	Vault         string    `json:"vault"`
	TotalBorrowed string    `json:"totalBorrowed"`
	BidCount      uint64    `json:"bidCount"`
	CreatedAt     time.Time `json:"createdAt"`
	Halted        bool      `json:"halted"`
	HaltReason    string    `json:"haltReason,omitempty"`
}

// Report is a point-in-time vault reconciliation.
type Report struct {
	Principal     string `json:"principal"`
	Proceeds      string `json:"proceeds"`
	TotalBorrowed string `json:"totalBorrowed"`
	BidRemaining  string `json:"bidRemaining"`
	BidProceeds   string `json:"bidProceeds"`
	Holdings      string `json:"holdings"`
	Conserved     bool   `json:"conserved"`
	Backed        bool   `json:"backed"`
}

type Vault struct {
	ID        string `json:"id"`
	Market    string `json:"market"`
	Mint      string `json:"mint"`
	Authority string `json:"authority"`
	Principal string `json:"principal"`
	Proceeds  string `json:"proceeds"`
	Report    Report `json:"report"`
}

type InitializeMarketResponse struct {
	Market Market `json:"market"`
	Vault  Vault  `json:"vault"`
}

type Bid struct {
	ID          string    `json:"id"`
	Lender      string    `json:"lender"`
	Market      string    `json:"market"`
	Original    string    `json:"original"`
	Remaining   string    `json:"remaining"`
	RateBps     uint16    `json:"rateBps"`
	Status      string    `json:"status"`
	BorrowCount uint64    `json:"borrowCount"`
	Proceeds    string    `json:"proceeds"`
	Claimed     string    `json:"claimed"`
	CreatedAt   time.Time `json:"createdAt"`
}

type BidList struct {
	Bids []Bid `json:"bids"`
}

type CancelBidResponse struct {
	Bid      Bid    `json:"bid"`
	Refunded string `json:"refunded"`
}

type ClaimResponse struct {
	Bid     Bid    `json:"bid"`
	Claimed string `json:"claimed"`
}

// Borrow is a borrow record. AmountDue and InterestDue quote repayment at the
// time of the request for active records.
type Borrow struct {
	ID           string     `json:"id"`
	Borrower     string     `json:"borrower"`
	Bid          string     `json:"bid"`
	Market       string     `json:"market"`
	Principal    string     `json:"principal"`
	RateBps      uint16     `json:"rateBps"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"startedAt"`
	RepaidAt     *time.Time `json:"repaidAt,omitempty"`
	AmountRepaid string     `json:"amountRepaid"`
	Interest     string     `json:"interest"`
	AmountDue    string     `json:"amountDue,omitempty"`
	InterestDue  string     `json:"interestDue,omitempty"`
}

type Balance struct {
	Owner  string `json:"owner"`
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
}

type Health struct {
	Status        string   `json:"status"`
	HaltedMarkets []string `json:"haltedMarkets,omitempty"`
}

// Event is one ledger event delivered over the websocket feed.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Export describes an audit export run.
type Export struct {
	RunID       string    `json:"runId"`
	Directory   string    `json:"directory"`
	VaultsPath  string    `json:"vaultsPath"`
	BidsPath    string    `json:"bidsPath"`
	BorrowsPath string    `json:"borrowsPath"`
	Vaults      int       `json:"vaults"`
	Bids        int       `json:"bids"`
	Borrows     int       `json:"borrows"`
	CreatedAt   time.Time `json:"createdAt"`
}
