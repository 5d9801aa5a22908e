// Package venue defines the brokerage client surface consumed by the trading loop.
package venue

import (
	"context"
	"time"
)

// Contract types supported by the loop.
const (
	ContractCall = "CALL"
	ContractPut  = "PUT"
)

// Client is the asynchronous brokerage client. Every method returns either a decoded
// success payload or an error; error payloads from the venue surface as *APIError.
type Client interface {
	Authorize(ctx context.Context, token string) (*Account, error)
	Balance(ctx context.Context) (*Balance, error)
	AssetIndex(ctx context.Context) ([]Symbol, error)
	Contracts(ctx context.Context, instrument string) ([]ContractOffering, error)
	HistoricalCandles(ctx context.Context, instrument string, count, granularity int) ([]Candle, error)
	Proposal(ctx context.Context, req ProposalRequest) (*Proposal, error)
	Buy(ctx context.Context, proposalID string, price float64) (*BuyReceipt, error)
	Sell(ctx context.Context, contractID int64, price float64) (*SellReceipt, error)
	Portfolio(ctx context.Context) ([]PortfolioContract, error)
	ContractDetail(ctx context.Context, contractID int64) (*ContractDetail, error)
	Close() error
}

// Account is returned by Authorize.
type Account struct {
	LoginID   string  `json:"loginid"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	IsVirtual Flag    `json:"is_virtual"`
}

// Balance is the account cash balance.
type Balance struct {
	Amount   float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Symbol is an entry of the venue's active symbol list.
type Symbol struct {
	Symbol             string `json:"symbol"`
	DisplayName        string `json:"display_name"`
	Market             string `json:"market"`
	IsTradingSuspended Flag   `json:"is_trading_suspended"`
	ExchangeIsOpen     Flag   `json:"exchange_is_open"`
}

// ContractOffering describes one contract type tradable on an instrument together with
// the duration range the venue allows for it.
type ContractOffering struct {
	ContractType string `json:"contract_type"`
	MinDuration  string `json:"min_contract_duration"`
	MaxDuration  string `json:"max_contract_duration"`
}

// Candle is one OHLC bar.
type Candle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Time returns the bar open time.
func (c Candle) Time() time.Time { return time.Unix(c.Epoch, 0).UTC() }

// ProposalRequest asks the venue to price a contract.
type ProposalRequest struct {
	Instrument   string
	ContractType string
	Duration     int
	DurationUnit string
	Stake        float64
	Currency     string
}

// Proposal is a priced, buyable contract offer.
type Proposal struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
	Spot     float64 `json:"spot"`
}

// BuyReceipt confirms a purchased contract.
type BuyReceipt struct {
	ContractID    int64   `json:"contract_id"`
	BuyPrice      float64 `json:"buy_price"`
	Payout        float64 `json:"payout"`
	ShortCode     string  `json:"shortcode"`
	TransactionID int64   `json:"transaction_id"`
	StartTime     int64   `json:"start_time"`
}

// SellReceipt confirms an early sale.
type SellReceipt struct {
	ContractID    int64   `json:"contract_id"`
	SoldFor       float64 `json:"sold_for"`
	BalanceAfter  float64 `json:"balance_after"`
	TransactionID int64   `json:"transaction_id"`
}

// PortfolioContract is an open contract as listed by the venue.
type PortfolioContract struct {
	ContractID   int64   `json:"contract_id"`
	ContractType string  `json:"contract_type"`
	Symbol       string  `json:"symbol"`
	BuyPrice     float64 `json:"buy_price"`
	Payout       float64 `json:"payout"`
	ShortCode    string  `json:"shortcode"`
	PurchaseTime int64   `json:"purchase_time"`
	ExpiryTime   int64   `json:"expiry_time"`
	// IsResaleOffered is nil when the venue does not report it.
	IsResaleOffered *Flag `json:"is_resale_offered,omitempty"`
}

// ContractDetail is the live state of a contract.
type ContractDetail struct {
	ContractID       int64   `json:"contract_id"`
	ContractType     string  `json:"contract_type"`
	Underlying       string  `json:"underlying"`
	BuyPrice         float64 `json:"buy_price"`
	Payout           float64 `json:"payout"`
	BidPrice         float64 `json:"bid_price"`
	SellPrice        float64 `json:"sell_price"`
	CurrentSpot      float64 `json:"current_spot"`
	Profit           float64 `json:"profit"`
	ProfitPercentage float64 `json:"profit_percentage"`
	IsSold           Flag    `json:"is_sold"`
	IsExpired        Flag    `json:"is_expired"`
	IsSettleable     Flag    `json:"is_settleable"`
	IsValidToSell    Flag    `json:"is_valid_to_sell"`
	Status           string  `json:"status"`
	ValidationError  string  `json:"validation_error"`
}

// Closed reports whether the venue considers the contract finished.
// An expired contract still reported as open is awaiting settlement and has
// no final value yet.
func (d *ContractDetail) Closed() bool {
	if d.IsSold {
		return true
	}
	switch d.Status {
	case "won", "lost", "sold":
		return true
	}
	return bool(d.IsExpired) && (d.SellPrice > 0 || (d.Status != "" && d.Status != "open"))
}

// FinalValue is the amount the contract returned to the account once closed.
func (d *ContractDetail) FinalValue() float64 {
	if d.SellPrice > 0 || bool(d.IsSold) {
		return d.SellPrice
	}
	if d.Status == "won" {
		return d.Payout
	}
	return 0
}
