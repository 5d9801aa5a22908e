package deriv

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"trading-loop/pkg/venue"
)

var _ venue.Client = (*Client)(nil)

// Authorize logs the connection in with an API token. The token is remembered and
// replayed when the connection is re-dialled.
func (c *Client) Authorize(ctx context.Context, token string) (*venue.Account, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}
	acct, err := c.authorizeOn(ctx, conn, token)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cfg.Token = token
	c.mu.Unlock()
	return acct, nil
}

func (c *Client) authorizeOn(ctx context.Context, conn *websocket.Conn, token string) (*venue.Account, error) {
	var acct venue.Account
	if err := c.roundTrip(ctx, conn, map[string]any{"authorize": token}, "authorize", &acct); err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	return &acct, nil
}

func (c *Client) Balance(ctx context.Context) (*venue.Balance, error) {
	var bal venue.Balance
	if err := c.call(ctx, map[string]any{"balance": 1}, "balance", &bal); err != nil {
		return nil, err
	}
	return &bal, nil
}

// AssetIndex returns the brief active symbol list.
func (c *Client) AssetIndex(ctx context.Context) ([]venue.Symbol, error) {
	var symbols []venue.Symbol
	if err := c.call(ctx, map[string]any{"active_symbols": "brief"}, "active_symbols", &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

func (c *Client) Contracts(ctx context.Context, instrument string) ([]venue.ContractOffering, error) {
	var resp struct {
		Available []venue.ContractOffering `json:"available"`
	}
	req := map[string]any{"contracts_for": instrument, "currency": c.cfg.Currency}
	if err := c.call(ctx, req, "contracts_for", &resp); err != nil {
		return nil, err
	}
	return resp.Available, nil
}

func (c *Client) HistoricalCandles(ctx context.Context, instrument string, count, granularity int) ([]venue.Candle, error) {
	var candles []venue.Candle
	req := map[string]any{
		"ticks_history": instrument,
		"end":           "latest",
		"count":         count,
		"style":         "candles",
		"granularity":   granularity,
	}
	if err := c.call(ctx, req, "candles", &candles); err != nil {
		return nil, err
	}
	return candles, nil
}

func (c *Client) Proposal(ctx context.Context, p venue.ProposalRequest) (*venue.Proposal, error) {
	currency := p.Currency
	if currency == "" {
		currency = c.cfg.Currency
	}
	var prop venue.Proposal
	req := map[string]any{
		"proposal":      1,
		"symbol":        p.Instrument,
		"contract_type": p.ContractType,
		"duration":      p.Duration,
		"duration_unit": p.DurationUnit,
		"currency":      currency,
		"amount":        p.Stake,
		"basis":         "stake",
	}
	if err := c.call(ctx, req, "proposal", &prop); err != nil {
		return nil, err
	}
	return &prop, nil
}

func (c *Client) Buy(ctx context.Context, proposalID string, price float64) (*venue.BuyReceipt, error) {
	var receipt venue.BuyReceipt
	if err := c.call(ctx, map[string]any{"buy": proposalID, "price": price}, "buy", &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// Sell sells a contract; price 0 sells at market.
func (c *Client) Sell(ctx context.Context, contractID int64, price float64) (*venue.SellReceipt, error) {
	var receipt venue.SellReceipt
	if err := c.call(ctx, map[string]any{"sell": contractID, "price": price}, "sell", &receipt); err != nil {
		return nil, err
	}
	if receipt.ContractID == 0 {
		receipt.ContractID = contractID
	}
	return &receipt, nil
}

func (c *Client) Portfolio(ctx context.Context) ([]venue.PortfolioContract, error) {
	var resp struct {
		Contracts []venue.PortfolioContract `json:"contracts"`
	}
	if err := c.call(ctx, map[string]any{"portfolio": 1}, "portfolio", &resp); err != nil {
		return nil, err
	}
	return resp.Contracts, nil
}

// ContractDetail fetches proposal_open_contract. The venue answers an unknown id with an
// empty object, which is reported as venue.ErrContractNotFound.
func (c *Client) ContractDetail(ctx context.Context, contractID int64) (*venue.ContractDetail, error) {
	var detail venue.ContractDetail
	req := map[string]any{"proposal_open_contract": 1, "contract_id": contractID}
	if err := c.call(ctx, req, "proposal_open_contract", &detail); err != nil {
		return nil, err
	}
	if detail.ContractID == 0 {
		return nil, fmt.Errorf("contract %d: %w", contractID, venue.ErrContractNotFound)
	}
	return &detail, nil
}
