// Package paper is an in-memory venue used for dry runs and tests. Prices follow a seeded
// random walk; contracts settle at expiry against the simulated spot.
package paper

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"trading-loop/pkg/venue"
)

// Config tunes the simulation.
type Config struct {
	InitialBalance float64
	Currency       string
	Instruments    []string
	Seed           int64
	PayoutRatio    float64 // net return on a winning stake, e.g. 0.95
	Volatility     float64 // per-step relative move of the random walk
	StartPrice     float64
	MinDuration    string
	MaxDuration    string
	Now            func() time.Time
}

type contract struct {
	id         int64
	instrument string
	kind       string
	buyPrice   float64
	payout     float64
	entrySpot  float64
	expiry     time.Time
	purchased  time.Time
	sold       bool
	sellPrice  float64
	settled    bool
	won        bool
	noResale   bool
}

type proposal struct {
	req    venue.ProposalRequest
	ask    float64
	payout float64
	expiry time.Time
}

// Venue implements venue.Client.
type Venue struct {
	cfg Config

	mu         sync.Mutex
	rng        *rand.Rand
	balance    float64
	spots      map[string]float64
	history    map[string][]venue.Candle
	proposals  map[string]proposal
	contracts  map[int64]*contract
	failures   map[string]int
	nextID     int64
	authorized bool
}

var _ venue.Client = (*Venue)(nil)

// New creates a paper venue with seeded price history for every configured instrument.
func New(cfg Config) *Venue {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.PayoutRatio <= 0 {
		cfg.PayoutRatio = 0.95
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.01
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.MinDuration == "" {
		cfg.MinDuration = "1m"
	}
	if cfg.MaxDuration == "" {
		cfg.MaxDuration = "365d"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	v := &Venue{
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		balance:   cfg.InitialBalance,
		spots:     make(map[string]float64),
		history:   make(map[string][]venue.Candle),
		proposals: make(map[string]proposal),
		contracts: make(map[int64]*contract),
		failures:  make(map[string]int),
		nextID:    1000,
	}
	for _, inst := range cfg.Instruments {
		v.spots[inst] = cfg.StartPrice * (0.5 + float64(seedFor(inst)%100)/100)
	}
	return v
}

func seedFor(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// SetCandles replaces the price history served for an instrument and moves its spot to
// the last close.
func (v *Venue) SetCandles(instrument string, candles []venue.Candle) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.history[instrument] = append([]venue.Candle(nil), candles...)
	if n := len(candles); n > 0 {
		v.spots[instrument] = candles[n-1].Close
	} else if _, ok := v.spots[instrument]; !ok {
		v.spots[instrument] = v.cfg.StartPrice
	}
}

// SetSpot pins the simulated spot price of an instrument.
func (v *Venue) SetSpot(instrument string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.spots[instrument] = price
}

// FailNext makes the next n calls of the named method fail with a transient error.
func (v *Venue) FailNext(method string, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[method] = n
}

// DisableResale makes future sells of the contract fail with "resale not offered".
func (v *Venue) DisableResale(contractID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.contracts[contractID]; ok {
		c.noResale = true
	}
}

// Forget drops a contract so the venue reports it as unknown.
func (v *Venue) Forget(contractID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.contracts, contractID)
}

// Expire forces a contract to its expiry time.
func (v *Venue) Expire(contractID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.contracts[contractID]; ok {
		c.expiry = v.cfg.Now()
	}
}

// Inject registers a contract that was opened outside this process.
func (v *Venue) Inject(instrument, kind string, buyPrice, payout float64, expiry time.Time) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	v.contracts[v.nextID] = &contract{
		id:         v.nextID,
		instrument: instrument,
		kind:       kind,
		buyPrice:   buyPrice,
		payout:     payout,
		entrySpot:  v.spotLocked(instrument),
		expiry:     expiry,
		purchased:  v.cfg.Now(),
	}
	return v.nextID
}

// BalanceAmount returns the simulated cash balance.
func (v *Venue) BalanceAmount() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance
}

func (v *Venue) fail(method string) error {
	if n := v.failures[method]; n > 0 {
		v.failures[method] = n - 1
		return &venue.APIError{Code: "RateLimit", Message: "simulated transient failure", MsgType: method}
	}
	return nil
}

func (v *Venue) spotLocked(instrument string) float64 {
	spot, ok := v.spots[instrument]
	if !ok {
		spot = v.cfg.StartPrice
		v.spots[instrument] = spot
	}
	return spot
}

func (v *Venue) stepLocked(instrument string) float64 {
	spot := v.spotLocked(instrument)
	spot *= 1 + v.rng.NormFloat64()*v.cfg.Volatility
	if spot <= 0 {
		spot = 0.0001
	}
	v.spots[instrument] = spot
	return spot
}

func (v *Venue) Authorize(ctx context.Context, token string) (*venue.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("authorize"); err != nil {
		return nil, err
	}
	v.authorized = true
	return &venue.Account{LoginID: "VRTC0000", Currency: v.cfg.Currency, Balance: v.balance, IsVirtual: true}, nil
}

func (v *Venue) Balance(ctx context.Context) (*venue.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("balance"); err != nil {
		return nil, err
	}
	return &venue.Balance{Amount: v.balance, Currency: v.cfg.Currency}, nil
}

func (v *Venue) AssetIndex(ctx context.Context) ([]venue.Symbol, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("active_symbols"); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(v.spots))
	for inst := range v.spots {
		names = append(names, inst)
	}
	sort.Strings(names)
	out := make([]venue.Symbol, 0, len(names))
	for _, inst := range names {
		out = append(out, venue.Symbol{Symbol: inst, DisplayName: inst, Market: "forex", ExchangeIsOpen: true})
	}
	return out, nil
}

func (v *Venue) Contracts(ctx context.Context, instrument string) ([]venue.ContractOffering, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("contracts_for"); err != nil {
		return nil, err
	}
	return []venue.ContractOffering{
		{ContractType: venue.ContractCall, MinDuration: v.cfg.MinDuration, MaxDuration: v.cfg.MaxDuration},
		{ContractType: venue.ContractPut, MinDuration: v.cfg.MinDuration, MaxDuration: v.cfg.MaxDuration},
	}, nil
}

// HistoricalCandles serves injected history when present, otherwise a random walk ending
// at the current spot.
func (v *Venue) HistoricalCandles(ctx context.Context, instrument string, count, granularity int) ([]venue.Candle, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("ticks_history"); err != nil {
		return nil, err
	}
	if h, ok := v.history[instrument]; ok {
		if len(h) > count {
			h = h[len(h)-count:]
		}
		return append([]venue.Candle(nil), h...), nil
	}
	if _, ok := v.spots[instrument]; !ok {
		return nil, &venue.APIError{Code: "InvalidSymbol", Message: fmt.Sprintf("symbol %s not offered", instrument), MsgType: "ticks_history"}
	}

	rng := rand.New(rand.NewSource(int64(seedFor(instrument))))
	closes := make([]float64, count)
	price := v.spots[instrument]
	for i := count - 1; i >= 0; i-- {
		closes[i] = price
		price /= 1 + rng.NormFloat64()*v.cfg.Volatility
	}
	end := v.cfg.Now().Unix()
	out := make([]venue.Candle, count)
	prev := closes[0]
	for i, c := range closes {
		spread := math.Abs(c-prev) + c*v.cfg.Volatility*rng.Float64()
		out[i] = venue.Candle{
			Epoch: end - int64((count-1-i)*granularity),
			Open:  prev,
			High:  math.Max(prev, c) + spread/2,
			Low:   math.Min(prev, c) - spread/2,
			Close: c,
		}
		prev = c
	}
	return out, nil
}

func (v *Venue) Proposal(ctx context.Context, req venue.ProposalRequest) (*venue.Proposal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("proposal"); err != nil {
		return nil, err
	}
	if req.Stake <= 0 {
		return nil, &venue.APIError{Code: "ContractBuyValidationError", Message: "stake must be positive", MsgType: "proposal"}
	}
	secs, err := venue.ParseDuration(fmt.Sprintf("%d%s", req.Duration, req.DurationUnit))
	if err != nil {
		return nil, &venue.APIError{Code: "OfferingsValidationError", Message: err.Error(), MsgType: "proposal"}
	}
	id := uuid.NewString()
	p := proposal{
		req:    req,
		ask:    req.Stake,
		payout: math.Round(req.Stake*(1+v.cfg.PayoutRatio)*100) / 100,
		expiry: v.cfg.Now().Add(time.Duration(secs) * time.Second),
	}
	v.proposals[id] = p
	return &venue.Proposal{ID: id, AskPrice: p.ask, Payout: p.payout, Spot: v.spotLocked(req.Instrument)}, nil
}

func (v *Venue) Buy(ctx context.Context, proposalID string, price float64) (*venue.BuyReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("buy"); err != nil {
		return nil, err
	}
	p, ok := v.proposals[proposalID]
	if !ok {
		return nil, &venue.APIError{Code: "InvalidProposal", Message: "proposal expired or unknown", MsgType: "buy"}
	}
	delete(v.proposals, proposalID)
	if price < p.ask {
		return nil, &venue.APIError{Code: "PriceMoved", Message: "price moved", MsgType: "buy"}
	}
	if p.ask > v.balance {
		return nil, &venue.APIError{Code: "InsufficientBalance", Message: "insufficient balance", MsgType: "buy"}
	}
	v.balance -= p.ask
	v.nextID++
	now := v.cfg.Now()
	c := &contract{
		id:         v.nextID,
		instrument: p.req.Instrument,
		kind:       p.req.ContractType,
		buyPrice:   p.ask,
		payout:     p.payout,
		entrySpot:  v.spotLocked(p.req.Instrument),
		expiry:     p.expiry,
		purchased:  now,
	}
	v.contracts[c.id] = c
	log.WithFields(log.Fields{"contract_id": c.id, "instrument": c.instrument, "type": c.kind}).Debug("paper buy")
	return &venue.BuyReceipt{
		ContractID:    c.id,
		BuyPrice:      c.buyPrice,
		Payout:        c.payout,
		ShortCode:     fmt.Sprintf("%s_%s_%d", c.kind, c.instrument, c.expiry.Unix()),
		TransactionID: c.id * 10,
		StartTime:     now.Unix(),
	}, nil
}

// bid values an open contract from the distance between spot and entry.
func (v *Venue) bid(c *contract, spot float64) float64 {
	move := (spot - c.entrySpot) / c.entrySpot
	if c.kind == venue.ContractPut {
		move = -move
	}
	fair := c.buyPrice * (1 + move/v.cfg.Volatility*0.1)
	return math.Round(math.Max(0, math.Min(c.payout, fair))*100) / 100
}

func (v *Venue) settleLocked(c *contract) {
	if c.settled || c.sold {
		return
	}
	if v.cfg.Now().Before(c.expiry) {
		return
	}
	spot := v.spotLocked(c.instrument)
	c.won = (c.kind == venue.ContractCall && spot > c.entrySpot) || (c.kind == venue.ContractPut && spot < c.entrySpot)
	c.settled = true
	if c.won {
		c.sellPrice = c.payout
		v.balance += c.payout
	}
}

func (v *Venue) Sell(ctx context.Context, contractID int64, price float64) (*venue.SellReceipt, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("sell"); err != nil {
		return nil, err
	}
	c, ok := v.contracts[contractID]
	if !ok {
		return nil, &venue.APIError{Code: "InvalidContractId", Message: "contract not found", MsgType: "sell"}
	}
	v.settleLocked(c)
	if c.noResale {
		return nil, &venue.APIError{Code: "InvalidSellContractProposal", Message: "Resale of this contract is not offered.", MsgType: "sell"}
	}
	if c.sold || c.settled {
		return nil, &venue.APIError{Code: "InvalidSellContractProposal", Message: "contract already closed", MsgType: "sell"}
	}
	bid := v.bid(c, v.spotLocked(c.instrument))
	if price > 0 && bid < price {
		return nil, &venue.APIError{Code: "PriceMoved", Message: "bid below requested price", MsgType: "sell"}
	}
	c.sold = true
	c.sellPrice = bid
	v.balance += bid
	return &venue.SellReceipt{ContractID: contractID, SoldFor: bid, BalanceAfter: v.balance, TransactionID: contractID*10 + 1}, nil
}

func (v *Venue) Portfolio(ctx context.Context) ([]venue.PortfolioContract, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("portfolio"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(v.contracts))
	for id := range v.contracts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]venue.PortfolioContract, 0, len(ids))
	for _, id := range ids {
		c := v.contracts[id]
		v.settleLocked(c)
		if c.sold || c.settled {
			continue
		}
		offered := venue.Flag(!c.noResale)
		out = append(out, venue.PortfolioContract{
			ContractID:      c.id,
			ContractType:    c.kind,
			Symbol:          c.instrument,
			BuyPrice:        c.buyPrice,
			Payout:          c.payout,
			ShortCode:       fmt.Sprintf("%s_%s_%d", c.kind, c.instrument, c.expiry.Unix()),
			PurchaseTime:    c.purchased.Unix(),
			ExpiryTime:      c.expiry.Unix(),
			IsResaleOffered: &offered,
		})
	}
	return out, nil
}

// ContractDetail advances the instrument's random walk one step and reports the contract.
func (v *Venue) ContractDetail(ctx context.Context, contractID int64) (*venue.ContractDetail, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.fail("proposal_open_contract"); err != nil {
		return nil, err
	}
	c, ok := v.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("contract %d: %w", contractID, venue.ErrContractNotFound)
	}
	spot := v.spotLocked(c.instrument)
	if !c.sold && !c.settled {
		spot = v.stepLocked(c.instrument)
	}
	v.settleLocked(c)

	d := &venue.ContractDetail{
		ContractID:   c.id,
		ContractType: c.kind,
		Underlying:   c.instrument,
		BuyPrice:     c.buyPrice,
		Payout:       c.payout,
		CurrentSpot:  spot,
		IsSold:       venue.Flag(c.sold),
		IsExpired:    venue.Flag(c.settled),
		IsSettleable: venue.Flag(c.settled),
		Status:       "open",
	}
	switch {
	case c.sold:
		d.Status = "sold"
		d.SellPrice = c.sellPrice
	case c.settled && c.won:
		d.Status = "won"
		d.SellPrice = c.sellPrice
	case c.settled:
		d.Status = "lost"
	default:
		d.BidPrice = v.bid(c, spot)
		d.IsValidToSell = venue.Flag(!c.noResale)
		if c.noResale {
			d.ValidationError = "Resale of this contract is not offered."
		}
	}
	value := d.BidPrice
	if d.Status != "open" {
		value = d.SellPrice
	}
	d.Profit = math.Round((value-c.buyPrice)*100) / 100
	if c.buyPrice > 0 {
		d.ProfitPercentage = math.Round((value-c.buyPrice)/c.buyPrice*10000) / 100
	}
	return d, nil
}

func (v *Venue) Close() error { return nil }
