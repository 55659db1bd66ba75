package deriv

// Vendor message shapes for the Deriv WebSocket API (v3). Field sets follow
// the broker's JSON schema; only the fields this system reads are declared.
// The wire protocol itself is the broker's — these are bindings, not a design.

// Authorize is the response to an authorize call.
type Authorize struct {
	LoginID            string   `json:"loginid"`
	Email              string   `json:"email"`
	Currency           string   `json:"currency"`
	Balance            float64  `json:"balance"`
	IsVirtual          int      `json:"is_virtual"`
	LandingCompanyName string   `json:"landing_company_name"`
	Fullname           string   `json:"fullname"`
	Scopes             []string `json:"scopes"`
}

// Balance is the response to a balance call.
type Balance struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	LoginID  string  `json:"loginid"`
}

// Tick is a single price update for a symbol, streamed or historical.
type Tick struct {
	ID      string  `json:"id,omitempty"`
	Symbol  string  `json:"symbol"`
	Quote   float64 `json:"quote"`
	Epoch   int64   `json:"epoch"`
	PipSize int     `json:"pip_size"`
}

// History is the response to a ticks_history call (style "ticks").
type History struct {
	Prices []float64 `json:"prices"`
	Times  []int64   `json:"times"`
}

// ActiveSymbol describes one tradable symbol from active_symbols.
type ActiveSymbol struct {
	Symbol               string  `json:"symbol"`
	DisplayName          string  `json:"display_name"`
	Market               string  `json:"market"`
	MarketDisplayName    string  `json:"market_display_name"`
	Submarket            string  `json:"submarket"`
	SubmarketDisplay     string  `json:"submarket_display_name"`
	Pip                  float64 `json:"pip"`
	ExchangeIsOpen       int     `json:"exchange_is_open"`
	IsTradingSuspended   int     `json:"is_trading_suspended"`
	AllowForwardStarting int     `json:"allow_forward_starting"`
}

// Tradable reports whether contracts can currently be bought on the symbol.
func (s ActiveSymbol) Tradable() bool {
	return s.ExchangeIsOpen == 1 && s.IsTradingSuspended == 0
}

// ProposalRequest describes the contract to be priced. Duration is always in
// ticks for this system (duration_unit "t"), stake-basis pricing.
type ProposalRequest struct {
	ContractType  string  // CALL, PUT, DIGITOVER, DIGITUNDER, DIGITEVEN, DIGITODD, DIGITMATCH, DIGITDIFF
	Symbol        string  // e.g. R_100
	Amount        float64 // stake in account currency
	Currency      string  // e.g. USD
	DurationTicks int     // contract length in ticks
	Barrier       string  // digit prediction ("4") or price offset ("+0.37"); empty when not applicable
}

func (r ProposalRequest) toRequest() map[string]interface{} {
	req := map[string]interface{}{
		"proposal":      1,
		"amount":        r.Amount,
		"basis":         "stake",
		"contract_type": r.ContractType,
		"currency":      r.Currency,
		"duration":      r.DurationTicks,
		"duration_unit": "t",
		"symbol":        r.Symbol,
	}
	if r.Barrier != "" {
		req["barrier"] = r.Barrier
	}
	return req
}

// Proposal is a priced quote for a potential purchase.
type Proposal struct {
	ID           string  `json:"id"`
	AskPrice     float64 `json:"ask_price"`
	Payout       float64 `json:"payout"`
	Spot         float64 `json:"spot"`
	SpotTime     int64   `json:"spot_time"`
	DateStart    int64   `json:"date_start"`
	DisplayValue string  `json:"display_value"`
	Longcode     string  `json:"longcode"`
}

// Buy is the confirmation of a contract purchase.
type Buy struct {
	ContractID    int64   `json:"contract_id"`
	BuyPrice      float64 `json:"buy_price"`
	Payout        float64 `json:"payout"`
	TransactionID int64   `json:"transaction_id"`
	PurchaseTime  int64   `json:"purchase_time"`
	StartTime     int64   `json:"start_time"`
	BalanceAfter  float64 `json:"balance_after"`
	Longcode      string  `json:"longcode"`
}

// SellResult is the confirmation of an early close.
type SellResult struct {
	ContractID    int64   `json:"contract_id"`
	SoldFor       float64 `json:"sold_for"`
	TransactionID int64   `json:"transaction_id"`
	BalanceAfter  float64 `json:"balance_after"`
}

// Contract status values reported by proposal_open_contract.
const (
	StatusOpen      = "open"
	StatusWon       = "won"
	StatusLost      = "lost"
	StatusSold      = "sold"
	StatusCancelled = "cancelled"
)

// Contract types this system trades.
const (
	ContractCall       = "CALL"
	ContractPut        = "PUT"
	ContractDigitOver  = "DIGITOVER"
	ContractDigitUnder = "DIGITUNDER"
	ContractDigitEven  = "DIGITEVEN"
	ContractDigitOdd   = "DIGITODD"
	ContractDigitMatch = "DIGITMATCH"
	ContractDigitDiff  = "DIGITDIFF"
)

// OpenContract is one state snapshot of a purchased contract, received on a
// proposal_open_contract stream or from a one-shot poll.
type OpenContract struct {
	ContractID    int64   `json:"contract_id"`
	ContractType  string  `json:"contract_type"`
	Underlying    string  `json:"underlying"`
	Status        string  `json:"status"`
	IsExpired     int     `json:"is_expired"`
	IsSold        int     `json:"is_sold"`
	IsValidToSell int     `json:"is_valid_to_sell"`
	BuyPrice      float64 `json:"buy_price"`
	BidPrice      float64 `json:"bid_price"`
	SellPrice     float64 `json:"sell_price"`
	Payout        float64 `json:"payout"`
	Profit        float64 `json:"profit"`
	EntrySpot     float64 `json:"entry_spot"`
	ExitTick      float64 `json:"exit_tick"`
	ExitTickTime  int64   `json:"exit_tick_time"`
	CurrentSpot   float64 `json:"current_spot"`
	Barrier       string  `json:"barrier"`
	TickCount     int     `json:"tick_count"`
	DateStart     int64   `json:"date_start"`
	DateExpiry    int64   `json:"date_expiry"`
	SellTime      int64   `json:"sell_time"`
	Currency      string  `json:"currency"`
	Longcode      string  `json:"longcode"`
}

// Settled reports whether the contract reached a terminal state.
func (c *OpenContract) Settled() bool {
	if c.Status != "" && c.Status != StatusOpen {
		return true
	}
	return c.IsSold == 1 || c.IsExpired == 1
}

// Won reports whether a settled contract finished in profit. A sold contract
// counts as won only when the sale realized more than the stake.
func (c *OpenContract) Won() bool {
	switch c.Status {
	case StatusWon:
		return true
	case StatusLost, StatusCancelled:
		return false
	}
	return c.Profit > 0
}

// subscriptionID is the envelope fragment carrying the stream id.
type subscriptionID struct {
	ID string `json:"id"`
}
