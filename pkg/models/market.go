package models

import "time"

// Payload is an upstream JSON object passed through without interpretation.
type Payload map[string]interface{}

// Signal values reported by the technical summary.
const (
	SignalBullish = "BULLISH"
	SignalBearish = "BEARISH"
	SignalNeutral = "NEUTRAL"
)

// Bar is one aggregate bar.
type Bar struct {
	Open         float64 `json:"o"`
	High         float64 `json:"h"`
	Low          float64 `json:"l"`
	Close        float64 `json:"c"`
	Volume       float64 `json:"v"`
	VWAP         float64 `json:"vw,omitempty"`
	Timestamp    int64   `json:"t"`
	Transactions int64   `json:"n,omitempty"`
}

// Time returns the bar start time.
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Aggregates is the response of the aggregates (bars) endpoint.
type Aggregates struct {
	Ticker       string `json:"ticker"`
	Status       string `json:"status"`
	Adjusted     bool   `json:"adjusted"`
	QueryCount   int    `json:"queryCount"`
	ResultsCount int    `json:"resultsCount"`
	Results      []Bar  `json:"results"`
}

// Closes returns the closing prices in order.
func (a *Aggregates) Closes() []float64 {
	if a == nil {
		return nil
	}
	closes := make([]float64, len(a.Results))
	for i, b := range a.Results {
		closes[i] = b.Close
	}
	return closes
}

// DailyOpenClose is the open/close summary for one trading day.
type DailyOpenClose struct {
	Status     string  `json:"status"`
	From       string  `json:"from"`
	Symbol     string  `json:"symbol"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
	AfterHours float64 `json:"afterHours,omitempty"`
	PreMarket  float64 `json:"preMarket,omitempty"`
}

// TickerDetails is the reference data for one ticker.
type TickerDetails struct {
	Status    string        `json:"status"`
	RequestID string        `json:"request_id,omitempty"`
	Results   TickerProfile `json:"results"`
}

// TickerProfile holds the company fields of TickerDetails.
type TickerProfile struct {
	Ticker          string  `json:"ticker"`
	Name            string  `json:"name"`
	Market          string  `json:"market"`
	Locale          string  `json:"locale"`
	PrimaryExchange string  `json:"primary_exchange,omitempty"`
	Type            string  `json:"type,omitempty"`
	Active          bool    `json:"active"`
	CurrencyName    string  `json:"currency_name,omitempty"`
	CIK             string  `json:"cik,omitempty"`
	MarketCap       float64 `json:"market_cap,omitempty"`
	Description     string  `json:"description,omitempty"`
	HomepageURL     string  `json:"homepage_url,omitempty"`
	TotalEmployees  int64   `json:"total_employees,omitempty"`
	ListDate        string  `json:"list_date,omitempty"`
}

// IndicatorValue is one point of a technical indicator series.
type IndicatorValue struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Indicator is the response of an indicator endpoint such as SMA.
type Indicator struct {
	Status  string `json:"status"`
	Results struct {
		Values []IndicatorValue `json:"values"`
	} `json:"results"`
}

// Latest returns the most recent value. Upstream returns values newest first.
func (i *Indicator) Latest() (float64, bool) {
	if i == nil || len(i.Results.Values) == 0 {
		return 0, false
	}
	return i.Results.Values[0].Value, true
}

// MarketStatus is the current market state.
type MarketStatus struct {
	Market     string            `json:"market"`
	ServerTime string            `json:"serverTime"`
	EarlyHours bool              `json:"earlyHours"`
	AfterHours bool              `json:"afterHours"`
	Exchanges  map[string]string `json:"exchanges,omitempty"`
	Currencies map[string]string `json:"currencies,omitempty"`
}

// SECFilings bundles the EDGAR payloads for one company.
type SECFilings struct {
	CompanyFacts   Payload `json:"company_facts"`
	CompanyFilings Payload `json:"company_filings"`
}

// TechnicalSummary is derived locally from the price history.
type TechnicalSummary struct {
	LatestClose *float64 `json:"latest_close,omitempty"`
	SMA50       *float64 `json:"sma_50,omitempty"`
	RSI14       *float64 `json:"rsi_14,omitempty"`
	RSIZone     string   `json:"rsi_zone,omitempty"`
	PriceVsSMA  string   `json:"price_vs_sma,omitempty"`
	Signal      string   `json:"signal"`
	BullishPct  float64  `json:"bullish_percentage"`
}

// StockAnalysis is the full analysis written by the stock command.
type StockAnalysis struct {
	Ticker              string            `json:"ticker"`
	GeneratedAt         time.Time         `json:"generated_at"`
	LatestTradingDay    string            `json:"latest_trading_day"`
	Details             *TickerDetails    `json:"details"`
	HistoricalData      *Aggregates       `json:"historical_data"`
	OpenClose           *DailyOpenClose   `json:"open_close"`
	Dividends           Payload           `json:"dividends"`
	Splits              Payload           `json:"splits"`
	TechnicalIndicators *Indicator        `json:"technical_indicators"`
	SMA50               *Indicator        `json:"sma_50"`
	News                Payload           `json:"news"`
	CIK                 string            `json:"cik,omitempty"`
	Financials          Payload           `json:"financials"`
	SECEdgarFilings     *SECFilings       `json:"sec_edgar_filings"`
	Summary             *TechnicalSummary `json:"summary,omitempty"`
}
