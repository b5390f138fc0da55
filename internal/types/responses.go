package types

import "time"

// CycleResult summarises one order-matching cycle. Evaluated counts every
// pending order inspected; Executed counts orders traded and retired;
// Skipped counts orders left pending for a later cycle (missing quote,
// failed trade, store error). Orders whose price condition simply was not
// met are evaluated but neither executed nor skipped.
type CycleResult struct {
	Evaluated int `json:"evaluated"`
	Executed  int `json:"executed"`
	Skipped   int `json:"skipped"`
}

// TradeResponse is returned for direct buy/sell requests.
type TradeResponse struct {
	TxID      string    `json:"tx_id"`
	AssetID   string    `json:"asset_id"`
	Type      string    `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Total     float64   `json:"total"`
	Balance   float64   `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

// PortfolioEntry is one holding joined with its latest known quote.
type PortfolioEntry struct {
	AssetID  string  `json:"asset_id"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price,omitempty"`
	Value    float64 `json:"value,omitempty"`
}
