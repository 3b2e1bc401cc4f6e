package cnapi

import "astock/internal/domain"

// AcceptedResponse acknowledges an asynchronous request.
type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// StocksResponse lists the cached universe.
type StocksResponse struct {
	Count  int            `json:"count"`
	Stocks []domain.Stock `json:"stocks"`
}

// CountResponse carries a single count.
type CountResponse struct {
	Count int `json:"count"`
}

// HistoryDay is one bar in a symbol history response.
type HistoryDay struct {
	Date     string  `json:"date"` // YYYY-MM-DD
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   int64   `json:"volume"`
	Amount   float64 `json:"amount"`
	PctChg   float64 `json:"pctChg"`
	Turnover float64 `json:"turnover"`
}

// HistoryResponse is the symbol history API response.
type HistoryResponse struct {
	Symbol string       `json:"symbol"`
	Days   []HistoryDay `json:"days"`
}
