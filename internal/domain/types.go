// Package domain holds the core types shared by the store, gatherer, sync
// orchestrator, and HTTP layers.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketSH Market = "sh" // Shanghai
	MarketSZ Market = "sz" // Shenzhen
	MarketBJ Market = "bj" // Beijing
)

// DateLayout is the compact date format used by the data provider and the
// history epoch setting.
const DateLayout = "20060102"

// Stock is one entry in the tradable universe.
type Stock struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

// DailyBar is one trading day of unadjusted OHLCV data for a symbol.
type DailyBar struct {
	Symbol    string    `json:"symbol"`
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	Close     float64   `json:"close"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    int64     `json:"volume"`    // lots
	Amount    float64   `json:"amount"`    // CNY
	Amplitude float64   `json:"amplitude"` // %
	PctChg    float64   `json:"pctChg"`    // %
	Change    float64   `json:"change"`
	Turnover  float64   `json:"turnover"` // %
}

// SyncTask is the persisted state of the most recent full-universe sync run.
type SyncTask struct {
	RunID     string    `json:"runId"`
	Running   bool      `json:"running"`
	Progress  int       `json:"progress"`
	Total     int       `json:"total"`
	Updated   int       `json:"updated"`
	Message   string    `json:"message"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UpdateStatus is the outcome of bringing one symbol's history up to date.
type UpdateStatus string

const (
	StatusUpToDate    UpdateStatus = "up_to_date"
	StatusNoNewData   UpdateStatus = "no_new_data"
	StatusUpdated     UpdateStatus = "updated"
	StatusInterrupted UpdateStatus = "interrupted"
	StatusError       UpdateStatus = "error"
)

// NormalizeSymbol trims whitespace and zero-pads numeric codes to six digits.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return strings.ToUpper(s)
		}
	}
	if len(s) < 6 {
		s = strings.Repeat("0", 6-len(s)) + s
	}
	return s
}

// MarketOf returns the exchange group for a six-digit A-share code.
func MarketOf(symbol string) (Market, error) {
	if len(symbol) != 6 {
		return "", fmt.Errorf("invalid symbol %q", symbol)
	}
	switch symbol[0] {
	case '6', '9':
		return MarketSH, nil
	case '0', '2', '3':
		return MarketSZ, nil
	case '4', '8':
		return MarketBJ, nil
	}
	return "", fmt.Errorf("unknown market for symbol %q", symbol)
}

// Day returns t's calendar date as midnight UTC. Bar dates are always stored
// in this form so that date arithmetic never crosses a zone boundary.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
