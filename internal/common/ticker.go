// Package common provides shared utilities across the application.
package common

import (
	"strings"
)

// Ticker represents a parsed exchange-qualified ticker.
// Format: EXCHANGE:CODE (e.g., "ASX:WOW", "NYSE:AAPL")
type Ticker struct {
	// Exchange is the exchange code (e.g., "ASX", "NYSE", "NASDAQ")
	Exchange string
	// Code is the stock/security code (e.g., "WOW", "AAPL")
	Code string
	// Raw is the original ticker string
	Raw string
}

// ExchangeToYahooSuffix maps exchange codes to Yahoo Finance symbol suffixes.
var ExchangeToYahooSuffix = map[string]string{
	"ASX":    ".AX",
	"NYSE":   "",
	"NASDAQ": "",
	"LSE":    ".L",
	"TSX":    ".TO",
}

// DefaultExchange is the default exchange used when parsing tickers without
// an exchange prefix.
var DefaultExchange = "ASX"

// ParseTicker parses an exchange-qualified ticker string.
// Supports formats:
//   - "ASX:WOW" -> Exchange="ASX", Code="WOW"
//   - "WOW"     -> Exchange=DefaultExchange, Code="WOW"
//   - "wow"     -> Exchange=DefaultExchange, Code="WOW" (normalized to uppercase)
func ParseTicker(ticker string) Ticker {
	ticker = strings.TrimSpace(ticker)
	if ticker == "" {
		return Ticker{}
	}

	if idx := strings.Index(ticker, ":"); idx > 0 {
		return Ticker{
			Exchange: strings.ToUpper(ticker[:idx]),
			Code:     strings.ToUpper(ticker[idx+1:]),
			Raw:      ticker,
		}
	}

	return Ticker{
		Exchange: DefaultExchange,
		Code:     strings.ToUpper(ticker),
		Raw:      ticker,
	}
}

// YahooSymbol converts the ticker to Yahoo Finance symbol format
// (CODE + suffix, e.g. "WOW.AX").
func (t Ticker) YahooSymbol() string {
	suffix, ok := ExchangeToYahooSuffix[t.Exchange]
	if !ok {
		return t.Code
	}
	return t.Code + suffix
}

// String returns the canonical EXCHANGE:CODE representation.
func (t Ticker) String() string {
	if t.Exchange == "" {
		return t.Code
	}
	return t.Exchange + ":" + t.Code
}

// CanonicalCode normalizes a bare ticker code to uppercase.
// Research documents are keyed by this form.
func CanonicalCode(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}
