// -----------------------------------------------------------------------
// Last Modified: Friday, 29th August 2026
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/continuum/internal/common"
)

// PricePoint is one daily close in a price history series.
type PricePoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// PriceData holds the market snapshot gathered for a ticker. A non-empty
// Error marks the source as unavailable for this run; downstream stages
// must treat the rest of the struct as stale and leave existing document
// price fields untouched.
type PriceData struct {
	Symbol        string       `json:"symbol,omitempty"`
	Currency      string       `json:"currency,omitempty"`
	Price         float64      `json:"price,omitempty"`
	PreviousClose float64      `json:"previous_close,omitempty"`
	Change        float64      `json:"change,omitempty"`
	ChangePct     float64      `json:"change_pct,omitempty"`
	Volume        int64        `json:"volume,omitempty"`
	MarketCap     float64      `json:"market_cap,omitempty"`
	FiftyTwoLow   float64      `json:"fifty_two_week_low,omitempty"`
	FiftyTwoHigh  float64      `json:"fifty_two_week_high,omitempty"`
	MarketTime    string       `json:"market_time,omitempty"`
	History       []PricePoint `json:"history,omitempty"`
	Error         string       `json:"error,omitempty"`
}

// CurrencySymbol maps an ISO currency code to a display prefix. Unknown
// codes fall back to the code itself followed by a space.
func CurrencySymbol(code string) string {
	switch strings.ToUpper(code) {
	case "AUD":
		return "A$"
	case "USD":
		return "US$"
	case "GBP":
		return "£"
	case "EUR":
		return "€"
	case "":
		return "$"
	default:
		return code + " "
	}
}

// Announcement is a single company announcement row.
type Announcement struct {
	Date           string `json:"date"`
	Headline       string `json:"headline"`
	URL            string `json:"url,omitempty"`
	PriceSensitive bool   `json:"price_sensitive,omitempty"`
}

// NewsItem is a single web search result.
type NewsItem struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	URL     string `json:"url,omitempty"`
}

// GatheredData bundles everything stage one collects for a ticker. Each
// source fails independently; a failed source leaves its slice empty (or
// sets PriceData.Error) and the bundle is still usable.
type GatheredData struct {
	Ticker        common.Ticker  `json:"-"`
	Price         PriceData      `json:"price"`
	Announcements []Announcement `json:"announcements"`
	News          []NewsItem     `json:"news"`
	EarningsNews  []NewsItem     `json:"earnings_news"`
	GatheredAt    time.Time      `json:"gathered_at"`
}

// Empty reports whether every gathered source came back with nothing.
func (g *GatheredData) Empty() bool {
	return g.Price.Error != "" && len(g.Announcements) == 0 &&
		len(g.News) == 0 && len(g.EarningsNews) == 0
}

// FlexInt decodes a JSON number or numeric string into an int. Model
// output is not trusted to pick one representation consistently.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		*f = FlexInt(n)
		return nil
	}
	var fl float64
	if err := json.Unmarshal([]byte(s), &fl); err != nil {
		return err
	}
	*f = FlexInt(int(fl))
	return nil
}

// EvidenceCardUpdate is one card patch produced by the specialist stage.
// Only cards flagged material are applied to the document.
type EvidenceCardUpdate struct {
	Number         FlexInt `json:"number"`
	Title          string  `json:"title,omitempty"`
	UpdatedFinding string  `json:"updated_finding"`
	UpdatedTension string  `json:"updated_tension"`
	MaterialChange bool    `json:"material_change"`
}

// EvidenceUpdate is the full specialist stage payload.
type EvidenceUpdate struct {
	Cards   []EvidenceCardUpdate `json:"cards"`
	Summary string               `json:"summary,omitempty"`
}

// MaterialCards returns only the cards flagged as material changes.
func (e *EvidenceUpdate) MaterialCards() []EvidenceCardUpdate {
	material := make([]EvidenceCardUpdate, 0, len(e.Cards))
	for _, card := range e.Cards {
		if card.MaterialChange {
			material = append(material, card)
		}
	}
	return material
}

// Degraded reports whether this payload carries no usable card updates.
func (e *EvidenceUpdate) Degraded() bool {
	return len(e.Cards) == 0
}

// HypothesisUpdate is one hypothesis patch keyed by tier name. Scores
// arrive as percentage strings like "35%".
type HypothesisUpdate struct {
	Tier               string `json:"tier"`
	Title              string `json:"title,omitempty"`
	UpdatedScore       string `json:"updated_score,omitempty"`
	Direction          string `json:"direction,omitempty"`
	Rationale          string `json:"rationale,omitempty"`
	UpdatedDescription string `json:"updated_description,omitempty"`
}

// NextDecisionPoint describes the next catalyst the thesis hinges on.
type NextDecisionPoint struct {
	Event      string `json:"event,omitempty"`
	Date       string `json:"date,omitempty"`
	Metric     string `json:"metric,omitempty"`
	Thresholds string `json:"thresholds,omitempty"`
}

// SynthesisUpdate is the full synthesis stage payload.
type SynthesisUpdate struct {
	Hypotheses         []HypothesisUpdate `json:"hypotheses"`
	EmbeddedThesis     string             `json:"embedded_thesis,omitempty"`
	SkewDescription    string             `json:"skew_description,omitempty"`
	NarrativeRewrite   string             `json:"narrative_rewrite,omitempty"`
	NarrativeUpdate    string             `json:"narrative_update,omitempty"`
	PriceImplication   string             `json:"price_implication,omitempty"`
	EvidenceCheck      string             `json:"evidence_check,omitempty"`
	NarrativeStability string             `json:"narrative_stability,omitempty"`
	VerdictUpdate      string             `json:"verdict_update,omitempty"`
	NextDecisionPoint  *NextDecisionPoint `json:"next_decision_point,omitempty"`
	KeyCatalyst        string             `json:"key_catalyst,omitempty"`
}

// Degraded reports whether this payload carries no hypothesis or
// narrative changes at all.
func (s *SynthesisUpdate) Degraded() bool {
	return len(s.Hypotheses) == 0 && s.NarrativeRewrite == "" && s.NarrativeUpdate == ""
}

// DirectionParts maps a model direction token to the HTML arrow entity
// and word the document's verdict scores use. Unknown tokens default to
// steady.
func DirectionParts(direction string) (arrow, text string) {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "up", "rising":
		return "&uarr;", "Rising"
	case "down", "falling":
		return "&darr;", "Falling"
	default:
		return "&rarr;", "Steady"
	}
}
