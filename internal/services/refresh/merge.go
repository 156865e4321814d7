package refresh

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/continuum/internal/models"
)

// mergeUpdates folds the gathered data and both model payloads into a
// deep copy of the research document. Every rule is tolerant: a missing
// section, unmatched card number, or unknown tier is skipped without
// error, and unknown document fields pass through untouched.
func mergeUpdates(research models.Document, gathered *models.GatheredData, evidence *models.EvidenceUpdate, synthesis *models.SynthesisUpdate) models.Document {
	updated := research.DeepCopy()
	now := time.Now().UTC()
	stamp := now.Format("2006-01-02 15:04") + " UTC"

	mergePrice(updated, gathered)
	mergeEvidenceCards(updated, evidence)
	mergeHypotheses(updated, synthesis)
	mergeHero(updated, synthesis)
	mergeNarrative(updated, gathered, synthesis, stamp)

	if synthesis.VerdictUpdate != "" {
		if verdict, ok := updated["verdict"].(map[string]interface{}); ok {
			verdict["text"] = synthesis.VerdictUpdate
		}
	}

	updated["date"] = stamp
	updated["_lastRefreshed"] = now.Format(time.RFC3339)

	return updated
}

// mergePrice applies the market snapshot wholesale, but only when the
// price source was available. A failed source leaves every existing
// price field exactly as it was.
func mergePrice(updated models.Document, gathered *models.GatheredData) {
	price := gathered.Price
	if price.Error != "" {
		return
	}

	updated["price"] = fmt.Sprintf("%.2f", price.Price)
	currency := price.Currency
	if currency == "" {
		currency = "A$"
	}
	updated["currency"] = currency

	if metrics, ok := updated["heroMetrics"].([]interface{}); ok {
		for _, raw := range metrics {
			metric, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			switch metric["label"] {
			case "Price", "Share Price", "Current Price":
				metric["value"] = fmt.Sprintf("A$%.2f", price.Price)
			case "52-Week Range":
				metric["value"] = fmt.Sprintf("A$%.2f - A$%.2f", price.FiftyTwoLow, price.FiftyTwoHigh)
			}
		}
	}

	if len(price.History) > 0 {
		history := make([]interface{}, 0, len(price.History))
		for _, point := range price.History {
			history = append(history, map[string]interface{}{
				"date":  point.Date,
				"close": point.Close,
			})
		}
		updated["priceHistory"] = history
	}
}

// mergeEvidenceCards applies material card patches by number. Only the
// finding and tension fields change; titles, strength markers, and any
// other card fields stay as they are.
func mergeEvidenceCards(updated models.Document, evidence *models.EvidenceUpdate) {
	evidenceSection, ok := updated["evidence"].(map[string]interface{})
	if !ok {
		return
	}
	existingCards, ok := evidenceSection["cards"].([]interface{})
	if !ok {
		return
	}

	for _, patch := range evidence.Cards {
		if !patch.MaterialChange {
			continue
		}
		for _, raw := range existingCards {
			card, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			num, ok := models.AsInt(card["number"])
			if !ok || num != int(patch.Number) {
				continue
			}
			if patch.UpdatedFinding != "" {
				card["finding"] = patch.UpdatedFinding
			}
			if patch.UpdatedTension != "" {
				card["tension"] = patch.UpdatedTension
			}
			break
		}
	}
}

// mergeHypotheses applies score, description, and direction updates by
// case-insensitive tier match, including the mirrored verdict scores
// with their direction arrows.
func mergeHypotheses(updated models.Document, synthesis *models.SynthesisUpdate) {
	hypotheses, _ := updated["hypotheses"].([]interface{})

	for _, hu := range synthesis.Hypotheses {
		tier := strings.ToLower(strings.TrimSpace(hu.Tier))
		if tier == "" {
			continue
		}
		for _, raw := range hypotheses {
			h, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			existingTier, _ := h["tier"].(string)
			if strings.ToLower(existingTier) != tier {
				continue
			}
			if hu.UpdatedScore != "" {
				h["score"] = hu.UpdatedScore
				h["scoreWidth"] = hu.UpdatedScore
			}
			if hu.UpdatedDescription != "" {
				h["description"] = hu.UpdatedDescription
			}
			updateVerdictScore(updated, tier, hu)
			break
		}
	}
}

// updateVerdictScore mirrors a hypothesis update onto the verdict score
// whose label starts with the tier prefix.
func updateVerdictScore(updated models.Document, tier string, hu models.HypothesisUpdate) {
	verdict, ok := updated["verdict"].(map[string]interface{})
	if !ok {
		return
	}
	scores, ok := verdict["scores"].([]interface{})
	if !ok {
		return
	}

	prefix := tier
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	arrow, text := models.DirectionParts(hu.Direction)

	for _, raw := range scores {
		vs, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		label, _ := vs["label"].(string)
		if !strings.HasPrefix(strings.ToLower(label), prefix) {
			continue
		}
		if hu.UpdatedScore != "" {
			vs["score"] = hu.UpdatedScore
		}
		vs["dirArrow"] = arrow
		vs["dirText"] = text
	}
}

// mergeHero rewrites the hero thesis and skew sections and replaces the
// next decision point wholesale when the payload names an event.
func mergeHero(updated models.Document, synthesis *models.SynthesisUpdate) {
	hero, ok := updated["hero"].(map[string]interface{})
	if !ok {
		return
	}

	if synthesis.EmbeddedThesis != "" {
		hero["embedded_thesis"] = synthesis.EmbeddedThesis
	}
	if synthesis.SkewDescription != "" {
		hero["skew_description"] = synthesis.SkewDescription
	}

	if ndp := synthesis.NextDecisionPoint; ndp != nil && ndp.Event != "" {
		date := ndp.Date
		if date == "" {
			date = "TBC"
		}
		hero["next_decision_point"] = map[string]interface{}{
			"event":      ndp.Event,
			"date":       date,
			"metric":     ndp.Metric,
			"thresholds": ndp.Thresholds,
		}
	}
}

// mergeNarrative applies the narrative sections. A full rewrite replaces
// the dominant narrative with an update stamp prefix; the short-update
// fallback prepends to the existing text instead.
func mergeNarrative(updated models.Document, gathered *models.GatheredData, synthesis *models.SynthesisUpdate, stamp string) {
	narrative, ok := updated["narrative"].(map[string]interface{})
	if !ok {
		return
	}

	switch {
	case synthesis.NarrativeRewrite != "":
		narrative["theNarrative"] = fmt.Sprintf("<strong>[Updated %s]</strong> %s", stamp, synthesis.NarrativeRewrite)
	case synthesis.NarrativeUpdate != "":
		existing, _ := narrative["theNarrative"].(string)
		narrative["theNarrative"] = fmt.Sprintf("<strong>[Updated %s]</strong> %s<br><br>%s", stamp, synthesis.NarrativeUpdate, existing)
	}

	if synthesis.PriceImplication != "" {
		if pi, ok := narrative["priceImplication"].(map[string]interface{}); ok {
			pi["content"] = synthesis.PriceImplication
			if gathered.Price.Error == "" && gathered.Price.Price > 0 {
				pi["label"] = fmt.Sprintf("Embedded Assumptions at A$%.2f", gathered.Price.Price)
			}
		}
	}

	if synthesis.EvidenceCheck != "" {
		narrative["evidenceCheck"] = synthesis.EvidenceCheck
	}
	if synthesis.NarrativeStability != "" {
		narrative["narrativeStability"] = synthesis.NarrativeStability
	}
}
