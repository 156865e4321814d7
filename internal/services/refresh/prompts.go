package refresh

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/continuum/internal/models"
)

// evidenceUpdateSystem is the system prompt for the specialist analysis
// stage. The output contract is a JSON object of per-card patches.
const evidenceUpdateSystem = `You are a specialist equity research analyst. Given existing evidence cards and new data (price movements, ASX announcements, news), update the evidence assessment.

For each evidence card, assess whether the new data changes the finding or tension. Return a JSON object with this structure:

{
  "cards": [
    {
      "number": 1,
      "title": "1. Corporate Communications",
      "updated_finding": "Updated finding text based on new data",
      "updated_tension": "Updated tension text if changed, or null if unchanged",
      "material_change": true/false
    }
  ],
  "summary": "Brief summary of what changed across evidence domains"
}

Only update cards where new data is genuinely material. For cards with no relevant new data, set material_change to false and keep the finding unchanged.
Be specific. Cite dates, numbers, and sources from the provided data.`

// hypothesisUpdateSystem is the system prompt for the synthesis stage.
// It demands a full narrative rewrite referencing the current price and
// date, and integer hypothesis scores summing to 100%.
const hypothesisUpdateSystem = `You are a senior equity research analyst at Continuum Intelligence. You assess competing hypotheses for ASX-listed companies using structured evidence.

Given the current hypothesis weights, updated evidence cards, new market data, and the existing narrative sections, perform a FULL research update. You must rewrite all narrative content to reflect current reality — do not leave stale references to past events as if they are future events.

Return a JSON object with ALL of the following fields:

{
  "hypotheses": [
    {
      "tier": "n1",
      "title": "N1: [title]",
      "updated_score": "XX%",
      "direction": "up|down|steady",
      "rationale": "Brief rationale for the score change",
      "updated_description": "Updated 2-3 sentence description of this hypothesis scenario"
    }
  ],
  "embedded_thesis": "Rewritten 3-5 sentence paragraph describing what the current price embeds. Reference the CURRENT price (provided), not old prices. Describe what assumptions the market is making at this level. Use plain text, no HTML.",
  "skew_description": "Rewritten 2-3 sentence summary of hypothesis weightings and directional skew.",
  "narrative_rewrite": "Full rewrite of the dominant narrative (4-8 sentences). Use HTML formatting: <strong> for emphasis, <span class='key-stat'> for key numbers. Must reflect ALL recent events including any results, announcements, or catalysts from the gathered data. Do NOT reference past events as future events.",
  "price_implication": "Rewritten HTML content describing what the current price assumes. Use bullet format with <br> separators. Reference the current price.",
  "evidence_check": "Rewritten HTML paragraph assessing how much evidence supports vs contradicts the dominant narrative.",
  "narrative_stability": "Rewritten HTML paragraph evaluating narrative robustness and what could change it.",
  "verdict_update": "Updated verdict text (3-5 sentences on what the market is pricing vs reality at the current price). Must reference current price and recent events.",
  "next_decision_point": {
    "event": "The next material upcoming catalyst (NOT a past event)",
    "date": "Expected date (YYYY-MM-DD or descriptive)",
    "metric": "What to watch for",
    "thresholds": "Specific levels or outcomes that would shift the thesis"
  },
  "key_catalyst": "The single most important upcoming catalyst"
}

CRITICAL RULES:
- Today's date is provided in the prompt. Any event with a date before today has ALREADY HAPPENED.
- Rewrite ALL narrative sections to reflect current reality.
- Reference the CURRENT price, not old prices.
- If results or announcements have been released, discuss what they SHOWED, not what they might show.
- Scores should reflect genuine probability weighting.
- The four hypothesis scores MUST sum to exactly 100%. Express each as an integer percentage (e.g. "25%", not "24.7%").
- If nothing material has changed, keep scores steady and say so, but still ensure narratives reference current prices and dates correctly.`

// compactJSON marshals v for prompt embedding. Marshal failures degrade
// to an empty structure rather than aborting the prompt build.
func compactJSON(v interface{}) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// truncate shortens s to at most n bytes for prompt context sections.
func truncate(s string, n int) string {
	if s == "" {
		return "N/A"
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// buildEvidencePrompt formats the specialist stage user prompt: existing
// card summaries plus the gathered announcements and news.
func buildEvidencePrompt(ticker string, research models.Document, gathered *models.GatheredData) string {
	type cardSummary struct {
		Number  interface{} `json:"number"`
		Title   interface{} `json:"title"`
		Finding interface{} `json:"finding"`
		Tension interface{} `json:"tension"`
	}

	var cards []cardSummary
	if evidence := research.GetMap("evidence"); evidence != nil {
		if rawCards, ok := evidence["cards"].([]interface{}); ok {
			for _, raw := range rawCards {
				card, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				cards = append(cards, cardSummary{
					Number:  card["number"],
					Title:   card["title"],
					Finding: card["finding"],
					Tension: card["tension"],
				})
			}
		}
	}

	announcements := gathered.Announcements
	if len(announcements) > 10 {
		announcements = announcements[:10]
	}
	news := gathered.News
	if len(news) > 8 {
		news = news[:8]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Stock: %s (%s)\n", ticker, research.GetString("company"))
	fmt.Fprintf(&b, "## Current Price: %s (%+.1f%%)\n\n", priceOrNA(gathered), gathered.Price.ChangePct)
	fmt.Fprintf(&b, "## Existing Evidence Cards:\n%s\n\n", compactJSON(cards))
	fmt.Fprintf(&b, "## New ASX Announcements (last 30 days):\n%s\n\n", compactJSON(announcements))
	fmt.Fprintf(&b, "## Recent News Headlines:\n%s\n\n", compactJSON(news))
	b.WriteString("Please assess each evidence card against this new data and return the updated assessment as JSON.")
	return b.String()
}

// buildSynthesisPrompt formats the synthesis stage user prompt: current
// hypothesis weights, existing narrative sections, the evidence changes,
// and today's date so past events are not described as upcoming.
func buildSynthesisPrompt(ticker string, research models.Document, evidence *models.EvidenceUpdate, gathered *models.GatheredData) string {
	type hypothesisSummary struct {
		Tier        interface{} `json:"tier"`
		Title       interface{} `json:"title"`
		Score       interface{} `json:"score"`
		Description string      `json:"description"`
	}

	var hypotheses []hypothesisSummary
	for _, raw := range research.GetSlice("hypotheses") {
		h, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		desc, _ := h["description"].(string)
		hypotheses = append(hypotheses, hypothesisSummary{
			Tier:        h["tier"],
			Title:       h["title"],
			Score:       h["score"],
			Description: truncate(desc, 300),
		})
	}

	evidenceChanges := evidence.Summary
	if evidenceChanges == "" {
		evidenceChanges = "No material changes detected."
	}
	materialChanges := "No material changes."
	if material := evidence.MaterialCards(); len(material) > 0 {
		materialChanges = compactJSON(material)
	}

	hero := research.GetMap("hero")
	narrative := research.GetMap("narrative")
	verdict := research.GetMap("verdict")

	verdictText, _ := verdict["text"].(string)
	embeddedThesis, _ := hero["embedded_thesis"].(string)
	skewDescription, _ := hero["skew_description"].(string)
	theNarrative, _ := narrative["theNarrative"].(string)
	evidenceCheck, _ := narrative["evidenceCheck"].(string)
	narrativeStability, _ := narrative["narrativeStability"].(string)

	priceImplication := "N/A"
	if pi, ok := narrative["priceImplication"].(map[string]interface{}); ok {
		if content, ok := pi["content"].(string); ok {
			priceImplication = truncate(content, 500)
		}
	}

	announcements := gathered.Announcements
	if len(announcements) > 5 {
		announcements = announcements[:5]
	}
	news := gathered.News
	if len(news) > 5 {
		news = news[:5]
	}

	today := time.Now().UTC().Format("2006-01-02")

	var b strings.Builder
	fmt.Fprintf(&b, "## TODAY'S DATE: %s\n\n", today)
	fmt.Fprintf(&b, "## Stock: %s (%s)\n", ticker, research.GetString("company"))
	fmt.Fprintf(&b, "## Current Price: A$%s (%+.1f%%)\n", priceOrNA(gathered), gathered.Price.ChangePct)
	fmt.Fprintf(&b, "## 52-Week Range: A$%.2f - A$%.2f\n\n", gathered.Price.FiftyTwoLow, gathered.Price.FiftyTwoHigh)
	fmt.Fprintf(&b, "## Current Hypothesis Weights:\n%s\n\n", compactJSON(hypotheses))
	fmt.Fprintf(&b, "## Current Verdict:\n%s\n\n", truncate(verdictText, 500))
	fmt.Fprintf(&b, "## Current Embedded Thesis (hero.embedded_thesis):\n%s\n\n", truncate(embeddedThesis, 500))
	fmt.Fprintf(&b, "## Current Skew Description:\n%s\n\n", truncate(skewDescription, 300))
	fmt.Fprintf(&b, "## Current Narrative (theNarrative):\n%s\n\n", truncate(theNarrative, 800))
	fmt.Fprintf(&b, "## Current Price Implication:\n%s\n\n", priceImplication)
	fmt.Fprintf(&b, "## Current Evidence Check:\n%s\n\n", truncate(evidenceCheck, 400))
	fmt.Fprintf(&b, "## Current Narrative Stability:\n%s\n\n", truncate(narrativeStability, 400))
	fmt.Fprintf(&b, "## Current Next Decision Point:\n%s\n\n", compactJSON(hero["next_decision_point"]))
	fmt.Fprintf(&b, "## Evidence Update Summary:\n%s\n\n", evidenceChanges)
	fmt.Fprintf(&b, "## Material Evidence Changes:\n%s\n\n", materialChanges)
	fmt.Fprintf(&b, "## Recent ASX Announcements:\n%s\n\n", compactJSON(announcements))
	fmt.Fprintf(&b, "## Recent News:\n%s\n\n", compactJSON(news))
	fmt.Fprintf(&b, "IMPORTANT: Any event with a date BEFORE %s has ALREADY HAPPENED. Rewrite all narrative sections to reflect this. Do not describe past events as upcoming.\n\n", today)
	b.WriteString("Please provide the FULL updated JSON with all narrative rewrites.")
	return b.String()
}

func priceOrNA(gathered *models.GatheredData) string {
	if gathered.Price.Error != "" {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", gathered.Price.Price)
}
