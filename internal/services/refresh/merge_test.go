package refresh

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/continuum/internal/models"
)

func baselineDocument() models.Document {
	return models.Document{
		"ticker":   "WOW",
		"company":  "Woolworths Group",
		"price":    "36.90",
		"currency": "A$",
		"custom_field": map[string]interface{}{
			"untouched": true,
		},
		"heroMetrics": []interface{}{
			map[string]interface{}{"label": "Price", "value": "A$36.90"},
			map[string]interface{}{"label": "52-Week Range", "value": "A$30.00 - A$40.00"},
			map[string]interface{}{"label": "Dividend Yield", "value": "3.1%"},
		},
		"hero": map[string]interface{}{
			"embedded_thesis":  "Old thesis.",
			"skew_description": "Old skew.",
			"next_decision_point": map[string]interface{}{
				"event": "FY25 Results",
				"date":  "2025-08-27",
			},
		},
		"evidence": map[string]interface{}{
			"cards": []interface{}{
				map[string]interface{}{
					"number":   float64(1),
					"title":    "1. Corporate Communications",
					"finding":  "Old finding one",
					"tension":  "Old tension one",
					"strength": "high",
				},
				map[string]interface{}{
					"number":  float64(2),
					"title":   "2. Financial Signals",
					"finding": "Old finding two",
					"tension": "Old tension two",
				},
			},
		},
		"hypotheses": []interface{}{
			map[string]interface{}{
				"tier":        "N1",
				"title":       "N1: Steady grind",
				"score":       "40%",
				"scoreWidth":  "40%",
				"description": "Old description",
			},
			map[string]interface{}{
				"tier":  "n2",
				"title": "N2: Margin squeeze",
				"score": "30%",
			},
		},
		"verdict": map[string]interface{}{
			"text": "Old verdict.",
			"scores": []interface{}{
				map[string]interface{}{"label": "N1 Steady grind", "score": "40%", "dirArrow": "&rarr;", "dirText": "Steady"},
				map[string]interface{}{"label": "N2 Margin squeeze", "score": "30%", "dirArrow": "&rarr;", "dirText": "Steady"},
			},
		},
		"narrative": map[string]interface{}{
			"theNarrative":  "Old narrative.",
			"evidenceCheck": "Old evidence check.",
			"priceImplication": map[string]interface{}{
				"label":   "Embedded Assumptions at A$36.90",
				"content": "Old implication.",
			},
			"narrativeStability": "Old stability.",
		},
	}
}

func healthyGathered() *models.GatheredData {
	return &models.GatheredData{
		Price: models.PriceData{
			Symbol:       "WOW.AX",
			Currency:     "A$",
			Price:        37.52,
			ChangePct:    1.1,
			FiftyTwoLow:  30.10,
			FiftyTwoHigh: 40.20,
			History: []models.PricePoint{
				{Date: "2026-08-28", Close: 37.10},
				{Date: "2026-08-29", Close: 37.52},
			},
		},
	}
}

func emptyUpdates() (*models.EvidenceUpdate, *models.SynthesisUpdate) {
	return &models.EvidenceUpdate{}, &models.SynthesisUpdate{}
}

func TestMerge_PriceAppliedWholesale(t *testing.T) {
	evidence, synthesis := emptyUpdates()
	merged := mergeUpdates(baselineDocument(), healthyGathered(), evidence, synthesis)

	assert.Equal(t, "37.52", merged["price"])
	assert.Equal(t, "A$", merged["currency"])

	metrics := merged["heroMetrics"].([]interface{})
	assert.Equal(t, "A$37.52", metrics[0].(map[string]interface{})["value"])
	assert.Equal(t, "A$30.10 - A$40.20", metrics[1].(map[string]interface{})["value"])
	// Unrelated metrics stay put.
	assert.Equal(t, "3.1%", metrics[2].(map[string]interface{})["value"])

	history := merged["priceHistory"].([]interface{})
	assert.Len(t, history, 2)
}

func TestMerge_PriceErrorLeavesExistingFields(t *testing.T) {
	evidence, synthesis := emptyUpdates()
	gathered := &models.GatheredData{Price: models.PriceData{Error: "upstream down"}}

	merged := mergeUpdates(baselineDocument(), gathered, evidence, synthesis)

	assert.Equal(t, "36.90", merged["price"])
	metrics := merged["heroMetrics"].([]interface{})
	assert.Equal(t, "A$36.90", metrics[0].(map[string]interface{})["value"])
	_, hasHistory := merged["priceHistory"]
	assert.False(t, hasHistory)
}

func TestMerge_EvidenceOnlyMaterialCardsApplied(t *testing.T) {
	evidence := &models.EvidenceUpdate{
		Cards: []models.EvidenceCardUpdate{
			{Number: 1, UpdatedFinding: "New finding one", UpdatedTension: "New tension one", MaterialChange: true},
			{Number: 2, UpdatedFinding: "Should not apply", MaterialChange: false},
			{Number: 9, UpdatedFinding: "No such card", MaterialChange: true},
		},
	}
	_, synthesis := emptyUpdates()

	merged := mergeUpdates(baselineDocument(), healthyGathered(), evidence, synthesis)

	cards := merged["evidence"].(map[string]interface{})["cards"].([]interface{})
	first := cards[0].(map[string]interface{})
	second := cards[1].(map[string]interface{})

	assert.Equal(t, "New finding one", first["finding"])
	assert.Equal(t, "New tension one", first["tension"])
	// Fields outside finding and tension survive.
	assert.Equal(t, "high", first["strength"])
	assert.Equal(t, "1. Corporate Communications", first["title"])

	assert.Equal(t, "Old finding two", second["finding"])
}

func TestMerge_EmptyTensionLeavesExisting(t *testing.T) {
	evidence := &models.EvidenceUpdate{
		Cards: []models.EvidenceCardUpdate{
			{Number: 2, UpdatedFinding: "New finding two", UpdatedTension: "", MaterialChange: true},
		},
	}
	_, synthesis := emptyUpdates()

	merged := mergeUpdates(baselineDocument(), healthyGathered(), evidence, synthesis)

	second := merged["evidence"].(map[string]interface{})["cards"].([]interface{})[1].(map[string]interface{})
	assert.Equal(t, "New finding two", second["finding"])
	assert.Equal(t, "Old tension two", second["tension"])
}

func TestMerge_HypothesisTierMatchIsCaseInsensitive(t *testing.T) {
	evidence := &models.EvidenceUpdate{}
	synthesis := &models.SynthesisUpdate{
		Hypotheses: []models.HypothesisUpdate{
			{Tier: "n1", UpdatedScore: "45%", Direction: "up", UpdatedDescription: "New description"},
			{Tier: "N2", UpdatedScore: "25%", Direction: "down"},
			{Tier: "n9", UpdatedScore: "99%"},
		},
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), evidence, synthesis)

	hyps := merged["hypotheses"].([]interface{})
	first := hyps[0].(map[string]interface{})
	assert.Equal(t, "45%", first["score"])
	assert.Equal(t, "45%", first["scoreWidth"])
	assert.Equal(t, "New description", first["description"])

	scores := merged["verdict"].(map[string]interface{})["scores"].([]interface{})
	n1 := scores[0].(map[string]interface{})
	n2 := scores[1].(map[string]interface{})
	assert.Equal(t, "45%", n1["score"])
	assert.Equal(t, "&uarr;", n1["dirArrow"])
	assert.Equal(t, "Rising", n1["dirText"])
	assert.Equal(t, "&darr;", n2["dirArrow"])
	assert.Equal(t, "Falling", n2["dirText"])
}

func TestMerge_UnknownDirectionDefaultsToSteady(t *testing.T) {
	synthesis := &models.SynthesisUpdate{
		Hypotheses: []models.HypothesisUpdate{
			{Tier: "N1", UpdatedScore: "50%", Direction: "sideways"},
		},
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), &models.EvidenceUpdate{}, synthesis)

	n1 := merged["verdict"].(map[string]interface{})["scores"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "&rarr;", n1["dirArrow"])
	assert.Equal(t, "Steady", n1["dirText"])
}

func TestMerge_NarrativeFullRewriteStamped(t *testing.T) {
	synthesis := &models.SynthesisUpdate{
		NarrativeRewrite: "Completely new narrative.",
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), &models.EvidenceUpdate{}, synthesis)

	narrative := merged["narrative"].(map[string]interface{})["theNarrative"].(string)
	assert.True(t, strings.HasPrefix(narrative, "<strong>[Updated "))
	assert.Contains(t, narrative, "Completely new narrative.")
	assert.NotContains(t, narrative, "Old narrative.")
}

func TestMerge_NarrativeUpdatePrependsToExisting(t *testing.T) {
	synthesis := &models.SynthesisUpdate{
		NarrativeUpdate: "Synthesis unavailable: provider down",
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), &models.EvidenceUpdate{}, synthesis)

	narrative := merged["narrative"].(map[string]interface{})["theNarrative"].(string)
	assert.Contains(t, narrative, "Synthesis unavailable: provider down")
	assert.Contains(t, narrative, "Old narrative.")
	assert.True(t, strings.Index(narrative, "Synthesis unavailable") < strings.Index(narrative, "Old narrative."))
}

func TestMerge_PriceImplicationLabelTracksPrice(t *testing.T) {
	synthesis := &models.SynthesisUpdate{
		PriceImplication: "New implication<br>bullet two",
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), &models.EvidenceUpdate{}, synthesis)

	pi := merged["narrative"].(map[string]interface{})["priceImplication"].(map[string]interface{})
	assert.Equal(t, "New implication<br>bullet two", pi["content"])
	assert.Equal(t, "Embedded Assumptions at A$37.52", pi["label"])
}

func TestMerge_NextDecisionPointRequiresEvent(t *testing.T) {
	synthesis := &models.SynthesisUpdate{
		NextDecisionPoint: &models.NextDecisionPoint{Date: "2026-10-01", Metric: "Sales"},
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), &models.EvidenceUpdate{}, synthesis)

	ndp := merged["hero"].(map[string]interface{})["next_decision_point"].(map[string]interface{})
	assert.Equal(t, "FY25 Results", ndp["event"], "eventless payload must not replace the decision point")
}

func TestMerge_NextDecisionPointReplacedWholesale(t *testing.T) {
	synthesis := &models.SynthesisUpdate{
		EmbeddedThesis:  "New thesis.",
		SkewDescription: "New skew.",
		NextDecisionPoint: &models.NextDecisionPoint{
			Event:      "FY26 Full Year Results",
			Metric:     "Food margin",
			Thresholds: "EBIT above 3.2bn",
		},
	}

	merged := mergeUpdates(baselineDocument(), healthyGathered(), &models.EvidenceUpdate{}, synthesis)

	hero := merged["hero"].(map[string]interface{})
	assert.Equal(t, "New thesis.", hero["embedded_thesis"])
	assert.Equal(t, "New skew.", hero["skew_description"])

	ndp := hero["next_decision_point"].(map[string]interface{})
	assert.Equal(t, "FY26 Full Year Results", ndp["event"])
	assert.Equal(t, "TBC", ndp["date"], "missing date defaults to TBC")
	assert.Equal(t, "Food margin", ndp["metric"])
}

func TestMerge_TimestampsAlwaysUpdated(t *testing.T) {
	evidence, synthesis := emptyUpdates()
	gathered := &models.GatheredData{Price: models.PriceData{Error: "down"}}

	merged := mergeUpdates(baselineDocument(), gathered, evidence, synthesis)

	date := merged["date"].(string)
	assert.True(t, strings.HasSuffix(date, "UTC"))
	assert.NotEmpty(t, merged["_lastRefreshed"])
}

func TestMerge_OriginalDocumentUntouched(t *testing.T) {
	original := baselineDocument()
	synthesis := &models.SynthesisUpdate{
		Hypotheses:       []models.HypothesisUpdate{{Tier: "N1", UpdatedScore: "80%"}},
		NarrativeRewrite: "Rewritten.",
	}

	_ = mergeUpdates(original, healthyGathered(), &models.EvidenceUpdate{
		Cards: []models.EvidenceCardUpdate{{Number: 1, UpdatedFinding: "Changed", MaterialChange: true}},
	}, synthesis)

	assert.Equal(t, "36.90", original["price"])
	assert.Equal(t, "Old narrative.", original["narrative"].(map[string]interface{})["theNarrative"])
	assert.Equal(t, "Old finding one", original["evidence"].(map[string]interface{})["cards"].([]interface{})[0].(map[string]interface{})["finding"])
	assert.Equal(t, "40%", original["hypotheses"].([]interface{})[0].(map[string]interface{})["score"])
}

func TestMerge_UnknownFieldsPreserved(t *testing.T) {
	evidence, synthesis := emptyUpdates()
	merged := mergeUpdates(baselineDocument(), healthyGathered(), evidence, synthesis)

	custom := merged["custom_field"].(map[string]interface{})
	assert.Equal(t, true, custom["untouched"])
}

func TestMerge_MissingSectionsAreTolerated(t *testing.T) {
	sparse := models.Document{"ticker": "WOW"}
	synthesis := &models.SynthesisUpdate{
		Hypotheses:       []models.HypothesisUpdate{{Tier: "N1", UpdatedScore: "50%"}},
		NarrativeRewrite: "New narrative.",
		EmbeddedThesis:   "New thesis.",
		VerdictUpdate:    "New verdict.",
	}
	evidence := &models.EvidenceUpdate{
		Cards: []models.EvidenceCardUpdate{{Number: 1, UpdatedFinding: "x", MaterialChange: true}},
	}

	require.NotPanics(t, func() {
		merged := mergeUpdates(sparse, healthyGathered(), evidence, synthesis)
		assert.Equal(t, "37.52", merged["price"])
	})
}
