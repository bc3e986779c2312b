package qualification

import (
	"testing"

	"github.com/stretchr/testify/require"

	"centurion/internal/domain"
)

func TestParseRules_LegacyRequiredFieldsLiftedToEqualWeightCriteria(t *testing.T) {
	rules := ParseRules(map[string]any{
		"threshold":       0.5,
		"required_fields": []any{"budget", "location"},
	})

	require.Equal(t, 0.5, rules.Threshold)
	require.Len(t, rules.Criteria, 2)
	for _, c := range rules.Criteria {
		require.Equal(t, domain.CriteriaFieldPresent, c.Type)
		require.True(t, c.Required)
		require.Equal(t, 0.5, c.Weight)
		require.Equal(t, c.Key, c.Field)
	}
	require.NotEmpty(t, rules.CriteriaHash)
}

func TestParseRules_LegacyRequiredFieldsAsStringSlice(t *testing.T) {
	rules := ParseRules(map[string]any{"required_fields": []string{"a", "b", "c"}})
	require.Len(t, rules.Criteria, 3)
	require.InDelta(t, 1.0/3.0, rules.Criteria[0].Weight, 1e-9)
}

func TestParseRules_LegacyEmptyFieldsYieldsNoCriteria(t *testing.T) {
	rules := ParseRules(map[string]any{"required_fields": []any{}})
	require.Nil(t, rules.Criteria)
}

func TestParseRules_CriteriaArrayParsedInOrder(t *testing.T) {
	rules := ParseRules(map[string]any{
		"threshold": 0.7,
		"criteria": []any{
			map[string]any{"key": "budget", "type": "field_present", "weight": 0.6, "required": true, "field": "extracted_budget"},
			map[string]any{"key": "intent", "type": "llm", "weight": 0.4, "prompt": "does the lead show buying intent?"},
		},
	})

	require.Len(t, rules.Criteria, 2)
	require.Equal(t, "budget", rules.Criteria[0].Key)
	require.Equal(t, "extracted_budget", rules.Criteria[0].Field)
	require.True(t, rules.Criteria[0].Required)
	require.Equal(t, "intent", rules.Criteria[1].Key)
	require.Equal(t, domain.CriteriaLLM, rules.Criteria[1].Type)
	require.Equal(t, "does the lead show buying intent?", rules.Criteria[1].Prompt)
}

func TestParseRules_MissingTypeDefaultsToFieldPresentUnknownTypeKept(t *testing.T) {
	rules := ParseRules(map[string]any{
		"criteria": []any{
			map[string]any{"key": "a"},
			map[string]any{"key": "b", "type": "bogus-type"},
		},
	})
	require.Equal(t, domain.CriteriaFieldPresent, rules.Criteria[0].Type)
	require.Equal(t, domain.CriteriaType("bogus-type"), rules.Criteria[1].Type)
}

func TestParseRules_CriteriaEntriesWithoutKeyAreDropped(t *testing.T) {
	rules := ParseRules(map[string]any{
		"criteria": []any{
			map[string]any{"key": "", "type": "field_present"},
			map[string]any{"key": "ok", "type": "field_present"},
			"not-a-map",
		},
	})
	require.Len(t, rules.Criteria, 1)
	require.Equal(t, "ok", rules.Criteria[0].Key)
}

func TestParseRules_WeightAndThresholdAreClampedToUnitRange(t *testing.T) {
	rules := ParseRules(map[string]any{
		"threshold": 5.0,
		"criteria": []any{
			map[string]any{"key": "a", "weight": -3.0},
			map[string]any{"key": "b", "weight": 10.0},
		},
	})
	require.Equal(t, 1.0, rules.Threshold)
	require.Equal(t, 0.0, rules.Criteria[0].Weight)
	require.Equal(t, 1.0, rules.Criteria[1].Weight)
}

func TestParseRules_NoThresholdOrCriteriaYieldsZeroValueRules(t *testing.T) {
	rules := ParseRules(map[string]any{})
	require.Equal(t, 0.0, rules.Threshold)
	require.Nil(t, rules.Criteria)
	require.NotEmpty(t, rules.CriteriaHash)
}

func TestHashRules_StableAcrossCriteriaKeyOrderPermutations(t *testing.T) {
	a := domain.QualificationRules{Threshold: 0.5, Criteria: []domain.Criterion{
		{Key: "budget", Type: domain.CriteriaFieldPresent, Weight: 0.5},
		{Key: "location", Type: domain.CriteriaFieldPresent, Weight: 0.5},
	}}
	b := domain.QualificationRules{Threshold: 0.5, Criteria: []domain.Criterion{
		{Key: "location", Type: domain.CriteriaFieldPresent, Weight: 0.5},
		{Key: "budget", Type: domain.CriteriaFieldPresent, Weight: 0.5},
	}}
	require.Equal(t, hashRules(a), hashRules(b))
}

func TestHashRules_DiffersOnDifferentThresholdOrCriteria(t *testing.T) {
	base := domain.QualificationRules{Threshold: 0.5, Criteria: []domain.Criterion{{Key: "budget", Weight: 1}}}
	diffThreshold := domain.QualificationRules{Threshold: 0.9, Criteria: []domain.Criterion{{Key: "budget", Weight: 1}}}
	diffCriteria := domain.QualificationRules{Threshold: 0.5, Criteria: []domain.Criterion{{Key: "location", Weight: 1}}}

	require.NotEqual(t, hashRules(base), hashRules(diffThreshold))
	require.NotEqual(t, hashRules(base), hashRules(diffCriteria))
}

func TestExtractHeuristics_ExtractsBudgetDateAndLocation(t *testing.T) {
	text := "Meu orçamento é R$ 1.500,00 e posso visitar em 12/08/2026, moro na Rua das Flores 123."
	extracted := extractHeuristics(text, nil)

	require.Equal(t, "R$ 1.500,00", extracted["budget"])
	require.Equal(t, "12/08/2026", extracted["date"])
	require.Contains(t, extracted["location"], "Rua das Flores")
}

func TestExtractHeuristics_DoesNotOverwritePreSeededValues(t *testing.T) {
	extracted := extractHeuristics("orçamento de R$ 999", map[string]any{"budget": "pre-seeded"})
	require.Equal(t, "pre-seeded", extracted["budget"])
}

func TestExtractHeuristics_NoMatchesLeavesKeysAbsent(t *testing.T) {
	extracted := extractHeuristics("just some unrelated text", nil)
	require.NotContains(t, extracted, "budget")
	require.NotContains(t, extracted, "date")
	require.NotContains(t, extracted, "location")
}

func TestEvaluate_FieldPresentCriterionMetWhenFieldNonEmpty(t *testing.T) {
	rules := domain.QualificationRules{
		Threshold: 0.5,
		Criteria:  []domain.Criterion{{Key: "budget", Type: domain.CriteriaFieldPresent, Weight: 1, Field: "budget"}},
	}
	result := Evaluate(rules, "no budget mentioned here", map[string]any{"budget": "R$ 2000"})

	require.Len(t, result.Results, 1)
	require.True(t, result.Results[0].Met)
	require.Equal(t, 1.0, result.Score)
}

func TestEvaluate_FieldPresentCriterionFallsBackToKeyWhenFieldUnset(t *testing.T) {
	rules := domain.QualificationRules{
		Criteria: []domain.Criterion{{Key: "location", Type: domain.CriteriaFieldPresent, Weight: 1}},
	}
	result := Evaluate(rules, "", map[string]any{"location": "Rua X"})
	require.True(t, result.Results[0].Met)
}

func TestEvaluate_FieldPresentCriterionUnmetWhenFieldMissingOrBlank(t *testing.T) {
	rules := domain.QualificationRules{
		Criteria: []domain.Criterion{{Key: "budget", Type: domain.CriteriaFieldPresent, Weight: 1}},
	}
	require.False(t, Evaluate(rules, "", nil).Results[0].Met)
	require.False(t, Evaluate(rules, "", map[string]any{"budget": "   "}).Results[0].Met)
}

func TestEvaluate_LLMCriterionMetOnlyWhenPreSeededTrue(t *testing.T) {
	rules := domain.QualificationRules{
		Criteria: []domain.Criterion{{Key: "intent", Type: domain.CriteriaLLM, Weight: 1}},
	}
	require.True(t, Evaluate(rules, "", map[string]any{"intent": true}).Results[0].Met)
	require.False(t, Evaluate(rules, "", map[string]any{"intent": false}).Results[0].Met)
	require.False(t, Evaluate(rules, "", nil).Results[0].Met, "unseeded llm criterion must not be met")
}

func TestEvaluate_WeightedScoringAcrossMixedCriteria(t *testing.T) {
	rules := domain.QualificationRules{
		Threshold: 0.6,
		Criteria: []domain.Criterion{
			{Key: "budget", Type: domain.CriteriaFieldPresent, Weight: 0.7, Field: "budget"},
			{Key: "intent", Type: domain.CriteriaLLM, Weight: 0.3},
		},
	}
	result := Evaluate(rules, "", map[string]any{"budget": "R$ 1000", "intent": false})

	require.InDelta(t, 0.7, result.Score, 1e-9)
	require.True(t, result.IsQualified)
}

func TestEvaluate_CountBasedScoringWhenNoWeightsSet(t *testing.T) {
	rules := domain.QualificationRules{
		Threshold: 0.5,
		Criteria: []domain.Criterion{
			{Key: "a", Type: domain.CriteriaFieldPresent, Field: "a"},
			{Key: "b", Type: domain.CriteriaFieldPresent, Field: "b"},
			{Key: "c", Type: domain.CriteriaFieldPresent, Field: "c"},
		},
	}
	result := Evaluate(rules, "", map[string]any{"a": "x", "b": "y"})
	require.InDelta(t, 2.0/3.0, result.Score, 1e-9)
}

func TestEvaluate_RequiredCriterionUnmetBlocksQualificationRegardlessOfScore(t *testing.T) {
	rules := domain.QualificationRules{
		Threshold: 0.05,
		Criteria: []domain.Criterion{
			{Key: "budget", Type: domain.CriteriaFieldPresent, Weight: 0.9, Field: "budget", Required: true},
			{Key: "location", Type: domain.CriteriaFieldPresent, Weight: 0.1, Field: "location"},
		},
	}
	result := Evaluate(rules, "", map[string]any{"location": "Rua X"})

	require.False(t, result.RequiredMet)
	require.False(t, result.IsQualified)
	require.GreaterOrEqual(t, result.Score, rules.Threshold, "score alone clears the threshold but a required criterion is unmet")
}

func TestEvaluate_ZeroCriteriaNeverQualifies(t *testing.T) {
	result := Evaluate(domain.QualificationRules{Threshold: 0}, "anything", nil)
	require.Equal(t, 0.0, result.Score)
	require.False(t, result.IsQualified)
	require.True(t, result.RequiredMet, "vacuously true: no required criterion is unmet")
}

func TestEvaluate_ScoreBelowThresholdIsNotQualified(t *testing.T) {
	rules := domain.QualificationRules{
		Threshold: 0.9,
		Criteria:  []domain.Criterion{{Key: "a", Type: domain.CriteriaFieldPresent, Weight: 1, Field: "a"}},
	}
	result := Evaluate(rules, "", nil)
	require.False(t, result.IsQualified)
}

func TestEvaluate_PropagatesCriteriaHashAndExtracted(t *testing.T) {
	rules := ParseRules(map[string]any{"criteria": []any{
		map[string]any{"key": "budget", "type": "field_present", "weight": 1.0},
	}})
	result := Evaluate(rules, "orçamento R$ 500", nil)
	require.Equal(t, rules.CriteriaHash, result.CriteriaHash)
	require.Equal(t, "R$ 500", result.Extracted["budget"])
}

func TestIsPresent(t *testing.T) {
	require.False(t, isPresent(nil))
	require.False(t, isPresent(""))
	require.False(t, isPresent("   "))
	require.True(t, isPresent("value"))
	require.True(t, isPresent(0))
	require.True(t, isPresent(false))
}

func TestClamp01(t *testing.T) {
	require.Equal(t, 0.0, clamp01(-1))
	require.Equal(t, 1.0, clamp01(2))
	require.Equal(t, 0.5, clamp01(0.5))
}

func TestFloatFrom(t *testing.T) {
	require.Equal(t, 1.5, floatFrom(1.5))
	require.Equal(t, 3.0, floatFrom(3))
	require.Equal(t, 0.0, floatFrom("not a number"))
	require.Equal(t, 0.0, floatFrom(nil))
}

func TestStringFrom(t *testing.T) {
	require.Equal(t, "hello", stringFrom("hello"))
	require.Equal(t, "", stringFrom(42))
	require.Equal(t, "", stringFrom(nil))
}

func TestBoolFrom(t *testing.T) {
	require.True(t, boolFrom(true))
	require.False(t, boolFrom(false))
	require.False(t, boolFrom("true"))
	require.False(t, boolFrom(nil))
}
