package analysis

import (
	"testing"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var analyzedAt = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func TestRecommend_TrendMapping(t *testing.T) {
	e := NewRecommendationEngine()
	trends := []domain.TrendResult{
		{Type: "chemical", Subject: "Benzene", Direction: domain.DirectionIncreasing, ChangePercent: 50,
			Severity: domain.LevelHigh, Confidence: 0.5, PeriodMonths: 6, ExposureIDs: []string{"e1"}},
		{Type: "physical", Subject: "Bruit", Severity: domain.LevelLow, Confidence: 1},
	}

	recs := e.Recommend(trends, nil, analyzedAt)

	require.Len(t, recs, 2)
	assert.Equal(t, domain.RecProcedure, recs[0].Type)
	assert.Equal(t, domain.RecMonitoring, recs[1].Type)
	for _, r := range recs {
		assert.Equal(t, domain.RecStatusPending, r.Status)
		assert.Equal(t, domain.PriorityMoyenne, r.Priority)
		assert.Equal(t, 0.5, r.Confidence)
		assert.Equal(t, domain.LevelHigh, r.ExpectedImpact)
		assert.Equal(t, domain.SourceTrend, r.Source)
		assert.Nil(t, r.SuggestedCapaTitle)
		assert.Nil(t, r.Rationale)
	}
	assert.NotEqual(t, recs[0].ID, recs[1].ID)
}

func TestRecommend_GroupDiscountAndPriority(t *testing.T) {
	e := NewRecommendationEngine()
	groups := []domain.RiskGroup{
		{Name: "TMS", PrimaryRisk: domain.RiskTMS, RiskLevel: domain.LevelHigh,
			Priority: domain.PriorityImmediate, Confidence: 0.8, EmployeeCount: 12},
		{Name: "RPS", PrimaryRisk: domain.RiskRPS, RiskLevel: domain.LevelLow,
			Priority: domain.PriorityLongTerm, Confidence: 1},
	}

	recs := e.Recommend(nil, groups, analyzedAt)

	require.Len(t, recs, 2)
	assert.Equal(t, domain.RecTraining, recs[0].Type)
	assert.Equal(t, domain.RecEquipment, recs[1].Type)
	for _, r := range recs {
		assert.InDelta(t, 0.72, r.Confidence, 1e-9)
		assert.Equal(t, domain.PriorityHaute, r.Priority)
		assert.Equal(t, domain.SourceRiskGroup, r.Source)
		require.NotNil(t, r.SuggestedCapaTitle)
		require.NotNil(t, r.SuggestedCapaDescription)
		assert.Contains(t, *r.SuggestedCapaTitle, "CAPA")
	}
}

func TestRecommend_TrendInheritsGroupPriority(t *testing.T) {
	e := NewRecommendationEngine()
	trends := []domain.TrendResult{{Type: "biological", Severity: domain.LevelMedium, Confidence: 1}}
	groups := []domain.RiskGroup{{PrimaryRisk: domain.RiskBiological, RiskLevel: domain.LevelLow, Priority: domain.PriorityLongTerm}}

	recs := e.Recommend(trends, groups, analyzedAt)

	require.Len(t, recs, 2)
	assert.Equal(t, domain.PriorityBasse, recs[0].Priority)
	assert.Equal(t, domain.RecProcedure, recs[0].Type)
	assert.Equal(t, domain.RecPrevention, recs[1].Type)
	assert.Equal(t, domain.LevelMedium, recs[0].ExpectedImpact)
}

func TestRecommend_Deterministic(t *testing.T) {
	e := NewRecommendationEngine()
	trends := []domain.TrendResult{{Type: "psychosocial", Subject: "Charge", Severity: domain.LevelHigh, Confidence: 0.3}}

	a := e.Recommend(trends, nil, analyzedAt)
	b := e.Recommend(trends, nil, analyzedAt)
	assert.Equal(t, a, b)

	// re-analysis at a later instant yields new instances
	c := e.Recommend(trends, nil, analyzedAt.Add(time.Hour))
	assert.NotEqual(t, a[0].ID, c[0].ID)
}

func TestPriorityFromGroup(t *testing.T) {
	assert.Equal(t, domain.PriorityHaute, PriorityFromGroup(domain.PriorityImmediate))
	assert.Equal(t, domain.PriorityHaute, PriorityFromGroup(domain.PriorityShortTerm))
	assert.Equal(t, domain.PriorityMoyenne, PriorityFromGroup(domain.PriorityMediumTerm))
	assert.Equal(t, domain.PriorityBasse, PriorityFromGroup(domain.PriorityLongTerm))
	assert.Equal(t, domain.PriorityMoyenne, PriorityFromGroup(""))
}

func TestRemediationFor(t *testing.T) {
	assert.Equal(t, []domain.RecommendationType{domain.RecPrevention, domain.RecTraining}, RemediationFor(domain.RiskRPS))
	assert.Equal(t, []domain.RecommendationType{domain.RecEquipment, domain.RecMonitoring}, RemediationFor(domain.RiskPhysical))
	assert.Equal(t, []domain.RecommendationType{domain.RecTraining, domain.RecEquipment}, RemediationFor(domain.RiskTMS))
}
