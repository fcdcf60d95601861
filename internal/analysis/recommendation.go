package analysis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"sahtee-exposure/internal/domain"

	"github.com/google/uuid"
)

// GroupConfidenceDiscount 风险组来源的建议置信度折扣
const GroupConfidenceDiscount = 0.9

var remediationByRisk = map[domain.PrimaryRisk][]domain.RecommendationType{
	domain.RiskTMS:        {domain.RecTraining, domain.RecEquipment},
	domain.RiskRPS:        {domain.RecPrevention, domain.RecTraining},
	domain.RiskChemical:   {domain.RecProcedure, domain.RecMonitoring},
	domain.RiskPhysical:   {domain.RecEquipment, domain.RecMonitoring},
	domain.RiskBiological: {domain.RecProcedure, domain.RecPrevention},
}

// RemediationFor returns the remediation categories for a primary risk, in emission order.
func RemediationFor(r domain.PrimaryRisk) []domain.RecommendationType {
	return append([]domain.RecommendationType(nil), remediationByRisk[r]...)
}

var remediationLabels = map[domain.RecommendationType]string{
	domain.RecPrevention: "Action de prévention",
	domain.RecTraining:   "Formation",
	domain.RecEquipment:  "Équipement de protection",
	domain.RecProcedure:  "Procédure de travail",
	domain.RecMonitoring: "Surveillance renforcée",
}

// RecommendationEngine 确定性建议生成（趋势 + 风险组）
type RecommendationEngine struct{}

func NewRecommendationEngine() *RecommendationEngine {
	return &RecommendationEngine{}
}

// Recommend emits one pending recommendation per remediation category for every trend
// and risk group at medium severity or above. Output depends only on the inputs and
// analyzedAt.
func (e *RecommendationEngine) Recommend(trends []domain.TrendResult, groups []domain.RiskGroup, analyzedAt time.Time) []domain.Recommendation {
	analyzedAt = analyzedAt.UTC()
	groupByRisk := make(map[domain.PrimaryRisk]domain.RiskGroup, len(groups))
	for _, g := range groups {
		groupByRisk[g.PrimaryRisk] = g
	}

	out := []domain.Recommendation{}
	for _, t := range trends {
		if !t.Severity.AtLeast(domain.LevelMedium) {
			continue
		}
		risk := PrimaryRiskFor(domain.HazardCategory(t.Type))
		priority := domain.PriorityMoyenne
		if g, ok := groupByRisk[risk]; ok {
			priority = PriorityFromGroup(g.Priority)
		}
		key := trendSourceKey(t)
		subject := t.Subject
		if subject == "" {
			subject = t.Type
		}
		for _, typ := range remediationByRisk[risk] {
			rec := domain.Recommendation{
				ID:             RecommendationID(key, typ, analyzedAt),
				Type:           typ,
				Priority:       priority,
				ExpectedImpact: ImpactFor(t.Severity),
				Confidence:     clamp01(t.Confidence),
				Status:         domain.RecStatusPending,
				Title:          fmt.Sprintf("%s : %s", remediationLabels[typ], subject),
				Description: fmt.Sprintf("Tendance %s de %.1f%% sur %d mois (%s), %d salarié(s) concerné(s).",
					t.Direction, t.ChangePercent, t.PeriodMonths, t.Type, t.AffectedEmployeeCount),
				Source:    domain.SourceTrend,
				SourceKey: key,
				CreatedAt: analyzedAt,
			}
			attachCapa(&rec)
			out = append(out, rec)
		}
	}

	for _, g := range groups {
		if !g.RiskLevel.AtLeast(domain.LevelMedium) {
			continue
		}
		key := "risk_group:" + string(g.PrimaryRisk)
		for _, typ := range remediationByRisk[g.PrimaryRisk] {
			rec := domain.Recommendation{
				ID:             RecommendationID(key, typ, analyzedAt),
				Type:           typ,
				Priority:       PriorityFromGroup(g.Priority),
				ExpectedImpact: ImpactFor(g.RiskLevel),
				Confidence:     clamp01(g.Confidence * GroupConfidenceDiscount),
				Status:         domain.RecStatusPending,
				Title:          fmt.Sprintf("%s : %s", remediationLabels[typ], g.Name),
				Description: fmt.Sprintf("Groupe à risque %s (niveau %s), %d salarié(s) dans %d service(s). Facteurs : %s.",
					g.PrimaryRisk, g.RiskLevel, g.EmployeeCount, len(g.DepartmentIDs), strings.Join(g.RiskFactors, ", ")),
				Source:    domain.SourceRiskGroup,
				SourceKey: key,
				CreatedAt: analyzedAt,
			}
			attachCapa(&rec)
			out = append(out, rec)
		}
	}
	return out
}

// PriorityFromGroup immediate/short_term -> haute, medium_term -> moyenne, long_term -> basse
func PriorityFromGroup(p domain.GroupPriority) domain.RecommendationPriority {
	switch p {
	case domain.PriorityImmediate, domain.PriorityShortTerm:
		return domain.PriorityHaute
	case domain.PriorityLongTerm:
		return domain.PriorityBasse
	default:
		return domain.PriorityMoyenne
	}
}

// ImpactFor maps a severity onto expected impact (high / medium / low).
func ImpactFor(l domain.Level) domain.Level {
	switch l {
	case domain.LevelHigh, domain.LevelCritical:
		return domain.LevelHigh
	case domain.LevelMedium:
		return domain.LevelMedium
	default:
		return domain.LevelLow
	}
}

// RecommendationID is stable for a given source, type and analysis instant.
func RecommendationID(sourceKey string, typ domain.RecommendationType, analyzedAt time.Time) string {
	name := fmt.Sprintf("%s|%s|%d", sourceKey, typ, analyzedAt.UTC().UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func trendSourceKey(t domain.TrendResult) string {
	ids := append([]string(nil), t.ExposureIDs...)
	sort.Strings(ids)
	return "trend:" + t.Type + ":" + t.Subject + ":" + strings.Join(ids, ",")
}

// attachCapa 高优先级建议附带 CAPA 草稿
func attachCapa(rec *domain.Recommendation) {
	if rec.Priority != domain.PriorityHaute {
		return
	}
	title := "CAPA - " + rec.Title
	desc := rec.Description + " Action corrective proposée : " + strings.ToLower(remediationLabels[rec.Type]) + "."
	rec.SuggestedCapaTitle = &title
	rec.SuggestedCapaDescription = &desc
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
