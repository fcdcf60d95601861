package analysis

import (
	"sort"

	"sahtee-exposure/internal/domain"
)

// ExposureSnapshot 一条暴露记录及其最近一次评估
type ExposureSnapshot struct {
	Exposure      *domain.ExposureRecord
	AlertLevel    domain.AlertLevel
	HasEvaluation bool
}

// RiskGroupClassifier 按主风险聚合暴露人群
type RiskGroupClassifier struct {
	minGroupSize int
}

// NewRiskGroupClassifier 创建风险组分类器，minGroupSize <= 0 时使用默认值 3
func NewRiskGroupClassifier(minGroupSize int) *RiskGroupClassifier {
	if minGroupSize <= 0 {
		minGroupSize = 3
	}
	return &RiskGroupClassifier{minGroupSize: minGroupSize}
}

// ergonomic 危害归入 tms
var primaryRiskByHazard = map[domain.HazardCategory]domain.PrimaryRisk{
	domain.HazardChemical:      domain.RiskChemical,
	domain.HazardBiological:    domain.RiskBiological,
	domain.HazardErgonomic:     domain.RiskTMS,
	domain.HazardPsychosocial:  domain.RiskRPS,
	domain.HazardPhysical:      domain.RiskPhysical,
	domain.HazardMechanical:    domain.RiskPhysical,
	domain.HazardElectrical:    domain.RiskPhysical,
	domain.HazardThermal:       domain.RiskPhysical,
	domain.HazardEnvironmental: domain.RiskPhysical,
}

// PrimaryRiskFor maps a hazard category onto its primary risk. Unknown categories
// fall into physical.
func PrimaryRiskFor(c domain.HazardCategory) domain.PrimaryRisk {
	if r, ok := primaryRiskByHazard[c]; ok {
		return r
	}
	return domain.RiskPhysical
}

var riskGroupNames = map[domain.PrimaryRisk]string{
	domain.RiskTMS:        "Troubles musculo-squelettiques",
	domain.RiskRPS:        "Risques psychosociaux",
	domain.RiskChemical:   "Risque chimique",
	domain.RiskPhysical:   "Risques physiques",
	domain.RiskBiological: "Risque biologique",
}

var suggestedActions = map[domain.PrimaryRisk][]string{
	domain.RiskTMS: {
		"Analyser les postes de travail exposés",
		"Former aux gestes et postures",
		"Fournir des aides à la manutention",
	},
	domain.RiskRPS: {
		"Organiser des entretiens de prévention",
		"Revoir la charge et l'organisation du travail",
	},
	domain.RiskChemical: {
		"Vérifier les dispositifs de captage et de ventilation",
		"Renforcer le port des EPI respiratoires",
		"Augmenter la fréquence des prélèvements",
	},
	domain.RiskPhysical: {
		"Réduire l'exposition à la source",
		"Contrôler les équipements de protection",
	},
	domain.RiskBiological: {
		"Mettre à jour les procédures d'hygiène",
		"Vérifier le statut vaccinal des salariés exposés",
	},
}

// riskOrder fixes the output order of groups.
var riskOrder = []domain.PrimaryRisk{
	domain.RiskChemical,
	domain.RiskPhysical,
	domain.RiskBiological,
	domain.RiskTMS,
	domain.RiskRPS,
}

type groupAccumulator struct {
	employees   int
	departments map[string]struct{}
	factors     map[string]domain.Level
	level       domain.Level
	increasing  bool
	confSum     float64
	confN       int
}

// Classify 聚合暴露记录和趋势，只输出人数超过 minGroupSize 的风险组
func (c *RiskGroupClassifier) Classify(exposures []ExposureSnapshot, trends []domain.TrendResult) []domain.RiskGroup {
	acc := map[domain.PrimaryRisk]*groupAccumulator{}
	get := func(r domain.PrimaryRisk) *groupAccumulator {
		g, ok := acc[r]
		if !ok {
			g = &groupAccumulator{
				departments: map[string]struct{}{},
				factors:     map[string]domain.Level{},
				level:       domain.LevelLow,
			}
			acc[r] = g
		}
		return g
	}

	for _, s := range exposures {
		if s.Exposure == nil {
			continue
		}
		g := get(PrimaryRiskFor(s.Exposure.HazardCategory))
		g.employees += s.Exposure.ExposedEmployeeCount
		if s.Exposure.DepartmentID != "" {
			g.departments[s.Exposure.DepartmentID] = struct{}{}
		}
		level := domain.LevelLow
		if s.HasEvaluation {
			level = domain.LevelFromAlertLevel(s.AlertLevel)
		}
		g.level = domain.MaxLevel(g.level, level)
		g.factors[s.Exposure.Agent] = domain.MaxLevel(g.factors[s.Exposure.Agent], level)
	}

	for _, t := range trends {
		g, ok := acc[PrimaryRiskFor(domain.HazardCategory(t.Type))]
		if !ok {
			// trend without a registered exposure population
			continue
		}
		g.level = domain.MaxLevel(g.level, t.Severity)
		if t.Direction == domain.DirectionIncreasing {
			g.increasing = true
		}
		for _, d := range t.AffectedDepartments {
			if d != "" {
				g.departments[d] = struct{}{}
			}
		}
		g.confSum += t.Confidence
		g.confN++
	}

	groups := []domain.RiskGroup{}
	for _, risk := range riskOrder {
		g, ok := acc[risk]
		if !ok || g.employees <= c.minGroupSize {
			continue
		}
		confidence := 0.0
		if g.confN > 0 {
			confidence = g.confSum / float64(g.confN)
		}
		groups = append(groups, domain.RiskGroup{
			Name:             riskGroupNames[risk],
			PrimaryRisk:      risk,
			RiskLevel:        g.level,
			EmployeeCount:    g.employees,
			DepartmentIDs:    sortedKeys(g.departments),
			RiskFactors:      orderedFactors(g.factors),
			SuggestedActions: append([]string(nil), suggestedActions[risk]...),
			Priority:         PriorityFor(g.level, g.increasing),
			Increasing:       g.increasing,
			Confidence:       confidence,
		})
	}
	return groups
}

// PriorityFor derives the handling priority from risk level and rate of change.
func PriorityFor(level domain.Level, increasing bool) domain.GroupPriority {
	switch {
	case level == domain.LevelCritical:
		return domain.PriorityImmediate
	case level == domain.LevelHigh && increasing:
		return domain.PriorityImmediate
	case level == domain.LevelHigh:
		return domain.PriorityShortTerm
	case level == domain.LevelMedium && increasing:
		return domain.PriorityShortTerm
	case level == domain.LevelMedium:
		return domain.PriorityMediumTerm
	default:
		return domain.PriorityLongTerm
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// orderedFactors 风险因素按等级降序、名称升序
func orderedFactors(m map[string]domain.Level) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := m[out[i]].Rank(), m[out[j]].Rank()
		if ri != rj {
			return ri > rj
		}
		return out[i] < out[j]
	})
	return out
}
