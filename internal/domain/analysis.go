package domain

import "time"

// TrendDirection 趋势方向
type TrendDirection string

const (
	DirectionIncreasing TrendDirection = "increasing"
	DirectionStable     TrendDirection = "stable"
	DirectionDecreasing TrendDirection = "decreasing"
)

// Level low < medium < high < critical (trend severity and risk level share the scale)
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 1
	case LevelMedium:
		return 2
	case LevelHigh:
		return 3
	case LevelCritical:
		return 4
	}
	return 0
}

// AtLeast reports l >= other on the ordered scale.
func (l Level) AtLeast(other Level) bool { return l.Rank() >= other.Rank() }

// MaxLevel returns the higher of two levels.
func MaxLevel(a, b Level) Level {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// LevelFromAlertLevel maps a threshold evaluation onto the risk scale.
func LevelFromAlertLevel(l AlertLevel) Level {
	switch l {
	case AlertLevelModerate:
		return LevelMedium
	case AlertLevelElevated:
		return LevelHigh
	case AlertLevelCritical:
		return LevelCritical
	}
	return LevelLow
}

// TrendResult 趋势分析结果（只读模型，按需重算）
type TrendResult struct {
	Type                  string         `json:"type"`
	Subject               string         `json:"subject"` // agent 或 exceedance_frequency
	Direction             TrendDirection `json:"direction"`
	ChangePercent         float64        `json:"change_percent"`
	AffectedEmployeeCount int            `json:"affected_employee_count"`
	AffectedDepartments   []string       `json:"affected_departments"`
	Severity              Level          `json:"severity"`
	Confidence            float64        `json:"confidence"`
	PeriodMonths          int            `json:"period_months"`
	SampleCount           int            `json:"sample_count"`
	ExposureIDs           []string       `json:"exposure_ids,omitempty"`
}

// PrimaryRisk 风险组主风险
type PrimaryRisk string

const (
	RiskTMS        PrimaryRisk = "tms"
	RiskRPS        PrimaryRisk = "rps"
	RiskChemical   PrimaryRisk = "chemical"
	RiskPhysical   PrimaryRisk = "physical"
	RiskBiological PrimaryRisk = "biological"
)

// GroupPriority 风险组处理优先级
type GroupPriority string

const (
	PriorityImmediate  GroupPriority = "immediate"
	PriorityShortTerm  GroupPriority = "short_term"
	PriorityMediumTerm GroupPriority = "medium_term"
	PriorityLongTerm   GroupPriority = "long_term"
)

// RiskGroup 共享主风险的人群分组
type RiskGroup struct {
	Name             string        `json:"name"`
	PrimaryRisk      PrimaryRisk   `json:"primary_risk"`
	RiskLevel        Level         `json:"risk_level"`
	EmployeeCount    int           `json:"employee_count"`
	DepartmentIDs    []string      `json:"department_ids"`
	RiskFactors      []string      `json:"risk_factors"`
	SuggestedActions []string      `json:"suggested_actions"`
	Priority         GroupPriority `json:"priority"`
	Increasing       bool          `json:"increasing"`
	Confidence       float64       `json:"confidence"`
}

// RecommendationType 整改类别
type RecommendationType string

const (
	RecPrevention RecommendationType = "prevention"
	RecTraining   RecommendationType = "training"
	RecEquipment  RecommendationType = "equipment"
	RecProcedure  RecommendationType = "procedure"
	RecMonitoring RecommendationType = "monitoring"
)

// RecommendationPriority haute > moyenne > basse
type RecommendationPriority string

const (
	PriorityHaute   RecommendationPriority = "haute"
	PriorityMoyenne RecommendationPriority = "moyenne"
	PriorityBasse   RecommendationPriority = "basse"
)

// RecommendationStatus pending 之外的状态均为终态
type RecommendationStatus string

const (
	RecStatusPending  RecommendationStatus = "pending"
	RecStatusAccepted RecommendationStatus = "accepted"
	RecStatusModified RecommendationStatus = "modified"
	RecStatusRejected RecommendationStatus = "rejected"
)

func (s RecommendationStatus) Decision() bool {
	return s == RecStatusAccepted || s == RecStatusModified || s == RecStatusRejected
}

// RecommendationSource 推荐来源
type RecommendationSource string

const (
	SourceTrend     RecommendationSource = "trend"
	SourceRiskGroup RecommendationSource = "risk_group"
)

// Recommendation 预防措施建议
type Recommendation struct {
	ID                       string                 `json:"id"`
	Type                     RecommendationType     `json:"type"`
	Priority                 RecommendationPriority `json:"priority"`
	ExpectedImpact           Level                  `json:"expected_impact"` // high / medium / low
	Confidence               float64                `json:"confidence"`
	Status                   RecommendationStatus   `json:"status"`
	Title                    string                 `json:"title"`
	Description              string                 `json:"description"`
	Source                   RecommendationSource   `json:"source"`
	SourceKey                string                 `json:"source_key"`
	SuggestedCapaTitle       *string                `json:"suggested_capa_title,omitempty"`
	SuggestedCapaDescription *string                `json:"suggested_capa_description,omitempty"`
	Rationale                *string                `json:"rationale,omitempty"`
	CreatedAt                time.Time              `json:"created_at"`
	DecidedAt                *time.Time             `json:"decided_at,omitempty"`
}

// AnalysisResult analyzeTrends 的输出
type AnalysisResult struct {
	PeriodMonths    int              `json:"period_months"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Trends          []TrendResult    `json:"trends"`
	RiskGroups      []RiskGroup      `json:"risk_groups"`
	Recommendations []Recommendation `json:"recommendations"`
}
