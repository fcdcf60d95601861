package repository

import (
	"context"
	"time"

	"sahtee-exposure/internal/domain"
)

// ExposureQuery 仓库层过滤条件（alert level 过滤需要评估器，由 service 层完成）
type ExposureQuery struct {
	HazardCategory *domain.HazardCategory
	Search         *string // agent / area 模糊匹配（不区分大小写）
}

// ExposuresRepository 暴露记录仓库
type ExposuresRepository interface {
	CreateExposure(ctx context.Context, e *domain.ExposureRecord) error
	GetExposure(ctx context.Context, exposureID string) (*domain.ExposureRecord, error)
	ListExposures(ctx context.Context, q ExposureQuery) ([]*domain.ExposureRecord, error)

	// AppendMeasurement 追加测量值（只追加，不重排）；未知 exposureID 返回 ErrNotFound
	AppendMeasurement(ctx context.Context, exposureID string, m domain.Measurement) error
	GetMeasurementHistory(ctx context.Context, exposureID string) ([]domain.Measurement, error)
}

// AlertsRepository 健康警报仓库（不提供删除）
type AlertsRepository interface {
	// CreateIfNoOpen 原子地检查 (SubjectID, Type) 是否已有未解决的警报，没有则插入。
	// 返回实际存在的警报以及是否新建。
	CreateIfNoOpen(ctx context.Context, alert *domain.HealthAlert) (*domain.HealthAlert, bool, error)

	GetAlert(ctx context.Context, alertID string) (*domain.HealthAlert, error)
	ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.HealthAlert, error)

	// UpdateAlert 比较并交换：仅当存储的 version == alert.Version-1 时写入，否则 ErrConflict
	UpdateAlert(ctx context.Context, alert *domain.HealthAlert) error
}

// RecommendationsRepository 最近一次分析生成的建议（派生数据，按实例保存决策）
type RecommendationsRepository interface {
	// SaveRecommendations 替换上一轮的 pending 建议，已决策的实例保留
	SaveRecommendations(ctx context.Context, recs []domain.Recommendation) error
	GetRecommendation(ctx context.Context, id string) (*domain.Recommendation, error)
	ListRecommendations(ctx context.Context, status *domain.RecommendationStatus) ([]domain.Recommendation, error)

	// DecideRecommendation 仅当当前状态为 pending 时写入决策，否则 ErrInvalidTransition
	DecideRecommendation(ctx context.Context, id string, status domain.RecommendationStatus, decidedAt time.Time) (*domain.Recommendation, error)
}
