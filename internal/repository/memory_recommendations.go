package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"sahtee-exposure/internal/domain"
)

// MemoryRecommendationsRepo 建议存储；已决策的实例不会被重新分析覆盖
type MemoryRecommendationsRepo struct {
	mu   sync.RWMutex
	recs map[string]domain.Recommendation
}

func NewMemoryRecommendationsRepo() *MemoryRecommendationsRepo {
	return &MemoryRecommendationsRepo{recs: map[string]domain.Recommendation{}}
}

// SaveRecommendations 用新一轮分析替换所有 pending 实例；已决策的保留
func (r *MemoryRecommendationsRepo) SaveRecommendations(_ context.Context, recs []domain.Recommendation) error {
	for _, rec := range recs {
		if rec.ID == "" {
			return fmt.Errorf("recommendation id is required")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, existing := range r.recs {
		if existing.Status == domain.RecStatusPending {
			delete(r.recs, id)
		}
	}
	for _, rec := range recs {
		if existing, ok := r.recs[rec.ID]; ok && existing.Status.Decision() {
			continue
		}
		r.recs[rec.ID] = rec
	}
	return nil
}

func (r *MemoryRecommendationsRepo) GetRecommendation(_ context.Context, id string) (*domain.Recommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.recs[id]
	if !ok {
		return nil, fmt.Errorf("recommendation %s: %w", id, domain.ErrNotFound)
	}
	return &rec, nil
}

func (r *MemoryRecommendationsRepo) ListRecommendations(_ context.Context, status *domain.RecommendationStatus) ([]domain.Recommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []domain.Recommendation{}
	for _, rec := range r.recs {
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRecommendationsRepo) DecideRecommendation(_ context.Context, id string, status domain.RecommendationStatus, decidedAt time.Time) (*domain.Recommendation, error) {
	if !status.Decision() {
		return nil, fmt.Errorf("status %q is not a decision: %w", status, domain.ErrInvalidTransition)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.recs[id]
	if !ok {
		return nil, fmt.Errorf("recommendation %s: %w", id, domain.ErrNotFound)
	}
	if rec.Status != domain.RecStatusPending {
		return nil, fmt.Errorf("recommendation %s already %s: %w", id, rec.Status, domain.ErrInvalidTransition)
	}
	rec.Status = status
	t := decidedAt.UTC()
	rec.DecidedAt = &t
	r.recs[id] = rec
	return &rec, nil
}
